package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	ForecastAPIURL    string
	GeocodingAPIURL   string
	WeatherAPITimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CacheBackend          string // "in_memory" or "memcached"
	CacheMaxStaleAge      time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DefaultCity     string
	DefaultUnits    string // "metric" or "imperial"
	ForecastDays    int
	FetchTimeout    time.Duration
	ScrollThrottle  time.Duration

	SuggestionLimit    int
	SuggestionMinRunes int
	SuggestionDebounce time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		WeatherURL   string `yaml:"weather_url"`
		ForecastURL  string `yaml:"forecast_url"`
		GeocodingURL string `yaml:"geocoding_url"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Cache struct {
		Backend     string `yaml:"backend"`
		MaxStaleAge string `yaml:"max_stale_age"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Session struct {
		DefaultCity    string `yaml:"default_city"`
		DefaultUnits   string `yaml:"default_units"`
		ForecastDays   int    `yaml:"forecast_days"`
		FetchTimeout   string `yaml:"fetch_timeout"`
		ScrollThrottle string `yaml:"scroll_throttle"`
	} `yaml:"session"`

	Suggestions struct {
		Limit    int    `yaml:"limit"`
		MinRunes int    `yaml:"min_runes"`
		Debounce string `yaml:"debounce"`
	} `yaml:"suggestions"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), with a
// missing file meaning all defaults. A .env file in the working directory is
// loaded first when present. The API key comes from the WEATHER_API_KEY env
// var or config/secrets.yaml. Call from the project root.
func Load() (*Config, error) {
	// Optional; absence is the normal production case.
	_ = godotenv.Load()

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}

	var fc fileConfig
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.WeatherURL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.ForecastAPIURL = fc.WeatherAPI.ForecastURL
	if cfg.ForecastAPIURL == "" {
		cfg.ForecastAPIURL = "https://api.openweathermap.org/data/2.5/forecast"
	}
	cfg.GeocodingAPIURL = fc.WeatherAPI.GeocodingURL
	if cfg.GeocodingAPIURL == "" {
		cfg.GeocodingAPIURL = "https://api.openweathermap.org/geo/1.0/direct"
	}
	cfg.WeatherAPITimeout = parseDuration(fc.WeatherAPI.Timeout, 2*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.CacheMaxStaleAge = parseDuration(fc.Cache.MaxStaleAge, 24*time.Hour)
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.DefaultCity = fc.Session.DefaultCity
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "New York"
	}
	cfg.DefaultUnits = strings.TrimSpace(strings.ToLower(fc.Session.DefaultUnits))
	if cfg.DefaultUnits == "" {
		cfg.DefaultUnits = "metric"
	}
	cfg.ForecastDays = fc.Session.ForecastDays
	if cfg.ForecastDays <= 0 {
		cfg.ForecastDays = 5
	}
	cfg.FetchTimeout = parseDuration(fc.Session.FetchTimeout, 5*time.Second)
	cfg.ScrollThrottle = parseDuration(fc.Session.ScrollThrottle, 2*time.Second)

	cfg.SuggestionLimit = fc.Suggestions.Limit
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 5
	}
	cfg.SuggestionMinRunes = fc.Suggestions.MinRunes
	if cfg.SuggestionMinRunes <= 0 {
		cfg.SuggestionMinRunes = 2
	}
	cfg.SuggestionDebounce = parseDuration(fc.Suggestions.Debounce, 300*time.Millisecond)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if the string
// is empty, unparsable, or non-positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.DefaultUnits {
	case "metric", "imperial":
		// valid
	default:
		return fmt.Errorf("session.default_units must be metric or imperial, got %q", cfg.DefaultUnits)
	}
	if cfg.ForecastDays > 5 {
		return fmt.Errorf("session.forecast_days must be at most 5 (upstream feed spans 5 days), got %d", cfg.ForecastDays)
	}
	if cfg.FetchTimeout <= cfg.WeatherAPITimeout {
		cfg.FetchTimeout = cfg.WeatherAPITimeout + time.Second
	}
	return nil
}
