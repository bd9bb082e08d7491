package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/observability"
)

// WeatherClient is the upstream weather API boundary: geocoding suggestions,
// current conditions, and the 5-day/3-hour forecast series.
type WeatherClient interface {
	SuggestCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error)
	GetCurrentWeather(ctx context.Context, city string, units models.UnitSystem) (models.CurrentWeather, error)
	GetForecast(ctx context.Context, city string, units models.UnitSystem) (models.ForecastSeries, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// Config holds the upstream endpoints and resilience settings.
type Config struct {
	APIKey       string
	WeatherURL   string // current-weather endpoint
	ForecastURL  string // 5-day/3-hour forecast endpoint
	GeocodingURL string // city suggestion endpoint
	Timeout      time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// OpenWeatherClient implements WeatherClient against the OpenWeatherMap API
// family. Requests carry a per-call timeout, retryable failures are retried
// with exponential backoff and jitter, and all upstream traffic flows through
// a circuit breaker so a failing upstream is not hammered.
type OpenWeatherClient struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewOpenWeatherClient validates the configuration and builds a client.
func NewOpenWeatherClient(cfg Config) (*OpenWeatherClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weather_api",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		// An unknown city or bad key is the upstream answering, not failing;
		// only infrastructure failures should trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrCityNotFound) || errors.Is(err, ErrInvalidAPIKey)
		},
	})

	return &OpenWeatherClient{
		cfg:     cfg,
		breaker: breaker,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// geocodingResponse is the upstream suggestion payload.
type geocodingEntry struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// currentResponse is the upstream current-weather payload.
type currentResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// forecastResponse is the upstream 5-day/3-hour payload.
type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			TempMax float64 `json:"temp_max"`
			TempMin float64 `json:"temp_min"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
			Icon        string `json:"icon"`
		} `json:"weather"`
	} `json:"list"`
	City struct {
		Name     string `json:"name"`
		Timezone int    `json:"timezone"` // seconds east of UTC
	} `json:"city"`
}

// SuggestCities fetches up to limit geocoding candidates for a partial city
// name. An empty result is not an error.
func (c *OpenWeatherClient) SuggestCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", fmt.Sprintf("%d", limit))

	body, err := c.fetch(ctx, "suggest", c.cfg.GeocodingURL, params)
	if err != nil {
		return nil, err
	}

	var entries []geocodingEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse suggestion response: %w", err)
	}

	out := make([]models.CitySuggestion, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.CitySuggestion{
			Name:    e.Name,
			Country: e.Country,
			State:   e.State,
			Lat:     e.Lat,
			Lon:     e.Lon,
		})
	}
	return out, nil
}

// GetCurrentWeather fetches current conditions for city, denominated in the
// requested unit system. The upstream does the unit conversion; the returned
// payload is never converted again locally.
func (c *OpenWeatherClient) GetCurrentWeather(ctx context.Context, city string, units models.UnitSystem) (models.CurrentWeather, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", string(units))

	body, err := c.fetch(ctx, "current", c.cfg.WeatherURL, params)
	if err != nil {
		return models.CurrentWeather{}, err
	}

	var resp currentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.CurrentWeather{}, fmt.Errorf("parse current-weather response: %w", err)
	}

	cw := models.CurrentWeather{
		City:        resp.Name,
		Temperature: resp.Main.Temp,
		Units:       units,
		FetchedAt:   time.Now().UTC(),
	}
	if cw.City == "" {
		cw.City = city
	}
	if len(resp.Weather) > 0 {
		cw.Description = resp.Weather[0].Description
		cw.Icon = resp.Weather[0].Icon
	}
	return cw, nil
}

// GetForecast fetches the raw 5-day/3-hour series for city in the requested
// unit system, including the city's reported timezone offset.
func (c *OpenWeatherClient) GetForecast(ctx context.Context, city string, units models.UnitSystem) (models.ForecastSeries, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("units", string(units))

	body, err := c.fetch(ctx, "forecast", c.cfg.ForecastURL, params)
	if err != nil {
		return models.ForecastSeries{}, err
	}

	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.ForecastSeries{}, fmt.Errorf("parse forecast response: %w", err)
	}

	series := models.ForecastSeries{
		City:              resp.City.Name,
		TimezoneOffsetSec: resp.City.Timezone,
		Units:             units,
		Samples:           make([]models.ForecastSample, 0, len(resp.List)),
	}
	if series.City == "" {
		series.City = city
	}
	for _, item := range resp.List {
		s := models.ForecastSample{
			Timestamp: item.Dt,
			TempMax:   item.Main.TempMax,
			TempMin:   item.Main.TempMin,
		}
		if len(item.Weather) > 0 {
			s.Description = item.Weather[0].Description
			s.Icon = item.Weather[0].Icon
		}
		series.Samples = append(series.Samples, s)
	}
	return series, nil
}

// fetch runs one GET against endpoint with retry, backoff, and the circuit
// breaker, returning the response body on HTTP success.
func (c *OpenWeatherClient) fetch(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.doRequest(ctx, op, endpoint, params)
		})
		if err == nil {
			return result.([]byte), nil
		}

		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open: %v", ErrUpstreamFailure, err)
		}
		if !isRetryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenWeatherClient) doRequest(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	baseURL, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params.Set("appid", c.cfg.APIKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(op, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(op, "error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(op, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(op, status).Observe(duration)

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return body, nil
}

func (c *OpenWeatherClient) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.cfg.RetryMaxDelay) {
		delay = float64(c.cfg.RetryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func checkStatus(statusCode int) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: unauthorized", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrCityNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	if statusCode < 200 || statusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, statusCode)
	}
	return nil
}

func extractCorrelationID(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if corrID, ok := v.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
