package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/citycast/weatherdesk/internal/models"
)

// SchemaVersion is stamped into every entry. Reads discard entries written
// under a different version, so an upstream payload shape change never
// resurfaces through the fallback path.
const SchemaVersion = 1

// envelope frames every stored value with its schema version and write time.
type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	StoredAt      time.Time       `json:"storedAt"`
	Payload       json.RawMessage `json:"payload"`
}

// WeatherCache persists the most recent successful payloads and serves them
// as fallback when a live fetch fails. It is written on every success and
// read only inside failure handlers; it is never authoritative.
type WeatherCache struct {
	store       Store
	maxStaleAge time.Duration // 0 = serve any age
	now         func() time.Time
}

// New creates a WeatherCache over the given store. Entries older than
// maxStaleAge are treated as misses on read; zero disables the age check.
func New(store Store, maxStaleAge time.Duration) *WeatherCache {
	return &WeatherCache{store: store, maxStaleAge: maxStaleAge, now: time.Now}
}

func (c *WeatherCache) put(ctx context.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}
	env, err := json.Marshal(envelope{
		SchemaVersion: SchemaVersion,
		StoredAt:      c.now().UTC(),
		Payload:       raw,
	})
	if err != nil {
		return fmt.Errorf("marshal cache envelope: %w", err)
	}
	return c.store.Set(ctx, key, env)
}

// get unmarshals the entry at key into out. Version mismatches and entries
// past maxStaleAge are misses; the invalid entry is deleted on sight.
func (c *WeatherCache) get(ctx context.Context, key string, out any) (time.Time, bool, error) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		_ = c.store.Delete(ctx, key)
		return time.Time{}, false, nil
	}
	if env.SchemaVersion != SchemaVersion {
		_ = c.store.Delete(ctx, key)
		return time.Time{}, false, nil
	}
	if c.maxStaleAge > 0 && c.now().Sub(env.StoredAt) > c.maxStaleAge {
		_ = c.store.Delete(ctx, key)
		return time.Time{}, false, nil
	}
	if err := json.Unmarshal(env.Payload, out); err != nil {
		_ = c.store.Delete(ctx, key)
		return time.Time{}, false, nil
	}
	return env.StoredAt, true, nil
}

// PutCurrent stores the last successful current-weather payload.
func (c *WeatherCache) PutCurrent(ctx context.Context, cw models.CurrentWeather) error {
	return c.put(ctx, keyCurrentWeather, cw)
}

// GetCurrent returns the last successful current-weather payload, with the
// time it was stored. Misses on absence, version mismatch, or excessive age.
func (c *WeatherCache) GetCurrent(ctx context.Context) (models.CurrentWeather, time.Time, bool, error) {
	var cw models.CurrentWeather
	storedAt, ok, err := c.get(ctx, keyCurrentWeather, &cw)
	return cw, storedAt, ok, err
}

// PutForecast stores the last successful reduced forecast for city.
func (c *WeatherCache) PutForecast(ctx context.Context, city string, df models.DailyForecast) error {
	return c.put(ctx, forecastKey(city), df)
}

// GetForecast returns the last successful reduced forecast for city.
func (c *WeatherCache) GetForecast(ctx context.Context, city string) (models.DailyForecast, time.Time, bool, error) {
	var df models.DailyForecast
	storedAt, ok, err := c.get(ctx, forecastKey(city), &df)
	return df, storedAt, ok, err
}

// PutLastCity remembers the most recently committed city name so a new
// session can resume where the previous one left off.
func (c *WeatherCache) PutLastCity(ctx context.Context, city string) error {
	return c.put(ctx, keyLastCity, city)
}

// GetLastCity returns the most recently committed city name, if any.
func (c *WeatherCache) GetLastCity(ctx context.Context) (string, bool, error) {
	var city string
	_, ok, err := c.get(ctx, keyLastCity, &city)
	return city, ok, err
}
