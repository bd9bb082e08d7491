package models

import "time"

// UnitSystem selects the measurement convention for temperatures.
type UnitSystem string

const (
	UnitMetric   UnitSystem = "metric"
	UnitImperial UnitSystem = "imperial"
)

// Valid reports whether u is one of the known unit systems.
func (u UnitSystem) Valid() bool {
	return u == UnitMetric || u == UnitImperial
}

// CitySuggestion is one geocoding candidate for a partial city query.
// Identity is the full (Name, Country, State, Lat, Lon) tuple; coordinates
// alone are not a key because distinct places can share rounded values.
type CitySuggestion struct {
	Name    string  `json:"name"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// CurrentWeather is the render-ready current-conditions payload.
type CurrentWeather struct {
	City        string     `json:"city"`
	Temperature float64    `json:"temperature"`
	Description string     `json:"description"`
	Icon        string     `json:"icon"`
	Units       UnitSystem `json:"units"`
	FetchedAt   time.Time  `json:"fetchedAt"`
	Stale       bool       `json:"stale,omitempty"` // Served from cache after a failed live fetch
}

// ForecastSample is one timestamped reading from the 3-hourly forecast feed.
type ForecastSample struct {
	Timestamp   int64   `json:"timestamp"` // unix seconds
	TempMax     float64 `json:"tempMax"`
	TempMin     float64 `json:"tempMin"`
	Icon        string  `json:"icon"`
	Description string  `json:"description"`
}

// ForecastSeries is the raw multi-sample forecast for one city, together with
// the timezone offset the upstream reports for that city. The offset is what
// day reduction uses, so the same input reduces identically everywhere.
type ForecastSeries struct {
	City              string           `json:"city"`
	TimezoneOffsetSec int              `json:"timezoneOffsetSec"`
	Units             UnitSystem       `json:"units"`
	Samples           []ForecastSample `json:"samples"`
}

// DailyForecast is a reduced forecast: at most one representative sample per
// calendar day, chronological, plus provenance flags for the UI.
type DailyForecast struct {
	City    string           `json:"city"`
	Units   UnitSystem       `json:"units"`
	Days    []ForecastSample `json:"days"`
	Stale   bool             `json:"stale,omitempty"`
	Fetched time.Time        `json:"fetchedAt"`
}

// DefaultIconPath is served when the upstream icon id is empty or the asset
// host cannot be reached.
const DefaultIconPath = "/assets/icons/default.png"

const iconBaseURL = "https://openweathermap.org/img/wn/"

// IconURL builds the image URL for an upstream icon id, falling back to the
// bundled default asset when the id is empty.
func IconURL(iconID string) string {
	if iconID == "" {
		return DefaultIconPath
	}
	return iconBaseURL + iconID + "@2x.png"
}
