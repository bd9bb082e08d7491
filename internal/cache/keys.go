package cache

import "strings"

// Fixed keys for the single-slot payloads; forecasts get a per-city key.
const (
	keyLastCity       = "last_city"
	keyCurrentWeather = "current_weather"
)

// forecastKey builds the per-city forecast key. City names are normalized so
// "Oslo" and " oslo " address the same slot.
func forecastKey(city string) string {
	return "forecast:" + NormalizeCity(city)
}

// NormalizeCity trims whitespace and lowercases a city name for use as a
// cache key and upstream query value.
func NormalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
