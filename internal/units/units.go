// Package units converts temperatures between metric and imperial scales.
//
// Conversion is only for reusing already-fetched data across a unit toggle
// without a refetch. A fresh fetch embeds the unit in the upstream request,
// so payloads from a fresh fetch are never converted locally. Payload types
// carry the unit they are denominated in, and the Convert helpers no-op when
// source and target match, so a value can never be converted twice.
package units

import "github.com/citycast/weatherdesk/internal/models"

// ToFahrenheit converts a Celsius temperature to Fahrenheit.
func ToFahrenheit(celsius float64) float64 {
	return celsius*9/5 + 32
}

// ToCelsius converts a Fahrenheit temperature to Celsius.
func ToCelsius(fahrenheit float64) float64 {
	return (fahrenheit - 32) * 5 / 9
}

// convert maps v from one unit system to another. Identity when they match.
func convert(v float64, from, to models.UnitSystem) float64 {
	switch {
	case from == to:
		return v
	case from == models.UnitMetric && to == models.UnitImperial:
		return ToFahrenheit(v)
	case from == models.UnitImperial && to == models.UnitMetric:
		return ToCelsius(v)
	default:
		return v
	}
}

// ConvertCurrent returns cw denominated in the target unit system.
// No-op when cw already carries the target unit.
func ConvertCurrent(cw models.CurrentWeather, to models.UnitSystem) models.CurrentWeather {
	if cw.Units == to {
		return cw
	}
	out := cw
	out.Temperature = convert(cw.Temperature, cw.Units, to)
	out.Units = to
	return out
}

// ConvertDaily returns df denominated in the target unit system.
// No-op when df already carries the target unit.
func ConvertDaily(df models.DailyForecast, to models.UnitSystem) models.DailyForecast {
	if df.Units == to {
		return df
	}
	out := df
	out.Days = make([]models.ForecastSample, len(df.Days))
	for i, s := range df.Days {
		s.TempMax = convert(s.TempMax, df.Units, to)
		s.TempMin = convert(s.TempMin, df.Units, to)
		out.Days[i] = s
	}
	out.Units = to
	return out
}
