package units

import (
	"math"
	"testing"

	"github.com/citycast/weatherdesk/internal/models"
)

func TestToFahrenheit(t *testing.T) {
	tests := []struct {
		name    string
		celsius float64
		want    float64
	}{
		{
			name:    "freezing point",
			celsius: 0,
			want:    32,
		},
		{
			name:    "boiling point",
			celsius: 100,
			want:    212,
		},
		{
			name:    "negative forty is the fixed point",
			celsius: -40,
			want:    -40,
		},
		{
			name:    "body temperature",
			celsius: 37,
			want:    98.6,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ToFahrenheit(tc.celsius)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("ToFahrenheit(%v) = %v, want %v", tc.celsius, got, tc.want)
			}
		})
	}
}

func TestToCelsius_RoundTrip(t *testing.T) {
	for _, c := range []float64{-40, 0, 12.5, 37, 100} {
		got := ToCelsius(ToFahrenheit(c))
		if math.Abs(got-c) > 1e-9 {
			t.Fatalf("round trip of %v = %v", c, got)
		}
	}
}

// A payload already denominated in the requested unit must pass through
// unchanged, so a fresh fetch in the requested unit is never re-converted.
func TestConvertCurrent_NoDoubleConversion(t *testing.T) {
	cw := models.CurrentWeather{
		City:        "Oslo",
		Temperature: 20,
		Units:       models.UnitImperial,
	}

	got := ConvertCurrent(cw, models.UnitImperial)
	if got.Temperature != 20 {
		t.Fatalf("same-unit conversion changed temperature: %v", got.Temperature)
	}

	// Converting twice to the same target is also identity after the first.
	once := ConvertCurrent(models.CurrentWeather{Temperature: 0, Units: models.UnitMetric}, models.UnitImperial)
	twice := ConvertCurrent(once, models.UnitImperial)
	if once.Temperature != 32 || twice.Temperature != 32 {
		t.Fatalf("expected 32 after one and two conversions, got %v then %v", once.Temperature, twice.Temperature)
	}
}

func TestConvertCurrent_MetricToImperial(t *testing.T) {
	cw := models.CurrentWeather{City: "Oslo", Temperature: 100, Units: models.UnitMetric}
	got := ConvertCurrent(cw, models.UnitImperial)
	if got.Temperature != 212 {
		t.Fatalf("Temperature = %v, want 212", got.Temperature)
	}
	if got.Units != models.UnitImperial {
		t.Fatalf("Units = %v, want imperial", got.Units)
	}
	if cw.Temperature != 100 || cw.Units != models.UnitMetric {
		t.Fatalf("input mutated: %+v", cw)
	}
}

func TestConvertDaily(t *testing.T) {
	df := models.DailyForecast{
		City:  "Oslo",
		Units: models.UnitMetric,
		Days: []models.ForecastSample{
			{Timestamp: 1000, TempMax: 0, TempMin: -10},
			{Timestamp: 2000, TempMax: 100, TempMin: 0},
		},
	}

	got := ConvertDaily(df, models.UnitImperial)
	if got.Days[0].TempMax != 32 || got.Days[0].TempMin != 14 {
		t.Fatalf("day 0 = %+v", got.Days[0])
	}
	if got.Days[1].TempMax != 212 || got.Days[1].TempMin != 32 {
		t.Fatalf("day 1 = %+v", got.Days[1])
	}
	if df.Days[0].TempMax != 0 {
		t.Fatalf("input slice mutated: %+v", df.Days[0])
	}

	same := ConvertDaily(got, models.UnitImperial)
	if same.Days[1].TempMax != 212 {
		t.Fatalf("same-unit conversion changed value: %v", same.Days[1].TempMax)
	}
}
