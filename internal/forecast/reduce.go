// Package forecast reduces a 3-hourly forecast series to one sample per day.
package forecast

import (
	"time"

	"github.com/citycast/weatherdesk/internal/models"
)

// DefaultMaxDays caps the reduced output; the upstream feed spans 5 days.
const DefaultMaxDays = 5

// ReduceDaily collapses an ordered series of forecast samples to at most one
// sample per calendar day: the first sample seen for a previously-unseen day
// wins, later samples for that day are dropped. The output is a subsequence
// of the input (chronological order preserved) capped at max entries.
//
// Calendar days are computed in the city's own timezone, given as a fixed
// offset in seconds east of UTC (the value the upstream reports alongside the
// series). Offset 0 means UTC. Using the reported offset keeps day boundaries
// stable regardless of where the process runs.
func ReduceDaily(samples []models.ForecastSample, max int, offsetSeconds int) []models.ForecastSample {
	if max <= 0 || len(samples) == 0 {
		return nil
	}

	zone := time.FixedZone("city", offsetSeconds)
	seen := make(map[string]struct{}, max)
	out := make([]models.ForecastSample, 0, max)

	for _, s := range samples {
		day := time.Unix(s.Timestamp, 0).In(zone).Format("2006-01-02")
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}

// ReduceSeries applies ReduceDaily to a full series using its own reported
// timezone offset, producing the render-ready daily forecast.
func ReduceSeries(series models.ForecastSeries, max int) models.DailyForecast {
	return models.DailyForecast{
		City:    series.City,
		Units:   series.Units,
		Days:    ReduceDaily(series.Samples, max, series.TimezoneOffsetSec),
		Fetched: time.Now().UTC(),
	}
}
