package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream weather API call rate by operation (suggest, current, forecast).
	// Watch for: error vs success ratio per operation.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Upstream API latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for upstream calls. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Fallback serves from the versioned cache after a failed live fetch, by part.
	CacheFallbackTotal *prometheus.CounterVec

	// Age of served fallback entries. Watch for: growing age = prolonged outage.
	CacheFallbackAgeSeconds prometheus.Histogram

	// Completions discarded because city/unit changed while the fetch was in flight.
	StaleCompletionsDiscardedTotal prometheus.Counter

	// Session refreshes by cause (city, units, manual, online, scroll).
	RefreshTriggersTotal *prometheus.CounterVec

	// Suggestion lookups by outcome (results, empty, error, suppressed).
	SuggestionLookupsTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of upstream weather API calls",
		},
		[]string{"operation", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Upstream weather API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for upstream weather API calls",
		},
	)
	CacheFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheFallbackTotal",
			Help: "Cached payloads served after a failed live fetch, by part (current, forecast)",
		},
		[]string{"part"},
	)
	CacheFallbackAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheFallbackAgeSeconds",
			Help:    "Age of cache entries served as fallback",
			Buckets: []float64{60, 300, 900, 3600, 14400, 86400},
		},
	)
	StaleCompletionsDiscardedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "staleCompletionsDiscardedTotal",
			Help: "Fetch completions discarded because the selection changed while in flight",
		},
	)
	RefreshTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshTriggersTotal",
			Help: "Session refresh dispatches by cause",
		},
		[]string{"cause"},
	)
	SuggestionLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestionLookupsTotal",
			Help: "City suggestion lookups by outcome (results, empty, error, suppressed)",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheFallbackTotal, CacheFallbackAgeSeconds,
		StaleCompletionsDiscardedTotal, RefreshTriggersTotal,
		SuggestionLookupsTotal, RateLimitDeniedTotal,
	)
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
