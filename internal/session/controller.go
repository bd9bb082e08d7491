// Package session orchestrates weather retrieval for the active (city, unit)
// selection: concurrent current + forecast fetches, cache write-through and
// fallback, unit conversion for reused payloads, and refresh triggers.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/citycast/weatherdesk/internal/cache"
	"github.com/citycast/weatherdesk/internal/client"
	"github.com/citycast/weatherdesk/internal/forecast"
	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/observability"
	"github.com/citycast/weatherdesk/internal/units"
)

// State is the session lifecycle phase.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Refresh causes, used as metric labels and for logging.
const (
	CauseStartup = "startup"
	CauseCity    = "city"
	CauseUnits   = "units"
	CauseManual  = "manual"
	CauseOnline  = "online"
	CauseScroll  = "scroll"
)

// Snapshot is the render-ready view of the session. Current and Forecast are
// nil until their first successful (or fallback) population.
type Snapshot struct {
	State    State                 `json:"state"`
	City     string                `json:"city"`
	Units    models.UnitSystem     `json:"units"`
	Current  *models.CurrentWeather `json:"current,omitempty"`
	Forecast *models.DailyForecast  `json:"forecast,omitempty"`

	// CurrentError and ForecastError are user-facing messages for the two
	// independent fetch paths. A populated payload with Stale set means the
	// live fetch failed but the cache answered.
	CurrentError  string `json:"currentError,omitempty"`
	ForecastError string `json:"forecastError,omitempty"`

	Offline bool `json:"offline"`
}

// Config tunes the controller. Zero fields fall back to defaults.
type Config struct {
	DefaultCity     string
	DefaultUnits    models.UnitSystem
	MaxForecastDays int
	FetchTimeout    time.Duration
	ScrollThrottle  time.Duration
}

// Controller owns the live view model for one active (city, unit) pair and
// drives its refresh lifecycle: Idle -> Loading -> {Ready, Error}, with
// Loading re-entered on city change, unit change, manual refresh, regained
// connectivity, and throttled scroll-to-top.
//
// Every dispatch advances a generation token captured by its two fetch
// goroutines; a completion whose token no longer matches is discarded, so a
// slow response for a superseded selection can never overwrite newer state.
type Controller struct {
	client client.WeatherClient
	cache  *cache.WeatherCache
	logger *zap.Logger
	cfg    Config

	mu           sync.Mutex
	gen          uint64
	state        State
	city         string
	unitSystem   models.UnitSystem
	current      *models.CurrentWeather
	forecastData *models.DailyForecast
	currentErr   string
	forecastErr  string
	offline      bool
	pending      int
	lastScroll   time.Time
	closed       bool

	subs      map[int]func(Snapshot)
	nextSubID int

	now func() time.Time
	wg  sync.WaitGroup
}

// NewController wires a controller. Call Start to restore the last session
// and dispatch the first fetch; call Close to tear it down.
func NewController(wc client.WeatherClient, store *cache.WeatherCache, logger *zap.Logger, cfg Config) *Controller {
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "New York"
	}
	if !cfg.DefaultUnits.Valid() {
		cfg.DefaultUnits = models.UnitMetric
	}
	if cfg.MaxForecastDays <= 0 {
		cfg.MaxForecastDays = forecast.DefaultMaxDays
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.ScrollThrottle <= 0 {
		cfg.ScrollThrottle = 2 * time.Second
	}
	return &Controller{
		client:     wc,
		cache:      store,
		logger:     logger,
		cfg:        cfg,
		state:      StateIdle,
		city:       cfg.DefaultCity,
		unitSystem: cfg.DefaultUnits,
		subs:       make(map[int]func(Snapshot)),
		now:        time.Now,
	}
}

// Start restores the last committed city from cache (falling back to the
// configured default) and dispatches the initial fetch.
func (c *Controller) Start(ctx context.Context) {
	if last, ok, err := c.cache.GetLastCity(ctx); err == nil && ok && last != "" {
		c.mu.Lock()
		c.city = last
		c.mu.Unlock()
	}
	c.mu.Lock()
	c.dispatchLocked(CauseStartup)
	c.mu.Unlock()
}

// SetCity commits a new active city. A no-op when the city is unchanged.
func (c *Controller) SetCity(city string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if city == "" || cache.NormalizeCity(city) == cache.NormalizeCity(c.city) {
		return
	}
	c.city = city
	c.dispatchLocked(CauseCity)
}

// SetUnits switches the unit system. The held view model is converted locally
// right away so reused data renders in the requested unit, and a fresh fetch
// in that unit is dispatched; the fresh payload arrives already denominated
// and is never converted again.
func (c *Controller) SetUnits(u models.UnitSystem) {
	if !u.Valid() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if u == c.unitSystem {
		return
	}
	c.unitSystem = u
	if c.current != nil {
		converted := units.ConvertCurrent(*c.current, u)
		c.current = &converted
	}
	if c.forecastData != nil {
		converted := units.ConvertDaily(*c.forecastData, u)
		c.forecastData = &converted
	}
	c.dispatchLocked(CauseUnits)
}

// Refresh re-fetches the active selection.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLocked(CauseManual)
}

// SetOnline records a connectivity transition. Going offline raises a
// persistent advisory without clearing data; regaining connectivity
// dispatches an automatic refresh.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline == !online {
		return
	}
	c.offline = !online
	if online {
		c.dispatchLocked(CauseOnline)
		return
	}
	c.notifyLocked()
}

// ScrollToTop handles the pull-to-refresh gesture, refreshing at most once
// per throttle window. Returns whether a refresh was dispatched.
func (c *Controller) ScrollToTop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Sub(c.lastScroll) < c.cfg.ScrollThrottle {
		return false
	}
	c.lastScroll = c.now()
	c.dispatchLocked(CauseScroll)
	return true
}

// dispatchLocked starts a new fetch generation for the active selection.
// Caller holds c.mu.
func (c *Controller) dispatchLocked(cause string) {
	if c.closed {
		return
	}
	c.gen++
	token := c.gen
	c.state = StateLoading
	c.pending = 2
	city, unit := c.city, c.unitSystem

	observability.RefreshTriggersTotal.WithLabelValues(cause).Inc()
	if c.logger != nil {
		c.logger.Debug("dispatching fetch",
			zap.String("cause", cause),
			zap.String("city", city),
			zap.String("units", string(unit)),
			zap.Uint64("generation", token))
	}

	c.wg.Add(2)
	go c.fetchCurrent(token, city, unit)
	go c.fetchForecast(token, city, unit)
	c.notifyLocked()
}

func (c *Controller) fetchCurrent(token uint64, city string, unit models.UnitSystem) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	cw, err := c.client.GetCurrentWeather(ctx, city, unit)

	// Resolve the fallback before taking the lock so a slow cache backend
	// never stalls the controller. The fetch ctx may already be past its
	// deadline here, so the read gets its own.
	var fallback *models.CurrentWeather
	var fallbackAge time.Duration
	if err != nil && client.IsFallbackEligible(err) {
		readCtx, readCancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer readCancel()
		if cached, storedAt, ok, cerr := c.cache.GetCurrent(readCtx); cerr == nil && ok {
			cached.Stale = true
			fallback = &cached
			fallbackAge = c.now().Sub(storedAt)
		}
	}

	c.mu.Lock()
	if token != c.gen || c.closed {
		c.mu.Unlock()
		observability.StaleCompletionsDiscardedTotal.Inc()
		return
	}
	c.pending--

	switch {
	case err == nil:
		c.current = &cw
		c.currentErr = ""
	case client.IsNotFound(err):
		c.current = nil
		c.currentErr = fmt.Sprintf("City %q not found.", city)
	case fallback != nil:
		converted := units.ConvertCurrent(*fallback, unit)
		c.current = &converted
		c.currentErr = ""
		observability.CacheFallbackTotal.WithLabelValues("current").Inc()
		observability.CacheFallbackAgeSeconds.Observe(fallbackAge.Seconds())
		if c.logger != nil {
			c.logger.Info("serving cached current weather",
				zap.String("city", city), zap.Duration("age", fallbackAge))
		}
	default:
		c.current = nil
		c.currentErr = fetchFailureMessage(err)
	}

	c.finalizeLocked()
	c.notifyLocked()
	c.mu.Unlock()

	if err == nil {
		// Write-through only while still current, so a superseded completion
		// cannot clobber the cache either.
		writeCtx, writeCancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer writeCancel()
		if werr := c.cache.PutCurrent(writeCtx, cw); werr != nil && c.logger != nil {
			c.logger.Warn("cache write failed", zap.String("key", "current"), zap.Error(werr))
		}
		if werr := c.cache.PutLastCity(writeCtx, city); werr != nil && c.logger != nil {
			c.logger.Warn("cache write failed", zap.String("key", "last_city"), zap.Error(werr))
		}
	}
}

func (c *Controller) fetchForecast(token uint64, city string, unit models.UnitSystem) {
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	series, err := c.client.GetForecast(ctx, city, unit)

	var reduced models.DailyForecast
	if err == nil {
		reduced = forecast.ReduceSeries(series, c.cfg.MaxForecastDays)
	}

	var fallback *models.DailyForecast
	var fallbackAge time.Duration
	if err != nil && client.IsFallbackEligible(err) {
		readCtx, readCancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer readCancel()
		if cached, storedAt, ok, cerr := c.cache.GetForecast(readCtx, city); cerr == nil && ok {
			cached.Stale = true
			fallback = &cached
			fallbackAge = c.now().Sub(storedAt)
		}
	}

	c.mu.Lock()
	if token != c.gen || c.closed {
		c.mu.Unlock()
		observability.StaleCompletionsDiscardedTotal.Inc()
		return
	}
	c.pending--

	switch {
	case err == nil:
		c.forecastData = &reduced
		c.forecastErr = ""
	case client.IsNotFound(err):
		c.forecastData = nil
		c.forecastErr = fmt.Sprintf("Forecast data for %q not found.", city)
	case fallback != nil:
		converted := units.ConvertDaily(*fallback, unit)
		c.forecastData = &converted
		c.forecastErr = ""
		observability.CacheFallbackTotal.WithLabelValues("forecast").Inc()
		observability.CacheFallbackAgeSeconds.Observe(fallbackAge.Seconds())
		if c.logger != nil {
			c.logger.Info("serving cached forecast",
				zap.String("city", city), zap.Duration("age", fallbackAge))
		}
	default:
		c.forecastData = nil
		c.forecastErr = fetchFailureMessage(err)
	}

	c.finalizeLocked()
	c.notifyLocked()
	c.mu.Unlock()

	if err == nil {
		writeCtx, writeCancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
		defer writeCancel()
		if werr := c.cache.PutForecast(writeCtx, city, reduced); werr != nil && c.logger != nil {
			c.logger.Warn("cache write failed", zap.String("key", "forecast"), zap.Error(werr))
		}
	}
}

// finalizeLocked settles the overall state once both fetches of the current
// generation have completed. Caller holds c.mu.
func (c *Controller) finalizeLocked() {
	if c.pending > 0 {
		return
	}
	if c.current == nil && c.currentErr != "" {
		c.state = StateError
		return
	}
	c.state = StateReady
}

// fetchFailureMessage maps a non-not-found failure to the user-facing
// message, distinguishing a timeout from a general connectivity failure.
func fetchFailureMessage(err error) string {
	if client.CategorizeError(err) == client.ErrorCategoryTimeout {
		return "Request timed out. Please try again."
	}
	return "Failed to fetch weather data. Please check your network."
}

// Snapshot returns a copy of the current view model.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:         c.state,
		City:          c.city,
		Units:         c.unitSystem,
		CurrentError:  c.currentErr,
		ForecastError: c.forecastErr,
		Offline:       c.offline,
	}
	if c.current != nil {
		cw := *c.current
		snap.Current = &cw
	}
	if c.forecastData != nil {
		df := *c.forecastData
		df.Days = append([]models.ForecastSample(nil), c.forecastData.Days...)
		snap.Forecast = &df
	}
	return snap
}

// Subscribe registers a snapshot listener, invoked after every state change.
// The returned function unsubscribes; Close removes all listeners.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// notifyLocked delivers the current snapshot to all subscribers. Caller holds
// c.mu; delivery is asynchronous so a subscriber can call back in.
func (c *Controller) notifyLocked() {
	if len(c.subs) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, fn := range c.subs {
		fn := fn
		go fn(snap)
	}
}

// Close invalidates in-flight fetches, drops subscribers, and waits for fetch
// goroutines to finish.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.gen++ // orphan any in-flight completion
	c.subs = make(map[int]func(Snapshot))
	c.mu.Unlock()
	c.wg.Wait()
}
