package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/citycast/weatherdesk/internal/cache"
	"github.com/citycast/weatherdesk/internal/client"
	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/units"
)

var errNetwork = errors.New("dial tcp: connection refused")

// fakeClient returns canned payloads per city and can gate individual
// completions so tests can interleave in-flight fetches deterministically.
type fakeClient struct {
	mu            sync.Mutex
	err           error
	gates         map[string]chan struct{} // city -> release gate (both operations)
	currentCalls  int
	forecastCalls int
}

func newFakeClient() *fakeClient {
	return &fakeClient{gates: make(map[string]chan struct{})}
}

func (f *fakeClient) gate(city string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[city] = ch
	return ch
}

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeClient) wait(ctx context.Context, city string) error {
	f.mu.Lock()
	ch := f.gates[city]
	f.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (f *fakeClient) SuggestCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error) {
	return nil, nil
}

func (f *fakeClient) GetCurrentWeather(ctx context.Context, city string, unit models.UnitSystem) (models.CurrentWeather, error) {
	f.mu.Lock()
	f.currentCalls++
	err := f.err
	f.mu.Unlock()
	if werr := f.wait(ctx, city); werr != nil {
		return models.CurrentWeather{}, werr
	}
	if err != nil {
		return models.CurrentWeather{}, err
	}
	temp := 20.0
	if unit == models.UnitImperial {
		temp = units.ToFahrenheit(temp)
	}
	return models.CurrentWeather{
		City:        city,
		Temperature: temp,
		Description: "clear sky",
		Icon:        "01d",
		Units:       unit,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (f *fakeClient) GetForecast(ctx context.Context, city string, unit models.UnitSystem) (models.ForecastSeries, error) {
	f.mu.Lock()
	f.forecastCalls++
	err := f.err
	f.mu.Unlock()
	if werr := f.wait(ctx, city); werr != nil {
		return models.ForecastSeries{}, werr
	}
	if err != nil {
		return models.ForecastSeries{}, err
	}
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := make([]models.ForecastSample, 16) // spans 2 days at 3h intervals
	for i := range samples {
		samples[i] = models.ForecastSample{
			Timestamp: start.Add(time.Duration(i) * 3 * time.Hour).Unix(),
			TempMax:   10,
			TempMin:   2,
		}
	}
	return models.ForecastSeries{
		City:    city,
		Units:   unit,
		Samples: samples,
	}, nil
}

func testController(t *testing.T, fc *fakeClient) *Controller {
	t.Helper()
	store := cache.New(cache.NewInMemoryStore(), 0)
	c := NewController(fc, store, nil, Config{
		DefaultCity:    "Paris",
		DefaultUnits:   models.UnitMetric,
		FetchTimeout:   time.Second,
		ScrollThrottle: 2 * time.Second,
	})
	t.Cleanup(c.Close)
	return c
}

func waitForState(t *testing.T, c *Controller, want State) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		snap := c.Snapshot()
		if snap.State == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state never reached %q (last: %+v)", want, c.Snapshot())
	return Snapshot{}
}

func TestController_StartupFetch(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	snap := waitForState(t, c, StateReady)

	if snap.City != "Paris" {
		t.Fatalf("city = %q, want Paris", snap.City)
	}
	if snap.Current == nil || snap.Current.City != "Paris" || snap.Current.Temperature != 20 {
		t.Fatalf("current = %+v", snap.Current)
	}
	if snap.Forecast == nil || len(snap.Forecast.Days) != 2 {
		t.Fatalf("forecast = %+v", snap.Forecast)
	}
	if snap.Current.Stale || snap.Forecast.Stale {
		t.Fatal("fresh payloads marked stale")
	}
}

func TestController_RestoresLastCity(t *testing.T) {
	fc := newFakeClient()
	store := cache.New(cache.NewInMemoryStore(), 0)
	if err := store.PutLastCity(context.Background(), "Tokyo"); err != nil {
		t.Fatalf("PutLastCity: %v", err)
	}

	c := NewController(fc, store, nil, Config{DefaultCity: "Paris", FetchTimeout: time.Second})
	defer c.Close()

	c.Start(context.Background())
	snap := waitForState(t, c, StateReady)
	if snap.City != "Tokyo" {
		t.Fatalf("city = %q, want last committed city Tokyo", snap.City)
	}
}

func TestController_CityNotFound(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	fc.setErr(fmt.Errorf("%w", client.ErrCityNotFound))
	c.SetCity("Nowhereville")
	snap := waitForState(t, c, StateError)

	if snap.CurrentError != `City "Nowhereville" not found.` {
		t.Fatalf("CurrentError = %q", snap.CurrentError)
	}
	if snap.Current != nil {
		t.Fatalf("current should be cleared on not-found, got %+v", snap.Current)
	}
}

// A network failure after a prior success serves the cached payload with a
// stale advisory instead of a hard error.
func TestController_CacheFallbackOnNetworkFailure(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	first := waitForState(t, c, StateReady)
	if first.Current == nil {
		t.Fatal("no current weather after first fetch")
	}

	fc.setErr(errNetwork)
	c.Refresh()
	snap := waitForState(t, c, StateReady)

	if snap.Current == nil {
		t.Fatal("expected cached fallback, got nil")
	}
	if !snap.Current.Stale {
		t.Fatal("fallback payload not marked stale")
	}
	if snap.Current.City != first.Current.City || snap.Current.Temperature != first.Current.Temperature {
		t.Fatalf("fallback = %+v, want previously cached %+v", snap.Current, first.Current)
	}
	if snap.CurrentError != "" {
		t.Fatalf("CurrentError = %q, want empty when cache answers", snap.CurrentError)
	}

	if snap.Forecast == nil || !snap.Forecast.Stale {
		t.Fatalf("forecast fallback = %+v", snap.Forecast)
	}
}

func TestController_NetworkFailureWithoutCache(t *testing.T) {
	fc := newFakeClient()
	fc.setErr(errNetwork)
	c := testController(t, fc)

	c.Start(context.Background())
	snap := waitForState(t, c, StateError)

	if snap.Current != nil {
		t.Fatalf("current = %+v, want nil", snap.Current)
	}
	if snap.CurrentError == "" {
		t.Fatal("expected a user-facing failure message")
	}
}

// A fetch that outlives the per-fetch deadline reports the timeout message,
// not the generic network one.
func TestController_FetchTimeoutMessage(t *testing.T) {
	fc := newFakeClient()
	fc.gate("Paris") // never released; both fetches ride out the deadline
	store := cache.New(cache.NewInMemoryStore(), 0)
	c := NewController(fc, store, nil, Config{
		DefaultCity:    "Paris",
		DefaultUnits:   models.UnitMetric,
		FetchTimeout:   50 * time.Millisecond,
		ScrollThrottle: 2 * time.Second,
	})
	t.Cleanup(c.Close)

	c.Refresh()
	snap := waitForState(t, c, StateError)

	const want = "Request timed out. Please try again."
	if snap.CurrentError != want {
		t.Errorf("current error = %q, want %q", snap.CurrentError, want)
	}
	if snap.ForecastError != want {
		t.Errorf("forecast error = %q, want %q", snap.ForecastError, want)
	}
	if snap.Current != nil || snap.Forecast != nil {
		t.Error("timed-out fetch with cold cache should leave payloads nil")
	}
}

// Timeouts are fallback eligible: with a warm cache the session serves the
// stale payload instead of the timeout message.
func TestController_TimeoutServesCachedFallback(t *testing.T) {
	fc := newFakeClient()
	store := cache.New(cache.NewInMemoryStore(), 0)
	c := NewController(fc, store, nil, Config{
		DefaultCity:    "Paris",
		DefaultUnits:   models.UnitMetric,
		FetchTimeout:   100 * time.Millisecond,
		ScrollThrottle: 2 * time.Second,
	})
	t.Cleanup(c.Close)

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	fc.gate("Paris")
	c.Refresh()
	snap := waitForState(t, c, StateReady)

	if snap.Current == nil || !snap.Current.Stale {
		t.Fatalf("current = %+v, want stale cached payload", snap.Current)
	}
	if snap.CurrentError != "" {
		t.Errorf("current error = %q, want empty when fallback serves", snap.CurrentError)
	}
	if snap.Forecast == nil || !snap.Forecast.Stale {
		t.Fatalf("forecast = %+v, want stale cached payload", snap.Forecast)
	}
}

// A completion for a superseded selection must not overwrite newer state:
// dispatch Paris, switch to Tokyo before Paris resolves, let Tokyo resolve
// first, then release Paris.
func TestController_StaleCompletionDiscarded(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	parisGate := fc.gate("Paris")
	c.Start(context.Background()) // Paris fetch blocks on the gate

	c.SetCity("Tokyo")
	snap := waitForState(t, c, StateReady)
	if snap.Current == nil || snap.Current.City != "Tokyo" {
		t.Fatalf("current = %+v, want Tokyo", snap.Current)
	}

	close(parisGate)
	time.Sleep(50 * time.Millisecond)

	snap = c.Snapshot()
	if snap.City != "Tokyo" {
		t.Fatalf("city = %q, want Tokyo", snap.City)
	}
	if snap.Current == nil || snap.Current.City != "Tokyo" {
		t.Fatalf("late Paris completion overwrote state: %+v", snap.Current)
	}
}

func TestController_SetCitySameCityNoRefetch(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	fc.mu.Lock()
	calls := fc.currentCalls
	fc.mu.Unlock()

	c.SetCity(" PARIS ")
	time.Sleep(50 * time.Millisecond)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.currentCalls != calls {
		t.Fatalf("refetched for same city: %d -> %d calls", calls, fc.currentCalls)
	}
}

// A unit toggle converts the held payload immediately (so reused data renders
// in the new unit while the refetch is in flight) and the fresh payload then
// arrives already denominated.
func TestController_UnitToggleConvertsHeldData(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	gate := fc.gate("Paris") // block the refetch triggered by the toggle
	c.SetUnits(models.UnitImperial)

	snap := c.Snapshot()
	if snap.State != StateLoading {
		t.Fatalf("state = %q, want loading during refetch", snap.State)
	}
	if snap.Current == nil || snap.Current.Temperature != 68 { // 20C
		t.Fatalf("held current not converted: %+v", snap.Current)
	}
	if snap.Current.Units != models.UnitImperial {
		t.Fatalf("held current units = %v", snap.Current.Units)
	}
	if snap.Forecast == nil || snap.Forecast.Days[0].TempMax != 50 { // 10C
		t.Fatalf("held forecast not converted: %+v", snap.Forecast)
	}

	close(gate)
	snap = waitForState(t, c, StateReady)
	// Fresh imperial payload, not a double-converted one.
	if snap.Current.Temperature != 68 {
		t.Fatalf("fresh current = %v, want 68", snap.Current.Temperature)
	}
}

func TestController_OfflineAdvisoryKeepsData(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	c.SetOnline(false)
	snap := c.Snapshot()
	if !snap.Offline {
		t.Fatal("offline advisory not set")
	}
	if snap.Current == nil || snap.Forecast == nil {
		t.Fatal("going offline cleared data")
	}
}

func TestController_RegainedConnectivityRefreshes(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	c.Start(context.Background())
	waitForState(t, c, StateReady)
	c.SetOnline(false)

	fc.mu.Lock()
	calls := fc.currentCalls
	fc.mu.Unlock()

	c.SetOnline(true)
	waitForState(t, c, StateReady)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.currentCalls != calls+1 {
		t.Fatalf("currentCalls = %d, want %d after regain", fc.currentCalls, calls+1)
	}
}

func TestController_ScrollToTopThrottled(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	if !c.ScrollToTop() {
		t.Fatal("first scroll refresh should dispatch")
	}
	if c.ScrollToTop() {
		t.Fatal("second scroll within window should be throttled")
	}

	c.now = func() time.Time { return base.Add(2500 * time.Millisecond) }
	if !c.ScrollToTop() {
		t.Fatal("scroll after window should dispatch")
	}
	waitForState(t, c, StateReady)
}

func TestController_SubscribeNotifies(t *testing.T) {
	fc := newFakeClient()
	c := testController(t, fc)

	var mu sync.Mutex
	var states []State
	unsub := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})
	defer unsub()

	c.Start(context.Background())
	waitForState(t, c, StateReady)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 {
		t.Fatalf("notifications = %v, want loading and terminal states", states)
	}
	var sawLoading, sawReady bool
	for _, s := range states {
		switch s {
		case StateLoading:
			sawLoading = true
		case StateReady:
			sawReady = true
		}
	}
	if !sawLoading || !sawReady {
		t.Fatalf("notifications = %v, want both loading and ready", states)
	}
}
