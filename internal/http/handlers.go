package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/citycast/weatherdesk/internal/client"
	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/session"
	"github.com/citycast/weatherdesk/internal/suggest"
	"github.com/citycast/weatherdesk/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	session  *session.Controller
	resolver *suggest.Resolver
	logger   *zap.Logger
	// cachePing, when set, is called by the health handler to check cache
	// reachability. Used when the backend is memcached.
	cachePing func() error
}

// NewHandler returns a new Handler.
func NewHandler(sess *session.Controller, resolver *suggest.Resolver, logger *zap.Logger, cachePing func() error) *Handler {
	return &Handler{
		session:   sess,
		resolver:  resolver,
		logger:    logger,
		cachePing: cachePing,
	}
}

// currentView decorates the current-conditions payload with a resolved icon URL.
type currentView struct {
	models.CurrentWeather
	IconURL string `json:"iconUrl"`
}

// dayView decorates one reduced forecast day with a resolved icon URL.
type dayView struct {
	models.ForecastSample
	IconURL string `json:"iconUrl"`
}

type forecastView struct {
	City    string            `json:"city"`
	Units   models.UnitSystem `json:"units"`
	Days    []dayView         `json:"days"`
	Stale   bool              `json:"stale,omitempty"`
	Fetched time.Time         `json:"fetchedAt"`
}

// stateResponse is the render-ready session view returned by GET /api/state.
type stateResponse struct {
	State         session.State     `json:"state"`
	City          string            `json:"city"`
	Units         models.UnitSystem `json:"units"`
	Current       *currentView      `json:"current,omitempty"`
	Forecast      *forecastView     `json:"forecast,omitempty"`
	CurrentError  string            `json:"currentError,omitempty"`
	ForecastError string            `json:"forecastError,omitempty"`
	Offline       bool              `json:"offline"`
}

func stateView(snap session.Snapshot) stateResponse {
	resp := stateResponse{
		State:         snap.State,
		City:          snap.City,
		Units:         snap.Units,
		CurrentError:  snap.CurrentError,
		ForecastError: snap.ForecastError,
		Offline:       snap.Offline,
	}
	if snap.Current != nil {
		resp.Current = &currentView{
			CurrentWeather: *snap.Current,
			IconURL:        models.IconURL(snap.Current.Icon),
		}
	}
	if snap.Forecast != nil {
		fv := &forecastView{
			City:    snap.Forecast.City,
			Units:   snap.Forecast.Units,
			Stale:   snap.Forecast.Stale,
			Fetched: snap.Forecast.Fetched,
			Days:    make([]dayView, 0, len(snap.Forecast.Days)),
		}
		for _, d := range snap.Forecast.Days {
			fv.Days = append(fv.Days, dayView{ForecastSample: d, IconURL: models.IconURL(d.Icon)})
		}
		resp.Forecast = fv
	}
	return resp
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateView(h.session.Snapshot()))
}

// PostCity handles POST /api/city. It commits a city directly, bypassing the
// suggestion dropdown, which is dismissed as a side effect.
func (h *Handler) PostCity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		City string `json:"city"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	city, err := validation.ValidateCityName(body.City)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	h.resolver.Dismiss()
	h.session.SetCity(city)
	writeJSON(w, http.StatusOK, stateView(h.session.Snapshot()))
}

// PostUnits handles POST /api/units.
func (h *Handler) PostUnits(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Units models.UnitSystem `json:"units"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if !body.Units.Valid() {
		writeError(w, r, http.StatusBadRequest, "INVALID_UNITS", `units must be "metric" or "imperial"`)
		return
	}
	h.session.SetUnits(body.Units)
	writeJSON(w, http.StatusOK, stateView(h.session.Snapshot()))
}

// PostRefresh handles POST /api/refresh.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	h.session.Refresh()
	writeJSON(w, http.StatusOK, stateView(h.session.Snapshot()))
}

// PostConnectivity handles POST /api/connectivity. Going offline keeps the
// last-rendered data and sets an advisory flag; coming back online triggers a
// refresh of the active city.
func (h *Handler) PostConnectivity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", `request body must be JSON with an "online" field`)
		return
	}
	h.session.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, stateView(h.session.Snapshot()))
}

// PostScroll handles POST /api/scroll. The refresh is throttled; the response
// reports whether this scroll actually triggered one.
func (h *Handler) PostScroll(w http.ResponseWriter, r *http.Request) {
	refreshed := h.session.ScrollToTop()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refreshed": refreshed,
		"state":     stateView(h.session.Snapshot()),
	})
}

// GetSuggestions handles GET /api/suggestions?q=. This is the synchronous
// lookup path; queries at or under the minimum length return an empty list
// without an upstream call.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	results, err := h.resolver.Resolve(r.Context(), query)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []models.CitySuggestion{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":       query,
		"suggestions": results,
	})
}

// PostSearchQuery handles POST /api/search/query. The lookup is debounced
// and its outcome lands in the dropdown state, so the response is an
// acknowledgement, not a result.
func (h *Handler) PostSearchQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	h.resolver.QueryChanged(body.Query)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true})
}

// GetSearch handles GET /api/search. Returns the current dropdown state.
func (h *Handler) GetSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.resolver.Snapshot())
}

// PostSearchSelect handles POST /api/search/select. Committing a suggestion
// clears the dropdown and switches the session to the selected city.
func (h *Handler) PostSearchSelect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Index == nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", `request body must be JSON with an "index" field`)
		return
	}
	name, ok := h.resolver.Select(*body.Index)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "INVALID_INDEX", "no suggestion at that index")
		return
	}
	h.session.SetCity(name)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": name,
		"state":    stateView(h.session.Snapshot()),
	})
}

// PostSearchSubmit handles POST /api/search/submit. Submits the raw query as
// typed, without waiting for suggestions.
func (h *Handler) PostSearchSubmit(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.resolver.SubmitRaw()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "EMPTY_QUERY", "nothing to submit")
		return
	}
	city, err := validation.ValidateCityName(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}
	h.session.SetCity(city)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submitted": city,
		"state":     stateView(h.session.Snapshot()),
	})
}

// PostSearchDismiss handles POST /api/search/dismiss.
func (h *Handler) PostSearchDismiss(w http.ResponseWriter, r *http.Request) {
	h.resolver.Dismiss()
	writeJSON(w, http.StatusOK, map[string]interface{}{"dismissed": true})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := "healthy"
	if h.cachePing != nil {
		if h.cachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			// Cache loss degrades fallback behavior but the session keeps
			// serving live data.
			checks["cache"] = "unhealthy"
			status = "degraded"
		}
	}
	snap := h.session.Snapshot()
	resp := map[string]interface{}{
		"status":    status,
		"service":   "weatherdesk",
		"version":   "dev",
		"session":   string(snap.State),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeServiceError maps an upstream failure to a response. Not-found is the
// caller's mistake; everything else is a 503.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if client.IsNotFound(err) {
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no matching city")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
