// Package suggest resolves partial city names to ranked candidate cities.
package suggest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/citycast/weatherdesk/internal/debounce"
	"github.com/citycast/weatherdesk/internal/models"
	"github.com/citycast/weatherdesk/internal/observability"
)

// Fetcher is the upstream geocoding lookup the resolver depends on.
type Fetcher interface {
	SuggestCities(ctx context.Context, query string, limit int) ([]models.CitySuggestion, error)
}

// Options configures a Resolver. Zero fields fall back to defaults.
type Options struct {
	Limit         int           // max candidates per lookup (default 5)
	MinQueryRunes int           // queries this short or shorter are suppressed (default 2)
	DebounceDelay time.Duration // quiet period before a lookup fires (default 300ms)
	FetchTimeout  time.Duration // per-lookup deadline (default 2s)
}

// Snapshot is the resolver's renderable state.
type Snapshot struct {
	Query       string                  `json:"query"`
	Suggestions []models.CitySuggestion `json:"suggestions"`
	Visible     bool                    `json:"visible"`
}

// Resolver turns keystrokes into a debounced suggestion lookup and tracks the
// dropdown state. Short queries never reach the network. A lookup that
// completes after the query has changed again is discarded, so a slow
// response can never show suggestions for an abandoned query.
type Resolver struct {
	fetcher Fetcher
	logger  *zap.Logger
	opts    Options

	debounced *debounce.Debounced[pendingLookup]
	gen       atomic.Uint64

	mu          sync.Mutex
	query       string
	suggestions []models.CitySuggestion
	visible     bool
}

// NewResolver creates a Resolver over the given fetcher.
func NewResolver(fetcher Fetcher, logger *zap.Logger, opts Options) *Resolver {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MinQueryRunes <= 0 {
		opts.MinQueryRunes = 2
	}
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = 300 * time.Millisecond
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 2 * time.Second
	}
	r := &Resolver{fetcher: fetcher, logger: logger, opts: opts}
	r.debounced = debounce.New(opts.DebounceDelay, r.lookup)
	return r
}

// pendingLookup carries a debounced query together with the generation it was
// typed at, so a lookup that outlives its query can be told apart.
type pendingLookup struct {
	query string
	token uint64
}

// QueryChanged records a new query value. Queries of MinQueryRunes runes or
// fewer (after trimming) clear and hide the dropdown without any network
// activity; longer queries schedule a debounced lookup. Every change advances
// the generation, so a lookup already in flight for the previous query is
// invalidated immediately, not when the next lookup starts.
func (r *Resolver) QueryChanged(query string) {
	trimmed := strings.TrimSpace(query)

	r.mu.Lock()
	r.query = query
	token := r.gen.Add(1)
	tooShort := len([]rune(trimmed)) <= r.opts.MinQueryRunes
	if tooShort {
		r.suggestions = nil
		r.visible = false
	} else {
		// Hide immediately while the lookup is pending; results reopen it.
		r.visible = false
	}
	r.mu.Unlock()

	if tooShort {
		r.debounced.Stop()
		observability.SuggestionLookupsTotal.WithLabelValues("suppressed").Inc()
		return
	}
	r.debounced.Call(pendingLookup{query: trimmed, token: token})
}

// Resolve runs one suppression-aware lookup for query without touching the
// dropdown state. Queries at or under the minimum length return nil with no
// network call. Results are capped at the configured limit.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]models.CitySuggestion, error) {
	trimmed := strings.TrimSpace(query)
	if len([]rune(trimmed)) <= r.opts.MinQueryRunes {
		observability.SuggestionLookupsTotal.WithLabelValues("suppressed").Inc()
		return nil, nil
	}
	results, err := r.fetcher.SuggestCities(ctx, trimmed, r.opts.Limit)
	if err != nil {
		observability.SuggestionLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(results) > r.opts.Limit {
		results = results[:r.opts.Limit]
	}
	if len(results) > 0 {
		observability.SuggestionLookupsTotal.WithLabelValues("results").Inc()
	} else {
		observability.SuggestionLookupsTotal.WithLabelValues("empty").Inc()
	}
	return results, nil
}

// lookup fetches candidates for p.query and publishes them unless the query
// has changed since it was typed.
func (r *Resolver) lookup(p pendingLookup) {
	if p.token != r.gen.Load() {
		// Already superseded while debouncing.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.FetchTimeout)
	defer cancel()

	results, err := r.fetcher.SuggestCities(ctx, p.query, r.opts.Limit)

	r.mu.Lock()
	defer r.mu.Unlock()
	if p.token != r.gen.Load() {
		// Superseded while in flight.
		return
	}

	if err != nil {
		if r.logger != nil {
			r.logger.Warn("suggestion lookup failed", zap.String("query", p.query), zap.Error(err))
		}
		observability.SuggestionLookupsTotal.WithLabelValues("error").Inc()
		r.suggestions = nil
		r.visible = false
		return
	}

	if len(results) > r.opts.Limit {
		results = results[:r.opts.Limit]
	}
	r.suggestions = results
	r.visible = len(results) > 0
	if r.visible {
		observability.SuggestionLookupsTotal.WithLabelValues("results").Inc()
	} else {
		observability.SuggestionLookupsTotal.WithLabelValues("empty").Inc()
	}
}

// Select commits the suggestion at index, clearing the query and dropdown.
// Returns the committed city name, or false when the index is out of range.
func (r *Resolver) Select(index int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.suggestions) {
		return "", false
	}
	city := r.suggestions[index].Name
	r.query = ""
	r.suggestions = nil
	r.visible = false
	r.gen.Add(1)
	r.debounced.Stop()
	return city, true
}

// SubmitRaw commits the typed query text as the city when it is non-empty,
// clearing the dropdown either way.
func (r *Resolver) SubmitRaw() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	city := strings.TrimSpace(r.query)
	r.query = ""
	r.suggestions = nil
	r.visible = false
	r.gen.Add(1)
	r.debounced.Stop()
	return city, city != ""
}

// Dismiss hides the dropdown without touching the committed city or the
// suggestion list, mirroring a click outside the search region.
func (r *Resolver) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visible = false
}

// Snapshot returns the current renderable state.
func (r *Resolver) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := Snapshot{Query: r.query, Visible: r.visible}
	if len(r.suggestions) > 0 {
		out.Suggestions = make([]models.CitySuggestion, len(r.suggestions))
		copy(out.Suggestions, r.suggestions)
	}
	return out
}

// Close cancels any pending debounced lookup.
func (r *Resolver) Close() {
	r.debounced.Stop()
}
