// Package debounce delays invoking a function until calls quiesce.
package debounce

import (
	"sync"
	"time"
)

// Debounced wraps a single-argument function so that only the last call in a
// burst fires, after the configured delay of quiet. Intermediate calls are
// dropped, not queued, and no result is propagated back to the caller.
type Debounced[T any] struct {
	mu    sync.Mutex
	timer *time.Timer
	delay time.Duration
	fn    func(T)
}

// New returns a debounced wrapper around fn with the given delay.
func New[T any](delay time.Duration, fn func(T)) *Debounced[T] {
	return &Debounced[T]{delay: delay, fn: fn}
}

// Call schedules fn(v) after the delay, cancelling any pending invocation.
// At most one invocation fires per quiescent period, carrying the arguments
// of the most recent call.
func (d *Debounced[T]) Call(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fn(v) })
}

// Stop cancels any pending invocation. Further Call invocations re-arm it.
func (d *Debounced[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
