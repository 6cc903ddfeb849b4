package health

import (
	"sync"
	"time"
)

// DefaultCapacity bounds the health history.
const DefaultCapacity = 100

// evaluationWindow is how many recent results the aggregate
// classification looks at.
const evaluationWindow = 5

// History retains a bounded sliding window of probe results and the
// consecutive-failure counter derived from them. Single writer (the
// monitoring loop), many readers.
type History struct {
	mu                  sync.RWMutex
	results             []Result
	capacity            int
	consecutiveFailures int
	lastCheck           time.Time
}

// NewHistory creates a history with the given capacity (DefaultCapacity
// if non-positive).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		results:  make([]Result, 0, capacity),
		capacity: capacity,
	}
}

// RecordRound appends a full round of results, evicting oldest-first
// past capacity, then updates the consecutive-failure counter: reset on
// a clean round, +1 (regardless of how many probes failed) otherwise.
func (h *History) RecordRound(results []Result) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, results...)
	if overflow := len(h.results) - h.capacity; overflow > 0 {
		h.results = h.results[overflow:]
	}
	h.lastCheck = time.Now()

	unhealthy := false
	for _, r := range results {
		if r.Status == StatusUnhealthy {
			unhealthy = true
			break
		}
	}
	if unhealthy {
		h.consecutiveFailures++
	} else {
		h.consecutiveFailures = 0
	}
}

// RecordFailure bumps the failure counter without appending results.
// Used when a whole round errors out before producing any.
func (h *History) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures++
	h.lastCheck = time.Now()
}

// ResetFailures zeroes the consecutive-failure counter.
func (h *History) ResetFailures() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveFailures = 0
}

// ConsecutiveFailures returns the current counter value.
func (h *History) ConsecutiveFailures() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.consecutiveFailures
}

// LastCheck returns when the history was last written.
func (h *History) LastCheck() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck
}

// Len returns the number of retained results.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

// Recent returns up to limit most recent results, oldest first. A
// non-positive limit returns everything retained.
func (h *History) Recent(limit int) []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.results) {
		limit = len(h.results)
	}
	start := len(h.results) - limit

	out := make([]Result, limit)
	copy(out, h.results[start:])
	return out
}

// Evaluate derives the aggregate classification from the last
// min(5, size) results: healthy with zero unhealthy entries, degraded
// with one or two, unhealthy with three or more. Recomputed on every
// call, never cached.
func (h *History) Evaluate() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	window := evaluationWindow
	if len(h.results) < window {
		window = len(h.results)
	}

	unhealthy := 0
	for _, r := range h.results[len(h.results)-window:] {
		if r.Status == StatusUnhealthy {
			unhealthy++
		}
	}

	switch {
	case unhealthy == 0:
		return StatusHealthy
	case unhealthy <= 2:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
