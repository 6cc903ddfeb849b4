package events

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Bus delivers orchestrator lifecycle signals to registered listeners.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) error

	// Replay returns retained events for post-incident review.
	Replay(from, to time.Time) ([]Event, error)
}

// Event is one lifecycle signal.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Region    string                 `json:"region,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// EventType categorizes lifecycle signals.
type EventType string

const (
	Initialized          EventType = "initialized"
	HealthCheckCompleted EventType = "health_check_completed"
	FailoverStarted      EventType = "failover_started"
	FailoverCompleted    EventType = "failover_completed"
	FailoverFailed       EventType = "failover_failed"
	RecoveryCompleted    EventType = "recovery_completed"
	RecoveryFailed       EventType = "recovery_failed"
)

// Handler processes events.
type Handler func(ctx context.Context, event Event) error

// SimpleBus is an in-memory Bus implementation.
type SimpleBus struct {
	mu        sync.RWMutex
	handlers  map[string][]Handler
	events    []Event
	maxEvents int
}

// NewSimpleBus creates an in-memory event bus.
func NewSimpleBus() *SimpleBus {
	return &SimpleBus{
		handlers:  make(map[string][]Handler),
		events:    make([]Event, 0, 1000),
		maxEvents: 1000, // retained for Replay
	}
}

// Publish sends an event to all matching subscribers.
func (b *SimpleBus) Publish(ctx context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		b.events = b.events[1:]
	}

	for pattern, handlers := range b.handlers {
		if matchesPattern(string(event.Type), pattern) {
			for _, handler := range handlers {
				go handler(ctx, event) //nolint:errcheck // listener errors are the listener's problem
			}
		}
	}

	return nil
}

// Subscribe registers a handler for an event-type pattern. Patterns are
// an exact type, "*", or a prefix wildcard like "failover_*".
func (b *SimpleBus) Subscribe(pattern string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[pattern] = append(b.handlers[pattern], handler)
	return nil
}

// Replay returns retained events in the given window.
func (b *SimpleBus) Replay(from, to time.Time) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, event := range b.events {
		if event.Timestamp.After(from) && event.Timestamp.Before(to) {
			result = append(result, event)
		}
	}

	return result, nil
}

func matchesPattern(eventType, pattern string) bool {
	if eventType == pattern || pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
