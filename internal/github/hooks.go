package github

import (
	"context"
	"time"
)

// EventType names a fetch lifecycle event.
type EventType string

const (
	EventCacheHit    EventType = "cache_hit"
	EventNegativeHit EventType = "negative_hit"
	EventRequest     EventType = "request"
	EventThrottled   EventType = "throttled"
	EventRetry       EventType = "retry"
	EventCoalesced   EventType = "coalesced"
)

// Event describes one step of an execution.
type Event struct {
	Type EventType
	Key  string
	Path string
	// Status is the upstream HTTP status; zero for cache events and network errors.
	Status   int
	Attempt  int
	Duration time.Duration
	// Wait is the delay before the next attempt (throttled and retry events).
	Wait time.Duration
}

// Hooks receives fetch events. Implementations must be safe for concurrent use.
type Hooks interface {
	OnFetchEvent(ctx context.Context, ev Event)
}

// HookFunc adapts a function to Hooks.
type HookFunc func(ctx context.Context, ev Event)

// OnFetchEvent implements Hooks.
func (f HookFunc) OnFetchEvent(ctx context.Context, ev Event) { f(ctx, ev) }

type noopHooks struct{}

func (noopHooks) OnFetchEvent(context.Context, Event) {}
