package cache

import (
	"context"
	"log/slog"
	"time"
)

// EventType names a cache lifecycle event.
type EventType string

const (
	EventHit     EventType = "hit"
	EventMiss    EventType = "miss"
	EventExpired EventType = "expired"
	EventCorrupt EventType = "corrupt"
	EventWrite   EventType = "write"
	EventDelete  EventType = "delete"
	EventClear   EventType = "clear"
)

// Event is emitted for every cache operation.
type Event struct {
	Type EventType
	Key  string
	// Kind is the payload kind, empty when unknown (miss, delete, clear).
	Kind  Kind
	Age   time.Duration
	Bytes int
	// Count is the number of rows removed by delete and clear events.
	Count int
}

// Hooks receives cache events. Implementations must be safe for concurrent
// use and must not block.
type Hooks interface {
	OnCacheEvent(ctx context.Context, ev Event)
}

// HookFunc adapts a function to Hooks.
type HookFunc func(ctx context.Context, ev Event)

// OnCacheEvent implements Hooks.
func (f HookFunc) OnCacheEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// NoopHooks ignores all events.
type NoopHooks struct{}

// OnCacheEvent implements Hooks.
func (NoopHooks) OnCacheEvent(context.Context, Event) {}

// MultiHooks fans events out to several subscribers in order.
type MultiHooks []Hooks

// OnCacheEvent implements Hooks.
func (m MultiHooks) OnCacheEvent(ctx context.Context, ev Event) {
	for _, h := range m {
		if h != nil {
			h.OnCacheEvent(ctx, ev)
		}
	}
}

// LogHooks writes every event to a slog logger at debug level.
type LogHooks struct {
	Logger *slog.Logger
}

// OnCacheEvent implements Hooks.
func (h LogHooks) OnCacheEvent(ctx context.Context, ev Event) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "cache "+string(ev.Type),
		"key", ev.Key,
		"kind", ev.Kind,
		"age", ev.Age,
		"bytes", ev.Bytes,
		"count", ev.Count,
	)
}
