package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"gitpulse/internal/core"
)

// Opener opens and returns the backing store. It is called on first use and
// again after a failed attempt.
type Opener func(ctx context.Context) (Store, error)

// Options configures a Cache.
type Options struct {
	// TTL is the entry lifetime (default: 15 minutes).
	TTL time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time

	// Hooks receives cache events (default: none).
	Hooks Hooks
}

// Cache is the persistent key-value cache.
// The backing store is opened lazily; Init may be called any number of times
// from any number of goroutines.
type Cache struct {
	open  Opener
	ttl   time.Duration
	now   func() time.Time
	hooks Hooks

	store  atomic.Pointer[storeHolder]
	initMu sync.Mutex
	closed atomic.Bool
}

type storeHolder struct {
	Store
}

var errClosed = errors.New("cache is closed")

// New creates a Cache backed by the store returned from open.
func New(open Opener, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Hooks == nil {
		opts.Hooks = NoopHooks{}
	}
	return &Cache{
		open:  open,
		ttl:   opts.TTL,
		now:   opts.Now,
		hooks: opts.Hooks,
	}
}

// NewWithStore creates a Cache around an already constructed store.
// The store is still initialized lazily.
func NewWithStore(store Store, opts Options) *Cache {
	return New(func(context.Context) (Store, error) { return store, nil }, opts)
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Init opens and migrates the backing store if that has not happened yet.
// A failed attempt is not remembered, so the next call retries.
func (c *Cache) Init(ctx context.Context) error {
	_, err := c.backend(ctx)
	return err
}

func (c *Cache) backend(ctx context.Context) (Store, error) {
	if c.closed.Load() {
		return nil, core.NewStorageFaultError("cache unavailable", errClosed)
	}
	if h := c.store.Load(); h != nil {
		return h.Store, nil
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	if h := c.store.Load(); h != nil {
		return h.Store, nil
	}

	s, err := c.open(ctx)
	if err != nil {
		return nil, core.NewStorageFaultError("failed to open cache store", err)
	}
	if err := s.Init(ctx); err != nil {
		_ = s.Close()
		return nil, core.NewStorageFaultError("failed to initialize cache store", err)
	}
	c.store.Store(&storeHolder{Store: s})
	slog.Debug("cache store initialized", "ttl", c.ttl)
	return s, nil
}

// Get returns the live entry for key, or nil, nil when there is none.
// An expired or unreadable row is purged and reported as absent.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, error) {
	s, err := c.backend(ctx)
	if err != nil {
		return nil, err
	}

	row, err := s.Get(ctx, key)
	if err != nil {
		return nil, core.NewStorageFaultError("failed to read cache entry", err)
	}
	if row == nil {
		c.hooks.OnCacheEvent(ctx, Event{Type: EventMiss, Key: key})
		return nil, nil
	}

	now := c.now()
	age := now.Sub(time.UnixMilli(row.Timestamp))

	if IsStale(row.Timestamp, c.ttl, now) {
		c.hooks.OnCacheEvent(ctx, Event{Type: EventExpired, Key: key, Age: age, Bytes: len(row.Data)})
		c.purge(ctx, s, row)
		return nil, nil
	}

	payload, err := decodePayload(row.Data)
	if err != nil {
		slog.Warn("discarding unreadable cache entry", "key", key, "error", err)
		c.hooks.OnCacheEvent(ctx, Event{Type: EventCorrupt, Key: key, Age: age, Bytes: len(row.Data)})
		c.purge(ctx, s, row)
		return nil, nil
	}

	c.hooks.OnCacheEvent(ctx, Event{Type: EventHit, Key: key, Kind: payload.Kind, Age: age, Bytes: len(row.Data)})
	return &Entry{
		Key:       key,
		Payload:   payload,
		WrittenAt: time.UnixMilli(row.Timestamp),
	}, nil
}

// purge removes a row found stale or corrupt, unless a newer write has replaced it meanwhile.
func (c *Cache) purge(ctx context.Context, s Store, row *Row) {
	if err := s.DeleteIfUnchanged(ctx, row.Key, row.Timestamp); err != nil {
		slog.Warn("failed to purge cache entry", "key", row.Key, "error", err)
	}
}

// Set writes payload under key, replacing any existing entry and resetting its timestamp.
func (c *Cache) Set(ctx context.Context, key string, payload Payload) error {
	data, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("refusing to cache %s: %w", key, err)
	}

	s, err := c.backend(ctx)
	if err != nil {
		return err
	}

	if err := s.Set(ctx, Row{Key: key, Data: data, Timestamp: c.now().UnixMilli()}); err != nil {
		return core.NewStorageFaultError("failed to write cache entry", err)
	}

	c.hooks.OnCacheEvent(ctx, Event{Type: EventWrite, Key: key, Kind: payload.Kind, Bytes: len(data)})
	return nil
}

// SetNotFound records that the resource behind key does not exist upstream.
func (c *Cache) SetNotFound(ctx context.Context, key, path string) error {
	return c.Set(ctx, key, NotFoundPayload(path))
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	s, err := c.backend(ctx)
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, key); err != nil {
		return core.NewStorageFaultError("failed to delete cache entry", err)
	}
	c.hooks.OnCacheEvent(ctx, Event{Type: EventDelete, Key: key, Count: 1})
	return nil
}

// DeleteNamespace removes every entry whose key starts with prefix.
func (c *Cache) DeleteNamespace(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("namespace prefix is required")
	}
	s, err := c.backend(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.DeletePrefix(ctx, prefix)
	if err != nil {
		return 0, core.NewStorageFaultError("failed to delete cache namespace", err)
	}
	c.hooks.OnCacheEvent(ctx, Event{Type: EventDelete, Key: prefix, Count: n})
	return n, nil
}

// ClearAll removes every entry unconditionally and returns how many were removed.
func (c *Cache) ClearAll(ctx context.Context) (int, error) {
	s, err := c.backend(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.Clear(ctx)
	if err != nil {
		return 0, core.NewStorageFaultError("failed to clear cache", err)
	}
	c.hooks.OnCacheEvent(ctx, Event{Type: EventClear, Count: n})
	slog.Info("cache cleared", "removed", n)
	return n, nil
}

// Stats reports the stored entries. It does not purge stale rows.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	s, err := c.backend(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.List(ctx)
	if err != nil {
		return nil, core.NewStorageFaultError("failed to list cache entries", err)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })

	now := c.now()
	stats := &Stats{Entries: make([]EntryStats, 0, len(rows))}
	for _, r := range rows {
		stats.Count++
		stats.TotalBytes += r.Bytes
		stats.Entries = append(stats.Entries, EntryStats{
			Key:       r.Key,
			Bytes:     r.Bytes,
			WrittenAt: time.UnixMilli(r.Timestamp).UTC(),
			Stale:     IsStale(r.Timestamp, c.ttl, now),
		})
	}
	stats.TotalSizeHuman = humanize.Bytes(uint64(stats.TotalBytes))
	return stats, nil
}

// Close releases the backing store. Subsequent operations fail with a storage fault.
// Safe to call multiple times.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if h := c.store.Swap(nil); h != nil {
		return h.Close()
	}
	return nil
}
