// Package cache provides the persistent key-value cache that sits between the
// GitHub fetch executor and the configured storage backend.
//
// Entries carry a write timestamp and are expired lazily: a read that finds an
// entry older than the TTL reports a miss and purges the row. "Not found"
// outcomes are stored as ordinary entries carrying a negative marker payload,
// so they expire on exactly the same schedule as positive results.
package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long an entry is served before it is considered stale.
const DefaultTTL = 15 * time.Minute

// Row is the physical representation of an entry in a backend.
type Row struct {
	Key  string
	Data []byte
	// Timestamp is the write time in milliseconds since the Unix epoch.
	Timestamp int64
}

// RowInfo describes a stored row without its payload.
type RowInfo struct {
	Key       string
	Bytes     int64
	Timestamp int64
}

// Store is a backend holding cache rows.
// Implementations must be safe for concurrent use and must write each row
// atomically: a concurrent reader sees either the previous row or the new one.
type Store interface {
	// Init creates or migrates the backing schema. It must be idempotent.
	Init(ctx context.Context) error

	// Get returns the row for key, or nil, nil if there is none.
	Get(ctx context.Context, key string) (*Row, error)

	// Set inserts or overwrites the row for row.Key.
	Set(ctx context.Context, row Row) error

	// Delete removes the row for key. Absence is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteIfUnchanged removes the row for key only if its timestamp still equals timestamp.
	DeleteIfUnchanged(ctx context.Context, key string, timestamp int64) error

	// DeletePrefix removes every row whose key starts with prefix and returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Clear removes every row and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// List describes every stored row.
	List(ctx context.Context) ([]RowInfo, error)

	// Close releases resources held by the store.
	Close() error
}

// Entry is a decoded, non-expired cache entry.
type Entry struct {
	Key       string
	Payload   Payload
	WrittenAt time.Time
}

// Stats is a diagnostic snapshot of the cache contents.
type Stats struct {
	Count          int          `json:"count"`
	TotalBytes     int64        `json:"total_bytes"`
	TotalSizeHuman string       `json:"total_size_human"`
	Entries        []EntryStats `json:"entries"`
}

// EntryStats describes one stored entry.
type EntryStats struct {
	Key       string    `json:"key"`
	Bytes     int64     `json:"bytes"`
	WrittenAt time.Time `json:"written_at"`
	Stale     bool      `json:"stale"`
}

// IsStale reports whether an entry written at timestamp (milliseconds since
// the epoch) is older than ttl at now.
func IsStale(timestamp int64, ttl time.Duration, now time.Time) bool {
	return now.UnixMilli()-timestamp > ttl.Milliseconds()
}
