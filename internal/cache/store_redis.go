package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces every key written by the Redis store.
	DefaultRedisPrefix = "gitpulse:cache:"

	redisSchemaVersion = 1
	redisScanCount     = 200
)

// deleteIfUnchangedScript deletes KEYS[1] only when its timestamp field equals ARGV[1].
var deleteIfUnchangedScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "timestamp") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store using one hash per entry (fields data and timestamp).
// HSET of both fields is a single command, so readers never observe a mixed row.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis cache store. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) entryKey(key string) string {
	return s.prefix + "entry:" + key
}

func (s *RedisStore) schemaKey() string {
	return s.prefix + "schema_version"
}

// Init records the schema version. Redis needs no structural migration for version 1.
func (s *RedisStore) Init(ctx context.Context) error {
	set, err := s.client.SetNX(ctx, s.schemaKey(), redisSchemaVersion, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	if set {
		slog.Info("cache schema migrated", "backend", "redis", "version", redisSchemaVersion)
	}
	return nil
}

// Get returns the row for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*Row, error) {
	fields, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cache hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp on cache hash %s: %w", key, err)
	}
	return &Row{Key: key, Data: []byte(fields["data"]), Timestamp: ts}, nil
}

// Set writes both fields of the hash in one command.
func (s *RedisStore) Set(ctx context.Context, row Row) error {
	err := s.client.HSet(ctx, s.entryKey(row.Key),
		"data", string(row.Data),
		"timestamp", strconv.FormatInt(row.Timestamp, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to write cache hash: %w", err)
	}
	return nil
}

// Delete removes the hash for key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.entryKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache hash: %w", err)
	}
	return nil
}

// DeleteIfUnchanged removes the hash for key if it still carries timestamp.
func (s *RedisStore) DeleteIfUnchanged(ctx context.Context, key string, timestamp int64) error {
	err := deleteIfUnchangedScript.Run(ctx, s.client,
		[]string{s.entryKey(key)}, strconv.FormatInt(timestamp, 10)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete cache hash: %w", err)
	}
	return nil
}

// DeletePrefix removes every hash whose key starts with prefix.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	return s.deleteMatching(ctx, s.entryKey(globEscape(prefix))+"*")
}

// Clear removes every entry hash.
func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	return s.deleteMatching(ctx, s.entryKey("")+"*")
}

func (s *RedisStore) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := s.client.Scan(ctx, 0, pattern, redisScanCount).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete cache hash: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return removed, nil
}

// List describes every entry hash.
func (s *RedisStore) List(ctx context.Context) ([]RowInfo, error) {
	entryPrefix := s.entryKey("")

	var keys []string
	iter := s.client.Scan(ctx, 0, entryPrefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	sizes := make([]*redis.IntCmd, len(keys))
	stamps := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		sizes[i] = pipe.HStrLen(ctx, k, "data")
		stamps[i] = pipe.HGet(ctx, k, "timestamp")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read cache hashes: %w", err)
	}

	out := make([]RowInfo, 0, len(keys))
	for i, k := range keys {
		ts, err := stamps[i].Int64()
		if err != nil {
			// Deleted between SCAN and HGET.
			continue
		}
		out = append(out, RowInfo{
			Key:       strings.TrimPrefix(k, entryPrefix),
			Bytes:     sizes[i].Val(),
			Timestamp: ts,
		})
	}
	return out, nil
}

// Close is a no-op; the client is owned by the storage layer.
func (s *RedisStore) Close() error {
	return nil
}

// globEscape escapes the characters SCAN MATCH treats specially.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
