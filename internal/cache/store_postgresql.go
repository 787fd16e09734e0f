package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresMigrations[i] upgrades the schema from version i to version i+1.
var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		timestamp BIGINT NOT NULL
	)`,
}

// postgresMigrationLock is the advisory lock key serializing migrations across processes.
const postgresMigrationLock = 0x67697470756c7365 // "gitpulse"

// PostgreSQLStore implements Store for PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates a new PostgreSQL cache store.
func NewPostgreSQLStore(pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLStore{pool: pool}, nil
}

// Init applies pending schema migrations under an advisory lock.
func (s *PostgreSQLStore) Init(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(postgresMigrationLock)); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS gitpulse_schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}

	var version int
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM gitpulse_schema_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := version; v < len(postgresMigrations); v++ {
		if _, err := tx.Exec(ctx, postgresMigrations[v]); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", v+1, err)
		}
		if _, err := tx.Exec(ctx, "INSERT INTO gitpulse_schema_version (version) VALUES ($1)", v+1); err != nil {
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		slog.Info("cache schema migrated", "backend", "postgresql", "version", v+1)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	return nil
}

// Get returns the row for key.
func (s *PostgreSQLStore) Get(ctx context.Context, key string) (*Row, error) {
	var row Row
	var data string
	err := s.pool.QueryRow(ctx,
		"SELECT key, data, timestamp FROM cache_entries WHERE key = $1", key,
	).Scan(&row.Key, &data, &row.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache row: %w", err)
	}
	row.Data = []byte(data)
	return &row, nil
}

// Set upserts a row.
func (s *PostgreSQLStore) Set(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cache_entries (key, data, timestamp) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, timestamp = EXCLUDED.timestamp`,
		row.Key, string(row.Data), row.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache row: %w", err)
	}
	return nil
}

// Delete removes the row for key.
func (s *PostgreSQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM cache_entries WHERE key = $1", key); err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// DeleteIfUnchanged removes the row for key if it still carries timestamp.
func (s *PostgreSQLStore) DeleteIfUnchanged(ctx context.Context, key string, timestamp int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM cache_entries WHERE key = $1 AND timestamp = $2", key, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// DeletePrefix removes every row whose key starts with prefix.
func (s *PostgreSQLStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM cache_entries WHERE left(key, $1) = $2",
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Clear removes every row.
func (s *PostgreSQLStore) Clear(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// List describes every row.
func (s *PostgreSQLStore) List(ctx context.Context) ([]RowInfo, error) {
	rows, err := s.pool.Query(ctx, "SELECT key, octet_length(data), timestamp FROM cache_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache rows: %w", err)
	}
	defer rows.Close()

	var out []RowInfo
	for rows.Next() {
		var info RowInfo
		var size int32
		if err := rows.Scan(&info.Key, &size, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		info.Bytes = int64(size)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close is a no-op; the pool is owned by the storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
