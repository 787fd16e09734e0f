package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"
)

// sqliteMigrations[i] upgrades the schema from version i to version i+1.
// The current version is tracked in PRAGMA user_version.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	)`,
}

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite cache store.
// The schema is created by Init, not here.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteStore{db: db}, nil
}

// Init applies pending schema migrations.
func (s *SQLiteStore) Init(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := version; v < len(sqliteMigrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, sqliteMigrations[v]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", v+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", v+1, err)
		}
		slog.Info("cache schema migrated", "backend", "sqlite", "version", v+1)
	}
	return nil
}

// Get returns the row for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*Row, error) {
	var row Row
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT key, data, timestamp FROM cache_entries WHERE key = ?", key,
	).Scan(&row.Key, &data, &row.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache row: %w", err)
	}
	row.Data = []byte(data)
	return &row, nil
}

// Set upserts a row in a single statement.
func (s *SQLiteStore) Set(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, data, timestamp) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, timestamp = excluded.timestamp`,
		row.Key, string(row.Data), row.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache row: %w", err)
	}
	return nil
}

// Delete removes the row for key.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// DeleteIfUnchanged removes the row for key if it still carries timestamp.
func (s *SQLiteStore) DeleteIfUnchanged(ctx context.Context, key string, timestamp int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ? AND timestamp = ?", key, timestamp)
	if err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// DeletePrefix removes every row whose key starts with prefix.
func (s *SQLiteStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE substr(key, 1, ?) = ?",
		utf8.RuneCountInString(prefix), prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache rows: %w", err)
	}
	return affected(result), nil
}

// Clear removes every row.
func (s *SQLiteStore) Clear(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries")
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache rows: %w", err)
	}
	return affected(result), nil
}

// List describes every row.
func (s *SQLiteStore) List(ctx context.Context) ([]RowInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key, length(CAST(data AS BLOB)), timestamp FROM cache_entries")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache rows: %w", err)
	}
	defer rows.Close()

	var out []RowInfo
	for rows.Next() {
		var info RowInfo
		if err := rows.Scan(&info.Key, &info.Bytes, &info.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan cache row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Close is a no-op; the connection is owned by the storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}

func affected(result sql.Result) int {
	n, err := result.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
