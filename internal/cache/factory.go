package cache

import (
	"context"
	"errors"
	"fmt"

	"gitpulse/internal/storage"
)

// NewStore creates the cache store matching the backend of conn.
// The returned store does not own conn.
func NewStore(conn storage.Storage, redisPrefix string) (Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("storage connection is required")
	}
	switch conn.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(conn.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := conn.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(pool)
	case storage.TypeMongoDB:
		db := conn.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)
	case storage.TypeRedis:
		client := conn.RedisClient()
		if client == nil {
			return nil, fmt.Errorf("redis client is nil")
		}
		return NewRedisStore(client, redisPrefix)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", conn.Type())
	}
}

// ownedStore closes the underlying connection together with the store.
type ownedStore struct {
	Store
	conn storage.Storage
}

func (s *ownedStore) Close() error {
	var errs []error
	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := s.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// OpenStorage returns an Opener that connects to the backend described by cfg
// on first use. The connection is released when the cache is closed.
func OpenStorage(cfg storage.Config, redisPrefix string) Opener {
	return func(ctx context.Context) (Store, error) {
		conn, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
		store, err := NewStore(conn, redisPrefix)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		return &ownedStore{Store: store, conn: conn}, nil
	}
}
