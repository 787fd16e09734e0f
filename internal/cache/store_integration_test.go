//go:build integration

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gitpulse/internal/storage"
)

// Run with: go test -tags=integration ./internal/cache/...

func TestStoreConformance_SQLite(t *testing.T) {
	runStoreConformance(t, openSQLiteStore(t))
}

func TestStoreConformance_PostgreSQL(t *testing.T) {
	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gitpulse_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	runBackendConformance(t, storage.Config{
		Type:       storage.TypePostgreSQL,
		PostgreSQL: storage.PostgreSQLConfig{URL: url, MaxConns: 4},
	})
}

func TestStoreConformance_MongoDB(t *testing.T) {
	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	runBackendConformance(t, storage.Config{
		Type:    storage.TypeMongoDB,
		MongoDB: storage.MongoDBConfig{URL: url, Database: "gitpulse_test"},
	})
}

func TestStoreConformance_Redis(t *testing.T) {
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	runBackendConformance(t, storage.Config{
		Type:  storage.TypeRedis,
		Redis: storage.RedisConfig{URL: fmt.Sprintf("redis://%s/0", endpoint)},
	})
}

func runBackendConformance(t *testing.T, cfg storage.Config) {
	t.Helper()
	store, err := OpenStorage(cfg, "gitpulse:test:")(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	runStoreConformance(t, store)
}

func runStoreConformance(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Init(ctx), "Init must be idempotent")
	_, err := store.Clear(ctx)
	require.NoError(t, err)

	row, err := store.Get(ctx, "repository:a/b")
	require.NoError(t, err)
	assert.Nil(t, row)

	require.NoError(t, store.Set(ctx, Row{Key: "repository:a/b", Data: []byte(`{"kind":"repository","data":{}}`), Timestamp: 100}))
	require.NoError(t, store.Set(ctx, Row{Key: "repository:a/b", Data: []byte(`{"kind":"repository","data":{"x":1}}`), Timestamp: 200}))

	row, err = store.Get(ctx, "repository:a/b")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, int64(200), row.Timestamp)
	assert.JSONEq(t, `{"kind":"repository","data":{"x":1}}`, string(row.Data))

	require.NoError(t, store.DeleteIfUnchanged(ctx, "repository:a/b", 100))
	row, err = store.Get(ctx, "repository:a/b")
	require.NoError(t, err)
	require.NotNil(t, row, "conditional delete with an old timestamp must keep the row")

	require.NoError(t, store.DeleteIfUnchanged(ctx, "repository:a/b", 200))
	row, err = store.Get(ctx, "repository:a/b")
	require.NoError(t, err)
	assert.Nil(t, row)

	for _, key := range []string{
		"content:a/b:README.md",
		"content:a/b:docs/*.md",
		"content:a/bc:README.md",
		"releases:a/b",
	} {
		require.NoError(t, store.Set(ctx, Row{Key: key, Data: []byte(`{"kind":"content","data":{}}`), Timestamp: 1}))
	}

	n, err := store.DeletePrefix(ctx, "content:a/b:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	infos, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	for _, info := range infos {
		assert.Positive(t, info.Bytes)
	}

	require.NoError(t, store.Delete(ctx, "releases:a/b"))
	require.NoError(t, store.Delete(ctx, "releases:a/b"), "deleting an absent key is not an error")

	n, err = store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
