package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/cache"
	"gitpulse/internal/core"
	"gitpulse/internal/storage"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return nil
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	cfg := storage.Config{
		Type:   storage.TypeSQLite,
		SQLite: storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cache.db")},
	}
	c := cache.New(cache.OpenStorage(cfg, ""), cache.Options{})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newTestExecutor(t *testing.T, serverURL string, c *cache.Cache, sleeper *sleepRecorder, opts ...Option) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = serverURL
	all := append([]Option{WithSleep(sleeper.sleep)}, opts...)
	return NewExecutor(c, cfg, all...)
}

func TestExecute_SuccessIsCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/repos/acme/widget", r.URL.Path)
		_, _ = w.Write([]byte(`{"full_name":"acme/widget"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, newTestCache(t), &sleepRecorder{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := exec.Execute(ctx, RepositoryRequest("acme", "widget"))
		require.NoError(t, err)
		assert.Equal(t, cache.KindRepository, p.Kind)
		assert.JSONEq(t, `{"full_name":"acme/widget"}`, string(p.Data))
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_Headers(t *testing.T) {
	var got http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	tests := []struct {
		name     string
		token    string
		wantAuth string
	}{
		{"with token", "ghp_secret", "Bearer ghp_secret"},
		{"anonymous", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BaseURL = server.URL
			cfg.Token = tt.token
			exec := NewExecutor(nil, cfg)

			ctx := core.WithRequestID(context.Background(), "req-123")
			_, err := exec.Execute(ctx, RepositoryRequest("acme", "widget"))
			require.NoError(t, err)

			assert.Equal(t, tt.wantAuth, got.Get("Authorization"))
			assert.Equal(t, "application/vnd.github+json", got.Get("Accept"))
			assert.Equal(t, DefaultAPIVersion, got.Get("X-GitHub-Api-Version"))
			assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
			assert.Equal(t, "req-123", got.Get("X-Request-ID"))
		})
	}
}

func TestExecute_NegativeCachingRoundTrip(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, newTestCache(t), &sleepRecorder{})
	req := ContentRequest("acme", "widget", "SECURITY.md")

	_, err := exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))

	_, err = exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.True(t, core.IsNotFound(err))

	assert.Equal(t, int32(1), calls.Load(), "second probe must be answered from the negative entry")
}

func TestExecute_ThrottleThenSuccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(2*time.Second).Unix(), 10))
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
		case 2:
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer server.Close()

	sleeper := &sleepRecorder{}
	exec := newTestExecutor(t, server.URL, newTestCache(t), sleeper, WithClock(func() time.Time { return now }))

	p, err := exec.Execute(context.Background(), ReleasesRequest("acme", "widget", 30))
	require.NoError(t, err)
	assert.Equal(t, cache.KindReleases, p.Kind)
	assert.Equal(t, int32(3), calls.Load())
	// Reset hint honoured, then capped at the maximum wait.
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second}, sleeper.recorded())
}

func TestExecute_ThrottleExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"You have exceeded a secondary rate limit"}`))
	}))
	defer server.Close()

	c := newTestCache(t)
	sleeper := &sleepRecorder{}
	exec := newTestExecutor(t, server.URL, c, sleeper)
	req := RepositoryRequest("acme", "widget")

	_, err := exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, core.KindRateLimited, core.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, sleeper.recorded())

	var e *core.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "You have exceeded a secondary rate limit", e.Message)

	entry, err := c.Get(context.Background(), req.Key)
	require.NoError(t, err)
	assert.Nil(t, entry, "throttled calls write nothing")
}

func TestExecute_TransientBackoff(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  core.ErrorKind
		calls    int32
		waits    []time.Duration
	}{
		{
			name:     "recovers after server errors",
			statuses: []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK},
			calls:    3,
			waits:    []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:     "exhausted",
			statuses: []int{http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError},
			wantErr:  core.KindTransient,
			calls:    3,
			waits:    []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name:     "statistics still computing",
			statuses: []int{http.StatusAccepted, http.StatusOK},
			calls:    2,
			waits:    []time.Duration{time.Second},
		},
		{
			name:     "client error is not retried",
			statuses: []int{http.StatusUnprocessableEntity},
			wantErr:  core.KindUnexpected,
			calls:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				status := tt.statuses[n-1]
				w.WriteHeader(status)
				if status == http.StatusOK {
					_, _ = w.Write([]byte(`[{"week":1,"total":0,"days":[0,0,0,0,0,0,0]}]`))
				}
			}))
			defer server.Close()

			sleeper := &sleepRecorder{}
			exec := newTestExecutor(t, server.URL, newTestCache(t), sleeper)

			_, err := exec.Execute(context.Background(), CommitActivityRequest("acme", "widget"))
			if tt.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, core.KindOf(err))
			}
			assert.Equal(t, tt.calls, calls.Load())
			assert.Equal(t, tt.waits, sleeper.recorded())
		})
	}
}

func TestExecute_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sleeper := &sleepRecorder{}
	exec := newTestExecutor(t, url, nil, sleeper)

	_, err := exec.Execute(context.Background(), RepositoryRequest("acme", "widget"))
	require.Error(t, err)
	assert.Equal(t, core.KindTransient, core.KindOf(err))
	assert.Len(t, sleeper.recorded(), 2)
}

func TestExecute_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	}))
	defer server.Close()

	c := newTestCache(t)
	exec := newTestExecutor(t, server.URL, c, &sleepRecorder{})
	req := ContributorsRequest("acme", "widget", 100)

	_, err := exec.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, core.KindUnexpected, core.KindOf(err))

	entry, err := c.Get(context.Background(), req.Key)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestExecute_NoContentIsEmptyList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	exec := newTestExecutor(t, server.URL, nil, &sleepRecorder{})
	p, err := exec.Execute(context.Background(), ContributorsRequest("acme", "empty", 100))
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(p.Data))
}

func TestExecute_StorageFaultDegradesToNetwork(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"full_name":"acme/widget"}`))
	}))
	defer server.Close()

	broken := cache.New(func(context.Context) (cache.Store, error) {
		return nil, errors.New("disk full")
	}, cache.Options{})
	exec := newTestExecutor(t, server.URL, broken, &sleepRecorder{})

	for i := 0; i < 2; i++ {
		_, err := exec.Execute(context.Background(), RepositoryRequest("acme", "widget"))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestExecute_CoalescesConcurrentRequests(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"full_name":"acme/widget"}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.CoalesceRequests = true

	var joined atomic.Int32
	exec := NewExecutor(newTestCache(t), cfg, WithHooks(HookFunc(func(_ context.Context, ev Event) {
		if ev.Type == EventCoalesced || ev.Type == EventCacheHit {
			joined.Add(1)
		}
	})))

	const n = 5
	var wg sync.WaitGroup
	var started sync.WaitGroup
	started.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			_, err := exec.Execute(context.Background(), RepositoryRequest("acme", "widget"))
			assert.NoError(t, err)
		}()
	}
	started.Wait()
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.GreaterOrEqual(t, joined.Load(), int32(n-1))
}

func TestExecute_CoalescedCallSurvivesFirstCallerCancel(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"full_name":"acme/widget"}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.CoalesceRequests = true
	exec := NewExecutor(newTestCache(t), cfg)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = exec.Execute(firstCtx, RepositoryRequest("acme", "widget"))
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, secondErr = exec.Execute(context.Background(), RepositoryRequest("acme", "widget"))
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, secondErr)
	assert.NoError(t, firstErr, "the shared call runs to completion")
	assert.Equal(t, int32(1), calls.Load())
}

func TestExecute_LogsAttemptsMade(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})))
	defer slog.SetDefault(prev)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.MaxRetries = 2
	exec := NewExecutor(nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, RepositoryRequest("acme", "widget"))
	require.Error(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "upstream request failed", entry["msg"])
	assert.EqualValues(t, 1, entry["attempts"])
	assert.EqualValues(t, 3, entry["max_attempts"])
}

func TestExecute_CancelledWhileWaiting(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	exec := NewExecutor(nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, RepositoryRequest("acme", "widget"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
