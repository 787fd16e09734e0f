package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"gitpulse/internal/cache"
	"gitpulse/internal/core"
)

// maxBodySize bounds how much of an upstream response is read.
const maxBodySize = 16 << 20

// Request is one logical GitHub GET request.
type Request struct {
	// Path is the URL path below the base URL, e.g. /repos/acme/widget.
	Path  string
	Query url.Values
	// Key is the cache key the outcome is stored under.
	Key string
	// Kind tags the cached payload.
	Kind cache.Kind
}

// Option configures an Executor.
type Option func(*Executor)

// WithHTTPClient sets the HTTP client used for upstream calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = sleep }
}

// WithClock replaces the time source used to interpret rate-limit reset hints.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithHooks subscribes hooks to fetch events.
func WithHooks(h Hooks) Option {
	return func(e *Executor) {
		if h != nil {
			e.hooks = h
		}
	}
}

// Executor runs requests through the cache with retry and backoff.
type Executor struct {
	httpClient *http.Client
	cache      *cache.Cache
	config     Config
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	hooks      Hooks
	inflight   singleflight.Group
}

// NewExecutor creates an executor reading from and writing to c.
func NewExecutor(c *cache.Cache, config Config, opts ...Option) *Executor {
	e := &Executor{
		httpClient: http.DefaultClient,
		cache:      c,
		config:     config.withDefaults(),
		sleep:      sleepContext,
		now:        time.Now,
		hooks:      noopHooks{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// Execute returns the payload for req from the cache, or from GitHub on a miss.
//
// A cached negative entry or an upstream 404 fails with a not_found error; the
// 404 is cached so the next call within the TTL makes no request. Throttled
// responses are retried after the reset hint (capped), transient ones after a
// linear backoff. Exhausted retries fail with rate_limited or transient; any
// other non-success status fails with unexpected without retrying.
func (e *Executor) Execute(ctx context.Context, req Request) (cache.Payload, error) {
	if entry := e.lookup(ctx, req); entry != nil {
		if entry.Payload.IsNotFound() {
			e.hooks.OnFetchEvent(ctx, Event{Type: EventNegativeHit, Key: req.Key, Path: req.Path})
			return cache.Payload{}, core.NewNotFoundError(req.Path)
		}
		e.hooks.OnFetchEvent(ctx, Event{Type: EventCacheHit, Key: req.Key, Path: req.Path})
		return entry.Payload, nil
	}

	if !e.config.CoalesceRequests {
		return e.fetch(ctx, req)
	}

	// The shared call outlives any single caller, so it keeps the first
	// caller's values but not its cancellation.
	shareCtx := context.WithoutCancel(ctx)
	v, err, shared := e.inflight.Do(req.Key, func() (interface{}, error) {
		return e.fetch(shareCtx, req)
	})
	if shared {
		e.hooks.OnFetchEvent(ctx, Event{Type: EventCoalesced, Key: req.Key, Path: req.Path})
	}
	if err != nil {
		return cache.Payload{}, err
	}
	return v.(cache.Payload), nil
}

// lookup reads the cache. A storage fault is logged and treated as a miss.
func (e *Executor) lookup(ctx context.Context, req Request) *cache.Entry {
	if e.cache == nil {
		return nil
	}
	entry, err := e.cache.Get(ctx, req.Key)
	if err != nil {
		slog.WarnContext(ctx, "cache read failed, fetching upstream", "key", req.Key, "error", err)
		return nil
	}
	return entry
}

// store writes the cache. A storage fault is logged and the write is dropped.
func (e *Executor) store(ctx context.Context, key string, p cache.Payload) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, p); err != nil {
		slog.WarnContext(ctx, "cache write failed", "key", key, "kind", p.Kind, "error", err)
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (e *Executor) fetch(ctx context.Context, req Request) (cache.Payload, error) {
	var lastErr error
	maxAttempts := e.config.MaxRetries + 1
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retriesLeft := attempt < maxAttempts
		attempts = attempt

		start := time.Now()
		resp, err := e.do(ctx, req)
		if err != nil {
			e.hooks.OnFetchEvent(ctx, Event{Type: EventRequest, Key: req.Key, Path: req.Path, Attempt: attempt, Duration: time.Since(start)})
			lastErr = core.NewTransientError(req.Path, 0, "request failed: "+err.Error(), err)
			if !retriesLeft || ctx.Err() != nil {
				break
			}
			if err := e.backoff(ctx, req, attempt, 0); err != nil {
				return cache.Payload{}, err
			}
			continue
		}
		e.hooks.OnFetchEvent(ctx, Event{Type: EventRequest, Key: req.Key, Path: req.Path, Status: resp.status, Attempt: attempt, Duration: time.Since(start)})

		switch {
		case resp.status == http.StatusOK || resp.status == http.StatusNoContent:
			return e.accept(ctx, req, resp)

		case resp.status == http.StatusNotFound:
			e.store(ctx, req.Key, cache.NotFoundPayload(req.Path))
			return cache.Payload{}, core.NewNotFoundError(req.Path)

		case isThrottled(resp.status, resp.header):
			lastErr = core.NewRateLimitedError(req.Path, resp.status, upstreamMessage(resp, "rate limit exceeded"))
			if !retriesLeft {
				break
			}
			wait := throttleWait(resp.header, e.now(), e.config.MaxThrottleWait)
			e.hooks.OnFetchEvent(ctx, Event{Type: EventThrottled, Key: req.Key, Path: req.Path, Status: resp.status, Attempt: attempt, Wait: wait})
			slog.InfoContext(ctx, "upstream throttled, waiting", "path", req.Path, "status", resp.status, "wait", wait, "attempt", attempt)
			if err := e.wait(ctx, req, wait); err != nil {
				return cache.Payload{}, err
			}

		case isTransient(resp.status):
			lastErr = core.NewTransientError(req.Path, resp.status, upstreamMessage(resp, http.StatusText(resp.status)), nil)
			if !retriesLeft {
				break
			}
			if err := e.backoff(ctx, req, attempt, resp.status); err != nil {
				return cache.Payload{}, err
			}

		default:
			return cache.Payload{}, core.NewUnexpectedError(req.Path, resp.status, upstreamMessage(resp, http.StatusText(resp.status)), nil)
		}
	}

	if lastErr == nil {
		lastErr = core.NewTransientError(req.Path, 0, "request failed after retries", nil)
	}
	slog.WarnContext(ctx, "upstream request failed", "path", req.Path, "attempts", attempts, "max_attempts", maxAttempts, "error", lastErr)
	return cache.Payload{}, lastErr
}

// accept validates a successful body and caches it.
func (e *Executor) accept(ctx context.Context, req Request, resp *response) (cache.Payload, error) {
	body := resp.body
	if len(strings.TrimSpace(string(body))) == 0 {
		// GitHub answers 204 for list endpoints of empty repositories.
		body = []byte("[]")
	}
	payload, err := cache.NewPayload(req.Kind, body)
	if err != nil {
		return cache.Payload{}, core.NewUnexpectedError(req.Path, resp.status, "malformed response body", err)
	}
	e.store(ctx, req.Key, payload)
	return payload, nil
}

func (e *Executor) backoff(ctx context.Context, req Request, attempt, status int) error {
	wait := time.Duration(attempt) * e.config.BackoffStep
	e.hooks.OnFetchEvent(ctx, Event{Type: EventRetry, Key: req.Key, Path: req.Path, Status: status, Attempt: attempt, Wait: wait})
	slog.DebugContext(ctx, "retrying upstream request", "path", req.Path, "status", status, "wait", wait, "attempt", attempt)
	return e.wait(ctx, req, wait)
}

func (e *Executor) wait(ctx context.Context, req Request, d time.Duration) error {
	if err := e.sleep(ctx, d); err != nil {
		return core.NewTransientError(req.Path, 0, "request cancelled", err)
	}
	return nil
}

// do executes a single HTTP request without retries
func (e *Executor) do(ctx context.Context, req Request) (*response, error) {
	httpReq, err := e.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (e *Executor) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := strings.TrimRight(e.config.BaseURL, "/") + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("X-GitHub-Api-Version", e.config.APIVersion)
	httpReq.Header.Set("User-Agent", e.config.UserAgent)
	if e.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.config.Token)
	}
	if id := core.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}
	return httpReq, nil
}

// upstreamMessage extracts GitHub's error message, falling back to def.
func upstreamMessage(resp *response, def string) string {
	if msg := gjson.GetBytes(resp.body, "message"); msg.Type == gjson.String && msg.Str != "" {
		return msg.Str
	}
	return def
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
