package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/batch"
	"gitpulse/internal/cache"
	"gitpulse/internal/core"
	"gitpulse/internal/dashboard"
	"gitpulse/internal/github"
)

// fakeFetcher answers requests by upstream path. Unknown paths are not found.
type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[string]cache.Payload
	errs     map[string]error
	// failAll, when set, is returned for every request.
	failAll error
	ids     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{payloads: map[string]cache.Payload{}, errs: map[string]error{}}
}

func (f *fakeFetcher) add(t *testing.T, path string, kind cache.Kind, body string) {
	t.Helper()
	p, err := cache.NewPayload(kind, []byte(body))
	require.NoError(t, err)
	f.payloads[path] = p
}

func (f *fakeFetcher) Execute(ctx context.Context, req github.Request) (cache.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, core.GetRequestID(ctx))
	if f.failAll != nil {
		return cache.Payload{}, f.failAll
	}
	if err, ok := f.errs[req.Path]; ok {
		return cache.Payload{}, err
	}
	if p, ok := f.payloads[req.Path]; ok {
		return p, nil
	}
	return cache.Payload{}, core.NewNotFoundError(req.Path)
}

const repoJSON = `{"full_name":"acme/widget","name":"widget","owner":{"login":"acme"},"stargazers_count":7,"pushed_at":"2026-02-28T12:00:00Z","created_at":"2020-01-01T00:00:00Z","updated_at":"2026-02-28T12:00:00Z"}`

func newTestServer(t *testing.T, f *fakeFetcher, cfg *Config) (*Server, *dashboard.Recorder) {
	t.Helper()
	rec := dashboard.NewRecorder(10)
	scheduler := batch.New(3, 0)
	svc := dashboard.NewService(f, scheduler, rec, dashboard.Config{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Notifications = rec
	return New(svc, cfg), rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), nil)

	rec := get(t, srv, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetRepository(t *testing.T) {
	f := newFakeFetcher()
	f.add(t, "/repos/acme/widget", cache.KindRepository, repoJSON)
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget")

	require.Equal(t, http.StatusOK, rec.Code)
	var repo core.Repository
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &repo))
	assert.Equal(t, "acme/widget", repo.FullName)
	assert.Equal(t, 7, repo.Stars)
}

func TestGetRepository_NotFoundReturnsNotification(t *testing.T) {
	srv, notifications := newTestServer(t, newFakeFetcher(), nil)

	rec := get(t, srv, "/api/v1/repos/acme/missing")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var resp FailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(core.KindNotFound), resp.Error.Type)
	assert.Contains(t, resp.Notification.Message, "check the repository name")
	assert.Equal(t, dashboard.OpFetchRepository, resp.Notification.Operation)

	recent := notifications.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, resp.Notification.ID, recent[0].ID)
}

func TestListContributors_RateLimited(t *testing.T) {
	f := newFakeFetcher()
	f.errs["/repos/acme/widget/contributors"] = core.NewRateLimitedError("/repos/acme/widget/contributors", http.StatusTooManyRequests, "API rate limit exceeded")
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/contributors")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "try again later")
}

func TestListContributors_EmptyIsArray(t *testing.T) {
	f := newFakeFetcher()
	f.add(t, "/repos/acme/widget/contributors", cache.KindContributors, `[]`)
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/contributors")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListIssues_StateValidation(t *testing.T) {
	f := newFakeFetcher()
	f.add(t, "/repos/acme/widget/issues", cache.KindIssues, `[{"number":1,"title":"bug","state":"closed","user":{"login":"x"},"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"},{"number":2,"title":"pr","state":"closed","pull_request":{},"user":{"login":"y"},"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`)
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/issues?state=closed")
	require.Equal(t, http.StatusOK, rec.Code)
	var issues []core.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, 1, issues[0].Number)

	rec = get(t, srv, "/api/v1/repos/acme/widget/issues?state=merged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidRepositoryName(t *testing.T) {
	f := newFakeFetcher()
	srv, _ := newTestServer(t, f, nil)

	for _, path := range []string{
		"/api/v1/repos/acme/wid%20get",
		"/api/v1/repos/acme/..",
		"/api/v1/repos/" + strings.Repeat("a", 101) + "/widget",
	} {
		rec := get(t, srv, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	assert.Empty(t, f.ids, "invalid names must not reach the fetcher")
}

func TestCheckDocumentation_PartialFailureKeepsReport(t *testing.T) {
	f := newFakeFetcher()
	f.add(t, "/repos/acme/widget/contents/LICENSE", cache.KindContent, `{"type":"file","html_url":"https://github.com/acme/widget/blob/main/LICENSE"}`)
	f.errs["/repos/acme/widget/contents/README.md"] = core.NewTransientError("/repos/acme/widget/contents/README.md", http.StatusBadGateway, "upstream failed", nil)
	srv, notifications := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/docs")

	require.Equal(t, http.StatusOK, rec.Code)
	var report dashboard.DocumentationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, []string{"README"}, report.Unverified)
	require.NotEmpty(t, report.Files)
	assert.Equal(t, "README", report.Files[0].Name)
	assert.False(t, report.Files[0].Exists)
	assert.True(t, report.Files[1].Exists, "other descriptors are still checked")

	recent := notifications.Recent(0)
	require.Len(t, recent, 1)
	assert.Equal(t, dashboard.OpCheckDocumentation, recent[0].Operation)
	assert.Equal(t, core.KindTransient, recent[0].Kind)
}

func TestCheckDocumentation_AllFailedReturnsNotification(t *testing.T) {
	f := newFakeFetcher()
	f.failAll = core.NewRateLimitedError("", http.StatusTooManyRequests, "API rate limit exceeded")
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/docs")

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var resp FailureResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, dashboard.OpCheckDocumentation, resp.Notification.Operation)
	assert.Equal(t, string(core.KindRateLimited), resp.Error.Type)
}

func TestCheckDocumentation_AllMissing(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/docs")

	require.Equal(t, http.StatusOK, rec.Code)
	var report dashboard.DocumentationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Score)
	assert.NotEmpty(t, report.Files)
	for _, file := range report.Files {
		assert.False(t, file.Exists, file.Name)
	}
}

func TestGetSummary(t *testing.T) {
	f := newFakeFetcher()
	f.add(t, "/repos/acme/widget", cache.KindRepository, repoJSON)
	f.add(t, "/repos/acme/widget/releases", cache.KindReleases, `[{"tag_name":"v1.0.0","created_at":"2026-01-01T00:00:00Z","author":{"login":"a"}}]`)
	srv, _ := newTestServer(t, f, nil)

	rec := get(t, srv, "/api/v1/repos/acme/widget/summary")

	require.Equal(t, http.StatusOK, rec.Code)
	var sum dashboard.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	require.NotNil(t, sum.Repository)
	require.NotNil(t, sum.Releases)
	assert.Equal(t, 1, *sum.Releases)
	assert.Equal(t, "v1.0.0", sum.LatestRelease)
	assert.Nil(t, sum.Contributors)
	assert.Equal(t, "1 day", sum.LastPush)
}

func TestListNotifications(t *testing.T) {
	srv, _ := newTestServer(t, newFakeFetcher(), nil)

	get(t, srv, "/api/v1/repos/acme/one")
	get(t, srv, "/api/v1/repos/acme/two/releases")

	rec := get(t, srv, "/api/v1/notifications?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []dashboard.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, dashboard.OpFetchReleases, list[0].Operation)
}

func TestListNotifications_NoRecorder(t *testing.T) {
	srv := New(nil, nil)

	rec := get(t, srv, "/api/v1/notifications")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
