package repodata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/batch"
	"gitpulse/internal/cache"
	"gitpulse/internal/core"
	"gitpulse/internal/github"
)

// fakeFetcher answers contents requests from a fixed set of existing paths.
type fakeFetcher struct {
	mu       sync.Mutex
	existing map[string]string
	failing  map[string]error
	probed   []string
}

func (f *fakeFetcher) Execute(_ context.Context, req github.Request) (cache.Payload, error) {
	f.mu.Lock()
	f.probed = append(f.probed, req.Path)
	f.mu.Unlock()

	if err, ok := f.failing[req.Path]; ok {
		return cache.Payload{}, err
	}
	body, ok := f.existing[req.Path]
	if !ok {
		return cache.Payload{}, core.NewNotFoundError(req.Path)
	}
	return cache.NewPayload(cache.KindContent, []byte(body))
}

func (f *fakeFetcher) probedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func noPause() *batch.Scheduler {
	return batch.New(3, time.Second, batch.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func TestCheckDocumentation(t *testing.T) {
	f := &fakeFetcher{existing: map[string]string{
		"/repos/acme/widget/contents/readme.md":              `{"type":"file","html_url":"https://github.com/acme/widget/blob/main/readme.md"}`,
		"/repos/acme/widget/contents/.github/ISSUE_TEMPLATE": `[{"type":"file","html_url":"https://github.com/acme/widget/blob/main/.github/ISSUE_TEMPLATE/bug.md"}]`,
	}}

	descriptors := []DocDescriptor{
		{Name: "README", Importance: core.ImportanceCritical, Paths: []string{"README.md", "readme.md", "README"}},
		{Name: "LICENSE", Importance: core.ImportanceCritical, Paths: []string{"LICENSE", "COPYING"}},
		{Name: "Issue templates", Importance: core.ImportanceOptional, Paths: []string{".github/ISSUE_TEMPLATE"}},
	}

	results, err := CheckDocumentation(context.Background(), f, noPause(), "acme", "widget", descriptors)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Exists)
	assert.Equal(t, "readme.md", results[0].Path)
	assert.Equal(t, "https://github.com/acme/widget/blob/main/readme.md", results[0].URL)

	assert.False(t, results[1].Exists)
	assert.Empty(t, results[1].URL)

	assert.True(t, results[2].Exists)
	assert.Equal(t, "https://github.com/acme/widget/blob/main/.github/ISSUE_TEMPLATE", results[2].URL)

	// Probing stops at the first hit.
	assert.NotContains(t, f.probedPaths(), "/repos/acme/widget/contents/README")
	assert.Len(t, f.probedPaths(), 5)
}

func TestCheckDocumentation_FailureIsReported(t *testing.T) {
	f := &fakeFetcher{
		existing: map[string]string{"/repos/acme/widget/contents/LICENSE": `{"type":"file"}`},
		failing: map[string]error{
			"/repos/acme/widget/contents/README.md": core.NewRateLimitedError("/repos/acme/widget/contents/README.md", 429, "slow down"),
		},
	}

	descriptors := []DocDescriptor{
		{Name: "README", Importance: core.ImportanceCritical, Paths: []string{"README.md", "README"}},
		{Name: "LICENSE", Importance: core.ImportanceCritical, Paths: []string{"LICENSE"}},
	}

	results, err := CheckDocumentation(context.Background(), f, noPause(), "acme", "widget", descriptors)
	require.Error(t, err)
	assert.Equal(t, core.KindRateLimited, core.KindOf(err))
	var checkErr *CheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, []string{"README"}, checkErr.Failed)
	require.Len(t, results, 2)
	assert.False(t, results[0].Exists)
	assert.True(t, results[1].Exists)
	assert.Equal(t, "https://github.com/acme/widget/tree/HEAD/LICENSE", results[1].URL)
}

func TestDocDescriptors_Checklist(t *testing.T) {
	tiers := map[core.Importance]int{}
	for _, d := range DocDescriptors {
		require.NotEmpty(t, d.Paths, d.Name)
		tiers[d.Importance]++
	}
	assert.Len(t, DocDescriptors, 10)
	assert.Equal(t, 2, tiers[core.ImportanceCritical])
	assert.Equal(t, 4, tiers[core.ImportanceRecommended])
	assert.Equal(t, 4, tiers[core.ImportanceOptional])
}
