package repodata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitpulse/internal/cache"
	"gitpulse/internal/core"
)

func loadFixture(t *testing.T, kind cache.Kind, name string) cache.Payload {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	p, err := cache.NewPayload(kind, data)
	require.NoError(t, err)
	return p
}

func TestMapRepository(t *testing.T) {
	repo, err := MapRepository(loadFixture(t, cache.KindRepository, "repository.json"))
	require.NoError(t, err)

	assert.Equal(t, "acme/widget", repo.FullName)
	assert.Equal(t, "acme", repo.Owner)
	assert.Equal(t, "Apache-2.0", repo.License)
	assert.Equal(t, "", repo.Homepage)
	assert.Equal(t, 1200, repo.Stars)
	assert.Equal(t, 42, repo.Watchers)
	assert.Equal(t, []string{"widgets", "go"}, repo.Topics)
	assert.Equal(t, time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC), repo.PushedAt)
}

func TestMapRepository_WrongKind(t *testing.T) {
	_, err := MapRepository(loadFixture(t, cache.KindContributors, "contributors.json"))
	assert.Error(t, err)
}

func TestMapContributors(t *testing.T) {
	got, err := MapContributors(loadFixture(t, cache.KindContributors, "contributors.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.Contributor{
		Login:         "octocat",
		AvatarURL:     "https://avatars.githubusercontent.com/u/583231?v=4",
		HTMLURL:       "https://github.com/octocat",
		Contributions: 320,
	}, got[0])
}

func TestMapIssues_SkipsPullRequests(t *testing.T) {
	got, err := MapIssues(loadFixture(t, cache.KindIssues, "issues.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 101, got[0].Number)
	assert.Equal(t, []string{"bug", "good first issue"}, got[0].Labels)
	assert.Nil(t, got[0].ClosedAt)

	assert.Equal(t, 99, got[1].Number)
	assert.Equal(t, "", got[1].Author)
	require.NotNil(t, got[1].ClosedAt)
}

func TestMapPullRequests(t *testing.T) {
	got, err := MapPullRequests(loadFixture(t, cache.KindPulls, "pulls.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].Draft)
	assert.Nil(t, got[0].MergedAt)
	require.NotNil(t, got[1].MergedAt)
}

func TestMapCommitActivity(t *testing.T) {
	got, err := MapCommitActivity(loadFixture(t, cache.KindCommitActivity, "commit_activity.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.CommitActivityWeek{Week: 1736640000, Total: 89, Days: [7]int{0, 3, 26, 20, 39, 1, 0}}, got[0])
}

func TestMapCodeFrequency(t *testing.T) {
	got, err := MapCodeFrequency(loadFixture(t, cache.KindCodeFrequency, "code_frequency.json"))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, core.CodeFrequencyWeek{Week: 1690000000, Additions: 5000, Deletions: 1200}, got[0])
	assert.Equal(t, core.CodeFrequencyWeek{Week: 1690604800}, got[1])
	assert.Equal(t, 45, got[2].Deletions)
}

func TestMapCodeFrequency_BadTuple(t *testing.T) {
	p, err := cache.NewPayload(cache.KindCodeFrequency, []byte(`[[1690000000, 5]]`))
	require.NoError(t, err)
	_, err = MapCodeFrequency(p)
	assert.Error(t, err)
}

func TestMapReleases(t *testing.T) {
	got, err := MapReleases(loadFixture(t, cache.KindReleases, "releases.json"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Widget 1.2", got[0].Name)
	assert.Equal(t, "v1.3.0-rc1", got[1].Name, "unnamed release falls back to its tag")
	assert.True(t, got[1].Prerelease)
	assert.Nil(t, got[1].PublishedAt)
}

func TestMappers_EmptyLists(t *testing.T) {
	empty := func(kind cache.Kind) cache.Payload {
		p, err := cache.NewPayload(kind, []byte(`[]`))
		require.NoError(t, err)
		return p
	}

	contributors, err := MapContributors(empty(cache.KindContributors))
	require.NoError(t, err)
	assert.NotNil(t, contributors)
	assert.Empty(t, contributors)

	issues, err := MapIssues(empty(cache.KindIssues))
	require.NoError(t, err)
	assert.Empty(t, issues)
}
