// Package repodata maps raw GitHub payloads to the domain entities served to
// the dashboard, and implements the documentation checklist.
package repodata

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"

	"gitpulse/internal/cache"
	"gitpulse/internal/core"
)

func expectKind(p cache.Payload, kind cache.Kind) error {
	if p.Kind != kind {
		return fmt.Errorf("payload kind %q, want %q", p.Kind, kind)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func login(u *rawUser) string {
	if u == nil {
		return ""
	}
	return u.Login
}

// MapRepository converts a repository payload.
func MapRepository(p cache.Payload) (*core.Repository, error) {
	if err := expectKind(p, cache.KindRepository); err != nil {
		return nil, err
	}
	var raw rawRepository
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode repository: %w", err)
	}

	repo := &core.Repository{
		FullName:      raw.FullName,
		Name:          raw.Name,
		Owner:         raw.Owner.Login,
		Description:   deref(raw.Description),
		HTMLURL:       raw.HTMLURL,
		Homepage:      deref(raw.Homepage),
		Language:      deref(raw.Language),
		DefaultBranch: raw.DefaultBranch,
		Topics:        raw.Topics,
		Stars:         raw.StargazersCount,
		Forks:         raw.ForksCount,
		Watchers:      raw.WatchersCount,
		OpenIssues:    raw.OpenIssuesCount,
		Size:          raw.Size,
		Archived:      raw.Archived,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
		PushedAt:      raw.PushedAt,
	}
	// watchers_count mirrors stargazers_count; subscribers_count is the real watcher number.
	if raw.SubscribersCount != nil {
		repo.Watchers = *raw.SubscribersCount
	}
	if raw.License != nil {
		repo.License = raw.License.SPDXID
		if repo.License == "" || repo.License == "NOASSERTION" {
			repo.License = raw.License.Name
		}
	}
	if repo.Topics == nil {
		repo.Topics = []string{}
	}
	return repo, nil
}

// MapContributors converts a contributors payload.
func MapContributors(p cache.Payload) ([]core.Contributor, error) {
	if err := expectKind(p, cache.KindContributors); err != nil {
		return nil, err
	}
	var raw []rawContributor
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode contributors: %w", err)
	}
	out := make([]core.Contributor, 0, len(raw))
	for _, c := range raw {
		out = append(out, core.Contributor{
			Login:         c.Login,
			AvatarURL:     c.AvatarURL,
			HTMLURL:       c.HTMLURL,
			Contributions: c.Contributions,
		})
	}
	return out, nil
}

// MapIssues converts an issues payload, dropping pull requests, which GitHub
// lists alongside issues.
func MapIssues(p cache.Payload) ([]core.Issue, error) {
	if err := expectKind(p, cache.KindIssues); err != nil {
		return nil, err
	}
	var raw []rawIssue
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode issues: %w", err)
	}
	out := make([]core.Issue, 0, len(raw))
	for _, i := range raw {
		if len(i.PullRequest) > 0 && string(i.PullRequest) != "null" {
			continue
		}
		labels := make([]string, 0, len(i.Labels))
		for _, l := range i.Labels {
			labels = append(labels, l.Name)
		}
		out = append(out, core.Issue{
			Number:    i.Number,
			Title:     i.Title,
			State:     i.State,
			HTMLURL:   i.HTMLURL,
			Author:    login(i.User),
			Labels:    labels,
			Comments:  i.Comments,
			CreatedAt: i.CreatedAt,
			UpdatedAt: i.UpdatedAt,
			ClosedAt:  i.ClosedAt,
		})
	}
	return out, nil
}

// MapPullRequests converts a pulls payload.
func MapPullRequests(p cache.Payload) ([]core.PullRequest, error) {
	if err := expectKind(p, cache.KindPulls); err != nil {
		return nil, err
	}
	var raw []rawPullRequest
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode pull requests: %w", err)
	}
	out := make([]core.PullRequest, 0, len(raw))
	for _, pr := range raw {
		out = append(out, core.PullRequest{
			Number:    pr.Number,
			Title:     pr.Title,
			State:     pr.State,
			HTMLURL:   pr.HTMLURL,
			Author:    login(pr.User),
			Draft:     pr.Draft,
			CreatedAt: pr.CreatedAt,
			UpdatedAt: pr.UpdatedAt,
			ClosedAt:  pr.ClosedAt,
			MergedAt:  pr.MergedAt,
		})
	}
	return out, nil
}

// MapCommitActivity converts a commit activity payload.
func MapCommitActivity(p cache.Payload) ([]core.CommitActivityWeek, error) {
	if err := expectKind(p, cache.KindCommitActivity); err != nil {
		return nil, err
	}
	var raw []rawCommitActivityWeek
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode commit activity: %w", err)
	}
	out := make([]core.CommitActivityWeek, 0, len(raw))
	for _, w := range raw {
		week := core.CommitActivityWeek{Week: w.Week, Total: w.Total}
		copy(week.Days[:], w.Days)
		out = append(out, week)
	}
	return out, nil
}

// MapCodeFrequency converts [week, additions, deletions] tuples. Deletions
// arrive non-positive and are reported as their absolute value.
func MapCodeFrequency(p cache.Payload) ([]core.CodeFrequencyWeek, error) {
	if err := expectKind(p, cache.KindCodeFrequency); err != nil {
		return nil, err
	}
	body := gjson.ParseBytes(p.Data)
	if !body.IsArray() {
		return nil, fmt.Errorf("code frequency payload is not an array")
	}

	tuples := body.Array()
	out := make([]core.CodeFrequencyWeek, 0, len(tuples))
	for i, t := range tuples {
		fields := t.Array()
		if !t.IsArray() || len(fields) < 3 {
			return nil, fmt.Errorf("code frequency entry %d is not a [week, additions, deletions] tuple", i)
		}
		out = append(out, core.CodeFrequencyWeek{
			Week:      fields[0].Int(),
			Additions: int(fields[1].Int()),
			Deletions: int(math.Abs(float64(fields[2].Int()))),
		})
	}
	return out, nil
}

// MapReleases converts a releases payload. A release without a name takes its tag.
func MapReleases(p cache.Payload) ([]core.Release, error) {
	if err := expectKind(p, cache.KindReleases); err != nil {
		return nil, err
	}
	var raw []rawRelease
	if err := p.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode releases: %w", err)
	}
	out := make([]core.Release, 0, len(raw))
	for _, r := range raw {
		name := deref(r.Name)
		if name == "" {
			name = r.TagName
		}
		out = append(out, core.Release{
			TagName:     r.TagName,
			Name:        name,
			HTMLURL:     r.HTMLURL,
			Author:      login(r.Author),
			Draft:       r.Draft,
			Prerelease:  r.Prerelease,
			CreatedAt:   r.CreatedAt,
			PublishedAt: r.PublishedAt,
		})
	}
	return out, nil
}
