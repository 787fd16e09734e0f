// Package dashboard is the surface the dashboard UI calls. Every operation
// returns its domain value on success. On failure it returns nil and raises a
// Notification instead of an error.
package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"

	"gitpulse/internal/batch"
	"gitpulse/internal/cache"
	"gitpulse/internal/core"
	"gitpulse/internal/github"
	"gitpulse/internal/repodata"
)

// Operation names used in notifications.
const (
	OpFetchRepository     = "fetch repository"
	OpFetchContributors   = "fetch contributors"
	OpFetchIssues         = "fetch issues"
	OpFetchPullRequests   = "fetch pull requests"
	OpFetchCommitActivity = "fetch commit activity"
	OpFetchCodeFrequency  = "fetch code frequency"
	OpFetchReleases       = "fetch releases"
	OpCheckDocumentation  = "check documentation files"
	OpFetchSummary        = "fetch repository summary"
)

// Config configures a Service.
type Config struct {
	// PerPage is the page size requested from list endpoints (default: 100).
	PerPage int
	// Descriptors is the documentation checklist (default: repodata.DocDescriptors).
	Descriptors []repodata.DocDescriptor
	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service implements the dashboard operations on top of the fetch executor.
type Service struct {
	fetcher     repodata.Fetcher
	scheduler   *batch.Scheduler
	notifier    Notifier
	perPage     int
	descriptors []repodata.DocDescriptor
	now         func() time.Time
}

// NewService creates a Service. A nil notifier logs notifications.
func NewService(fetcher repodata.Fetcher, scheduler *batch.Scheduler, notifier Notifier, cfg Config) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if scheduler == nil {
		scheduler = batch.New(batch.DefaultSize, batch.DefaultDelay)
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.Descriptors == nil {
		cfg.Descriptors = repodata.DocDescriptors
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		fetcher:     fetcher,
		scheduler:   scheduler,
		notifier:    notifier,
		perPage:     cfg.PerPage,
		descriptors: cfg.Descriptors,
		now:         cfg.Now,
	}
}

func (s *Service) notify(ctx context.Context, op string, err error) {
	n := NewNotification(op, err, s.now())
	if c := captureFrom(ctx); c != nil {
		c.add(n)
	}
	s.notifier.Notify(ctx, n)
}

// fetchAs executes req and maps the payload. Any failure is converted into a
// notification and the zero value.
func fetchAs[T any](ctx context.Context, s *Service, op string, req github.Request, mapFn func(cache.Payload) (T, error)) T {
	v, err := load(ctx, s.fetcher, req, mapFn)
	if err != nil {
		s.notify(ctx, op, err)
		var zero T
		return zero
	}
	return v
}

func load[T any](ctx context.Context, f repodata.Fetcher, req github.Request, mapFn func(cache.Payload) (T, error)) (T, error) {
	var zero T
	p, err := f.Execute(ctx, req)
	if err != nil {
		return zero, err
	}
	v, err := mapFn(p)
	if err != nil {
		return zero, core.NewUnexpectedError(req.Path, 0, "failed to map response", err)
	}
	return v, nil
}

// FetchRepository returns the repository, or nil on failure.
func (s *Service) FetchRepository(ctx context.Context, owner, repo string) *core.Repository {
	return fetchAs(ctx, s, OpFetchRepository, github.RepositoryRequest(owner, repo), repodata.MapRepository)
}

// FetchContributors returns the contributors, or nil on failure.
func (s *Service) FetchContributors(ctx context.Context, owner, repo string) []core.Contributor {
	return fetchAs(ctx, s, OpFetchContributors, github.ContributorsRequest(owner, repo, s.perPage), repodata.MapContributors)
}

// FetchIssues returns issues in state (open, closed or all), or nil on failure.
func (s *Service) FetchIssues(ctx context.Context, owner, repo, state string) []core.Issue {
	return fetchAs(ctx, s, OpFetchIssues, github.IssuesRequest(owner, repo, state, s.perPage), repodata.MapIssues)
}

// FetchPullRequests returns pull requests in state, or nil on failure.
func (s *Service) FetchPullRequests(ctx context.Context, owner, repo, state string) []core.PullRequest {
	return fetchAs(ctx, s, OpFetchPullRequests, github.PullsRequest(owner, repo, state, s.perPage), repodata.MapPullRequests)
}

// FetchCommitActivity returns the last year of weekly commit counts, or nil on failure.
func (s *Service) FetchCommitActivity(ctx context.Context, owner, repo string) []core.CommitActivityWeek {
	return fetchAs(ctx, s, OpFetchCommitActivity, github.CommitActivityRequest(owner, repo), repodata.MapCommitActivity)
}

// FetchCodeFrequency returns weekly additions and deletions, or nil on failure.
func (s *Service) FetchCodeFrequency(ctx context.Context, owner, repo string) []core.CodeFrequencyWeek {
	return fetchAs(ctx, s, OpFetchCodeFrequency, github.CodeFrequencyRequest(owner, repo), repodata.MapCodeFrequency)
}

// FetchReleases returns the releases, or nil on failure.
func (s *Service) FetchReleases(ctx context.Context, owner, repo string) []core.Release {
	return fetchAs(ctx, s, OpFetchReleases, github.ReleasesRequest(owner, repo, s.perPage), repodata.MapReleases)
}

// DocumentationReport is the documentation checklist with its score.
// Unverified names descriptors that could not be checked; they count as
// missing in Files and Score.
type DocumentationReport struct {
	Files      []core.DocumentationCheckResult `json:"files"`
	Score      int                             `json:"score"`
	Unverified []string                        `json:"unverified,omitempty"`
}

// CheckDocumentationFiles runs the documentation checklist. Descriptors that
// could not be checked raise a notification and are reported as unverified;
// it returns nil only if none could be checked.
func (s *Service) CheckDocumentationFiles(ctx context.Context, owner, repo string) *DocumentationReport {
	results, err := repodata.CheckDocumentation(ctx, s.fetcher, s.scheduler, owner, repo, s.descriptors)
	report := &DocumentationReport{Files: results, Score: repodata.DocumentationScore(results)}
	if err == nil {
		return report
	}

	s.notify(ctx, OpCheckDocumentation, err)
	var checkErr *repodata.CheckError
	if !errors.As(err, &checkErr) || len(checkErr.Failed) >= len(results) {
		return nil
	}
	report.Unverified = checkErr.Failed
	return report
}

// Summary is an overview of a repository. Counts are nil when their part
// could not be fetched.
//
// List counts come from the first page of each list endpoint. A count whose
// page came back full is a lower bound and is named in Capped. The open issue
// count is exact whenever the open pull request page is not full, since it
// is then derived from the repository's open issue total.
type Summary struct {
	Repository       *core.Repository `json:"repository"`
	Contributors     *int             `json:"contributors,omitempty"`
	OpenIssues       *int             `json:"open_issues,omitempty"`
	OpenPullRequests *int             `json:"open_pull_requests,omitempty"`
	Releases         *int             `json:"releases,omitempty"`
	Capped           []string         `json:"capped,omitempty"`
	PageSize         int              `json:"page_size"`
	LatestRelease    string           `json:"latest_release,omitempty"`
	LastPush         string           `json:"last_push"`
}

// Summary count names reported in Summary.Capped.
const (
	CountContributors     = "contributors"
	CountOpenIssues       = "open_issues"
	CountOpenPullRequests = "open_pull_requests"
	CountReleases         = "releases"
)

// loadPage is load for list endpoints. full reports whether the upstream
// page held perPage or more items before mapping.
func loadPage[T any](ctx context.Context, s *Service, req github.Request, mapFn func(cache.Payload) ([]T, error)) (items []T, full bool, err error) {
	var raw int
	items, err = load(ctx, s.fetcher, req, func(p cache.Payload) ([]T, error) {
		raw = int(gjson.GetBytes(p.Data, "#").Int())
		return mapFn(p)
	})
	return items, err == nil && raw >= s.perPage, err
}

// FetchSummary fetches the repository and its lists through the batch
// scheduler. It returns nil only if the repository itself failed.
func (s *Service) FetchSummary(ctx context.Context, owner, repo string) *Summary {
	sum := &Summary{PageSize: s.perPage}
	var repoErr error
	var contributorsFull, issuesFull, pullsFull, releasesFull bool

	count := func(dst **int, n int) { *dst = &n }
	parts := []func(context.Context) error{
		func(ctx context.Context) error {
			r, err := load(ctx, s.fetcher, github.RepositoryRequest(owner, repo), repodata.MapRepository)
			sum.Repository, repoErr = r, err
			return err
		},
		func(ctx context.Context) error {
			c, full, err := loadPage(ctx, s, github.ContributorsRequest(owner, repo, s.perPage), repodata.MapContributors)
			if err == nil {
				count(&sum.Contributors, len(c))
				contributorsFull = full
			}
			return err
		},
		func(ctx context.Context) error {
			i, full, err := loadPage(ctx, s, github.IssuesRequest(owner, repo, "open", s.perPage), repodata.MapIssues)
			if err == nil {
				count(&sum.OpenIssues, len(i))
				issuesFull = full
			}
			return err
		},
		func(ctx context.Context) error {
			p, full, err := loadPage(ctx, s, github.PullsRequest(owner, repo, "open", s.perPage), repodata.MapPullRequests)
			if err == nil {
				count(&sum.OpenPullRequests, len(p))
				pullsFull = full
			}
			return err
		},
		func(ctx context.Context) error {
			r, full, err := loadPage(ctx, s, github.ReleasesRequest(owner, repo, s.perPage), repodata.MapReleases)
			if err == nil {
				count(&sum.Releases, len(r))
				releasesFull = full
				for _, rel := range r {
					if !rel.Draft && !rel.Prerelease {
						sum.LatestRelease = rel.TagName
						break
					}
				}
			}
			return err
		},
	}

	results := batch.Run(ctx, s.scheduler, parts, func(ctx context.Context, part func(context.Context) error) (struct{}, error) {
		return struct{}{}, part(ctx)
	})

	if repoErr != nil || sum.Repository == nil {
		if repoErr == nil {
			repoErr = results[0].Err
		}
		s.notify(ctx, OpFetchSummary, repoErr)
		return nil
	}
	for i, r := range results[1:] {
		if r.Err != nil {
			slog.WarnContext(ctx, "summary part unavailable", "owner", owner, "repo", repo, "part", i+1, "error", r.Err)
		}
	}

	// GitHub's open issue total includes open pull requests.
	if sum.OpenPullRequests != nil && !pullsFull {
		if n := sum.Repository.OpenIssues - *sum.OpenPullRequests; n >= 0 {
			count(&sum.OpenIssues, n)
			issuesFull = false
		}
	}
	for _, c := range []struct {
		name   string
		capped bool
	}{
		{CountContributors, contributorsFull},
		{CountOpenIssues, issuesFull},
		{CountOpenPullRequests, pullsFull},
		{CountReleases, releasesFull},
	} {
		if c.capped {
			sum.Capped = append(sum.Capped, c.name)
		}
	}

	sum.LastPush = repodata.Since(sum.Repository.PushedAt, s.now())
	return sum
}
