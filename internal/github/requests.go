package github

import (
	"net/url"
	"strconv"
	"strings"

	"gitpulse/internal/cache"
)

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

func listQuery(perPage int, extra map[string]string) (url.Values, map[string]string) {
	params := map[string]string{}
	for k, v := range extra {
		if v != "" {
			params[k] = v
		}
	}
	if perPage > 0 {
		params["per_page"] = strconv.Itoa(perPage)
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return q, params
}

// RepositoryRequest builds GET /repos/{owner}/{repo}.
func RepositoryRequest(owner, repo string) Request {
	return Request{
		Path: repoPath(owner, repo),
		Key:  cache.Key(cache.KindRepository, owner, repo, "", nil),
		Kind: cache.KindRepository,
	}
}

// ContributorsRequest builds GET /repos/{owner}/{repo}/contributors.
func ContributorsRequest(owner, repo string, perPage int) Request {
	q, params := listQuery(perPage, nil)
	return Request{
		Path:  repoPath(owner, repo) + "/contributors",
		Query: q,
		Key:   cache.Key(cache.KindContributors, owner, repo, "", params),
		Kind:  cache.KindContributors,
	}
}

// IssuesRequest builds GET /repos/{owner}/{repo}/issues. An empty state uses GitHub's default (open).
func IssuesRequest(owner, repo, state string, perPage int) Request {
	q, params := listQuery(perPage, map[string]string{"state": state})
	return Request{
		Path:  repoPath(owner, repo) + "/issues",
		Query: q,
		Key:   cache.Key(cache.KindIssues, owner, repo, "", params),
		Kind:  cache.KindIssues,
	}
}

// PullsRequest builds GET /repos/{owner}/{repo}/pulls.
func PullsRequest(owner, repo, state string, perPage int) Request {
	q, params := listQuery(perPage, map[string]string{"state": state})
	return Request{
		Path:  repoPath(owner, repo) + "/pulls",
		Query: q,
		Key:   cache.Key(cache.KindPulls, owner, repo, "", params),
		Kind:  cache.KindPulls,
	}
}

// CommitActivityRequest builds GET /repos/{owner}/{repo}/stats/commit_activity.
func CommitActivityRequest(owner, repo string) Request {
	return Request{
		Path: repoPath(owner, repo) + "/stats/commit_activity",
		Key:  cache.Key(cache.KindCommitActivity, owner, repo, "", nil),
		Kind: cache.KindCommitActivity,
	}
}

// CodeFrequencyRequest builds GET /repos/{owner}/{repo}/stats/code_frequency.
func CodeFrequencyRequest(owner, repo string) Request {
	return Request{
		Path: repoPath(owner, repo) + "/stats/code_frequency",
		Key:  cache.Key(cache.KindCodeFrequency, owner, repo, "", nil),
		Kind: cache.KindCodeFrequency,
	}
}

// ReleasesRequest builds GET /repos/{owner}/{repo}/releases.
func ReleasesRequest(owner, repo string, perPage int) Request {
	q, params := listQuery(perPage, nil)
	return Request{
		Path:  repoPath(owner, repo) + "/releases",
		Query: q,
		Key:   cache.Key(cache.KindReleases, owner, repo, "", params),
		Kind:  cache.KindReleases,
	}
}

// ContentRequest builds GET /repos/{owner}/{repo}/contents/{path}.
// Its key lives in the content namespace of the repository.
func ContentRequest(owner, repo, path string) Request {
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return Request{
		Path: repoPath(owner, repo) + "/contents/" + strings.Join(segments, "/"),
		Key:  cache.Key(cache.KindContent, owner, repo, path, nil),
		Kind: cache.KindContent,
	}
}
