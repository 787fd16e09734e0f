package repodata

import (
	"encoding/json"
	"time"
)

// Wire shapes of the GitHub REST responses. Only the fields the domain
// entities need are declared.

type rawUser struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

type rawRepository struct {
	FullName    string   `json:"full_name"`
	Name        string   `json:"name"`
	Owner       rawUser  `json:"owner"`
	Description *string  `json:"description"`
	HTMLURL     string   `json:"html_url"`
	Homepage    *string  `json:"homepage"`
	Language    *string  `json:"language"`
	License     *struct {
		SPDXID string `json:"spdx_id"`
		Name   string `json:"name"`
	} `json:"license"`
	DefaultBranch    string    `json:"default_branch"`
	Topics           []string  `json:"topics"`
	StargazersCount  int       `json:"stargazers_count"`
	ForksCount       int       `json:"forks_count"`
	WatchersCount    int       `json:"watchers_count"`
	SubscribersCount *int      `json:"subscribers_count"`
	OpenIssuesCount  int       `json:"open_issues_count"`
	Size             int       `json:"size"`
	Archived         bool      `json:"archived"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	PushedAt         time.Time `json:"pushed_at"`
}

type rawContributor struct {
	rawUser
	Contributions int `json:"contributions"`
}

type rawLabel struct {
	Name string `json:"name"`
}

type rawIssue struct {
	Number    int             `json:"number"`
	Title     string          `json:"title"`
	State     string          `json:"state"`
	HTMLURL   string          `json:"html_url"`
	User      *rawUser        `json:"user"`
	Labels    []rawLabel      `json:"labels"`
	Comments  int             `json:"comments"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	ClosedAt  *time.Time      `json:"closed_at"`
	// PullRequest is present when the issue is a pull request.
	PullRequest json.RawMessage `json:"pull_request"`
}

type rawPullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	User      *rawUser   `json:"user"`
	Draft     bool       `json:"draft"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

type rawCommitActivityWeek struct {
	Week  int64 `json:"week"`
	Total int   `json:"total"`
	Days  []int `json:"days"`
}

type rawRelease struct {
	TagName     string     `json:"tag_name"`
	Name        *string    `json:"name"`
	HTMLURL     string     `json:"html_url"`
	Author      *rawUser   `json:"author"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at"`
}
