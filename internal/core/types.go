package core

import "time"

// Repository is a snapshot of GET /repos/{owner}/{repo}.
type Repository struct {
	FullName      string    `json:"full_name"`
	Name          string    `json:"name"`
	Owner         string    `json:"owner"`
	Description   string    `json:"description"`
	HTMLURL       string    `json:"html_url"`
	Homepage      string    `json:"homepage,omitempty"`
	Language      string    `json:"language,omitempty"`
	License       string    `json:"license,omitempty"`
	DefaultBranch string    `json:"default_branch"`
	Topics        []string  `json:"topics"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	Watchers      int       `json:"watchers"`
	OpenIssues    int       `json:"open_issues"`
	Size          int       `json:"size"`
	Archived      bool      `json:"archived"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
}

// Contributor is one entry of GET /repos/{owner}/{repo}/contributors.
type Contributor struct {
	Login         string `json:"login"`
	AvatarURL     string `json:"avatar_url"`
	HTMLURL       string `json:"html_url"`
	Contributions int    `json:"contributions"`
}

// Issue is an issue that is not a pull request.
type Issue struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	Author    string     `json:"author"`
	Labels    []string   `json:"labels"`
	Comments  int        `json:"comments"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// PullRequest is one entry of GET /repos/{owner}/{repo}/pulls.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	Author    string     `json:"author"`
	Draft     bool       `json:"draft"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	MergedAt  *time.Time `json:"merged_at,omitempty"`
}

// CommitActivityWeek is one week of GET /stats/commit_activity.
// Days holds commit counts Sunday through Saturday.
type CommitActivityWeek struct {
	Week  int64  `json:"week"`
	Total int    `json:"total"`
	Days  [7]int `json:"days"`
}

// CodeFrequencyWeek is one week of GET /stats/code_frequency.
// Deletions is reported as a non-negative number.
type CodeFrequencyWeek struct {
	Week      int64 `json:"week"`
	Additions int   `json:"additions"`
	Deletions int   `json:"deletions"`
}

// Release is one entry of GET /repos/{owner}/{repo}/releases.
type Release struct {
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	HTMLURL     string     `json:"html_url"`
	Author      string     `json:"author"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Importance is the weighting tier of a documentation file.
type Importance string

const (
	ImportanceCritical    Importance = "critical"
	ImportanceRecommended Importance = "recommended"
	ImportanceOptional    Importance = "optional"
)

// DocumentationCheckResult reports whether one canonical documentation file exists.
type DocumentationCheckResult struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Importance  Importance `json:"importance"`
	Exists      bool       `json:"exists"`
	// Path is the probed path that resolved, empty when Exists is false.
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
}
