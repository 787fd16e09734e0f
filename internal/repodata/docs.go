package repodata

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"gitpulse/internal/batch"
	"gitpulse/internal/cache"
	"gitpulse/internal/core"
	"gitpulse/internal/github"
)

// DocDescriptor names a canonical documentation file and where to look for it.
// Paths are probed in order; the first one that exists wins.
type DocDescriptor struct {
	Name        string
	Description string
	Importance  core.Importance
	Paths       []string
}

// DocDescriptors is the documentation checklist.
var DocDescriptors = []DocDescriptor{
	{
		Name:        "README",
		Description: "Project overview and usage instructions",
		Importance:  core.ImportanceCritical,
		Paths:       []string{"README.md", "readme.md", "README", "README.rst", "README.txt", "docs/README.md"},
	},
	{
		Name:        "LICENSE",
		Description: "Terms under which the project may be used",
		Importance:  core.ImportanceCritical,
		Paths:       []string{"LICENSE", "LICENSE.md", "LICENSE.txt", "COPYING", "license"},
	},
	{
		Name:        "CONTRIBUTING",
		Description: "How to contribute to the project",
		Importance:  core.ImportanceRecommended,
		Paths:       []string{"CONTRIBUTING.md", ".github/CONTRIBUTING.md", "docs/CONTRIBUTING.md", "CONTRIBUTING"},
	},
	{
		Name:        "CODE_OF_CONDUCT",
		Description: "Community standards",
		Importance:  core.ImportanceRecommended,
		Paths:       []string{"CODE_OF_CONDUCT.md", ".github/CODE_OF_CONDUCT.md", "docs/CODE_OF_CONDUCT.md"},
	},
	{
		Name:        "SECURITY",
		Description: "How to report vulnerabilities",
		Importance:  core.ImportanceRecommended,
		Paths:       []string{"SECURITY.md", ".github/SECURITY.md", "docs/SECURITY.md"},
	},
	{
		Name:        "CHANGELOG",
		Description: "Notable changes per release",
		Importance:  core.ImportanceRecommended,
		Paths:       []string{"CHANGELOG.md", "CHANGELOG", "HISTORY.md", "CHANGES.md"},
	},
	{
		Name:        "Issue templates",
		Description: "Templates for new issues",
		Importance:  core.ImportanceOptional,
		Paths:       []string{".github/ISSUE_TEMPLATE", ".github/ISSUE_TEMPLATE.md", "ISSUE_TEMPLATE.md"},
	},
	{
		Name:        "Pull request template",
		Description: "Template for new pull requests",
		Importance:  core.ImportanceOptional,
		Paths:       []string{".github/PULL_REQUEST_TEMPLATE.md", ".github/pull_request_template.md", "PULL_REQUEST_TEMPLATE.md", "docs/pull_request_template.md"},
	},
	{
		Name:        "CODEOWNERS",
		Description: "Default reviewers per path",
		Importance:  core.ImportanceOptional,
		Paths:       []string{".github/CODEOWNERS", "CODEOWNERS", "docs/CODEOWNERS"},
	},
	{
		Name:        "FUNDING",
		Description: "Sponsorship links",
		Importance:  core.ImportanceOptional,
		Paths:       []string{".github/FUNDING.yml"},
	},
}

// Fetcher executes a GitHub request through the cache.
type Fetcher interface {
	Execute(ctx context.Context, req github.Request) (cache.Payload, error)
}

// CheckError reports the descriptors whose probing failed for a reason other
// than not found. Those descriptors are reported as missing.
type CheckError struct {
	Failed []string
	Err    error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%d documentation checks failed: %v", len(e.Failed), e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// CheckDocumentation probes every descriptor, batched across descriptors.
// Paths within a descriptor are probed one after another and stop at the
// first hit; a 404 moves on to the next path.
//
// Results are in descriptor order. A failing descriptor does not affect the
// others; if any failed, the error is a *CheckError naming them.
func CheckDocumentation(ctx context.Context, f Fetcher, s *batch.Scheduler, owner, repo string, descriptors []DocDescriptor) ([]core.DocumentationCheckResult, error) {
	outcomes := batch.Run(ctx, s, descriptors, func(ctx context.Context, d DocDescriptor) (core.DocumentationCheckResult, error) {
		return probe(ctx, f, owner, repo, d)
	})

	results := make([]core.DocumentationCheckResult, len(descriptors))
	var failed []string
	var errs []error
	for i, o := range outcomes {
		if o.Err != nil {
			failed = append(failed, descriptors[i].Name)
			errs = append(errs, fmt.Errorf("%s: %w", descriptors[i].Name, o.Err))
			results[i] = missing(descriptors[i])
			continue
		}
		results[i] = o.Value
	}
	if len(errs) > 0 {
		return results, &CheckError{Failed: failed, Err: errors.Join(errs...)}
	}
	return results, nil
}

func probe(ctx context.Context, f Fetcher, owner, repo string, d DocDescriptor) (core.DocumentationCheckResult, error) {
	for _, path := range d.Paths {
		p, err := f.Execute(ctx, github.ContentRequest(owner, repo, path))
		if core.IsNotFound(err) {
			continue
		}
		if err != nil {
			return core.DocumentationCheckResult{}, err
		}
		res := missing(d)
		res.Exists = true
		res.Path = path
		res.URL = contentURL(p, owner, repo, path)
		return res, nil
	}
	return missing(d), nil
}

func missing(d DocDescriptor) core.DocumentationCheckResult {
	return core.DocumentationCheckResult{
		Name:        d.Name,
		Description: d.Description,
		Importance:  d.Importance,
	}
}

// contentURL returns the browser URL of a contents response. A file answers
// with an object carrying html_url; a directory with an array of its entries.
func contentURL(p cache.Payload, owner, repo, path string) string {
	body := gjson.ParseBytes(p.Data)
	if body.IsObject() {
		if u := body.Get("html_url").String(); u != "" {
			return u
		}
	}
	if body.IsArray() {
		if u := body.Get("0.html_url").String(); u != "" {
			if i := strings.LastIndex(u, "/"); i > 0 {
				return u[:i]
			}
		}
	}
	return fmt.Sprintf("https://github.com/%s/%s/tree/HEAD/%s", owner, repo, strings.Trim(path, "/"))
}
