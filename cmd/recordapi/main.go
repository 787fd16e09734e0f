// Package main provides a CLI tool to record real GitHub responses for mapper tests.
// Usage:
//
//	GITHUB_TOKEN=ghp_xxx go run ./cmd/recordapi \
//	  -endpoint=code_frequency \
//	  -repo=golang/go \
//	  -output=internal/repodata/testdata/code_frequency.json
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"gitpulse/internal/github"
)

// Endpoint request builders
var endpointConfigs = map[string]func(owner, repo, path string, perPage int) github.Request{
	"repository": func(owner, repo, _ string, _ int) github.Request {
		return github.RepositoryRequest(owner, repo)
	},
	"contributors": func(owner, repo, _ string, perPage int) github.Request {
		return github.ContributorsRequest(owner, repo, perPage)
	},
	"issues": func(owner, repo, _ string, perPage int) github.Request {
		return github.IssuesRequest(owner, repo, "all", perPage)
	},
	"pulls": func(owner, repo, _ string, perPage int) github.Request {
		return github.PullsRequest(owner, repo, "all", perPage)
	},
	"commit_activity": func(owner, repo, _ string, _ int) github.Request {
		return github.CommitActivityRequest(owner, repo)
	},
	"code_frequency": func(owner, repo, _ string, _ int) github.Request {
		return github.CodeFrequencyRequest(owner, repo)
	},
	"releases": func(owner, repo, _ string, perPage int) github.Request {
		return github.ReleasesRequest(owner, repo, perPage)
	},
	"content": func(owner, repo, path string, _ int) github.Request {
		return github.ContentRequest(owner, repo, path)
	},
}

func main() {
	endpoint := flag.String("endpoint", "repository", "Endpoint to record (repository, contributors, issues, pulls, commit_activity, code_frequency, releases, content)")
	repository := flag.String("repo", "golang/go", "Repository as owner/name")
	path := flag.String("path", "README.md", "File path for the content endpoint")
	perPage := flag.Int("per-page", 5, "Page size for list endpoints")
	output := flag.String("output", "", "Output file path (default: internal/repodata/testdata/<endpoint>.json)")
	baseURL := flag.String("base-url", github.DefaultBaseURL, "GitHub API base URL")
	flag.Parse()

	build, ok := endpointConfigs[*endpoint]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown endpoint %q\n", *endpoint)
		os.Exit(1)
	}

	owner, repo, ok := strings.Cut(*repository, "/")
	if !ok || owner == "" || repo == "" {
		fmt.Fprintf(os.Stderr, "Error: -repo must be owner/name, got %q\n", *repository)
		os.Exit(1)
	}

	if *output == "" {
		*output = filepath.Join("internal", "repodata", "testdata", *endpoint+".json")
	}

	req := build(owner, repo, *path, *perPage)
	url := strings.TrimRight(*baseURL, "/") + req.Path
	if len(req.Query) > 0 {
		url += "?" + req.Query.Encode()
	}

	body, status, err := fetch(url, os.Getenv("GITHUB_TOKEN"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Response status: %d\n", status)
	if status != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: upstream answered %d: %s\n", status, gjson.GetBytes(body, "message").String())
		os.Exit(1)
	}

	var prettyJSON bytes.Buffer
	if err := json.Indent(&prettyJSON, body, "", "  "); err != nil {
		fmt.Fprintf(os.Stderr, "Error: response is not JSON: %v\n", err)
		os.Exit(1)
	}
	prettyJSON.WriteByte('\n')

	if err := writeOutput(*output, prettyJSON.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Response saved to %s\n", *output)

	// Print response summary
	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		fmt.Printf("Items: %d\n", len(parsed.Array()))
	} else if name := parsed.Get("full_name"); name.Exists() {
		fmt.Printf("Repository: %s\n", name.String())
	}
}

// fetch performs a GET, repeating while GitHub is still computing statistics (202).
func fetch(url, token string) ([]byte, int, error) {
	client := &http.Client{Timeout: 60 * time.Second}

	for attempt := 1; ; attempt++ {
		req, err := http.NewRequest(http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", github.DefaultAPIVersion)
		req.Header.Set("User-Agent", github.DefaultUserAgent)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		fmt.Printf("Sending request to GET %s...\n", url)
		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, fmt.Errorf("sending request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("reading response: %w", err)
		}

		if resp.StatusCode == http.StatusAccepted && attempt < 5 {
			fmt.Println("Statistics are being computed, retrying in 3s...")
			time.Sleep(3 * time.Second)
			continue
		}
		return body, resp.StatusCode, nil
	}
}

// writeOutput writes data to the output file, creating directories as needed.
func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
