// Package github executes GitHub REST requests through the persistent cache,
// retrying throttled and transient failures and caching confirmed 404s.
package github

import "time"

const (
	// DefaultBaseURL is the public GitHub REST endpoint.
	DefaultBaseURL = "https://api.github.com"
	// DefaultAPIVersion is sent as X-GitHub-Api-Version.
	DefaultAPIVersion = "2022-11-28"
	// DefaultUserAgent identifies the service to GitHub, which rejects requests without one.
	DefaultUserAgent = "gitpulse"
)

// Config holds configuration for the fetch executor
type Config struct {
	// BaseURL is the API base URL
	BaseURL string

	// Token is sent as a bearer credential when non-empty.
	// Unauthenticated access is valid but gets a lower upstream rate limit.
	Token string

	UserAgent  string
	APIVersion string

	// Retry configuration
	MaxRetries      int           // Retries after the first attempt (default: 2)
	MaxThrottleWait time.Duration // Cap on a throttle wait (default: 5s)
	BackoffStep     time.Duration // Transient backoff is attempt * BackoffStep (default: 1s)

	// CoalesceRequests joins concurrent executions for the same cache key
	// into one upstream call.
	CoalesceRequests bool
}

// DefaultConfig returns default executor configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		UserAgent:       DefaultUserAgent,
		APIVersion:      DefaultAPIVersion,
		MaxRetries:      2,
		MaxThrottleWait: 5 * time.Second,
		BackoffStep:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.APIVersion == "" {
		c.APIVersion = d.APIVersion
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.MaxThrottleWait <= 0 {
		c.MaxThrottleWait = d.MaxThrottleWait
	}
	if c.BackoffStep <= 0 {
		c.BackoffStep = d.BackoffStep
	}
	return c
}
