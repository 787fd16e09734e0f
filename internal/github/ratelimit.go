package github

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// isThrottled reports whether a response is GitHub telling the caller to slow down.
// Primary rate limits answer 403 with X-RateLimit-Remaining: 0; secondary limits
// answer 429 (or 403 with Retry-After).
func isThrottled(status int, header http.Header) bool {
	switch status {
	case http.StatusTooManyRequests:
		return true
	case http.StatusForbidden:
		if strings.TrimSpace(header.Get("X-RateLimit-Remaining")) == "0" {
			return true
		}
		return header.Get("Retry-After") != ""
	}
	return false
}

// throttleWait returns how long to wait before retrying a throttled request:
// the reset hint capped at maxWait, or maxWait when no usable hint is present.
func throttleWait(header http.Header, now time.Time, maxWait time.Duration) time.Duration {
	hint, ok := resetHint(header, now)
	if !ok || hint > maxWait {
		return maxWait
	}
	if hint < 0 {
		return 0
	}
	return hint
}

// resetHint reads Retry-After (seconds) or X-RateLimit-Reset (epoch seconds).
func resetHint(header http.Header, now time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second, true
		}
		if at, err := http.ParseTime(v); err == nil {
			return at.Sub(now), true
		}
	}
	if v := strings.TrimSpace(header.Get("X-RateLimit-Reset")); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(epoch, 0).Sub(now), true
		}
	}
	return 0, false
}

// isTransient reports whether a status is worth retrying with linear backoff.
// 202 is what the statistics endpoints answer while GitHub is still computing.
func isTransient(status int) bool {
	return status == http.StatusAccepted || status >= 500
}
