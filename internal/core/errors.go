// Package core provides the error taxonomy and domain entities shared by the
// fetch pipeline and the dashboard surface.
package core

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure of the fetch pipeline.
type ErrorKind string

const (
	// KindNotFound indicates the upstream resource does not exist (404).
	// It is a terminal, cacheable outcome.
	KindNotFound ErrorKind = "not_found"
	// KindRateLimited indicates upstream throttling survived every retry.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient indicates a retryable upstream failure (5xx, network, stats still computing)
	// that survived every retry.
	KindTransient ErrorKind = "transient"
	// KindUnexpected indicates any other non-success outcome (4xx client errors, malformed bodies).
	KindUnexpected ErrorKind = "unexpected"
	// KindStorageFault indicates the persistent cache store is unavailable.
	KindStorageFault ErrorKind = "storage_fault"
)

// Error is the base error type for all pipeline errors
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	// Path is the upstream URL path the failure relates to, if any.
	Path string `json:"path,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Path, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status the HTTP surface should answer with for this error.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient, KindUnexpected:
		return http.StatusBadGateway
	case KindStorageFault:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *Error) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Kind,
			"message": e.Message,
		},
	}
}

// NewNotFoundError creates a not found error for the given upstream path.
func NewNotFoundError(path string) *Error {
	return &Error{
		Kind:       KindNotFound,
		Message:    "resource not found",
		StatusCode: http.StatusNotFound,
		Path:       path,
	}
}

// NewRateLimitedError creates an error for throttling that outlived the retry budget.
func NewRateLimitedError(path string, statusCode int, message string) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    message,
		StatusCode: statusCode,
		Path:       path,
	}
}

// NewTransientError creates an error for a retryable failure that outlived the retry budget.
func NewTransientError(path string, statusCode int, message string, err error) *Error {
	return &Error{
		Kind:       KindTransient,
		Message:    message,
		StatusCode: statusCode,
		Path:       path,
		Err:        err,
	}
}

// NewUnexpectedError creates an error for a non-retryable, non-404 failure.
func NewUnexpectedError(path string, statusCode int, message string, err error) *Error {
	return &Error{
		Kind:       KindUnexpected,
		Message:    message,
		StatusCode: statusCode,
		Path:       path,
		Err:        err,
	}
}

// NewStorageFaultError wraps a persistent store failure.
func NewStorageFaultError(message string, err error) *Error {
	return &Error{
		Kind:    KindStorageFault,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is a not found outcome.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
