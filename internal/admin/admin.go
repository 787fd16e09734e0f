// Package admin provides HTTP handlers for the cache administration API.
package admin

import (
	"context"
	"time"

	"gitpulse/internal/cache"
)

// CacheAdmin is the subset of *cache.Cache the admin API needs.
type CacheAdmin interface {
	Stats(ctx context.Context) (*cache.Stats, error)
	ClearAll(ctx context.Context) (int, error)
	DeleteNamespace(ctx context.Context, prefix string) (int, error)
	TTL() time.Duration
}

// Handler serves admin API endpoints.
type Handler struct {
	cache     CacheAdmin
	backend   string
	startTime time.Time
}

// NewHandler creates a new admin API handler. backend names the cache
// storage type and is only reported.
func NewHandler(c CacheAdmin, backend string) *Handler {
	return &Handler{
		cache:     c,
		backend:   backend,
		startTime: time.Now(),
	}
}
