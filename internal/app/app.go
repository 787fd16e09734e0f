// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the gitpulse server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"gitpulse/config"
	"gitpulse/internal/admin"
	"gitpulse/internal/batch"
	"gitpulse/internal/cache"
	"gitpulse/internal/dashboard"
	"gitpulse/internal/github"
	"gitpulse/internal/httpclient"
	"gitpulse/internal/observability"
	"gitpulse/internal/server"
	"gitpulse/internal/storage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config        *config.Config
	cache         *cache.Cache
	executor      *github.Executor
	service       *dashboard.Service
	notifications *dashboard.Recorder
	server        *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	// MetricsRegisterer receives the Prometheus collectors when metrics are
	// enabled (default: prometheus.DefaultRegisterer).
	MetricsRegisterer prometheus.Registerer

	// HTTPClient overrides the upstream client built from the http section.
	HTTPClient *http.Client
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	app := &App{config: appCfg}

	cacheHooks := cache.MultiHooks{cache.LogHooks{}}
	var fetchHooks github.Hooks
	app.notifications = dashboard.NewRecorder(appCfg.Notifications.History)
	notifier := dashboard.MultiNotifier{dashboard.LogNotifier{}, app.notifications}

	if appCfg.Metrics.Enabled {
		reg := cfg.MetricsRegisterer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		metrics := observability.NewPrometheusHooksWith(reg)
		cacheHooks = append(cacheHooks, metrics)
		fetchHooks = metrics
		notifier = append(notifier, metrics)
	}

	// The store is opened lazily; an unavailable store degrades every
	// lookup to a miss instead of failing startup.
	app.cache = cache.New(
		cache.OpenStorage(storageConfig(appCfg.Storage), appCfg.Storage.Redis.KeyPrefix),
		cache.Options{TTL: appCfg.Cache.TTL, Hooks: cacheHooks},
	)
	if err := app.cache.Init(ctx); err != nil {
		slog.Warn("cache store unavailable, serving without cache until it recovers",
			"storage_type", appCfg.Storage.Type, "error", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := httpclient.ConfigFromSeconds(appCfg.HTTP.Timeout, appCfg.HTTP.ResponseHeaderTimeout)
		httpClient = httpclient.NewHTTPClient(&clientCfg)
	}

	execOpts := []github.Option{github.WithHTTPClient(httpClient)}
	if fetchHooks != nil {
		execOpts = append(execOpts, github.WithHooks(fetchHooks))
	}
	app.executor = github.NewExecutor(app.cache, github.Config{
		BaseURL:          appCfg.GitHub.BaseURL,
		Token:            appCfg.GitHub.Token,
		UserAgent:        appCfg.GitHub.UserAgent,
		MaxRetries:       appCfg.GitHub.MaxRetries,
		MaxThrottleWait:  appCfg.GitHub.MaxThrottleWait,
		BackoffStep:      appCfg.GitHub.BackoffStep,
		CoalesceRequests: appCfg.GitHub.CoalesceRequests,
	}, execOpts...)

	scheduler := batch.New(appCfg.Batch.Size, appCfg.Batch.Delay)
	app.service = dashboard.NewService(app.executor, scheduler, notifier, dashboard.Config{
		PerPage: appCfg.GitHub.PerPage,
	})

	app.logStartupInfo()

	app.server = server.New(app.service, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		SwaggerEnabled:  appCfg.Server.SwaggerEnabled,
		AdminHandler:    admin.NewHandler(app.cache, appCfg.Storage.Type),
		Notifications:   app.notifications,
	})

	return app, nil
}

func storageConfig(cfg config.StorageConfig) storage.Config {
	return storage.Config{
		Type:       cfg.Type,
		SQLite:     storage.SQLiteConfig{Path: cfg.SQLite.Path},
		PostgreSQL: storage.PostgreSQLConfig{URL: cfg.PostgreSQL.URL, MaxConns: cfg.PostgreSQL.MaxConns},
		MongoDB:    storage.MongoDBConfig{URL: cfg.MongoDB.URL, Database: cfg.MongoDB.Database},
		Redis:      storage.RedisConfig{URL: cfg.Redis.URL},
	}
}

// Service returns the dashboard service.
func (a *App) Service() *dashboard.Service {
	return a.service
}

// Cache returns the persistent cache.
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, honoring ctx, then the cache store.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	var errs []error

	// 1. Stop accepting requests
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Close the cache store
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("cache close error", "error", err)
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: GITPULSE_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set GITPULSE_MASTER_KEY environment variable to secure the API")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	// Metrics configuration
	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("cache configured",
		"storage_type", cfg.Storage.Type,
		"ttl", cfg.Cache.TTL,
	)
	slog.Info("github client configured",
		"base_url", cfg.GitHub.BaseURL,
		"authenticated", cfg.GitHub.Token != "",
		"max_retries", cfg.GitHub.MaxRetries,
		"coalesce_requests", cfg.GitHub.CoalesceRequests,
	)
	slog.Info("batch scheduler configured", "size", cfg.Batch.Size, "delay", cfg.Batch.Delay)

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}
}
