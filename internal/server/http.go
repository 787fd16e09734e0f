package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"gitpulse/internal/admin"
	"gitpulse/internal/core"
	"gitpulse/internal/dashboard"
)

// DefaultBodySizeLimit is used when Config.BodySizeLimit is empty.
const DefaultBodySizeLimit = "1M"

const requestIDHeader = "X-Request-ID"

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: Master key for authentication
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   string // Max request body size, e.g. "1M" (default: 1M)
	SwaggerEnabled  bool   // Serve API docs at /swagger/

	// AdminHandler serves /admin/api/v1; admin routes are not mounted when nil.
	AdminHandler *admin.Handler
	// Notifications backs GET /api/v1/notifications; the list is empty when nil.
	Notifications *dashboard.Recorder
}

// New creates a new HTTP server
func New(svc Dashboard, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(svc, cfg.Notifications)

	metricsPath := metricsPath(cfg.MetricsEndpoint)

	// Global middleware stack (order matters)
	e.Use(RequestIDMiddleware())
	e.Use(middleware.RequestLoggerWithConfig(requestLoggerConfig()))
	e.Use(middleware.Recover())

	bodySizeLimit := DefaultBodySizeLimit
	if cfg.BodySizeLimit != "" {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(bodySizeLimit))

	// Authentication (skips public paths)
	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, publicPaths(cfg)...))
	}

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}
	if cfg.SwaggerEnabled {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	// Dashboard API routes
	api := e.Group("/api/v1")
	api.GET("/notifications", handler.ListNotifications)

	repo := api.Group("/repos/:owner/:repo", ValidateRepoParams)
	repo.GET("", handler.GetRepository)
	repo.GET("/contributors", handler.ListContributors)
	repo.GET("/issues", handler.ListIssues)
	repo.GET("/pulls", handler.ListPullRequests)
	repo.GET("/stats/commit_activity", handler.GetCommitActivity)
	repo.GET("/stats/code_frequency", handler.GetCodeFrequency)
	repo.GET("/releases", handler.ListReleases)
	repo.GET("/docs", handler.CheckDocumentation)
	repo.GET("/summary", handler.GetSummary)

	// Cache administration
	if cfg.AdminHandler != nil {
		adm := e.Group("/admin/api/v1")
		adm.GET("/overview", cfg.AdminHandler.Overview)
		adm.GET("/cache/stats", cfg.AdminHandler.CacheStats)
		adm.DELETE("/cache", cfg.AdminHandler.ClearCache)
		adm.DELETE("/cache/docs/:owner/:repo", cfg.AdminHandler.DeleteDocsCache)
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// metricsPath normalizes the configured metrics endpoint. Paths that would
// shadow API, admin or health routes fall back to /metrics.
func metricsPath(endpoint string) string {
	const fallback = "/metrics"
	if endpoint == "" {
		return fallback
	}
	p := path.Clean("/" + endpoint)
	if p == "/" || p == "/health" ||
		strings.HasPrefix(p, "/api/") || p == "/api" ||
		strings.HasPrefix(p, "/admin/") || p == "/admin" ||
		strings.HasPrefix(p, "/swagger") {
		return fallback
	}
	return p
}

// RequestIDMiddleware propagates the client's X-Request-ID or generates one,
// echoes it on the response and attaches it to the request context.
func RequestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := req.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, id)
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
			return next(c)
		}
	}
}

func requestLoggerConfig() middleware.RequestLoggerConfig {
	return middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
