package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

const testMasterKey = "secret-key-123"

// newAuthEcho mounts AuthMiddleware with the public paths the server derives from cfg.
func newAuthEcho(masterKey string, cfg *Config) *echo.Echo {
	e := echo.New()
	e.Use(AuthMiddleware(masterKey, publicPaths(cfg)...))

	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	e.GET("/health", ok)
	e.GET("/metrics", ok)
	e.GET("/swagger/*", ok)
	e.GET("/api/v1/repos/:owner/:repo", ok)
	e.GET("/api/v1/notifications", ok)
	e.DELETE("/admin/api/v1/cache", ok)
	return e
}

func TestPublicPaths(t *testing.T) {
	assert.Equal(t, []string{"/health"}, publicPaths(&Config{}))
	assert.Equal(t, []string{"/health", "/metrics", "/swagger/"}, publicPaths(&Config{MetricsEnabled: true, SwaggerEnabled: true}))
	assert.Equal(t, []string{"/health", "/internal/metrics"}, publicPaths(&Config{MetricsEnabled: true, MetricsEndpoint: "/internal/metrics"}))
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &Config{MetricsEnabled: true, SwaggerEnabled: true}

	tests := []struct {
		name           string
		masterKey      string
		method         string
		path           string
		authHeader     string
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "no master key configured - allows api request",
			path:           "/api/v1/repos/acme/widget",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "valid master key - allows api request",
			masterKey:      testMasterKey,
			path:           "/api/v1/repos/acme/widget",
			authHeader:     "Bearer " + testMasterKey,
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "valid master key - allows admin request",
			masterKey:      testMasterKey,
			method:         http.MethodDelete,
			path:           "/admin/api/v1/cache",
			authHeader:     "Bearer " + testMasterKey,
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "missing authorization header - denies api request",
			masterKey:      testMasterKey,
			path:           "/api/v1/notifications",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"missing authorization header","type":"authentication_error"}}`,
		},
		{
			name:           "missing authorization header - denies admin request",
			masterKey:      testMasterKey,
			method:         http.MethodDelete,
			path:           "/admin/api/v1/cache",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"missing authorization header","type":"authentication_error"}}`,
		},
		{
			name:           "invalid authorization format - denies request",
			masterKey:      testMasterKey,
			path:           "/api/v1/repos/acme/widget",
			authHeader:     testMasterKey,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid authorization header format, expected 'Bearer <token>'","type":"authentication_error"}}`,
		},
		{
			name:           "invalid master key - denies request",
			masterKey:      testMasterKey,
			path:           "/api/v1/repos/acme/widget",
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid master key","type":"authentication_error"}}`,
		},
		{
			name:           "key prefix of master key - denies request",
			masterKey:      testMasterKey,
			path:           "/api/v1/repos/acme/widget",
			authHeader:     "Bearer secret-key",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid master key","type":"authentication_error"}}`,
		},
		{
			name:           "empty bearer token - denies request",
			masterKey:      testMasterKey,
			path:           "/api/v1/repos/acme/widget",
			authHeader:     "Bearer ",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid master key","type":"authentication_error"}}`,
		},
		{
			name:           "health is public",
			masterKey:      testMasterKey,
			path:           "/health",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "metrics endpoint is public",
			masterKey:      testMasterKey,
			path:           "/metrics",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "swagger assets are public",
			masterKey:      testMasterKey,
			path:           "/swagger/index.html",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "public path with wrong key still allowed",
			masterKey:      testMasterKey,
			path:           "/health",
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:           "lookalike of public path - denies request",
			masterKey:      testMasterKey,
			path:           "/healthz",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"missing authorization header","type":"authentication_error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newAuthEcho(tt.masterKey, cfg)
			e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

			method := tt.method
			if method == "" {
				method = http.MethodGet
			}
			req := httptest.NewRequest(method, tt.path, nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedBody, rec.Body.String())
			} else {
				assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_DisabledPublicPathsRequireKey(t *testing.T) {
	e := newAuthEcho(testMasterKey, &Config{})

	for _, path := range []string{"/metrics", "/swagger/index.html"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
