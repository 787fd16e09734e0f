package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// AuthMiddleware creates an Echo middleware that validates the master key
// if it's configured. If masterKey is empty, no authentication is required.
// Requests whose path equals a skip path, or starts with a skip path ending
// in "/", are let through.
func AuthMiddleware(masterKey string, skipPaths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// If no master key is configured, allow all requests
			if masterKey == "" {
				return next(c)
			}

			if skipAuth(c.Request().URL.Path, skipPaths) {
				return next(c)
			}

			// Get Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return authError(c, "missing authorization header")
			}

			// Extract Bearer token
			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				return authError(c, "invalid authorization header format, expected 'Bearer <token>'")
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				return authError(c, "invalid master key")
			}

			// Authentication successful, proceed to next handler
			return next(c)
		}
	}
}

// publicPaths lists the paths served without authentication for cfg.
func publicPaths(cfg *Config) []string {
	paths := []string{"/health"}
	if cfg.MetricsEnabled {
		paths = append(paths, metricsPath(cfg.MetricsEndpoint))
	}
	if cfg.SwaggerEnabled {
		paths = append(paths, "/swagger/")
	}
	return paths
}

func skipAuth(reqPath string, skipPaths []string) bool {
	for _, p := range skipPaths {
		if reqPath == p {
			return true
		}
		if strings.HasSuffix(p, "/") && strings.HasPrefix(reqPath, p) {
			return true
		}
	}
	return false
}

func authError(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "authentication_error",
			"message": message,
		},
	})
}
