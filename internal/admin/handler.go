package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"gitpulse/internal/cache"
	"gitpulse/internal/core"
)

// handleError converts errors to appropriate HTTP responses, matching the
// format used by the API handlers in the server package.
func handleError(c echo.Context, err error) error {
	var appErr *core.Error
	if errors.As(err, &appErr) {
		return c.JSON(appErr.HTTPStatusCode(), appErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "invalid_request",
			"message": message,
		},
	})
}

// CacheStats handles GET /admin/api/v1/cache/stats
//
// @Summary      Get cache statistics
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  cache.Stats
// @Failure      401  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /admin/api/v1/cache/stats [get]
func (h *Handler) CacheStats(c echo.Context) error {
	stats, err := h.cache.Stats(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	if stats.Entries == nil {
		stats.Entries = []cache.EntryStats{}
	}
	return c.JSON(http.StatusOK, stats)
}

// ClearCache handles DELETE /admin/api/v1/cache
//
// @Summary      Remove every cache entry
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  admin.RemovedResponse
// @Failure      401  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /admin/api/v1/cache [delete]
func (h *Handler) ClearCache(c echo.Context) error {
	n, err := h.cache.ClearAll(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, RemovedResponse{Removed: n})
}

// DeleteDocsCache handles DELETE /admin/api/v1/cache/docs/:owner/:repo
//
// Removes the cached documentation probes (hits and negative entries) for one
// repository so the next check goes upstream.
//
// @Summary      Forget documentation probes for a repository
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path  string  true  "Repository owner"
// @Param        repo   path  string  true  "Repository name"
// @Success      200  {object}  admin.RemovedResponse
// @Failure      400  {object}  core.Error
// @Failure      401  {object}  core.Error
// @Failure      503  {object}  core.Error
// @Router       /admin/api/v1/cache/docs/{owner}/{repo} [delete]
func (h *Handler) DeleteDocsCache(c echo.Context) error {
	owner := strings.TrimSpace(c.Param("owner"))
	repo := strings.TrimSpace(c.Param("repo"))
	if owner == "" || repo == "" {
		return badRequest(c, "owner and repo are required")
	}

	ns := cache.Namespace(cache.KindContent, owner, repo)
	n, err := h.cache.DeleteNamespace(c.Request().Context(), ns)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, RemovedResponse{Removed: n, Namespace: ns})
}
