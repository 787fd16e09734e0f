package admin

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"gitpulse/internal/version"
)

// Overview handles GET /admin/api/v1/overview.
//
// @Summary      Service and cache overview
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  admin.OverviewResponse
// @Failure      503  {object}  core.Error
// @Router       /admin/api/v1/overview [get]
func (h *Handler) Overview(c echo.Context) error {
	stats, err := h.cache.Stats(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(http.StatusOK, OverviewResponse{
		CacheBackend:   h.backend,
		CacheTTL:       h.cache.TTL().String(),
		CacheEntries:   stats.Count,
		CacheSizeHuman: stats.TotalSizeHuman,
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		Version:        version.Version,
		GoVersion:      runtime.Version(),
	})
}
