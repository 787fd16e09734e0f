// Package server provides HTTP handlers and server setup for the dashboard API.
package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"gitpulse/internal/core"
	"gitpulse/internal/dashboard"
)

// Dashboard is the operation set served under /api/v1/repos.
// *dashboard.Service satisfies this interface.
type Dashboard interface {
	FetchRepository(ctx context.Context, owner, repo string) *core.Repository
	FetchContributors(ctx context.Context, owner, repo string) []core.Contributor
	FetchIssues(ctx context.Context, owner, repo, state string) []core.Issue
	FetchPullRequests(ctx context.Context, owner, repo, state string) []core.PullRequest
	FetchCommitActivity(ctx context.Context, owner, repo string) []core.CommitActivityWeek
	FetchCodeFrequency(ctx context.Context, owner, repo string) []core.CodeFrequencyWeek
	FetchReleases(ctx context.Context, owner, repo string) []core.Release
	CheckDocumentationFiles(ctx context.Context, owner, repo string) *dashboard.DocumentationReport
	FetchSummary(ctx context.Context, owner, repo string) *dashboard.Summary
}

// Handler holds the HTTP handlers
type Handler struct {
	svc           Dashboard
	notifications *dashboard.Recorder
}

// NewHandler creates a new handler over the dashboard service.
// notifications may be nil.
func NewHandler(svc Dashboard, notifications *dashboard.Recorder) *Handler {
	return &Handler{
		svc:           svc,
		notifications: notifications,
	}
}

// FailureResponse is returned when a dashboard operation yields no result.
type FailureResponse struct {
	Error        ErrorBody              `json:"error"`
	Notification dashboard.Notification `json:"notification"`
}

// ErrorBody is the error object shared by every non-2xx response.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// GitHub owner and repository names: letters, digits, '.', '-' and '_'.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// ValidateRepoParams rejects malformed :owner and :repo path parameters.
func ValidateRepoParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		owner, repo := c.Param("owner"), c.Param("repo")
		if !namePattern.MatchString(owner) || !namePattern.MatchString(repo) || owner == "." || owner == ".." || repo == "." || repo == ".." {
			return invalidRequest(c, "invalid repository name "+owner+"/"+repo)
		}
		return next(c)
	}
}

// respond writes v, or the notification captured for the failed operation.
func respond[T any](c echo.Context, capture *dashboard.Capture, v T, failed bool) error {
	if !failed {
		return c.JSON(http.StatusOK, v)
	}
	n, ok := capture.Last()
	if !ok {
		return handleError(c, errors.New("operation returned no result"))
	}
	return c.JSON(n.Status, FailureResponse{
		Error:        ErrorBody{Type: string(n.Kind), Message: n.Message},
		Notification: n,
	})
}

func captureContext(c echo.Context) (context.Context, *dashboard.Capture) {
	return dashboard.WithCapture(c.Request().Context())
}

func listState(c echo.Context) (string, bool) {
	switch s := c.QueryParam("state"); s {
	case "":
		return "open", true
	case "open", "closed", "all":
		return s, true
	default:
		return "", false
	}
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetRepository handles GET /api/v1/repos/:owner/:repo
//
// @Summary      Get repository
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path  string  true  "Repository owner"
// @Param        repo   path  string  true  "Repository name"
// @Success      200  {object}  core.Repository
// @Failure      404  {object}  server.FailureResponse
// @Failure      429  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo} [get]
func (h *Handler) GetRepository(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchRepository(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// ListContributors handles GET /api/v1/repos/:owner/:repo/contributors
//
// @Summary      List contributors
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path  string  true  "Repository owner"
// @Param        repo   path  string  true  "Repository name"
// @Success      200  {array}   core.Contributor
// @Failure      404  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo}/contributors [get]
func (h *Handler) ListContributors(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchContributors(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// ListIssues handles GET /api/v1/repos/:owner/:repo/issues
//
// @Summary      List issues (pull requests excluded)
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path   string  true   "Repository owner"
// @Param        repo   path   string  true   "Repository name"
// @Param        state  query  string  false  "open, closed or all (default open)"
// @Success      200  {array}   core.Issue
// @Failure      400  {object}  server.ErrorBody
// @Failure      404  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo}/issues [get]
func (h *Handler) ListIssues(c echo.Context) error {
	state, ok := listState(c)
	if !ok {
		return invalidRequest(c, "state must be one of open, closed, all")
	}
	ctx, capture := captureContext(c)
	v := h.svc.FetchIssues(ctx, c.Param("owner"), c.Param("repo"), state)
	return respond(c, capture, v, v == nil)
}

// ListPullRequests handles GET /api/v1/repos/:owner/:repo/pulls
//
// @Summary      List pull requests
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path   string  true   "Repository owner"
// @Param        repo   path   string  true   "Repository name"
// @Param        state  query  string  false  "open, closed or all (default open)"
// @Success      200  {array}   core.PullRequest
// @Failure      400  {object}  server.ErrorBody
// @Failure      404  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo}/pulls [get]
func (h *Handler) ListPullRequests(c echo.Context) error {
	state, ok := listState(c)
	if !ok {
		return invalidRequest(c, "state must be one of open, closed, all")
	}
	ctx, capture := captureContext(c)
	v := h.svc.FetchPullRequests(ctx, c.Param("owner"), c.Param("repo"), state)
	return respond(c, capture, v, v == nil)
}

// GetCommitActivity handles GET /api/v1/repos/:owner/:repo/stats/commit_activity
func (h *Handler) GetCommitActivity(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchCommitActivity(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// GetCodeFrequency handles GET /api/v1/repos/:owner/:repo/stats/code_frequency
func (h *Handler) GetCodeFrequency(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchCodeFrequency(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// ListReleases handles GET /api/v1/repos/:owner/:repo/releases
func (h *Handler) ListReleases(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchReleases(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// CheckDocumentation handles GET /api/v1/repos/:owner/:repo/docs
//
// @Summary      Check documentation files
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path  string  true  "Repository owner"
// @Param        repo   path  string  true  "Repository name"
// @Success      200  {object}  dashboard.DocumentationReport
// @Failure      502  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo}/docs [get]
func (h *Handler) CheckDocumentation(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.CheckDocumentationFiles(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// GetSummary handles GET /api/v1/repos/:owner/:repo/summary
//
// @Summary      Repository summary
// @Tags         repos
// @Produce      json
// @Security     BearerAuth
// @Param        owner  path  string  true  "Repository owner"
// @Param        repo   path  string  true  "Repository name"
// @Success      200  {object}  dashboard.Summary
// @Failure      404  {object}  server.FailureResponse
// @Router       /api/v1/repos/{owner}/{repo}/summary [get]
func (h *Handler) GetSummary(c echo.Context) error {
	ctx, capture := captureContext(c)
	v := h.svc.FetchSummary(ctx, c.Param("owner"), c.Param("repo"))
	return respond(c, capture, v, v == nil)
}

// ListNotifications handles GET /api/v1/notifications
//
// @Summary      Recent failure notifications, newest first
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query  int  false  "Maximum number of notifications"
// @Success      200  {array}  dashboard.Notification
// @Router       /api/v1/notifications [get]
func (h *Handler) ListNotifications(c echo.Context) error {
	if h.notifications == nil {
		return c.JSON(http.StatusOK, []dashboard.Notification{})
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return c.JSON(http.StatusOK, h.notifications.Recent(limit))
}

func invalidRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]interface{}{
		"error": ErrorBody{Type: "invalid_request", Message: message},
	})
}

// handleError converts pipeline errors to appropriate HTTP responses
func handleError(c echo.Context, err error) error {
	var appErr *core.Error
	if errors.As(err, &appErr) {
		return c.JSON(appErr.HTTPStatusCode(), appErr.ToJSON())
	}

	// Fallback for unexpected errors
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
