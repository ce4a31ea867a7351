// Package api exposes the engine to the view layer over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/backend"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/directory"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/models"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/session"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/timeseries"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/transport"
)

// Handler serves the view-facing API.
type Handler struct {
	directory *directory.Directory
	sessions  *session.Manager
	transport *transport.Transport
	fetcher   backend.Fetcher
	window    *timeseries.Window
	version   string
}

// NewHandler wires the engine components into the HTTP surface.
func NewHandler(dir *directory.Directory, sessions *session.Manager, tr *transport.Transport, fetcher backend.Fetcher, window *timeseries.Window, version string) *Handler {
	return &Handler{
		directory: dir,
		sessions:  sessions,
		transport: tr,
		fetcher:   fetcher,
		window:    window,
		version:   version,
	}
}

// HandleHealth reports liveness and version.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	})
}

// HandleGetDirectory returns the connectivity-aware catalog.
func (h *Handler) HandleGetDirectory(c echo.Context) error {
	return c.JSON(http.StatusOK, h.directory.Snapshot())
}

// HandleRefreshDirectory triggers an immediate refresh and returns the
// updated catalog.
func (h *Handler) HandleRefreshDirectory(c echo.Context) error {
	h.directory.Refresh(c.Request().Context())
	return c.JSON(http.StatusOK, h.directory.Snapshot())
}

// HandleGetServers returns the full per-server status list, including
// servers that never fetched successfully.
func (h *Handler) HandleGetServers(c echo.Context) error {
	return c.JSON(http.StatusOK, h.directory.ServerStatuses())
}

// HandleListSessions returns the session registry in tab order.
func (h *Handler) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.List())
}

type openSessionRequest struct {
	ObjectName string `json:"objectName"`
	ServerID   string `json:"serverId"`
}

// HandleOpenSession opens (or re-activates) a view of one object.
func (h *Handler) HandleOpenSession(c echo.Context) error {
	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid open request", err)
	}
	if req.ObjectName == "" || req.ServerID == "" {
		return NewBadRequestError("objectName and serverId are required", nil)
	}

	serverName, ok := h.directory.ServerName(req.ServerID)
	if !ok {
		return NewNotFoundError("server", req.ServerID)
	}

	info, err := h.sessions.Open(c.Request().Context(), req.ObjectName, req.ServerID, serverName)
	if err != nil {
		return NewUpstreamError("failed to open object view", err)
	}

	return c.JSON(http.StatusCreated, info)
}

// HandleGetSession returns one session's registry entry.
func (h *Handler) HandleGetSession(c echo.Context) error {
	key := c.Param("key")
	info, ok := h.sessions.Get(key)
	if !ok {
		return NewNotFoundError("session", key)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleGetSessionView returns the static view descriptor for a session.
func (h *Handler) HandleGetSessionView(c echo.Context) error {
	key := c.Param("key")
	view, ok := h.sessions.View(key)
	if !ok {
		return NewNotFoundError("session", key)
	}
	return c.JSON(http.StatusOK, view)
}

// HandleActivateSession brings one session to the foreground.
func (h *Handler) HandleActivateSession(c echo.Context) error {
	key := c.Param("key")
	if err := h.sessions.Activate(key); err != nil {
		return NewNotFoundError("session", key)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleCloseSession closes a session. Closing an unknown key is a no-op,
// matching the idempotent close contract.
func (h *Handler) HandleCloseSession(c echo.Context) error {
	h.sessions.Close(c.Param("key"))
	return c.NoContent(http.StatusNoContent)
}

// HandleChartSnapshot returns the retained samples of one chart metric.
func (h *Handler) HandleChartSnapshot(c echo.Context) error {
	samples, err := h.sessions.ChartSnapshot(c.Param("key"), c.Param("metric"))
	if err != nil {
		return NewNotFoundError("chart", c.Param("key")+"/"+c.Param("metric"))
	}
	return c.JSON(http.StatusOK, samples)
}

// HandleTransportStatus returns the push-channel state for the status
// indicator, plus the capability set advertised on connect.
func (h *Handler) HandleTransportStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"transport":    h.transport.Status(),
		"capabilities": h.transport.Capabilities(),
	})
}

// HandleTransportRetry triggers a manual reconnect after the transport has
// exhausted its automatic attempts.
func (h *Handler) HandleTransportRetry(c echo.Context) error {
	if h.transport.Phase() != models.TransportClosed {
		return NewBadRequestError("transport is not closed", nil)
	}
	go h.transport.Retry()
	return c.NoContent(http.StatusAccepted)
}

type pollIntervalRequest struct {
	PollIntervalMs int `json:"pollIntervalMs"`
}

// HandleSetPollInterval updates the process-wide poll interval and
// persists it upstream fire-and-forget: persistence failure is logged,
// never surfaced to the operator.
func (h *Handler) HandleSetPollInterval(c echo.Context) error {
	var req pollIntervalRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid settings request", err)
	}
	if req.PollIntervalMs < 100 {
		return NewBadRequestError("pollIntervalMs must be at least 100", nil)
	}

	h.transport.SetPollInterval(time.Duration(req.PollIntervalMs) * time.Millisecond)
	h.sessions.ApplyPollInterval()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.fetcher.SavePollInterval(ctx, req.PollIntervalMs); err != nil {
			fmt.Printf("[API] Failed to persist poll interval: %v\n", err)
		}
	}()

	return c.NoContent(http.StatusNoContent)
}

type timeRangeRequest struct {
	TimeRangeSeconds int `json:"timeRangeSeconds"`
}

// HandleSetTimeRange updates the process-wide chart window. Every open
// buffer prunes against the new window on its next read.
func (h *Handler) HandleSetTimeRange(c echo.Context) error {
	var req timeRangeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid settings request", err)
	}
	if req.TimeRangeSeconds <= 0 {
		return NewBadRequestError("timeRangeSeconds must be positive", nil)
	}

	h.window.SetSeconds(req.TimeRangeSeconds)
	return c.NoContent(http.StatusNoContent)
}
