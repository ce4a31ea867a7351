// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.HTTPErrorHandler = ErrorHandler

	e.GET("/api/health", h.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Directory
	dirGroup := e.Group("/api/directory")
	dirGroup.GET("", h.HandleGetDirectory)
	dirGroup.POST("/refresh", h.HandleRefreshDirectory)
	dirGroup.GET("/servers", h.HandleGetServers)

	// Sessions
	sessGroup := e.Group("/api/sessions")
	sessGroup.GET("", h.HandleListSessions)
	sessGroup.POST("", h.HandleOpenSession)
	sessGroup.GET("/:key", h.HandleGetSession)
	sessGroup.GET("/:key/view", h.HandleGetSessionView)
	sessGroup.POST("/:key/activate", h.HandleActivateSession)
	sessGroup.DELETE("/:key", h.HandleCloseSession)
	sessGroup.GET("/:key/charts/:metric", h.HandleChartSnapshot)
	sessGroup.GET("/:key/charts/:metric/msgpack", h.HandleChartSnapshotMsgpack)

	// Transport
	transGroup := e.Group("/api/transport")
	transGroup.GET("/status", h.HandleTransportStatus)
	transGroup.POST("/retry", h.HandleTransportRetry)

	// Settings
	settingsGroup := e.Group("/api/settings")
	settingsGroup.PUT("/poll-interval", h.HandleSetPollInterval)
	settingsGroup.PUT("/time-range", h.HandleSetTimeRange)
}
