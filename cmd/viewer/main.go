package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/api"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/backend"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/config"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/directory"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/renderer"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/session"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/timeseries"
	"github.com/Etersoft/uniset2-viewer-go-sub001/internal/transport"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	configPath := filepath.Join(exeDir, "uniset-viewer.xml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	servers, err := config.LoadServers(cfg.Upstream.ServersFile)
	if err != nil {
		fmt.Printf("Failed to load server list: %v\n", err)
		os.Exit(1)
	}

	client := backend.NewHTTPClient(cfg.Upstream.AggregatorURL,
		time.Duration(cfg.Upstream.FetchTimeoutSeconds)*time.Second)

	dir := directory.New(servers, client)

	tr := transport.New(transport.Config{
		URL:                  cfg.Upstream.AggregatorURL,
		BaseDelay:            time.Duration(cfg.Transport.BaseDelayMs) * time.Millisecond,
		MaxDelay:             time.Duration(cfg.Transport.MaxDelayMs) * time.Millisecond,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		PollInterval:         time.Duration(cfg.Transport.PollIntervalMs) * time.Millisecond,
	})

	window := timeseries.NewWindow(cfg.Charts.TimeRangeSeconds)
	registry := renderer.NewRegistry()
	sessionMgr := session.NewManager(tr, client, registry, window)

	// Sessions switch between push delivery and self-polling on every
	// transport phase transition; directory broadcasts trigger a refresh.
	tr.OnPhaseChange(sessionMgr.HandlePhaseChange)
	tr.OnDirectoryChanged(func() {
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Upstream.FetchTimeoutSeconds)*time.Second)
		defer cancel()
		dir.Refresh(ctx)
	})

	ctx := context.Background()
	dir.Refresh(ctx)
	go tr.Connect(ctx)

	// Background directory refresh
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Upstream.RefreshIntervalSeconds) * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			refreshCtx, cancel := context.WithTimeout(ctx,
				time.Duration(cfg.Upstream.FetchTimeoutSeconds)*time.Second)
			dir.Refresh(refreshCtx)
			cancel()
		}
	}()

	h := api.NewHandler(dir, sessionMgr, tr, client, window, Version)

	e := echo.New()

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.Contains(path, "/charts/") ||
				path == "/api/health" ||
				path == "/metrics"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.RegisterRoutes(e, h)

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("UniSet2 Viewer %s (built %s)\n", Version, BuildTime)
	fmt.Printf("  Config:     %s\n", configPath)
	fmt.Printf("  Aggregator: %s\n", cfg.Upstream.AggregatorURL)
	fmt.Printf("  Servers:    %d configured\n", len(servers))
	fmt.Printf("  Listen:     http://%s\n\n", cfg.GetServerAddr())

	e.Logger.Fatal(e.StartServer(s))
}
