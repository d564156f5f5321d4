// Package api exposes the HTTP surface: the downloads management REST API,
// the local file server and the realtime websocket endpoint. The addon
// protocol endpoints are mounted at the root alongside them.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/offlinio/offlinio/internal/addon"
	"github.com/offlinio/offlinio/internal/config"
	"github.com/offlinio/offlinio/internal/orchestrator"
	"github.com/offlinio/offlinio/internal/storage"
	"github.com/offlinio/offlinio/internal/store"
	"github.com/offlinio/offlinio/internal/websocket"
)

// DownloadManager drives download lifecycles. Implemented by the
// orchestrator.
type DownloadManager interface {
	Start(ctx context.Context, contentID string, meta orchestrator.Metadata, src orchestrator.Source) (*orchestrator.StartResult, error)
	StartAuto(ctx context.Context, contentID string, meta orchestrator.Metadata) (*orchestrator.StartResult, error)
	Pause(ctx context.Context, contentID string) error
	Resume(ctx context.Context, contentID string) error
	Delete(ctx context.Context, contentID string) error
}

// Server handles HTTP requests for the Offlinio API.
type Server struct {
	echo      *echo.Echo
	store     *store.Store
	storage   *storage.Service
	manager   DownloadManager
	hub       *websocket.Hub
	cfg       *config.Config
	logger    zerolog.Logger
	startedAt time.Time
}

// NewServer creates the API server and wires all routes.
func NewServer(st *store.Store, sto *storage.Service, manager DownloadManager, hub *websocket.Hub, cfg *config.Config, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		store:     st,
		storage:   sto,
		manager:   manager,
		hub:       hub,
		cfg:       cfg,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.echo.Use(middleware.Recover())

	// Request ID
	s.echo.Use(middleware.RequestID())

	// Body limit: all JSON bodies are small, media only goes out.
	s.echo.Use(middleware.BodyLimit("2M"))

	// CORS: catalog clients load the manifest cross-origin.
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))

	// Gzip compression
	s.echo.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// Skip compression for WebSocket and media streaming
			if c.Request().Header.Get("Upgrade") == "websocket" {
				return true
			}
			return len(c.Path()) >= 7 && c.Path()[:7] == "/files/"
		},
	}))
}

// setupRoutes configures routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/", s.getRoot)
	s.echo.GET("/health", s.healthCheck)

	// Addon protocol endpoints live at the root, where clients expect them.
	addonHandlers := addon.NewHandlers(s.store, s.manager, s.baseURL(), s.logger)
	addonHandlers.RegisterRoutes(s.echo)

	// Downloads management API
	downloads := s.echo.Group("/api/downloads")
	downloads.POST("", s.createDownload)
	downloads.POST("/magnet", s.createMagnetDownload)
	downloads.GET("", s.listDownloads)
	downloads.GET("/stats/storage", s.getStorageStats)
	downloads.GET("/:contentId", s.getDownload)
	downloads.DELETE("/:contentId", s.deleteDownload)
	downloads.PATCH("/:contentId/status", s.updateDownloadStatus)

	// Local media file server
	s.echo.GET("/files/*", s.serveFile)

	// Realtime progress events
	if s.hub != nil {
		s.echo.GET("/ws", s.hub.HandleWebSocket)
	}
}

// Start begins listening for HTTP requests.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) baseURL() string {
	return fmt.Sprintf("http://%s", s.cfg.Server.Address())
}

func (s *Server) getRoot(c echo.Context) error {
	base := s.baseURL()
	return c.JSON(http.StatusOK, map[string]string{
		"name":        "Offlinio",
		"version":     config.Version,
		"description": "Personal Media Downloader",
		"manifest":    base + "/manifest.json",
		"health":      base + "/health",
	})
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "healthy",
		"version":       config.Version,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
	})
}
