// Package web provides the real-time scanner dashboard: REST endpoints for
// scanner state and capture history, plus websocket feeds for live status
// updates and preview frames.
package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/quicklens/snapmark/internal/database"
	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/hub"
	"github.com/quicklens/snapmark/pkg/scan"
)

// Scanner is the subset of the pipeline controller the dashboard reads from.
type Scanner interface {
	State() scan.State
	Stats() scan.Stats
	LastArtifact() (scan.Artifact, bool)
}

// Server is the web dashboard server.
type Server struct {
	app  *fiber.App
	port string

	scanner Scanner
	store   *database.Store

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	previewHub *hub.Hub
}

// NewServer creates a new dashboard server. store may be nil, in which case
// the capture history endpoints return empty results. statusHub may be nil
// to have the server create its own.
func NewServer(port string, scanner Scanner, store *database.Store, captureDir string, statusHub *hub.Hub) *Server {
	if statusHub == nil {
		statusHub = hub.New("status")
	}
	s := &Server{
		port:       port,
		scanner:    scanner,
		store:      store,
		statusHub:  statusHub,
		previewHub: hub.New("preview"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Snapmark Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	// Static files
	app.Static("/", "./web")
	if captureDir != "" {
		app.Static("/captures", captureDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/captures", s.handleCaptures)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket routes
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))

	s.app = app
	return s
}

// Start starts the web server and blocks until it is shut down.
func (s *Server) Start() error {
	log.Info("dashboard listening", "addr", "http://localhost:"+s.port)

	go s.statusHub.Run()
	go s.previewHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			log.Error("dashboard server stopped", "error", err)
		}
	}()
}

// Authorizer grants access to an external archive through an OAuth consent
// flow. The dashboard hosts the redirect endpoint the flow lands on.
type Authorizer interface {
	AuthURL() string
	HandleCallback(code string) error
}

// RegisterArchiveAuth mounts the archive authorization flow:
// /api/archive/auth redirects to the provider's consent page and
// /api/archive/callback completes the code exchange. Call before Start.
func (s *Server) RegisterArchiveAuth(a Authorizer) {
	s.app.Get("/api/archive/auth", func(c *fiber.Ctx) error {
		return c.Redirect(a.AuthURL(), fiber.StatusTemporaryRedirect)
	})
	s.app.Get("/api/archive/callback", func(c *fiber.Ctx) error {
		code := c.Query("code")
		if code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "missing code parameter",
			})
		}
		if err := a.HandleCallback(code); err != nil {
			log.Error("archive authorization failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Info("archive authorized")
		return c.SendString("Archive authorized. You can close this window.")
	})
}

// StatusHub returns the status hub so the scanner can be wired to it.
func (s *Server) StatusHub() *hub.Hub {
	return s.statusHub
}

// SendPreviewFrame broadcasts a JPEG preview frame to connected clients.
func (s *Server) SendPreviewFrame(jpegData []byte) {
	s.previewHub.BroadcastBinary(jpegData)
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
