package web

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/quicklens/snapmark/internal/database"
	"github.com/quicklens/snapmark/pkg/hub"
	"github.com/quicklens/snapmark/pkg/scan"
)

// StatusResponse is the dashboard's view of the scanner.
type StatusResponse struct {
	State        string         `json:"state"`
	Stats        scan.Stats     `json:"stats"`
	LastArtifact *scan.Artifact `json:"last_artifact,omitempty"`
}

// handleStatus returns the scanner's current state and counters.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		State: s.scanner.State().String(),
		Stats: s.scanner.Stats(),
	}
	if artifact, ok := s.scanner.LastArtifact(); ok {
		resp.LastArtifact = &artifact
	}
	return c.JSON(resp)
}

// handleCaptures returns recent capture events, newest first.
func (s *Server) handleCaptures(c *fiber.Ctx) error {
	if s.store == nil {
		return c.JSON([]database.CaptureEvent{})
	}

	limit := c.QueryInt("limit", 50)
	events, err := s.store.Recent(limit)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if events == nil {
		events = []database.CaptureEvent{}
	}
	return c.JSON(events)
}

// handleStatusWS streams status updates to a dashboard client.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	// Send the current snapshot before joining the broadcast hub
	c.WriteJSON(StatusResponse{
		State: s.scanner.State().String(),
		Stats: s.scanner.Stats(),
	})

	client := hub.NewClient(s.statusHub, c)
	client.Run() // Blocks until connection closes
}

// handlePreviewWS streams JPEG preview frames to a dashboard client.
func (s *Server) handlePreviewWS(c *websocket.Conn) {
	client := hub.NewClient(s.previewHub, c)
	client.Run()
}
