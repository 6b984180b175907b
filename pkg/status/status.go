// Package status delivers human-readable pipeline transitions to their
// display surfaces. Every reporter is best effort: a reporter may drop
// messages but must never block or fail the pipeline.
package status

import (
	"time"

	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/hub"
)

// Update is the JSON shape broadcast to dashboard clients.
type Update struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// LogReporter writes transitions to the structured log.
type LogReporter struct{}

// Report logs the status line.
func (LogReporter) Report(msg string) {
	log.Info("scanner status", "status", msg)
}

// HubReporter broadcasts transitions to dashboard websocket clients.
// The hub already drops on backpressure, so Report never blocks.
type HubReporter struct {
	Hub *hub.Hub
}

// Report broadcasts the status line.
func (r HubReporter) Report(msg string) {
	if r.Hub == nil {
		return
	}
	_ = r.Hub.BroadcastJSON(Update{
		Status: msg,
		Time:   time.Now().Format(time.RFC3339),
	})
}

// Multi fans a report out to several reporters.
type Multi []interface{ Report(string) }

// Report forwards the status line to every reporter.
func (m Multi) Report(msg string) {
	for _, r := range m {
		r.Report(msg)
	}
}
