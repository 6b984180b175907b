// Package capture produces high-resolution stills for the scan pipeline.
package capture

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/scan"
)

// ErrNoStill indicates the device delivered no usable frame for the still.
var ErrNoStill = errors.New("capture: device delivered no still frame")

// Config holds still capture configuration.
type Config struct {
	// Device is the capture device, same form as camera.Config.Device.
	Device string

	// Width and Height select the still resolution, typically the
	// device's maximum rather than the streaming resolution.
	Width  int
	Height int

	// OutputDir is where stills are written.
	OutputDir string

	// WarmupFrames are read and discarded before the still is taken, so
	// auto-exposure settles after the device reopens.
	WarmupFrames int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Device:       "0",
		Width:        1920,
		Height:       1080,
		OutputDir:    "captures",
		WarmupFrames: 3,
	}
}

// Sink implements scan.CaptureSink by reopening the capture device at
// still resolution and writing one JPEG to the output directory. The
// pipeline guarantees the streaming source is stopped first, so the device
// is free to reopen.
type Sink struct {
	cfg Config
	mu  sync.Mutex
}

// NewSink creates the output directory and returns a sink.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultConfig().OutputDir
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Sink{cfg: cfg}, nil
}

// Capture grabs one high-resolution frame and writes it as a JPEG.
func (s *Sink) Capture() (scan.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cap, err := gocv.OpenVideoCapture(s.cfg.Device)
	if err != nil {
		return scan.Artifact{}, fmt.Errorf("open capture device %q: %w", s.cfg.Device, err)
	}
	defer cap.Close()

	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))

	img := gocv.NewMat()
	defer img.Close()

	for i := 0; i <= s.cfg.WarmupFrames; i++ {
		if !cap.Read(&img) {
			return scan.Artifact{}, ErrNoStill
		}
	}
	if img.Empty() {
		return scan.Artifact{}, ErrNoStill
	}

	id := uuid.NewString()
	path := filepath.Join(s.cfg.OutputDir, id+".jpg")
	if !gocv.IMWrite(path, img) {
		return scan.Artifact{}, fmt.Errorf("write still %s", path)
	}

	log.Debug("still written", "path", path,
		"resolution", fmt.Sprintf("%dx%d", img.Cols(), img.Rows()))

	return scan.Artifact{
		ID:        id,
		Path:      path,
		CreatedAt: time.Now(),
	}, nil
}
