package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/scan"
)

// Sentinel errors for the camera package.
var (
	// ErrAlreadyStreaming indicates Start was called while active.
	ErrAlreadyStreaming = errors.New("camera: source already streaming")
)

// Source streams frames from a local capture device. Implements
// scan.FrameSource: frames are delivered on the source's own goroutine,
// each with a freshly copied single packed BGR plane, so the pipeline can
// hold a frame for the duration of a round without the device reusing it.
type Source struct {
	cfg Config

	mu     sync.Mutex
	cap    *gocv.VideoCapture
	active bool
	stop   chan struct{}
	done   chan struct{}
	seq    uint64
}

// NewSource validates the configuration and returns an unopened source.
// The device itself is acquired on Start.
func NewSource(cfg Config) (*Source, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("camera: invalid config: %v", errs)
	}
	return &Source{cfg: cfg}, nil
}

// Start opens the device and begins delivering frames to onFrame.
// Returns an acquisition error if the device cannot be opened.
func (s *Source) Start(onFrame func(scan.Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return ErrAlreadyStreaming
	}

	cap, err := gocv.OpenVideoCapture(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("open capture device %q: %w", s.cfg.Device, err)
	}
	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.cfg.Width))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.cfg.Height))
	cap.Set(gocv.VideoCaptureFPS, float64(s.cfg.Framerate))

	s.cap = cap
	s.active = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(onFrame, cap, s.stop, s.done)

	log.Info("camera streaming", "device", s.cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", s.cfg.Width, s.cfg.Height))
	return nil
}

// loop reads frames until stopped. Read failures are logged and retried;
// the device owns its own pacing.
func (s *Source) loop(onFrame func(scan.Frame), cap *gocv.VideoCapture, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	img := gocv.NewMat()
	defer img.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if !cap.Read(&img) {
			log.Warn("camera read failed", "device", s.cfg.Device)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if img.Empty() {
			continue
		}

		// ToBytes copies, so the frame owns its plane buffer.
		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		onFrame(scan.Frame{
			Planes: []scan.Plane{{
				Data:        img.ToBytes(),
				BytesPerRow: img.Cols() * img.Channels(),
			}},
			Width:     img.Cols(),
			Height:    img.Rows(),
			Format:    scan.FormatBGR,
			Rotation:  s.cfg.Rotation,
			Seq:       seq,
			Timestamp: time.Now(),
		})
	}
}

// Stop halts frame delivery and releases the device. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	stop, done, cap := s.stop, s.done, s.cap
	s.cap = nil
	s.mu.Unlock()

	close(stop)
	<-done

	if err := cap.Close(); err != nil {
		return fmt.Errorf("close capture device: %w", err)
	}
	return nil
}

// IsActive reports whether the source is currently delivering frames.
func (s *Source) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Probe opens and immediately releases a device, reporting whether it can
// deliver frames. Used by device discovery and pre-flight checks.
func Probe(device string) error {
	cap, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("open capture device %q: %w", device, err)
	}
	defer cap.Close()

	img := gocv.NewMat()
	defer img.Close()
	if !cap.Read(&img) || img.Empty() {
		return fmt.Errorf("device %q opened but delivered no frame", device)
	}
	return nil
}
