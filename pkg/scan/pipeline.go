package scan

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quicklens/snapmark/internal/log"
)

// Sentinel errors for the scan package.
var (
	// ErrAlreadyRunning indicates Run was called on a running controller.
	ErrAlreadyRunning = errors.New("scan: pipeline already running")

	// ErrClosed indicates the controller has been shut down.
	ErrClosed = errors.New("scan: pipeline closed")
)

// FrameSource emits raw video frames at its own cadence. The pipeline
// never calls it concurrently with itself.
type FrameSource interface {
	// Start begins frame delivery, invoking onFrame for every frame until
	// Stop. Delivery happens on the source's own goroutine.
	Start(onFrame func(Frame)) error

	// Stop halts frame delivery. Idempotent. Stop may join the delivery
	// goroutine; the pipeline never calls it from inside onFrame.
	Stop() error

	// IsActive reports whether the source is currently delivering frames.
	IsActive() bool
}

// ObjectDetector finds object bounding boxes in a normalized frame.
// May be slow relative to the frame rate; must be callable repeatedly.
type ObjectDetector interface {
	Detect(in NormalizedInput) ([]DetectedObject, error)
}

// MarkerDetector finds marker bounding boxes in a normalized frame.
type MarkerDetector interface {
	Detect(in NormalizedInput) ([]DetectedMarker, error)
}

// CaptureSink produces a high-resolution still. The frame stream is
// guaranteed to be stopped before Capture is called.
type CaptureSink interface {
	Capture() (Artifact, error)
}

// StatusReporter receives human-readable state transitions for display.
// Implementations must be best effort and must never block the pipeline.
type StatusReporter interface {
	Report(msg string)
}

// nopReporter is used when no reporter is configured.
type nopReporter struct{}

func (nopReporter) Report(string) {}

// Config holds pipeline tunables.
type Config struct {
	// MarkerKind is the only marker kind that participates in fusion.
	MarkerKind MarkerKind

	// Cooldown is how long streaming stays paused after a successful
	// capture. Must be long enough for the sink to fully release the
	// frame stream before restart is attempted.
	Cooldown time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MarkerKind: KindQR,
		Cooldown:   800 * time.Millisecond,
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesSeen      uint64 `json:"frames_seen"`
	FramesDropped   uint64 `json:"frames_dropped"`
	RoundsCompleted uint64 `json:"rounds_completed"`
	DetectErrors    uint64 `json:"detect_errors"`
	Captures        uint64 `json:"captures"`
	CaptureErrors   uint64 `json:"capture_errors"`

	State          State    `json:"-"`
	LastDecision   Decision `json:"-"`
	LastStatus     string   `json:"last_status"`
	PreviewVisible bool     `json:"preview_visible"`
}

// Controller owns the capture state machine. All pipeline state lives here
// and is mutated only under mu, giving the single-writer discipline the
// frame callback and the cooldown timer both go through.
//
// Backpressure is the in-flight guard alone: any frame that arrives while a
// detection round is executing, or while the state is not Streaming, is
// dropped immediately. No queue, no buffering, no backlog.
type Controller struct {
	cfg      Config
	source   FrameSource
	objects  ObjectDetector
	markers  MarkerDetector
	sink     CaptureSink
	reporter StatusReporter

	// OnCapture, if set before Run, is invoked on its own goroutine after
	// each successful capture. Failures inside it never reach the state
	// machine.
	OnCapture func(Artifact)

	// OnPreview, if set before Run, receives each frame whose decision
	// keeps the live preview visible. Invoked on its own goroutine;
	// dropped frames never reach it.
	OnPreview func(Frame)

	mu           sync.Mutex
	state        State
	inFlight     bool
	running      bool
	closed       bool
	lastArtifact *Artifact
	lastDecision Decision
	lastStatus   string
	resume       *time.Timer

	framesSeen    uint64
	framesDropped uint64
	rounds        uint64
	detectErrors  uint64
	captures      uint64
	captureErrors uint64
}

// NewController wires the pipeline collaborators together. A nil reporter
// is replaced with a no-op one.
func NewController(cfg Config, source FrameSource, objects ObjectDetector, markers MarkerDetector, sink CaptureSink, reporter StatusReporter) *Controller {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.MarkerKind == "" {
		cfg.MarkerKind = DefaultConfig().MarkerKind
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Controller{
		cfg:      cfg,
		source:   source,
		objects:  objects,
		markers:  markers,
		sink:     sink,
		reporter: reporter,
		state:    Streaming,
	}
}

// Run starts the frame source and begins scanning. An acquisition failure
// here is fatal: it is returned once and the pipeline never enters
// streaming.
func (c *Controller) Run() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.state = Streaming
	c.mu.Unlock()

	if err := c.source.Start(c.onFrame); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return fmt.Errorf("start frame source: %w", err)
	}

	log.Info("scan pipeline running",
		"marker_kind", string(c.cfg.MarkerKind),
		"cooldown", c.cfg.Cooldown)
	return nil
}

// onFrame is the FrameSource delivery callback. It applies the in-flight
// guard: at most one detection round at a time, and frames arriving outside
// Streaming are discarded with no processing and no queuing.
func (c *Controller) onFrame(f Frame) {
	c.mu.Lock()
	c.framesSeen++
	if c.closed || c.state != Streaming || c.inFlight {
		c.framesDropped++
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	c.runRound(f)
}

// runRound executes one detection round on the delivery goroutine:
// normalize, object detect, marker detect (only when objects were found),
// decide, act. The guard stays set until the round completes.
func (c *Controller) runRound(f Frame) {
	in, err := Normalize(f)
	if err != nil {
		c.roundFailed("normalize", err)
		return
	}

	objects, err := c.objects.Detect(in)
	if err != nil {
		c.roundFailed("object detect", err)
		return
	}

	// Second cascade stage runs only when something is in the scene.
	var markers []DetectedMarker
	if len(objects) > 0 {
		markers, err = c.markers.Detect(in)
		if err != nil {
			c.roundFailed("marker detect", err)
			return
		}
	}

	c.finishRound(f, Decide(objects, markers, c.cfg.MarkerKind))
}

// roundFailed absorbs a per-frame detection error: counted, logged at
// debug, guard cleared, no state transition. A single bad frame must not
// halt scanning; the next frame is evaluated normally.
func (c *Controller) roundFailed(stage string, err error) {
	log.Debug("detection round abandoned", "stage", stage, "error", err)

	c.mu.Lock()
	c.detectErrors++
	c.inFlight = false
	c.mu.Unlock()
}

// finishRound clears the guard, records the decision, reports the status
// category, and begins the Capturing leg when the decision calls for it.
func (c *Controller) finishRound(f Frame, d Decision) {
	b := BehaviorFor(d)

	c.mu.Lock()
	c.rounds++
	c.inFlight = false
	c.lastDecision = d
	c.lastStatus = b.Status
	closed := c.closed
	capture := b.TriggerCapture && !closed && c.state == Streaming
	if capture {
		c.state = Capturing
	}
	onPreview := c.OnPreview
	c.mu.Unlock()

	if closed {
		return
	}

	c.reporter.Report(b.Status)

	if b.ShowPreview && onPreview != nil {
		go onPreview(f)
	}

	if capture {
		// Off the delivery goroutine: sources may join it in Stop. The
		// Capturing state set above keeps at most one capture outstanding.
		go c.capture()
	}
}

// capture runs the Capturing state. The frame source is stopped before the
// sink is invoked (producer/sink mutual exclusion). Runs on its own
// goroutine, never on the source's delivery goroutine.
func (c *Controller) capture() {
	if err := c.source.Stop(); err != nil {
		log.Warn("stopping frame source before capture", "error", err)
	}

	art, err := c.sink.Capture()
	if err != nil {
		// No artifact was produced and no sink teardown is pending, so
		// streaming resumes immediately with no cooldown.
		c.mu.Lock()
		c.captureErrors++
		closed := c.closed
		c.mu.Unlock()

		log.Error("capture failed", "error", err)
		if closed {
			return
		}
		c.reporter.Report("capture failed: " + err.Error())
		c.restartStreaming()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.captures++
	c.lastArtifact = &art
	c.state = CoolingDown
	c.resume = time.AfterFunc(c.cfg.Cooldown, c.resumeStreaming)
	onCapture := c.OnCapture
	c.mu.Unlock()

	log.Info("capture complete", "artifact", art.ID, "path", art.Path)

	if onCapture != nil {
		go onCapture(art)
	}
}

// resumeStreaming fires once the cooldown delay has elapsed.
func (c *Controller) resumeStreaming() {
	c.mu.Lock()
	if c.closed || c.state != CoolingDown {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.restartStreaming()
}

// restartStreaming re-requests frames from the source. A failed restart is
// fatal for this episode: reported once, left non-streaming, never retried
// automatically. Once Shutdown has begun the restart is abandoned, and a
// source started in a race with Shutdown is stopped again.
func (c *Controller) restartStreaming() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.source.Start(c.onFrame); err != nil {
		log.Error("frame source restart failed", "error", err)
		c.reporter.Report("scanner stopped: " + err.Error())
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.source.Stop()
		return
	}
	c.state = Streaming
	c.mu.Unlock()
}

// Shutdown stops the pipeline: the frame source is stopped, any pending
// cooldown resume is cancelled, and no further state transitions occur. An
// in-flight round is allowed to finish; its outcome is discarded.
func (c *Controller) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.resume != nil {
		c.resume.Stop()
	}
	c.mu.Unlock()

	return c.source.Stop()
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastArtifact returns the most recent capture artifact, if any. A new
// capture replaces the previous reference.
func (c *Controller) LastArtifact() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastArtifact == nil {
		return Artifact{}, false
	}
	return *c.lastArtifact, true
}

// Stats returns a snapshot of pipeline counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		FramesSeen:      c.framesSeen,
		FramesDropped:   c.framesDropped,
		RoundsCompleted: c.rounds,
		DetectErrors:    c.detectErrors,
		Captures:        c.captures,
		CaptureErrors:   c.captureErrors,
		State:           c.state,
		LastDecision:    c.lastDecision,
		LastStatus:      c.lastStatus,
		PreviewVisible:  BehaviorFor(c.lastDecision).ShowPreview,
	}
}
