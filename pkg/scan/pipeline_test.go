package scan

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// mockSource records Start/Stop calls and lets tests deliver frames through
// the registered callback, including while the source is stopped (a frame
// "arriving" during Capturing/CoolingDown).
type mockSource struct {
	mu       sync.Mutex
	onFrame  func(Frame)
	starts   int
	stops    int
	active   bool
	startErr error
}

func (s *mockSource) Start(onFrame func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.onFrame = onFrame
	s.active = true
	return nil
}

func (s *mockSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.active = false
	return nil
}

func (s *mockSource) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *mockSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// deliver pushes a frame through the callback, synchronously, like a camera
// delivery goroutine would.
func (s *mockSource) deliver(f Frame) {
	s.mu.Lock()
	fn := s.onFrame
	s.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// mockObjects returns scripted results per call. If block is non-nil,
// Detect waits on it after signalling entry via entered.
type mockObjects struct {
	mu      sync.Mutex
	calls   int
	results [][]DetectedObject
	errs    []error
	block   chan struct{}
	entered chan struct{}
}

func (m *mockObjects) Detect(in NormalizedInput) ([]DetectedObject, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.results) {
		return m.results[idx], nil
	}
	return nil, nil
}

func (m *mockObjects) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockMarkers struct {
	mu      sync.Mutex
	calls   int
	results [][]DetectedMarker
}

func (m *mockMarkers) Detect(in NormalizedInput) ([]DetectedMarker, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if idx < len(m.results) {
		return m.results[idx], nil
	}
	return nil, nil
}

func (m *mockMarkers) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockSink counts captures. If block is non-nil, Capture waits on it after
// signalling entry via entered.
type mockSink struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (m *mockSink) Capture() (Artifact, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Artifact{}, m.err
	}
	return Artifact{ID: "test", Path: "/tmp/test.jpg", CreatedAt: time.Now()}, nil
}

func (m *mockSink) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type recordingReporter struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingReporter) Report(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingReporter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

// waitFor polls until cond holds; the capture leg runs on its own goroutine,
// so tests observe its effects with a deadline.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testFrame() Frame {
	return Frame{
		Planes: []Plane{{Data: []byte{1, 2, 3}, BytesPerRow: 3}},
		Width:  1, Height: 1,
		Format:    FormatBGR,
		Timestamp: time.Now(),
	}
}

func alignedPair() ([]DetectedObject, []DetectedMarker) {
	return []DetectedObject{obj(0, 0, 10, 10)},
		[]DetectedMarker{marker(5, 5, 15, 15, KindQR)}
}

func TestController_EndToEndScenario(t *testing.T) {
	source := &mockSource{}
	objects := &mockObjects{
		results: [][]DetectedObject{
			nil,                 // frame 1: searching
			nil,                 // frame 2: searching
			{obj(0, 0, 10, 10)}, // frame 3: marker missing
			{obj(0, 0, 10, 10)}, // frame 4: align marker
			{obj(0, 0, 10, 10)}, // frame 5: capturing
		},
	}
	markers := &mockMarkers{
		results: [][]DetectedMarker{
			nil,                              // frame 3
			{marker(20, 20, 30, 30, KindQR)}, // frame 4
			{marker(5, 5, 15, 15, KindQR)},   // frame 5
		},
	}
	sink := &mockSink{}
	reporter := &recordingReporter{}

	ctrl := NewController(Config{Cooldown: 50 * time.Millisecond}, source, objects, markers, sink, reporter)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i := 0; i < 5; i++ {
		source.deliver(testFrame())
	}

	want := []string{"searching", "searching", "marker missing", "align marker", "capturing"}
	if got := reporter.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses: got %v, want %v", got, want)
	}

	waitFor(t, "capture", func() bool { return sink.callCount() == 1 })
	waitFor(t, "artifact", func() bool { _, ok := ctrl.LastArtifact(); return ok })

	// Marker detection only ran when objects were present (2-stage cascade).
	if markers.callCount() != 3 {
		t.Errorf("marker detector calls: got %d, want 3", markers.callCount())
	}

	// After the cooldown the source is restarted exactly once more.
	waitFor(t, "streaming resume", func() bool { return ctrl.State() == Streaming })
	if source.startCount() != 2 {
		t.Errorf("source starts: got %d, want 2", source.startCount())
	}
	if sink.callCount() != 1 {
		t.Errorf("sink calls after resume: got %d, want 1", sink.callCount())
	}
}

func TestController_InFlightGuardDropsFrames(t *testing.T) {
	source := &mockSource{}
	objects := &mockObjects{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	markers := &mockMarkers{}
	ctrl := NewController(Config{}, source, objects, markers, &mockSink{}, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	done := make(chan struct{})
	go func() {
		source.deliver(testFrame())
		close(done)
	}()

	// Wait for the round to be inside the detector.
	<-objects.entered

	// Frames arriving while the round is in flight are dropped without a
	// second detector call.
	for i := 0; i < 3; i++ {
		source.deliver(testFrame())
	}
	if objects.callCount() != 1 {
		t.Errorf("detector calls during in-flight round: got %d, want 1", objects.callCount())
	}

	close(objects.block)
	<-done

	stats := ctrl.Stats()
	if stats.FramesDropped != 3 {
		t.Errorf("FramesDropped: got %d, want 3", stats.FramesDropped)
	}
	if stats.RoundsCompleted != 1 {
		t.Errorf("RoundsCompleted: got %d, want 1", stats.RoundsCompleted)
	}
}

func TestController_NoDetectionWhileNotStreaming(t *testing.T) {
	source := &mockSource{}
	objs, mks := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{objs}}
	markers := &mockMarkers{results: [][]DetectedMarker{mks}}
	ctrl := NewController(Config{Cooldown: time.Second}, source, objects, markers, &mockSink{}, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	source.deliver(testFrame())
	waitFor(t, "cooldown", func() bool { return ctrl.State() == CoolingDown })

	// Frames arriving during the cooldown never reach the detectors.
	for i := 0; i < 4; i++ {
		source.deliver(testFrame())
	}
	if objects.callCount() != 1 {
		t.Errorf("detector calls while cooling down: got %d, want 1", objects.callCount())
	}
	if got := ctrl.Stats().FramesDropped; got != 4 {
		t.Errorf("FramesDropped: got %d, want 4", got)
	}

	if err := ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestController_OneCapturePerEpisode(t *testing.T) {
	source := &mockSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o, o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m, m}}
	sink := &mockSink{}
	ctrl := NewController(Config{Cooldown: 30 * time.Millisecond}, source, objects, markers, sink, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// First aligned frame captures; the marker staying aligned afterwards
	// must not trigger again until the cooldown completes.
	source.deliver(testFrame())
	source.deliver(testFrame())
	source.deliver(testFrame())
	waitFor(t, "first capture", func() bool { return sink.callCount() == 1 })

	waitFor(t, "streaming resume", func() bool { return ctrl.State() == Streaming })
	if sink.callCount() != 1 {
		t.Fatalf("sink calls before new episode: got %d, want 1", sink.callCount())
	}

	// A new episode after the cooldown may capture again.
	source.deliver(testFrame())
	waitFor(t, "second capture", func() bool { return sink.callCount() == 2 })
}

func TestController_FailedCaptureResumesImmediately(t *testing.T) {
	source := &mockSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m}}
	sink := &mockSink{err: errors.New("sensor busy")}
	reporter := &recordingReporter{}
	ctrl := NewController(Config{Cooldown: time.Second}, source, objects, markers, sink, reporter)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	start := time.Now()
	source.deliver(testFrame())

	// Streaming resumes directly, with no cooldown incurred.
	waitFor(t, "streaming resume", func() bool { return ctrl.State() == Streaming })
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("failed capture took %v, expected no cooldown delay", elapsed)
	}
	if _, ok := ctrl.LastArtifact(); ok {
		t.Error("no artifact must exist after a failed capture")
	}
	if source.startCount() != 2 {
		t.Errorf("source starts: got %d, want 2 (initial + immediate restart)", source.startCount())
	}

	msgs := reporter.all()
	if len(msgs) == 0 || msgs[len(msgs)-1] != "capture failed: sensor busy" {
		t.Errorf("expected failure report, got %v", msgs)
	}
	if got := ctrl.Stats().CaptureErrors; got != 1 {
		t.Errorf("CaptureErrors: got %d, want 1", got)
	}
}

func TestController_DetectionErrorsAbsorbed(t *testing.T) {
	source := &mockSource{}
	objects := &mockObjects{
		errs:    []error{errors.New("bad frame"), nil},
		results: [][]DetectedObject{nil, {obj(0, 0, 10, 10)}},
	}
	markers := &mockMarkers{}
	reporter := &recordingReporter{}
	ctrl := NewController(Config{}, source, objects, markers, &mockSink{}, reporter)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// A failing round is abandoned silently: no status, no transition.
	source.deliver(testFrame())
	if got := ctrl.Stats().DetectErrors; got != 1 {
		t.Errorf("DetectErrors: got %d, want 1", got)
	}
	if len(reporter.all()) != 0 {
		t.Errorf("no status expected for an abandoned round, got %v", reporter.all())
	}
	if ctrl.State() != Streaming {
		t.Errorf("state: got %v, want Streaming", ctrl.State())
	}

	// The next frame is evaluated normally.
	source.deliver(testFrame())
	want := []string{"marker missing"}
	if got := reporter.all(); !reflect.DeepEqual(got, want) {
		t.Errorf("statuses: got %v, want %v", got, want)
	}
}

func TestController_AcquisitionErrorIsFatal(t *testing.T) {
	source := &mockSource{startErr: errors.New("permission denied")}
	ctrl := NewController(Config{}, source, &mockObjects{}, &mockMarkers{}, &mockSink{}, nil)

	if err := ctrl.Run(); err == nil {
		t.Fatal("expected acquisition error from Run")
	}

	// A second Run may retry acquisition.
	source.mu.Lock()
	source.startErr = nil
	source.mu.Unlock()
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run after clearing error: %v", err)
	}
	if err := ctrl.Run(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestController_ShutdownCancelsCooldown(t *testing.T) {
	source := &mockSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m}}
	ctrl := NewController(Config{Cooldown: 200 * time.Millisecond}, source, objects, markers, &mockSink{}, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	source.deliver(testFrame())
	waitFor(t, "cooldown", func() bool { return ctrl.State() == CoolingDown })

	if err := ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// The pending resume must not restart the source after teardown.
	time.Sleep(300 * time.Millisecond)
	if source.startCount() != 1 {
		t.Errorf("source starts after shutdown: got %d, want 1", source.startCount())
	}
	if source.IsActive() {
		t.Error("source must be stopped after shutdown")
	}
}

// joiningSource delivers frames on a goroutine of its own and joins that
// goroutine in Stop, the way a real camera loop tears down.
type joiningSource struct {
	mu     sync.Mutex
	starts int
	active bool
	frames chan Frame
	stop   chan struct{}
	done   chan struct{}
}

func (s *joiningSource) Start(onFrame func(Frame)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.active = true
	s.frames = make(chan Frame)
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	frames, stop, done := s.frames, s.stop, s.done
	go func() {
		defer close(done)
		for {
			select {
			case f := <-frames:
				onFrame(f)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

func (s *joiningSource) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	return nil
}

func (s *joiningSource) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *joiningSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

func (s *joiningSource) deliver(f Frame) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	frames <- f
}

// A source whose Stop joins the delivery goroutine must not deadlock the
// capture leg: stopping happens off that goroutine.
func TestController_CaptureWithJoiningStop(t *testing.T) {
	source := &joiningSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m}}
	sink := &mockSink{}
	ctrl := NewController(Config{Cooldown: 20 * time.Millisecond}, source, objects, markers, sink, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	source.deliver(testFrame())

	waitFor(t, "capture", func() bool { return sink.callCount() == 1 })
	waitFor(t, "streaming resume", func() bool { return ctrl.State() == Streaming })
	if source.startCount() != 2 {
		t.Errorf("source starts: got %d, want 2", source.startCount())
	}

	if err := ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if source.IsActive() {
		t.Error("source must be stopped after shutdown")
	}
}

func TestController_ShutdownDuringFailedCapture(t *testing.T) {
	source := &mockSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m}}
	sink := &mockSink{
		err:     errors.New("sensor busy"),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	ctrl := NewController(Config{}, source, objects, markers, sink, nil)
	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	source.deliver(testFrame())
	<-sink.entered

	// Teardown lands while the capture is still failing. The error path
	// must not restart the source afterwards.
	if err := ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	close(sink.block)

	time.Sleep(50 * time.Millisecond)
	if source.startCount() != 1 {
		t.Errorf("source starts after shutdown: got %d, want 1", source.startCount())
	}
	if source.IsActive() {
		t.Error("source must stay stopped after shutdown")
	}
}

func TestController_OnPreviewHook(t *testing.T) {
	source := &mockSource{}
	objects := &mockObjects{results: [][]DetectedObject{nil, {obj(0, 0, 10, 10)}}}
	markers := &mockMarkers{}
	ctrl := NewController(Config{}, source, objects, markers, &mockSink{}, nil)

	got := make(chan Frame, 1)
	ctrl.OnPreview = func(f Frame) { got <- f }

	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// An empty scene keeps the preview hidden.
	source.deliver(testFrame())
	select {
	case <-got:
		t.Fatal("preview fired for an empty scene")
	case <-time.After(50 * time.Millisecond):
	}

	// An object in view shows the preview.
	source.deliver(testFrame())
	select {
	case f := <-got:
		if f.Width != 1 || f.Height != 1 {
			t.Errorf("preview frame: got %dx%d, want 1x1", f.Width, f.Height)
		}
	case <-time.After(time.Second):
		t.Error("preview hook was not invoked for an object in view")
	}
}

func TestController_OnCaptureHook(t *testing.T) {
	source := &mockSource{}
	o, m := alignedPair()
	objects := &mockObjects{results: [][]DetectedObject{o}}
	markers := &mockMarkers{results: [][]DetectedMarker{m}}
	ctrl := NewController(Config{Cooldown: 10 * time.Millisecond}, source, objects, markers, &mockSink{}, nil)

	got := make(chan Artifact, 1)
	ctrl.OnCapture = func(a Artifact) { got <- a }

	if err := ctrl.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	source.deliver(testFrame())

	select {
	case a := <-got:
		if a.ID == "" {
			t.Error("hook received empty artifact")
		}
	case <-time.After(time.Second):
		t.Error("OnCapture hook was not invoked")
	}
}
