// Package scan implements the frame-processing pipeline that watches a
// live video stream for physical objects carrying a machine-readable
// marker and triggers a single high-resolution capture per sighting.
package scan

import (
	"image"
	"time"
)

// PixelFormat tags the byte layout of a frame's pixel payload.
type PixelFormat string

const (
	// FormatBGR is packed 3-byte interleaved BGR (single plane).
	FormatBGR PixelFormat = "bgr"
	// FormatRGBA is packed 4-byte interleaved RGBA (single plane).
	FormatRGBA PixelFormat = "rgba"
	// FormatYUV420 is planar Y, U, V in three planes.
	FormatYUV420 PixelFormat = "yuv420"
)

// Rotation is a frame rotation class in degrees clockwise.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Plane is one plane of a frame's pixel payload.
type Plane struct {
	Data        []byte
	BytesPerRow int
}

// Frame is a single sample from a FrameSource.
//
// Frames are immutable once produced. Ownership passes to the pipeline for
// the duration of a detection round; the source must not reuse the plane
// buffers, and the pipeline retains nothing across frames.
type Frame struct {
	Planes    []Plane
	Width     int
	Height    int
	Format    PixelFormat
	Rotation  int // raw sensor rotation in degrees
	Seq       uint64
	Timestamp time.Time
}

// NormalizedInput is a frame repackaged into the single-buffer shape both
// detector services consume. Built fresh per frame, never mutated after
// construction.
type NormalizedInput struct {
	Data        []byte
	Width       int
	Height      int
	Rotation    Rotation
	Format      PixelFormat
	BytesPerRow int
}

// DetectedObject is one bounding box from the object detector, with an
// optional classification. Coordinates are in the normalized input's space.
type DetectedObject struct {
	Box        image.Rectangle
	Label      string
	Confidence float64
}

// MarkerKind identifies the symbology of a detected marker.
type MarkerKind string

const (
	// KindQR is a QR code marker.
	KindQR MarkerKind = "qr"
	// KindDataMatrix is a Data Matrix marker.
	KindDataMatrix MarkerKind = "datamatrix"
)

// DetectedMarker is one recognized marker, in the same coordinate space as
// DetectedObject for the same frame.
type DetectedMarker struct {
	Box  image.Rectangle
	Kind MarkerKind
}

// Decision is the per-frame fusion outcome. Derived, never stored:
// recomputed from the current frame's detection sets.
type Decision int

const (
	NoObject Decision = iota
	ObjectOnly
	ObjectWithUnalignedMarker
	ObjectWithAlignedMarker
)

// String returns a human-readable decision name.
func (d Decision) String() string {
	switch d {
	case NoObject:
		return "no-object"
	case ObjectOnly:
		return "object-only"
	case ObjectWithUnalignedMarker:
		return "object-unaligned-marker"
	case ObjectWithAlignedMarker:
		return "object-aligned-marker"
	default:
		return "unknown"
	}
}

// State is the pipeline lifecycle state. Exactly one instance exists,
// mutated only by the Controller.
type State int

const (
	Streaming State = iota
	Capturing
	CoolingDown
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Streaming:
		return "streaming"
	case Capturing:
		return "capturing"
	case CoolingDown:
		return "cooling-down"
	default:
		return "unknown"
	}
}

// Artifact is an opaque reference to a successfully captured still.
type Artifact struct {
	ID        string
	Path      string
	CreatedAt time.Time
}
