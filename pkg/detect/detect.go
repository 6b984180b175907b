// Package detect provides gocv-backed detector services for the scan
// pipeline: a DNN object detector and a QR marker detector.
package detect

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/pkg/scan"
)

// Sentinel errors for the detect package.
var (
	// ErrUnsupportedFormat indicates a pixel format the detectors cannot
	// rebuild an image from.
	ErrUnsupportedFormat = errors.New("detect: unsupported pixel format")

	// ErrEmptyImage indicates the normalized buffer decoded to nothing.
	ErrEmptyImage = errors.New("detect: empty image")
)

// matFromInput rebuilds an OpenCV BGR image from a normalized frame buffer,
// applying the frame's rotation class so detections come out upright.
func matFromInput(in scan.NormalizedInput) (gocv.Mat, error) {
	var img gocv.Mat

	switch in.Format {
	case scan.FormatBGR:
		m, err := gocv.NewMatFromBytes(in.Height, in.Width, gocv.MatTypeCV8UC3, in.Data)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("rebuild bgr mat: %w", err)
		}
		img = m

	case scan.FormatRGBA:
		m, err := gocv.NewMatFromBytes(in.Height, in.Width, gocv.MatTypeCV8UC4, in.Data)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("rebuild rgba mat: %w", err)
		}
		bgr := gocv.NewMat()
		gocv.CvtColor(m, &bgr, gocv.ColorRGBAToBGR)
		m.Close()
		img = bgr

	case scan.FormatYUV420:
		m, err := gocv.NewMatFromBytes(in.Height*3/2, in.Width, gocv.MatTypeCV8UC1, in.Data)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("rebuild yuv mat: %w", err)
		}
		bgr := gocv.NewMat()
		gocv.CvtColor(m, &bgr, gocv.ColorYUVToBGRI420)
		m.Close()
		img = bgr

	default:
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, in.Format)
	}

	if img.Empty() {
		img.Close()
		return gocv.Mat{}, ErrEmptyImage
	}

	if in.Rotation == scan.Rotate0 {
		return img, nil
	}

	rotated := gocv.NewMat()
	switch in.Rotation {
	case scan.Rotate90:
		gocv.Rotate(img, &rotated, gocv.Rotate90Clockwise)
	case scan.Rotate180:
		gocv.Rotate(img, &rotated, gocv.Rotate180Clockwise)
	case scan.Rotate270:
		gocv.Rotate(img, &rotated, gocv.Rotate90CounterClockwise)
	}
	img.Close()
	return rotated, nil
}

// EncodeJPEG renders a normalized frame as a JPEG, for the live preview
// feed.
func EncodeJPEG(in scan.NormalizedInput) ([]byte, error) {
	img, err := matFromInput(in)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
