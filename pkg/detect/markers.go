package detect

import (
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/pkg/scan"
)

// QRMarkerDetector finds QR codes using OpenCV's QRCodeDetector.
// Implements scan.MarkerDetector; every detection is tagged scan.KindQR.
type QRMarkerDetector struct {
	detector gocv.QRCodeDetector
	mu       sync.Mutex // Protects detection
}

// NewQRMarkerDetector creates a QR marker detector.
func NewQRMarkerDetector() *QRMarkerDetector {
	return &QRMarkerDetector{
		detector: gocv.NewQRCodeDetector(),
	}
}

// Detect finds QR markers in the normalized frame.
func (d *QRMarkerDetector) Detect(in scan.NormalizedInput) ([]scan.DetectedMarker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := matFromInput(in)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	points := gocv.NewMat()
	defer points.Close()

	if !d.detector.DetectMulti(img, &points) {
		return nil, nil
	}

	// points holds one quad per code: 4 corners of (x, y) float pairs.
	markers := make([]scan.DetectedMarker, 0, points.Rows())
	for r := 0; r < points.Rows(); r++ {
		xs := make([]float32, 0, 4)
		ys := make([]float32, 0, 4)
		for c := 0; c < points.Cols(); c++ {
			corner := points.GetVecfAt(r, c)
			if len(corner) < 2 {
				continue
			}
			xs = append(xs, corner[0])
			ys = append(ys, corner[1])
		}
		if len(xs) == 0 {
			continue
		}
		markers = append(markers, scan.DetectedMarker{
			Box:  quadBounds(xs, ys),
			Kind: scan.KindQR,
		})
	}
	return markers, nil
}

// Close releases the detector resources.
func (d *QRMarkerDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detector.Close()
	return nil
}

// quadBounds returns the axis-aligned bounding rectangle of a detected
// quad's corner coordinates.
func quadBounds(xs, ys []float32) image.Rectangle {
	minX, maxX := xs[0], xs[0]
	for _, x := range xs[1:] {
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
	}
	minY, maxY := ys[0], ys[0]
	for _, y := range ys[1:] {
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return image.Rect(
		int(math.Floor(float64(minX))), int(math.Floor(float64(minY))),
		int(math.Ceil(float64(maxX))), int(math.Ceil(float64(maxY))),
	)
}
