package detect

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/pkg/scan"
)

// ObjectConfig holds object detector configuration.
type ObjectConfig struct {
	ModelPath        string   // Path to ONNX model
	ConfidenceThresh float64  // Minimum confidence (default 0.5)
	NMSThresh        float64  // Non-maximum suppression threshold
	InputSize        int      // Square model input size
	Labels           []string // Optional class labels, indexed by class id
}

// DefaultObjectConfig returns production defaults for a single-stage
// YOLO-family ONNX model.
func DefaultObjectConfig() ObjectConfig {
	return ObjectConfig{
		ModelPath:        "models/object_detection.onnx",
		ConfidenceThresh: 0.5,
		NMSThresh:        0.45,
		InputSize:        640,
	}
}

// DNNObjectDetector runs an ONNX detection model through OpenCV's DNN
// module. Implements scan.ObjectDetector.
type DNNObjectDetector struct {
	net    gocv.Net
	config ObjectConfig
	mu     sync.Mutex // Protects inference
}

// NewDNNObjectDetector loads the ONNX model and prepares the network for
// CPU inference.
func NewDNNObjectDetector(cfg ObjectConfig) (*DNNObjectDetector, error) {
	if _, err := os.Stat(cfg.ModelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", cfg.ModelPath)
	}

	net := gocv.ReadNetFromONNX(cfg.ModelPath)
	if net.Empty() {
		return nil, fmt.Errorf("load model %s: empty network", cfg.ModelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &DNNObjectDetector{
		net:    net,
		config: cfg,
	}, nil
}

// Detect finds objects in the normalized frame.
func (d *DNNObjectDetector) Detect(in scan.NormalizedInput) ([]scan.DetectedObject, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	img, err := matFromInput(in)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	size := d.config.InputSize
	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(size, size),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	// Output is [1, rows, 5+classes]; flatten so each row is one candidate.
	dims := out.Size()
	if len(dims) < 3 {
		return nil, fmt.Errorf("unexpected model output shape %v", dims)
	}
	rows, cols := dims[1], dims[2]
	flat := out.Reshape(1, rows)
	defer flat.Close()

	var boxes []image.Rectangle
	var scores []float32
	var labels []string

	row := make([]float32, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			row[c] = flat.GetFloatAt(r, c)
		}
		det, ok := decodeRow(row, img.Cols(), img.Rows(), size,
			d.config.ConfidenceThresh, d.config.Labels)
		if !ok {
			continue
		}
		boxes = append(boxes, det.Box)
		scores = append(scores, float32(det.Confidence))
		labels = append(labels, det.Label)
	}

	if len(boxes) == 0 {
		return nil, nil
	}

	keep := gocv.NMSBoxes(boxes, scores,
		float32(d.config.ConfidenceThresh), float32(d.config.NMSThresh))

	detections := make([]scan.DetectedObject, 0, len(keep))
	for _, i := range keep {
		detections = append(detections, scan.DetectedObject{
			Box:        boxes[i],
			Label:      labels[i],
			Confidence: float64(scores[i]),
		})
	}
	return detections, nil
}

// Close releases the network resources.
func (d *DNNObjectDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}

// decodeRow turns one model output row into a detection in image
// coordinates. Rows follow the single-stage layout: center x, center y,
// width, height (in model input pixels), objectness, then per-class scores.
// Returns false when the combined score is below the threshold.
func decodeRow(row []float32, imgW, imgH, inputSize int, thresh float64, labels []string) (scan.DetectedObject, bool) {
	if len(row) < 5 {
		return scan.DetectedObject{}, false
	}

	objectness := float64(row[4])

	bestClass := -1
	bestScore := float32(0)
	for i := 5; i < len(row); i++ {
		if row[i] > bestScore {
			bestScore = row[i]
			bestClass = i - 5
		}
	}

	score := objectness
	if bestClass >= 0 {
		score = objectness * float64(bestScore)
	}
	if score < thresh {
		return scan.DetectedObject{}, false
	}

	// Scale from model input space to image space.
	sx := float32(imgW) / float32(inputSize)
	sy := float32(imgH) / float32(inputSize)
	cx, cy := row[0]*sx, row[1]*sy
	w, h := row[2]*sx, row[3]*sy

	box := image.Rect(
		int(cx-w/2), int(cy-h/2),
		int(cx+w/2), int(cy+h/2),
	).Intersect(image.Rect(0, 0, imgW, imgH))

	label := ""
	if bestClass >= 0 && bestClass < len(labels) {
		label = labels[bestClass]
	}

	return scan.DetectedObject{
		Box:        box,
		Label:      label,
		Confidence: score,
	}, true
}
