package video

import (
	"bytes"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/quicklens/snapmark/pkg/scan"
)

// Decoder turns H264 access units into BGR pipeline frames. Decoding shells
// out to ffmpeg over pipes, then the JPEG output is unpacked with OpenCV.
type Decoder struct {
	mu          sync.Mutex
	lastDecode  time.Time
	minInterval time.Duration
}

// NewDecoder creates a decoder. minInterval rate-limits decoding so a
// high-rate stream does not spawn an ffmpeg process per packet.
func NewDecoder(minInterval time.Duration) *Decoder {
	return &Decoder{minInterval: minInterval}
}

// Decode converts one H264 access unit into a frame. ok is false when the
// unit was skipped: too small, rate-limited, or not enough data for a
// complete picture.
func (d *Decoder) Decode(unit []byte) (frame scan.Frame, ok bool, err error) {
	if len(unit) < 100 {
		return scan.Frame{}, false, nil
	}

	d.mu.Lock()
	if time.Since(d.lastDecode) < d.minInterval {
		d.mu.Unlock()
		return scan.Frame{}, false, nil
	}
	d.lastDecode = time.Now()
	d.mu.Unlock()

	jpegData, err := decodeToJPEG(unit)
	if err != nil {
		return scan.Frame{}, false, err
	}
	if len(jpegData) == 0 {
		return scan.Frame{}, false, nil
	}

	return jpegToFrame(jpegData)
}

// decodeToJPEG runs ffmpeg with pipe I/O to extract one JPEG picture from
// the H264 unit. An empty result means ffmpeg could not assemble a picture
// yet, which is normal mid-GOP.
func decodeToJPEG(unit []byte) ([]byte, error) {
	cmd := exec.Command("ffmpeg",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	go func() {
		stdin.Write(unit)
		stdin.Close()
	}()

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			// Not enough data for a picture, skip this unit
			return nil, nil
		}
	case <-time.After(100 * time.Millisecond):
		cmd.Process.Kill()
		return nil, nil
	}

	if stdout.Len() < 1000 {
		return nil, nil
	}
	return stdout.Bytes(), nil
}

// jpegToFrame unpacks a JPEG into a single-plane BGR frame.
func jpegToFrame(jpegData []byte) (scan.Frame, bool, error) {
	img, err := gocv.IMDecode(jpegData, gocv.IMReadColor)
	if err != nil {
		return scan.Frame{}, false, fmt.Errorf("decode jpeg: %w", err)
	}
	defer img.Close()

	if img.Empty() {
		return scan.Frame{}, false, nil
	}

	data := img.ToBytes()
	pixels := make([]byte, len(data))
	copy(pixels, data)

	return scan.Frame{
		Planes: []scan.Plane{{
			Data:        pixels,
			BytesPerRow: img.Cols() * img.Channels(),
		}},
		Width:  img.Cols(),
		Height: img.Rows(),
		Format: scan.FormatBGR,
	}, true, nil
}
