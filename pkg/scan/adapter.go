package scan

import "errors"

// ErrEmptyFrame indicates a frame arrived with no pixel planes.
var ErrEmptyFrame = errors.New("scan: frame has no pixel planes")

// Normalize repackages a frame into the flat buffer shape consumed by both
// detector services. All pixel planes are concatenated in plane order,
// preserving each plane's native byte layout.
//
// The bytes-per-row stride is taken from the first plane. That is exact for
// packed interleaved formats and a known approximation for planar formats,
// where only the detectors' tolerance makes it workable. True per-plane
// stride handling would have to key off the pixel format; the format tag is
// carried through so callers can do that without changing this contract.
//
// Pure function: no I/O, no shared state, safe for concurrent calls on
// distinct frames.
func Normalize(f Frame) (NormalizedInput, error) {
	if len(f.Planes) == 0 {
		return NormalizedInput{}, ErrEmptyFrame
	}

	total := 0
	for _, p := range f.Planes {
		total += len(p.Data)
	}

	buf := make([]byte, 0, total)
	for _, p := range f.Planes {
		buf = append(buf, p.Data...)
	}

	return NormalizedInput{
		Data:        buf,
		Width:       f.Width,
		Height:      f.Height,
		Rotation:    mapRotation(f.Rotation),
		Format:      f.Format,
		BytesPerRow: f.Planes[0].BytesPerRow,
	}, nil
}

// mapRotation maps a raw sensor rotation to one of the four rotation
// classes. Unmappable values fail closed to no rotation.
func mapRotation(degrees int) Rotation {
	switch degrees {
	case 0:
		return Rotate0
	case 90:
		return Rotate90
	case 180:
		return Rotate180
	case 270:
		return Rotate270
	default:
		return Rotate0
	}
}
