// Package camera provides the local capture device frame source for the
// scan pipeline.
package camera

// Config holds capture device configuration.
type Config struct {
	// Device is a capture device index ("0") or any stream URL OpenCV's
	// VideoCapture accepts (e.g. rtsp://...).
	Device string `json:"device"`

	// === Stream mode ===
	Width     int `json:"width"`     // Frame width in pixels
	Height    int `json:"height"`    // Frame height in pixels
	Framerate int `json:"framerate"` // Target FPS

	// Rotation is the sensor mount rotation in degrees. Carried on every
	// frame so the pipeline can normalize orientation.
	Rotation int `json:"rotation"`
}

// DefaultConfig returns the recommended streaming configuration.
// 720p keeps detection latency low; stills are taken at a higher
// resolution by the capture sink.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     1280,
		Height:    720,
		Framerate: 30,
		Rotation:  0,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device must not be empty")
	}
	if c.Width < 160 || c.Width > 7680 {
		errors = append(errors, "width must be between 160 and 7680")
	}
	if c.Height < 120 || c.Height > 4320 {
		errors = append(errors, "height must be between 120 and 4320")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}

	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		errors = append(errors, "rotation must be 0, 90, 180, or 270")
	}

	return errors
}
