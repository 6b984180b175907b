package camera

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("DefaultConfig must validate, got %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty device",
			mutate:  func(c *Config) { c.Device = "" },
			wantErr: true,
		},
		{
			name:    "width too small",
			mutate:  func(c *Config) { c.Width = 10 },
			wantErr: true,
		},
		{
			name:    "framerate zero",
			mutate:  func(c *Config) { c.Framerate = 0 },
			wantErr: true,
		},
		{
			name:    "diagonal rotation",
			mutate:  func(c *Config) { c.Rotation = 45 },
			wantErr: true,
		},
		{
			name:   "rtsp url device",
			mutate: func(c *Config) { c.Device = "rtsp://10.0.0.4/stream" },
		},
		{
			name:   "sensor mounted sideways",
			mutate: func(c *Config) { c.Rotation = 90 },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			errs := cfg.Validate()
			if tc.wantErr && len(errs) == 0 {
				t.Error("expected validation errors, got none")
			}
			if !tc.wantErr && len(errs) > 0 {
				t.Errorf("unexpected validation errors: %v", errs)
			}
		})
	}
}
