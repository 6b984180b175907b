package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quicklens/snapmark/internal/config"
	"github.com/quicklens/snapmark/pkg/capture"
)

var snapOpts struct {
	Device string
	OutDir string
}

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Take a single high-resolution still",
	RunE: func(cmd *cobra.Command, args []string) error {
		device := snapOpts.Device
		if device == "" {
			device = config.CameraDevice()
		}
		outDir := snapOpts.OutDir
		if outDir == "" {
			outDir = config.CaptureDir()
		}

		cfg := capture.DefaultConfig()
		cfg.Device = device
		cfg.OutputDir = outDir

		sink, err := capture.NewSink(cfg)
		if err != nil {
			return fmt.Errorf("create capture sink: %w", err)
		}

		artifact, err := sink.Capture()
		if err != nil {
			return fmt.Errorf("capture still: %w", err)
		}

		fmt.Println(artifact.Path)
		return nil
	},
}

func init() {
	snapCmd.Flags().StringVarP(&snapOpts.Device, "device", "d", "", "Camera device index or stream URL (default: CAMERA_DEVICE)")
	snapCmd.Flags().StringVarP(&snapOpts.OutDir, "out", "o", "", "Output directory (default: CAPTURE_DIR)")
	rootCmd.AddCommand(snapCmd)
}
