package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quicklens/snapmark/internal/config"
	"github.com/quicklens/snapmark/internal/database"
	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/archive"
	"github.com/quicklens/snapmark/pkg/camera"
	"github.com/quicklens/snapmark/pkg/capture"
	"github.com/quicklens/snapmark/pkg/detect"
	"github.com/quicklens/snapmark/pkg/hub"
	"github.com/quicklens/snapmark/pkg/scan"
	"github.com/quicklens/snapmark/pkg/status"
	"github.com/quicklens/snapmark/pkg/video"
	"github.com/quicklens/snapmark/pkg/web"
)

var serveOpts struct {
	Device        string
	Port          string
	ModelPath     string
	Marker        string
	Cooldown      time.Duration
	SignallingURL string
	ProducerName  string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner and dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Device, "device", "d", "", "Camera device index or stream URL (default: CAMERA_DEVICE)")
	serveCmd.Flags().StringVarP(&serveOpts.Port, "port", "p", "", "Dashboard port (default: DASHBOARD_PORT)")
	serveCmd.Flags().StringVarP(&serveOpts.ModelPath, "model", "m", "", "Object detection ONNX model path (default: OBJECT_MODEL)")
	serveCmd.Flags().StringVar(&serveOpts.Marker, "marker", "qr", "Marker kind to fuse with detections (qr, datamatrix)")
	serveCmd.Flags().DurationVar(&serveOpts.Cooldown, "cooldown", 0, "Pause after a capture before scanning resumes")
	serveCmd.Flags().StringVar(&serveOpts.SignallingURL, "signalling", "", "WebRTC signalling URL for a network camera (overrides --device)")
	serveCmd.Flags().StringVar(&serveOpts.ProducerName, "producer", "camera", "Producer name on the signalling server")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command) error {
	device := serveOpts.Device
	if device == "" {
		device = config.CameraDevice()
	}
	port := serveOpts.Port
	if port == "" {
		port = config.DashboardPort()
	}
	modelPath := serveOpts.ModelPath
	if modelPath == "" {
		modelPath = config.ObjectModelPath()
	}

	markerKind, err := parseMarkerKind(serveOpts.Marker)
	if err != nil {
		return err
	}

	store, err := database.Open(config.DatabasePath())
	if err != nil {
		return fmt.Errorf("open capture database: %w", err)
	}
	defer store.Close()

	source, err := buildSource(device)
	if err != nil {
		return err
	}

	objCfg := detect.DefaultObjectConfig()
	objCfg.ModelPath = modelPath
	objects, err := detect.NewDNNObjectDetector(objCfg)
	if err != nil {
		return fmt.Errorf("load object detector: %w", err)
	}
	defer objects.Close()

	markers := detect.NewQRMarkerDetector()
	defer markers.Close()

	sinkCfg := capture.DefaultConfig()
	sinkCfg.Device = device
	sinkCfg.OutputDir = config.CaptureDir()
	sink, err := capture.NewSink(sinkCfg)
	if err != nil {
		return fmt.Errorf("create capture sink: %w", err)
	}

	// The dashboard and the pipeline share one status hub so browser
	// clients see the same updates the logs do.
	statusHub := hub.New("status")
	reporters := status.Multi{
		status.LogReporter{},
		status.HubReporter{Hub: statusHub},
	}
	var remote *status.RemoteReporter
	if endpoint := config.StatusEndpoint(); endpoint != "" {
		remote = status.NewRemoteReporter(endpoint)
		defer remote.Close()
		reporters = append(reporters, remote)
	}

	scanCfg := scan.DefaultConfig()
	scanCfg.MarkerKind = markerKind
	if serveOpts.Cooldown > 0 {
		scanCfg.Cooldown = serveOpts.Cooldown
	}

	ctrl := scan.NewController(scanCfg, source, objects, markers, sink, reporters)

	uploader := buildUploader()

	ctrl.OnCapture = func(art scan.Artifact) {
		_, err := store.Insert(database.CaptureEvent{
			ArtifactID: art.ID,
			Path:       art.Path,
			Marker:     string(markerKind),
			CreatedAt:  art.CreatedAt,
		})
		if err != nil {
			log.Warn("failed to record capture event", "artifact", art.ID, "error", err)
		}
		if uploader != nil {
			uploader.UploadAsync(art)
		}
	}

	server := web.NewServer(port, ctrl, store, config.CaptureDir(), statusHub)
	if uploader != nil {
		server.RegisterArchiveAuth(uploader)
	}

	// Frames the decision table keeps visible are re-encoded for the
	// dashboard's preview feed.
	ctrl.OnPreview = func(f scan.Frame) {
		in, err := scan.Normalize(f)
		if err != nil {
			return
		}
		jpeg, err := detect.EncodeJPEG(in)
		if err != nil {
			log.Debug("preview encode failed", "error", err)
			return
		}
		server.SendPreviewFrame(jpeg)
	}

	server.StartAsync()

	if err := ctrl.Run(); err != nil {
		server.Shutdown()
		return fmt.Errorf("start scanner: %w", err)
	}
	log.Info("scanner running", "device", device, "marker", string(markerKind), "cooldown", scanCfg.Cooldown)

	<-cmd.Context().Done()
	log.Info("shutting down")

	if err := ctrl.Shutdown(); err != nil {
		log.Warn("scanner shutdown", "error", err)
	}
	return server.Shutdown()
}

// buildSource picks a frame source: a remote WebRTC camera when a
// signalling URL is given, the local device otherwise.
func buildSource(device string) (scan.FrameSource, error) {
	if serveOpts.SignallingURL != "" {
		cfg := video.DefaultConfig()
		cfg.SignallingURL = serveOpts.SignallingURL
		cfg.ProducerName = serveOpts.ProducerName
		return video.NewSource(cfg), nil
	}

	cfg := camera.DefaultConfig()
	cfg.Device = device
	src, err := camera.NewSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("open camera: %w", err)
	}
	return src, nil
}

// buildUploader returns a Drive uploader when credentials are configured,
// nil otherwise.
func buildUploader() *archive.DriveUploader {
	clientID, clientSecret, tokenPath := config.DriveCredentials()
	if clientID == "" {
		return nil
	}

	uploader, err := archive.NewDriveUploader(archive.DriveConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenPath:    tokenPath,
	})
	if err != nil {
		log.Warn("drive archive disabled", "error", err)
		return nil
	}
	if !uploader.IsAuthenticated() {
		log.Info("drive archive needs authorization", "url", uploader.AuthURL())
	}
	return uploader
}

func parseMarkerKind(s string) (scan.MarkerKind, error) {
	switch s {
	case "qr":
		return scan.KindQR, nil
	case "datamatrix":
		return scan.KindDataMatrix, nil
	default:
		return "", fmt.Errorf("unknown marker kind %q (want qr or datamatrix)", s)
	}
}
