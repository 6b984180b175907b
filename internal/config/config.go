// Package config provides configuration helpers for snapmark commands.
package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Defaults for the scanner deployment.
const (
	DefaultDashboardPort = "8090"
	DefaultCaptureDir    = "captures"
	DefaultDatabasePath  = "snapmark.db"
	DefaultObjectModel   = "models/object_detection.onnx"
)

// LoadDotenv loads a .env file from the working directory if present.
// Missing files are not an error; explicit env vars always win.
func LoadDotenv() {
	_ = godotenv.Load()
}

// envOr returns the env var value or a fallback when unset.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// CameraDevice returns the capture device from CAMERA_DEVICE.
// Accepts a device index ("0") or a stream URL (rtsp://...).
func CameraDevice() string {
	return envOr("CAMERA_DEVICE", "0")
}

// DashboardPort returns the dashboard listen port from DASHBOARD_PORT.
func DashboardPort() string {
	return envOr("DASHBOARD_PORT", DefaultDashboardPort)
}

// CaptureDir returns where capture stills are written, from CAPTURE_DIR.
func CaptureDir() string {
	return envOr("CAPTURE_DIR", DefaultCaptureDir)
}

// DatabasePath returns the capture event database path from DATABASE_PATH.
func DatabasePath() string {
	return envOr("DATABASE_PATH", DefaultDatabasePath)
}

// ObjectModelPath returns the object detector model path from OBJECT_MODEL.
func ObjectModelPath() string {
	return envOr("OBJECT_MODEL", DefaultObjectModel)
}

// StatusEndpoint returns the optional remote status websocket URL from
// STATUS_ENDPOINT. Empty means remote reporting is disabled.
func StatusEndpoint() string {
	return os.Getenv("STATUS_ENDPOINT")
}

// DriveCredentials returns the optional Google OAuth client credentials for
// the archive uploader. Empty client ID means archiving is disabled.
func DriveCredentials() (clientID, clientSecret, tokenPath string) {
	return os.Getenv("DRIVE_CLIENT_ID"),
		os.Getenv("DRIVE_CLIENT_SECRET"),
		envOr("DRIVE_TOKEN_PATH", ".snapmark/drive_token.json")
}
