// Package archive uploads capture artifacts to Google Drive. Uploads are
// best effort and never block the capture pipeline.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/quicklens/snapmark/internal/httpc"
	"github.com/quicklens/snapmark/internal/log"
	"github.com/quicklens/snapmark/pkg/scan"
)

// DriveConfig configures the Drive uploader.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g. "http://localhost:8090/api/archive/callback"
	TokenPath    string // default: ~/.snapmark/google_token.json
	FolderName   string // Drive folder captures are uploaded into
}

// DriveUploader handles OAuth2 authentication and Drive uploads.
type DriveUploader struct {
	config    *oauth2.Config
	tokenPath string
	folder    string

	mu       sync.RWMutex
	token    *oauth2.Token
	service  *drive.Service
	folderID string
}

// NewDriveUploader creates a Drive uploader. If a cached token exists on
// disk it is loaded so no interactive auth is needed.
func NewDriveUploader(cfg DriveConfig) (*DriveUploader, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("DRIVE_CLIENT_ID and DRIVE_CLIENT_SECRET are required")
	}

	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8090/api/archive/callback"
	}

	if cfg.TokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		cfg.TokenPath = filepath.Join(homeDir, ".snapmark", "google_token.json")
	}

	if cfg.FolderName == "" {
		cfg.FolderName = "snapmark-captures"
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.file",
		},
		Endpoint: google.Endpoint,
	}

	u := &DriveUploader{
		config:    oauthConfig,
		tokenPath: cfg.TokenPath,
		folder:    cfg.FolderName,
	}

	if err := u.loadToken(); err == nil {
		if err := u.initService(); err != nil {
			u.token = nil
		}
	}

	return u, nil
}

// IsAuthenticated returns true if the uploader has a valid token.
func (u *DriveUploader) IsAuthenticated() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.token != nil && u.token.Valid()
}

// AuthURL returns the OAuth2 authorization URL for user consent.
func (u *DriveUploader) AuthURL() string {
	return u.config.AuthCodeURL("snapmark-state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// HandleCallback exchanges the authorization code for a token.
func (u *DriveUploader) HandleCallback(code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpc.Client)

	token, err := u.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code for token: %w", err)
	}

	u.mu.Lock()
	u.token = token
	u.mu.Unlock()

	if err := u.saveToken(); err != nil {
		log.Warn("failed to cache drive token", "error", err)
	}

	return u.initService()
}

// Upload sends a capture artifact to the configured Drive folder. Returns
// the uploaded file's Drive ID.
func (u *DriveUploader) Upload(artifact scan.Artifact) (string, error) {
	u.mu.RLock()
	service := u.service
	u.mu.RUnlock()

	if service == nil {
		return "", fmt.Errorf("not authenticated with Drive")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	folderID, err := u.ensureFolder(ctx, service)
	if err != nil {
		return "", err
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	meta := &drive.File{
		Name:    filepath.Base(artifact.Path),
		Parents: []string{folderID},
	}

	created, err := service.Files.Create(meta).Media(f).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload to drive: %w", err)
	}

	return created.Id, nil
}

// UploadAsync uploads in a goroutine and logs the outcome. Wire this to the
// pipeline's capture hook so uploads never delay the cooldown cycle.
func (u *DriveUploader) UploadAsync(artifact scan.Artifact) {
	go func() {
		id, err := u.Upload(artifact)
		if err != nil {
			log.Warn("archive upload failed", "artifact", artifact.ID, "error", err)
			return
		}
		log.Info("archived capture to drive", "artifact", artifact.ID, "drive_id", id)
	}()
}

// ensureFolder finds or creates the upload folder and caches its ID.
func (u *DriveUploader) ensureFolder(ctx context.Context, service *drive.Service) (string, error) {
	u.mu.RLock()
	cached := u.folderID
	u.mu.RUnlock()
	if cached != "" {
		return cached, nil
	}

	query := fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.folder' and trashed = false", u.folder)
	list, err := service.Files.List().Q(query).PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("search drive folder: %w", err)
	}

	var id string
	if len(list.Files) > 0 {
		id = list.Files[0].Id
	} else {
		folder, err := service.Files.Create(&drive.File{
			Name:     u.folder,
			MimeType: "application/vnd.google-apps.folder",
		}).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("create drive folder: %w", err)
		}
		id = folder.Id
	}

	u.mu.Lock()
	u.folderID = id
	u.mu.Unlock()
	return id, nil
}

// initService builds the Drive service with the current token.
func (u *DriveUploader) initService() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.token == nil {
		return fmt.Errorf("no token available")
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpc.Client)
	client := u.config.Client(ctx, u.token)

	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return fmt.Errorf("create drive service: %w", err)
	}

	u.service = service
	return nil
}

// loadToken loads the OAuth token from disk.
func (u *DriveUploader) loadToken() error {
	data, err := os.ReadFile(u.tokenPath)
	if err != nil {
		return err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}

	u.mu.Lock()
	u.token = &token
	u.mu.Unlock()
	return nil
}

// saveToken saves the OAuth token to disk.
func (u *DriveUploader) saveToken() error {
	u.mu.RLock()
	token := u.token
	u.mu.RUnlock()

	if token == nil {
		return fmt.Errorf("no token to save")
	}

	if err := os.MkdirAll(filepath.Dir(u.tokenPath), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(u.tokenPath, data, 0600)
}
