package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ent0n29/scribe/internal/policy"
	"github.com/ent0n29/scribe/internal/recording"
	"github.com/ent0n29/scribe/internal/reliability"
)

const (
	exportAttempts = 3
	backoffBase    = 500 * time.Millisecond
	backoffCap     = 4 * time.Second
	docMimeType    = "application/vnd.google-apps.document"
)

// Uploader stores one named document and returns its file id. An empty
// fileID creates a new document.
type Uploader interface {
	Upload(ctx context.Context, fileID, name string, body io.Reader) (string, error)
}

type driveUploader struct {
	service  *drive.Service
	folderID string
}

func (u *driveUploader) Upload(ctx context.Context, fileID, name string, body io.Reader) (string, error) {
	if fileID != "" {
		if _, err := u.service.Files.Update(fileID, &drive.File{}).Media(body).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("drive update: %w", err)
		}
		return fileID, nil
	}
	doc, err := u.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: docMimeType,
		Parents:  []string{u.folderID},
	}).Media(body).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive create: %w", err)
	}
	return doc.Id, nil
}

// DriveExporter writes completed recordings as documents into a Drive folder.
type DriveExporter struct {
	uploader Uploader
	redact   bool
	logger   *log.Logger

	mu      sync.Mutex
	fileIDs map[string]string
}

// NewDriveExporter authenticates with a service account key file.
func NewDriveExporter(ctx context.Context, credPath, folderID string, redact bool, logger *log.Logger) (*DriveExporter, error) {
	creds, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	config, err := google.CredentialsFromJSONWithTypeAndParams(ctx, creds, google.ServiceAccount, google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := drive.NewService(ctx, option.WithCredentials(config))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewExporter(&driveUploader{service: svc, folderID: folderID}, redact, logger), nil
}

func NewExporter(uploader Uploader, redact bool, logger *log.Logger) *DriveExporter {
	if logger == nil {
		logger = log.Default()
	}
	return &DriveExporter{
		uploader: uploader,
		redact:   redact,
		logger:   logger.With("component", "archive"),
		fileIDs:  make(map[string]string),
	}
}

// Export uploads rec, retrying transient Drive failures. Re-exporting the
// same recording updates its existing document.
func (e *DriveExporter) Export(ctx context.Context, rec recording.Recording) error {
	if rec.Status != recording.StatusCompleted {
		return fmt.Errorf("archive %s: status %s is not exportable", rec.ID, rec.Status)
	}
	doc := Render(rec)
	if e.redact {
		doc, _ = policy.RedactPII(doc)
	}
	name := documentName(rec)

	e.mu.Lock()
	defer e.mu.Unlock()
	fileID := e.fileIDs[rec.ID]

	attempt := 0
	err := reliability.Retry(ctx, exportAttempts, backoffBase, backoffCap, retryable, func(ctx context.Context) error {
		attempt++
		id, err := e.uploader.Upload(ctx, fileID, name, strings.NewReader(doc))
		if err != nil {
			e.logger.Warn("drive upload failed", "recording_id", rec.ID, "attempt", attempt, "err", err)
			return err
		}
		fileID = id
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", rec.ID, err)
	}
	e.fileIDs[rec.ID] = fileID
	e.logger.Info("recording archived", "recording_id", rec.ID, "file_id", fileID)
	return nil
}

func retryable(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return reliability.IsRetryableHTTPStatus(gerr.Code)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func documentName(rec recording.Recording) string {
	return fmt.Sprintf("scribe-%s-%s", rec.CreatedAt.UTC().Format("2006-01-02"), rec.ID)
}
