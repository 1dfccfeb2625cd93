package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"omniui/internal/api"
	"omniui/internal/apperrors"
	"omniui/internal/config"
	"omniui/internal/logging"
	"omniui/internal/notifications"
)

// State is the lifecycle position of one file handed to the manager.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions follow.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// File is a local image waiting to be uploaded.
type File struct {
	Name string
	// ContentType is the declared type; empty means derive it from Name.
	ContentType string
	Content     []byte
}

// Status is the observable state of one file.
type Status struct {
	Name     string
	State    State
	Progress int
	Message  string
	Image    api.Image
}

// Client is the transport surface the manager needs.
type Client interface {
	Upload(ctx context.Context, file api.UploadFile, progress api.ProgressFunc) (api.Image, error)
	ListInputImages(ctx context.Context) ([]api.Image, error)
	DeleteInputImage(ctx context.Context, filename string) (api.DeleteResponse, error)
}

// Options configures a Manager.
type Options struct {
	Concurrency   int
	AcceptedTypes []string
	Notifier      notifications.Notifier
	Logger        *slog.Logger
	// OnChange, when set, receives every status transition. It may be called
	// from several goroutines at once.
	OnChange func(Status)
}

// Manager validates and uploads images and owns the input image list.
type Manager struct {
	client      Client
	notifier    notifications.Notifier
	logger      *slog.Logger
	accepted    map[string]struct{}
	allowed     string
	concurrency int
	onChange    func(Status)

	mu     sync.Mutex
	images []api.Image
}

// NewManager constructs a Manager around client.
func NewManager(client Client, opts Options) *Manager {
	accepted := opts.AcceptedTypes
	if len(accepted) == 0 {
		accepted = config.DefaultAcceptedTypes
	}
	set := make(map[string]struct{}, len(accepted))
	names := make([]string, 0, len(accepted))
	for _, ct := range accepted {
		ct = strings.ToLower(strings.TrimSpace(ct))
		if _, dup := set[ct]; dup {
			continue
		}
		set[ct] = struct{}{}
		names = append(names, strings.TrimPrefix(ct, "image/"))
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewNop()
	}
	return &Manager{
		client:      client,
		notifier:    notifier,
		logger:      logging.NewComponentLogger(opts.Logger, "upload"),
		accepted:    set,
		allowed:     strings.Join(names, ", "),
		concurrency: concurrency,
		onChange:    opts.OnChange,
	}
}

// NewFromConfig builds a Manager using the [upload] configuration section.
func NewFromConfig(cfg *config.Config, client Client, notifier notifications.Notifier, logger *slog.Logger, onChange func(Status)) *Manager {
	opts := Options{Notifier: notifier, Logger: logger, OnChange: onChange}
	if cfg != nil {
		opts.Concurrency = cfg.Upload.Concurrency
		opts.AcceptedTypes = cfg.Upload.AcceptedTypes
	}
	return NewManager(client, opts)
}

// Images returns the last fetched input image list.
func (m *Manager) Images() []api.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]api.Image(nil), m.images...)
}

// Refresh re-fetches the input image list and replaces the held list. The
// held list is left untouched when the fetch fails.
func (m *Manager) Refresh(ctx context.Context) ([]api.Image, error) {
	images, err := m.client.ListInputImages(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.images = append([]api.Image(nil), images...)
	m.mu.Unlock()
	return images, nil
}

// ContentType returns the declared content type of f, deriving it from the
// file extension when none was given.
func ContentType(f File) string {
	if ct := strings.TrimSpace(f.ContentType); ct != "" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return strings.ToLower(mediaType)
		}
		return strings.ToLower(ct)
	}
	ext := strings.ToLower(filepath.Ext(f.Name))
	if ext == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
		return mediaType
	}
	return ""
}

// Accepts reports whether f carries an accepted image type.
func (m *Manager) Accepts(f File) bool {
	_, ok := m.accepted[ContentType(f)]
	return ok
}

// Upload validates and uploads files in parallel, bounded by the configured
// concurrency. Statuses are returned in input order. The returned error joins
// every per-file failure.
func (m *Manager) Upload(ctx context.Context, files ...File) ([]Status, error) {
	statuses := make([]Status, len(files))
	errs := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, f := range files {
		g.Go(func() error {
			statuses[i], errs[i] = m.uploadOne(gctx, f)
			return nil
		})
	}
	_ = g.Wait()
	return statuses, errors.Join(errs...)
}

func (m *Manager) uploadOne(ctx context.Context, f File) (Status, error) {
	status := Status{Name: f.Name, State: StateIdle}
	m.emit(status)

	status.State = StateValidating
	m.emit(status)

	if !m.Accepts(f) {
		status.State = StateFailed
		status.Message = m.invalidTypeMessage(f)
		m.emit(status)
		m.notifier.Error(ctx, status.Message)
		m.logger.Debug("upload rejected",
			logging.String("file", f.Name),
			logging.String("content_type", ContentType(f)),
		)
		return status, apperrors.Wrap(apperrors.ErrValidation, "upload", "validate", status.Message, nil)
	}

	status.State = StateUploading
	m.emit(status)

	var progressMu sync.Mutex
	lastPercent := 0
	progress := func(loaded, total int64) {
		if total <= 0 {
			return
		}
		percent := int(loaded * 100 / total)
		progressMu.Lock()
		if percent <= lastPercent {
			progressMu.Unlock()
			return
		}
		lastPercent = percent
		progressMu.Unlock()
		m.emit(Status{Name: f.Name, State: StateUploading, Progress: percent})
	}

	image, err := m.client.Upload(ctx, api.UploadFile{
		Name:        f.Name,
		ContentType: ContentType(f),
		Content:     f.Content,
	}, progress)
	if err != nil {
		status.State = StateFailed
		status.Message = fmt.Sprintf("Upload failed: %s", api.Message(err))
		m.emit(status)
		m.notifier.Error(ctx, status.Message)
		return status, err
	}

	status.State = StateSucceeded
	status.Progress = 100
	status.Image = image
	m.emit(status)

	if _, err := m.Refresh(ctx); err != nil {
		m.logger.Warn("image list refresh failed after upload",
			logging.String("file", f.Name),
			logging.Error(err),
			logging.String(logging.FieldEventType, "upload_refresh_failed"),
			logging.String(logging.FieldErrorHint, "run omniui images list to retry"),
		)
	}
	m.notifier.Success(ctx, fmt.Sprintf("Uploaded %s", displayName(f, image)))
	m.logger.Info("image uploaded",
		logging.String("file", f.Name),
		logging.String("stored_as", image.Filename),
		logging.Int64("size_bytes", image.Size),
	)
	return status, nil
}

// Delete removes an input image and refreshes the list.
func (m *Manager) Delete(ctx context.Context, filename string) error {
	if _, err := m.client.DeleteInputImage(ctx, filename); err != nil {
		m.notifier.Error(ctx, fmt.Sprintf("Delete failed: %s", api.Message(err)))
		return err
	}
	if _, err := m.Refresh(ctx); err != nil {
		return err
	}
	m.notifier.Success(ctx, fmt.Sprintf("Deleted %s", filename))
	return nil
}

func (m *Manager) emit(status Status) {
	if m.onChange != nil {
		m.onChange(status)
	}
}

func (m *Manager) invalidTypeMessage(f File) string {
	ct := ContentType(f)
	if ct == "" {
		ct = "unknown"
	}
	return fmt.Sprintf("Invalid file type: %s (%s). Allowed types: %s", f.Name, ct, m.allowed)
}

func displayName(f File, image api.Image) string {
	if image.OriginalFilename != "" {
		return image.OriginalFilename
	}
	return f.Name
}

// ReadFile loads a local image for upload.
func ReadFile(path string) (File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return File{Name: filepath.Base(path), Content: content}, nil
}

// FormatSize renders a byte count the way the image list shows it.
func FormatSize(size int64) string {
	if size < 0 {
		size = 0
	}
	return strings.Replace(humanize.IBytes(uint64(size)), "iB", "B", 1)
}
