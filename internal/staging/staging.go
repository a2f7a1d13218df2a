package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/maltedev/catalog-sync/internal/models"
)

// DownloadError reports a failed image download. Callers decide the
// fallback; a color swatch download failure degrades the color to code kind
// instead of failing the product.
type DownloadError struct {
	URL     string
	Status  int
	Timeout bool
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("download timed out: %s", e.URL)
	}
	if e.Status != 0 {
		return fmt.Sprintf("download failed with status %d: %s", e.Status, e.URL)
	}
	return fmt.Sprintf("download failed: %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

type Options struct {
	Dir             string
	DownloadTimeout time.Duration
	MaxRetries      int
}

func DefaultOptions() *Options {
	return &Options{
		Dir:             filepath.Join(os.TempDir(), "catalog-sync"),
		DownloadTimeout: 30 * time.Second,
		MaxRetries:      2,
	}
}

// Stager downloads remote images into a shared staging directory and owns
// each staged file from creation to deletion. Filenames embed a caller key
// plus a random suffix so concurrent stagings never collide.
type Stager struct {
	dir    string
	client *retryablehttp.Client
	logger *slog.Logger
}

func NewStager(opts *Options) (*Stager, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = opts.MaxRetries
	client.HTTPClient.Timeout = opts.DownloadTimeout
	client.Logger = nil

	return &Stager{
		dir:    opts.Dir,
		client: client,
		logger: slog.Default().With("component", "stager"),
	}, nil
}

func (s *Stager) Dir() string { return s.dir }

// Stage downloads sourceURL into the staging directory. key becomes part of
// the filename (product reference, color name) so files are traceable on
// disk; uniqueness comes from the uuid suffix.
func (s *Stager) Stage(ctx context.Context, sourceURL, key string) (*models.StagedImage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, &DownloadError{URL: sourceURL, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		if ctx.Err() != nil || os.IsTimeout(err) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, &DownloadError{URL: sourceURL, Timeout: true, Err: err}
		}
		return nil, &DownloadError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, &DownloadError{URL: sourceURL, Status: resp.StatusCode}
	}

	localPath := filepath.Join(s.dir, s.filename(sourceURL, key))

	f, err := os.Create(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create staged file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(localPath)
		return nil, &DownloadError{URL: sourceURL, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return nil, fmt.Errorf("failed to close staged file: %w", err)
	}

	s.logger.Debug("image staged", "url", sourceURL, "path", localPath)

	return &models.StagedImage{
		SourceURL: sourceURL,
		LocalPath: localPath,
		CreatedAt: time.Now(),
	}, nil
}

// Attach copies a staged file into the multipart body under field.
func (s *Stager) Attach(w *multipart.Writer, field string, img *models.StagedImage) error {
	f, err := os.Open(img.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open staged file: %w", err)
	}
	defer f.Close()

	part, err := w.CreateFormFile(field, filepath.Base(img.LocalPath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to copy staged file into form: %w", err)
	}

	return nil
}

// Release deletes a staged file once its consuming request has finished.
// Deletion failures are logged, never raised.
func (s *Stager) Release(img *models.StagedImage) {
	if img == nil || img.LocalPath == "" {
		return
	}
	if err := os.Remove(img.LocalPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove staged file", "path", img.LocalPath, "error", err)
		return
	}
	s.logger.Debug("staged file removed", "path", img.LocalPath)
}

// ReleaseAll releases every image in the slice.
func (s *Stager) ReleaseAll(imgs []*models.StagedImage) {
	for _, img := range imgs {
		s.Release(img)
	}
}

// ScheduleCleanup removes the staged file after delay without blocking the
// caller. Used by fire-and-forget paths that cannot wait for the consuming
// request; Release is preferred where the request lifetime is known.
func (s *Stager) ScheduleCleanup(img *models.StagedImage, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		s.Release(img)
	}()
}

func (s *Stager) filename(sourceURL, key string) string {
	ext := path.Ext(sourceURL)
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}

	key = sanitizeKey(key)
	if key == "" {
		key = "imagem"
	}

	return fmt.Sprintf("%s_%s%s", key, uuid.NewString()[:8], ext)
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}
