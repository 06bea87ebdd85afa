// Package staging owns the local scratch space used while an upload is processed:
// staged source files and per-job transcode work directories.
package staging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

var tracer = otel.Tracer("media-staging")

const (
	// WorkDirPrefix names per-job transcode directories.
	WorkDirPrefix = "xcode-"

	maxNameLen = 120
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeChars   = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// Manager stages incoming streams and creates job work directories under one root.
type Manager struct {
	dir string
	log *slog.Logger
	now func() time.Time
}

// NewManager creates the staging root if needed.
func NewManager(dir string, log *slog.Logger) (*Manager, error) {
	// ffmpeg runs with the job dir as cwd, so staged paths must be absolute.
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStaging, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", models.ErrStaging, err)
	}
	return &Manager{
		dir: dir,
		log: log,
		now: time.Now,
	}, nil
}

// Dir returns the staging root.
func (m *Manager) Dir() string {
	return m.dir
}

// Stage writes r to a new file named <unixMillis>-<uuid>-<sanitized name>.
// On error nothing is left behind.
func (m *Manager) Stage(ctx context.Context, r io.Reader, originalName string) (string, int64, error) {
	ctx, span := tracer.Start(ctx, "stage-file")
	defer span.End()

	name := fmt.Sprintf("%d-%s-%s", m.now().UnixMilli(), uuid.NewString(), SanitizeName(originalName))
	dst := filepath.Join(m.dir, name)

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", models.ErrStaging, err)
	}

	written, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		os.Remove(dst)
		return "", 0, fmt.Errorf("%w: write %s: %w", models.ErrStaging, name, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", 0, fmt.Errorf("%w: close %s: %v", models.ErrStaging, name, err)
	}

	metrics.StagedBytes.Add(float64(written))
	span.SetAttributes(attribute.Int64("file.size_bytes", written))
	logger.Debug(ctx, m.log, "Staged file", "path", dst, "sizeBytes", written)

	return dst, written, nil
}

// Release removes a staged file. Failures are logged, never returned.
func (m *Manager) Release(ctx context.Context, staged string) {
	if staged == "" {
		return
	}
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		metrics.RecordCleanupWarning("file")
		logger.Warn(ctx, m.log, "Failed to remove staged file", "path", staged, "error", err)
	}
}

// WorkDir is the scratch space of one transcode job.
type WorkDir struct {
	Root string
	HLS  string
	DASH string
}

// NewWorkDir creates <root>/xcode-<jobID> with hls and dash children.
func (m *Manager) NewWorkDir(jobID string) (WorkDir, error) {
	root := filepath.Join(m.dir, WorkDirPrefix+jobID)
	wd := WorkDir{
		Root: root,
		HLS:  filepath.Join(root, "hls"),
		DASH: filepath.Join(root, "dash"),
	}

	for _, dir := range []string{wd.HLS, wd.DASH} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			os.RemoveAll(root)
			return WorkDir{}, fmt.Errorf("%w: create work dir: %v", models.ErrStaging, err)
		}
	}

	return wd, nil
}

// RemoveWorkDir removes a job directory and everything under it.
func (m *Manager) RemoveWorkDir(ctx context.Context, root string) {
	if root == "" {
		return
	}
	if err := os.RemoveAll(root); err != nil {
		metrics.RecordCleanupWarning("workdir")
		logger.Warn(ctx, m.log, "Failed to remove work directory", "path", root, "error", err)
	}
}

// SanitizeName keeps only the base name, collapses whitespace to "_" and
// strips characters outside [a-zA-Z0-9._-].
func SanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = unsafeChars.ReplaceAllString(name, "")
	if len(name) > maxNameLen {
		name = name[len(name)-maxNameLen:]
	}
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	return name
}
