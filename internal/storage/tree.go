package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

var tracer = otel.Tracer("media-storage")

const (
	// MaxTreeDepth bounds directory nesting below the tree root.
	MaxTreeDepth = 8

	DefaultTreeConcurrency = 8
)

// TreeUploader mirrors a local directory into the object store.
type TreeUploader struct {
	store       *ObjectStore
	concurrency int
	log         *slog.Logger
}

// NewTreeUploader creates a TreeUploader with at most concurrency uploads in flight.
func NewTreeUploader(store *ObjectStore, concurrency int, log *slog.Logger) *TreeUploader {
	if concurrency <= 0 {
		concurrency = DefaultTreeConcurrency
	}
	return &TreeUploader{
		store:       store,
		concurrency: concurrency,
		log:         log,
	}
}

type treeFile struct {
	path string
	key  string
}

// UploadTree uploads every regular file under localDir to prefix+relativePath
// and returns the keys in depth-first walk order. Any failed file fails the
// whole tree.
func (u *TreeUploader) UploadTree(ctx context.Context, localDir, prefix string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "upload-tree")
	defer span.End()

	start := time.Now()

	files, err := walkTree(localDir, prefix)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", models.ErrTreeUpload, err)
	}

	var totalBytes atomic.Int64

	// The first failed file cancels the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for _, f := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			size, err := u.store.PutFile(gctx, f.key, f.path, ContentTypeFor(f.path))
			if err != nil {
				return err
			}
			totalBytes.Add(size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		logger.Error(ctx, u.log, "Tree upload failed", "prefix", prefix, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTreeUpload, prefix, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTreeUpload, prefix, err)
	}

	keys := make([]string, len(files))
	for i, f := range files {
		keys[i] = f.key
	}

	bytes := totalBytes.Load()
	metrics.TreeUploadDuration.Observe(time.Since(start).Seconds())
	metrics.TreeUploadFiles.Add(float64(len(keys)))
	metrics.TreeUploadBytes.Add(float64(bytes))

	span.SetAttributes(
		attribute.Int("files.uploaded", len(keys)),
		attribute.Int64("bytes.total", bytes),
	)

	logger.Info(ctx, u.log, "Tree upload complete",
		"prefix", prefix,
		"filesUploaded", len(keys),
		"totalBytes", bytes,
	)

	return keys, nil
}

// walkTree lists regular files under root depth-first, in lexical order within
// each directory, with keys built from forward-slash relative paths.
func walkTree(root, prefix string) ([]treeFile, error) {
	var files []treeFile

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && strings.Count(rel, "/")+1 > MaxTreeDepth {
				return fmt.Errorf("directory %s exceeds max depth %d", rel, MaxTreeDepth)
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		files = append(files, treeFile{path: path, key: prefix + rel})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}
