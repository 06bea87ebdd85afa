// Package ingest coordinates staged uploads: plain files are stored once,
// videos are additionally transcoded to HLS and DASH and their trees uploaded.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/internal/staging"
	"github.com/BanarasDigital/marketingbackend/internal/storage"
	"github.com/BanarasDigital/marketingbackend/internal/transcoder"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

var tracer = otel.Tracer("media-ingest")

// ObjectStore uploads single files.
type ObjectStore interface {
	PutFile(ctx context.Context, key, localPath, contentType string) (int64, error)
}

// TreeUploader uploads a rendition directory.
type TreeUploader interface {
	UploadTree(ctx context.Context, localDir, prefix string) ([]string, error)
}

// Transcoder produces renditions for one job.
type Transcoder interface {
	ProduceHLS(ctx context.Context, job transcoder.Job) error
	ProduceDASH(ctx context.Context, job transcoder.Job) error
	Ladder() transcoder.Ladder
}

// Scratch owns staged files and job work directories.
type Scratch interface {
	Release(ctx context.Context, path string)
	NewWorkDir(jobID string) (staging.WorkDir, error)
	RemoveWorkDir(ctx context.Context, root string)
}

// URLResolver maps object keys to public URLs.
type URLResolver interface {
	KeyToPublicURL(key string) string
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Store      ObjectStore
	Trees      TreeUploader
	Transcoder Transcoder
	Scratch    Scratch
	URLs       URLResolver
	Logger     *slog.Logger

	// Concurrency > 1 processes files of one batch in parallel.
	Concurrency int

	// SkipTranscode stores videos like any other file.
	SkipTranscode bool
}

// Orchestrator processes batches of staged files.
type Orchestrator struct {
	cfg   Config
	now   func() time.Time
	newID func() string
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Scratch == nil || cfg.URLs == nil || cfg.Logger == nil {
		return nil, errors.New("ingest: store, scratch, urls and logger are required")
	}
	if !cfg.SkipTranscode && (cfg.Transcoder == nil || cfg.Trees == nil) {
		return nil, errors.New("ingest: transcoder and tree uploader are required unless transcoding is skipped")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	return &Orchestrator{
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}, nil
}

// Process handles every file and returns one result per file in input order.
// Per-file failures are reported on the result; every staged file and work
// directory is removed before Process returns.
func (o *Orchestrator) Process(ctx context.Context, files []models.UploadedFile) []models.UploadResult {
	results := make([]models.UploadResult, len(files))
	if len(files) == 0 {
		return results
	}

	ctx, span := tracer.Start(ctx, "process-batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.files", len(files)))

	if o.cfg.Concurrency == 1 || len(files) == 1 {
		for i, f := range files {
			results[i] = o.ProcessFile(ctx, f)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			results[i] = o.ProcessFile(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessFile runs one staged file through the pipeline and releases it.
func (o *Orchestrator) ProcessFile(ctx context.Context, f models.UploadedFile) (res models.UploadResult) {
	ctx, span := tracer.Start(ctx, "process-file")
	defer span.End()

	start := time.Now()
	metrics.ActiveJobs.Inc()

	id := o.newID()
	folder := FolderForField(f.FieldName)
	video := f.IsVideo() && !o.cfg.SkipTranscode

	res = models.UploadResult{
		ID:           id,
		Field:        f.FieldName,
		Type:         f.MimeType,
		Size:         f.Size,
		OriginalName: f.OriginalName,
	}

	span.SetAttributes(
		attribute.String("file.id", id),
		attribute.String("file.field", f.FieldName),
		attribute.String("file.type", f.MimeType),
		attribute.Int64("file.size", f.Size),
	)

	// Terminal cleanup runs on every path, including panics.
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, o.cfg.Logger, "Panic while processing file",
				"fileId", id, "panic", r, "stack", string(debug.Stack()))
			res.Failed(fmt.Sprintf("Upload process failed: %v", r))
		}
		o.cfg.Scratch.Release(ctx, f.LocalPath)

		if res.Error {
			span.SetStatus(codes.Error, res.Message)
		}
		metrics.ActiveJobs.Dec()
		metrics.RecordFile(video, res.Error)
		kind := "file"
		if video {
			kind = "video"
		}
		metrics.ProcessingDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}()

	key := ObjectKey(folder, o.now(), id, f.OriginalName, f.MimeType)
	contentType := f.MimeType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}

	if !video {
		if _, err := o.cfg.Store.PutFile(ctx, key, f.LocalPath, contentType); err != nil {
			logger.Error(ctx, o.cfg.Logger, "Upload failed", "fileId", id, "key", key, "error", err)
			res.Failed("S3 upload failed: " + err.Error())
			return res
		}
		res.Key = key
		res.URL = o.cfg.URLs.KeyToPublicURL(key)
		logger.Info(ctx, o.cfg.Logger, "File uploaded", "fileId", id, "key", key)
		return res
	}

	// The original is best effort; its absence does not block the transcode.
	res.OriginalKey = key
	if _, err := o.cfg.Store.PutFile(ctx, key, f.LocalPath, contentType); err != nil {
		logger.Warn(ctx, o.cfg.Logger, "Original upload failed", "fileId", id, "key", key, "error", err)
	} else {
		res.OriginalURL = o.cfg.URLs.KeyToPublicURL(key)
	}

	if err := o.transcode(ctx, id, folder, f.LocalPath, &res); err != nil {
		span.RecordError(err)
		logger.Error(ctx, o.cfg.Logger, "Transcode failed", "fileId", id, "error", err)
		res.Failed("Transcode/upload failed: " + err.Error())
		return res
	}

	logger.Info(ctx, o.cfg.Logger, "Video ingested",
		"fileId", id,
		"hlsKey", res.HLSKey,
		"dashKey", res.DASHKey,
		"duration", time.Since(start).String(),
	)
	return res
}

// transcode produces HLS then DASH in a fresh work directory and uploads both
// trees. res is only updated once everything succeeded.
func (o *Orchestrator) transcode(ctx context.Context, id, folder, source string, res *models.UploadResult) error {
	wd, err := o.cfg.Scratch.NewWorkDir(id)
	if err != nil {
		return err
	}
	defer o.cfg.Scratch.RemoveWorkDir(ctx, wd.Root)

	job := transcoder.Job{
		ID:      id,
		Source:  source,
		WorkDir: wd.Root,
		HLSDir:  wd.HLS,
		DASHDir: wd.DASH,
	}

	if err := o.cfg.Transcoder.ProduceHLS(ctx, job); err != nil {
		return err
	}
	if err := o.cfg.Transcoder.ProduceDASH(ctx, job); err != nil {
		return err
	}

	hlsPrefix := HLSPrefix(folder, id)
	dashPrefix := DASHPrefix(folder, id)

	if _, err := o.cfg.Trees.UploadTree(ctx, wd.HLS, hlsPrefix); err != nil {
		return err
	}
	if _, err := o.cfg.Trees.UploadTree(ctx, wd.DASH, dashPrefix); err != nil {
		return err
	}

	ladder := o.cfg.Transcoder.Ladder()
	renditions := make([]models.RenditionOutput, len(ladder))
	for i, r := range ladder {
		segPrefix := hlsPrefix + transcoder.VariantDir(i) + "/"
		renditions[i] = models.RenditionOutput{
			Name:          r.Label,
			PlaylistURL:   o.cfg.URLs.KeyToPublicURL(segPrefix + transcoder.HLSVariantName),
			SegmentPrefix: segPrefix,
		}
	}

	res.HLSKey = hlsPrefix + transcoder.HLSMasterName
	res.HLSURL = o.cfg.URLs.KeyToPublicURL(res.HLSKey)
	res.DASHKey = dashPrefix + transcoder.DASHManifestName
	res.DASHURL = o.cfg.URLs.KeyToPublicURL(res.DASHKey)
	res.Renditions = renditions

	return nil
}
