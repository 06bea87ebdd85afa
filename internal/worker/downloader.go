package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/internal/storage"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// ObjectGetter is the subset of the S3 client used for downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Stager writes downloaded bodies into the staging directory.
type Stager interface {
	Stage(ctx context.Context, r io.Reader, originalName string) (string, int64, error)
}

// Downloader copies raw objects into staging.
type Downloader struct {
	client ObjectGetter
	stager Stager
	log    *slog.Logger
}

// NewDownloader creates a new Downloader.
func NewDownloader(client ObjectGetter, stager Stager, log *slog.Logger) *Downloader {
	return &Downloader{
		client: client,
		stager: stager,
		log:    log,
	}
}

// Download stages the object named by job as a file for field. The MIME type
// comes from the object metadata, or from the name when S3 has none.
func (d *Downloader) Download(ctx context.Context, job models.ObjectCreatedJob, field, name string) (models.UploadedFile, error) {
	ctx, span := tracer.Start(ctx, "download-object")
	defer span.End()
	span.SetAttributes(
		attribute.String("s3.bucket", job.Bucket),
		attribute.String("s3.key", job.Key),
	)

	start := time.Now()

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(job.Bucket),
		Key:    aws.String(job.Key),
	})
	if err != nil {
		span.RecordError(err)
		return models.UploadedFile{}, fmt.Errorf("%w: %s: %v", models.ErrDownloadFailed, job.Key, err)
	}
	defer out.Body.Close()

	path, size, err := d.stager.Stage(ctx, out.Body, name)
	if err != nil {
		span.RecordError(err)
		return models.UploadedFile{}, fmt.Errorf("%w: %w", models.ErrDownloadFailed, err)
	}

	mimeType := aws.ToString(out.ContentType)
	if mimeType == "" || mimeType == "binary/octet-stream" || mimeType == "application/octet-stream" {
		mimeType = storage.ContentTypeFor(name)
	}

	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("file.size_bytes", size))
	logger.Info(ctx, d.log, "Downloaded object", "key", job.Key, "sizeBytes", size, "type", mimeType)

	return models.UploadedFile{
		FieldName:    field,
		OriginalName: name,
		MimeType:     mimeType,
		Size:         size,
		LocalPath:    path,
	}, nil
}
