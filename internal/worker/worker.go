// Package worker ingests browser uploads that land in the raw bucket, driven
// by S3 ObjectCreated notifications delivered through SQS.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/BanarasDigital/marketingbackend/internal/ingest"
	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// SQS configuration constants
const (
	SQSMaxMessages       = 1
	SQSWaitTimeSeconds   = 20
	SQSVisibilityTimeout = 900 // 15 minutes
	RetryBackoffPeriod   = 5 * time.Second

	// DefaultVisibilityHeartbeat re-extends an in-flight message well before
	// its visibility timeout lapses.
	DefaultVisibilityHeartbeat = SQSVisibilityTimeout * time.Second / 3
)

var (
	// ErrMalformedEvent means the message body is not an S3 notification.
	ErrMalformedEvent = errors.New("malformed S3 event")

	errMissingDeps = errors.New("worker: SQS client, downloader and processor are required")
)

var tracer = otel.Tracer("media-worker")

// QueueAPI is the subset of the SQS client used by the worker.
type QueueAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// ObjectDownloader stages a raw object locally.
type ObjectDownloader interface {
	Download(ctx context.Context, job models.ObjectCreatedJob, field, name string) (models.UploadedFile, error)
}

// Processor runs staged files through the ingest pipeline.
type Processor interface {
	Process(ctx context.Context, files []models.UploadedFile) []models.UploadResult
}

// MediaStore persists upload records.
type MediaStore interface {
	GetMedia(ctx context.Context, mediaID string) (*models.MediaRecord, error)
	SaveResult(ctx context.Context, mediaID, folder string, result models.UploadResult) (*models.MediaRecord, error)
}

// Config holds worker dependencies. Media may be nil, in which case results
// are only logged.
type Config struct {
	SQS               QueueAPI
	Downloader        ObjectDownloader
	Processor         Processor
	Media             MediaStore
	QueueURL          string
	MaxConcurrentJobs int
	Logger            *slog.Logger

	// VisibilityHeartbeat is how often a message being processed has its
	// visibility extended. Defaults to DefaultVisibilityHeartbeat.
	VisibilityHeartbeat time.Duration
}

// Worker consumes S3 event notifications from SQS.
type Worker struct {
	cfg Config
	log *slog.Logger
}

// New creates a new Worker with the given configuration.
func New(cfg Config) (*Worker, error) {
	if cfg.SQS == nil || cfg.Downloader == nil || cfg.Processor == nil {
		return nil, errMissingDeps
	}
	if cfg.QueueURL == "" {
		return nil, errors.New("worker: queue URL is required")
	}
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.VisibilityHeartbeat <= 0 {
		cfg.VisibilityHeartbeat = DefaultVisibilityHeartbeat
	}
	return &Worker{cfg: cfg, log: cfg.Logger}, nil
}

// Run polls the queue and blocks until ctx is cancelled and every in-flight
// message has been handled.
func (w *Worker) Run(ctx context.Context) {
	logger.Info(ctx, w.log, "Starting queue polling",
		"queueURL", w.cfg.QueueURL,
		"maxConcurrent", w.cfg.MaxConcurrentJobs,
	)

	sem := make(chan struct{}, w.cfg.MaxConcurrentJobs)
	var wg sync.WaitGroup

	defer func() {
		logger.Info(ctx, w.log, "Waiting for in-progress jobs to complete...")
		wg.Wait()
		logger.Info(ctx, w.log, "All jobs completed, shutting down")
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		result, err := w.cfg.SQS.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(w.cfg.QueueURL),
			MaxNumberOfMessages: SQSMaxMessages,
			WaitTimeSeconds:     SQSWaitTimeSeconds,
			VisibilityTimeout:   SQSVisibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(ctx, w.log, "Failed to receive messages", "error", err)
			select {
			case <-time.After(RetryBackoffPeriod):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, msg := range result.Messages {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				logger.Info(ctx, w.log, "Context cancelled, stopping message processing")
				return
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				// A started job finishes even when shutdown begins.
				w.HandleMessage(context.WithoutCancel(ctx), msg)
			}()
		}
	}
}

// HandleMessage processes one queue message and deletes it unless it should
// be redelivered. Malformed bodies and transient failures stay on the queue.
func (w *Worker) HandleMessage(ctx context.Context, msg types.Message) {
	ctx, span := tracer.Start(ctx, "handle-message")
	defer span.End()

	msgID := aws.ToString(msg.MessageId)
	span.SetAttributes(attribute.String("sqs.message_id", msgID))

	if msg.Body == nil {
		logger.Warn(ctx, w.log, "Empty message body", "messageId", msgID)
		w.delete(ctx, msg, "empty")
		return
	}

	jobs, err := ParseS3Event(*msg.Body)
	if err != nil {
		span.RecordError(err)
		logger.Error(ctx, w.log, "Failed to parse message body", "messageId", msgID, "error", err)
		metrics.QueueMessages.WithLabelValues("malformed").Inc()
		return
	}
	if len(jobs) == 0 {
		logger.Info(ctx, w.log, "No objects in message", "messageId", msgID)
		w.delete(ctx, msg, "skipped")
		return
	}

	stopHeartbeat := w.keepInFlight(ctx, msg)
	defer stopHeartbeat()

	for _, job := range jobs {
		if err := w.processObject(ctx, job); err != nil {
			span.RecordError(err)
			logger.Error(ctx, w.log, "Failed to process object, leaving message for retry",
				"messageId", msgID,
				"key", job.Key,
				"error", err,
			)
			metrics.QueueMessages.WithLabelValues("retry").Inc()
			return
		}
	}

	stopHeartbeat()
	w.delete(ctx, msg, "processed")
}

// keepInFlight extends the visibility of msg every VisibilityHeartbeat until
// the returned stop function is called, so a long transcode is not
// redelivered to another consumer. stop is safe to call more than once.
func (w *Worker) keepInFlight(ctx context.Context, msg types.Message) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.VisibilityHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, err := w.cfg.SQS.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(w.cfg.QueueURL),
					ReceiptHandle:     msg.ReceiptHandle,
					VisibilityTimeout: SQSVisibilityTimeout,
				})
				if err != nil && ctx.Err() == nil {
					logger.Warn(ctx, w.log, "Failed to extend message visibility",
						"messageId", aws.ToString(msg.MessageId),
						"error", err,
					)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// processObject ingests one raw object. Only failures worth retrying are
// returned; everything else is logged and treated as done.
func (w *Worker) processObject(ctx context.Context, job models.ObjectCreatedJob) error {
	ctx, span := tracer.Start(ctx, "process-object")
	defer span.End()
	span.SetAttributes(
		attribute.String("s3.bucket", job.Bucket),
		attribute.String("s3.key", job.Key),
		attribute.Int64("s3.size", job.Size),
	)

	obj, err := ingest.ParseRawKey(job.Key)
	if err != nil {
		logger.Warn(ctx, w.log, "Ignoring object outside the raw layout", "key", job.Key, "error", err)
		return nil
	}
	span.SetAttributes(attribute.String("media.id", obj.ID))

	if w.cfg.Media != nil {
		_, err := w.cfg.Media.GetMedia(ctx, obj.ID)
		switch {
		case err == nil:
			logger.Info(ctx, w.log, "Object already ingested", "mediaId", obj.ID, "key", job.Key)
			return nil
		case !errors.Is(err, models.ErrMediaNotFound):
			return fmt.Errorf("lookup %s: %w", obj.ID, err)
		}
	}

	logger.Info(ctx, w.log, "Processing object",
		"mediaId", obj.ID,
		"field", obj.Field,
		"key", job.Key,
		"sizeBytes", job.Size,
	)

	file, err := w.cfg.Downloader.Download(ctx, job, obj.Field, obj.Name)
	if err != nil {
		return err
	}

	results := w.cfg.Processor.Process(ctx, []models.UploadedFile{file})
	if len(results) != 1 {
		return fmt.Errorf("processor returned %d results for one file", len(results))
	}
	res := results[0]
	res.ID = obj.ID

	if res.Error {
		logger.Error(ctx, w.log, "Object ingest failed", "mediaId", obj.ID, "message", res.Message)
	}

	if w.cfg.Media == nil {
		logger.Info(ctx, w.log, "Object ingested", "mediaId", obj.ID, "hlsUrl", res.HLSURL, "url", res.URL)
		return nil
	}

	if _, err := w.cfg.Media.SaveResult(ctx, obj.ID, ingest.FolderForField(obj.Field), res); err != nil {
		return fmt.Errorf("save %s: %w", obj.ID, err)
	}

	logger.Info(ctx, w.log, "Object ingested", "mediaId", obj.ID, "failed", res.Error)
	return nil
}

func (w *Worker) delete(ctx context.Context, msg types.Message, outcome string) {
	metrics.QueueMessages.WithLabelValues(outcome).Inc()
	_, err := w.cfg.SQS.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(w.cfg.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logger.Error(ctx, w.log, "Failed to delete message",
			"messageId", aws.ToString(msg.MessageId),
			"error", err,
		)
	}
}
