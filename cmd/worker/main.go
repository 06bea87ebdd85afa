package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BanarasDigital/marketingbackend/internal/config"
	"github.com/BanarasDigital/marketingbackend/internal/health"
	"github.com/BanarasDigital/marketingbackend/internal/ingest"
	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/observability"
	"github.com/BanarasDigital/marketingbackend/internal/storage"
	"github.com/BanarasDigital/marketingbackend/internal/worker"
)

const (
	ShutdownTimeout  = 30 * time.Second
	AWSConfigTimeout = 10 * time.Second
)

func main() {
	log := logger.New("info")
	slog.SetDefault(log)
	bg := context.Background()

	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Error(bg, log, "Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log = logger.New(cfg.Observability.LogLevel)
	slog.SetDefault(log)

	// Initialize tracing
	shutdownTracer, err := observability.InitTracer(bg, "media-worker", observability.TracerConfig{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Environment: cfg.Environment,
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error(bg, log, "Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(bg, ShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error(bg, log, "Failed to shutdown tracer", "error", err)
		}
	}()

	// AWS Config and SQS Initialization
	awsCtx, awsCancel := context.WithTimeout(bg, AWSConfigTimeout)
	defer awsCancel()

	awsCfg, err := storage.NewAWSConfig(awsCtx, cfg)
	if err != nil {
		logger.Error(bg, log, "Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	s3Client := storage.NewS3Client(awsCfg, cfg.AWS.S3Endpoint)
	sqsClient := sqs.NewFromConfig(awsCfg)

	pipeline, err := ingest.NewPipeline(cfg, s3Client, log)
	if err != nil {
		logger.Error(bg, log, "Failed to initialize ingest pipeline", "error", err)
		os.Exit(1)
	}

	media, err := storage.NewMediaRepository(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
	if err != nil {
		logger.Error(bg, log, "Failed to initialize media repository", "error", err)
		os.Exit(1)
	}

	w, err := worker.New(worker.Config{
		SQS:               sqsClient,
		Downloader:        worker.NewDownloader(s3Client, pipeline.Staging, log),
		Processor:         pipeline.Transcoding,
		Media:             media,
		QueueURL:          cfg.AWS.SQSQueueURL,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		Logger:            log,
	})
	if err != nil {
		logger.Error(bg, log, "Failed to create worker", "error", err)
		os.Exit(1)
	}

	healthChecker := health.NewChecker(health.DefaultConfig("media-worker", log,
		health.BucketProbe("s3", s3Client, cfg.AWS.MediaBucket),
		health.BucketProbe("s3-raw", s3Client, cfg.AWS.RawBucket),
		health.QueueProbe(sqsClient, cfg.AWS.SQSQueueURL),
		health.FFmpegProbe(cfg.Media.FFmpegPath),
		health.StagingProbe(pipeline.Staging.Dir()),
	))

	// Start metrics server
	metricsServer := newMetricsServer(cfg.Worker.MetricsPort, healthChecker)
	go func() {
		logger.Info(bg, log, "Starting metrics server", "port", cfg.Worker.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(bg, log, "Metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(bg, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(bg, ShutdownTimeout)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(bg, log, "Failed to shutdown metrics server", "error", err)
	}
}

func newMetricsServer(port int, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", checker.Handler())
	mux.HandleFunc("GET /health/deep", checker.DeepHandler())

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
