package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/BanarasDigital/marketingbackend/internal/api"
	"github.com/BanarasDigital/marketingbackend/internal/auth"
	"github.com/BanarasDigital/marketingbackend/internal/config"
	"github.com/BanarasDigital/marketingbackend/internal/health"
	"github.com/BanarasDigital/marketingbackend/internal/ingest"
	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/observability"
	"github.com/BanarasDigital/marketingbackend/internal/storage"
)

const (
	ShutdownTimeout       = 60 * time.Minute
	TracerShutdownTimeout = 5 * time.Second
	AWSConfigTimeout      = 10 * time.Second
)

func main() {
	log := logger.New("info")
	slog.SetDefault(log)

	// Load configuration (reads .env when present)
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	log = logger.New(cfg.Observability.LogLevel)
	slog.SetDefault(log)

	// Initialize tracer
	shutdownTracer, err := observability.InitTracer(context.Background(), "media-api", observability.TracerConfig{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Environment: cfg.Environment,
		Insecure:    !cfg.IsProduction(),
	})
	if err != nil {
		log.Error("Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), TracerShutdownTimeout)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("Failed to shutdown tracer", "error", err)
		}
	}()

	// Initialize AWS clients
	ctx, cancel := context.WithTimeout(context.Background(), AWSConfigTimeout)
	defer cancel()

	awsCfg, err := storage.NewAWSConfig(ctx, cfg)
	if err != nil {
		log.Error("Failed to load AWS config", "error", err)
		os.Exit(1)
	}
	s3Client := storage.NewS3Client(awsCfg, cfg.AWS.S3Endpoint)

	// Initialize the ingest pipeline
	pipeline, err := ingest.NewPipeline(cfg, s3Client, log)
	if err != nil {
		log.Error("Failed to initialize ingest pipeline", "error", err)
		os.Exit(1)
	}
	log.Info("Ingest pipeline initialized",
		"stagingDir", pipeline.Staging.Dir(),
		"bucket", pipeline.Store.Bucket(),
		"skipTranscode", cfg.Media.SkipTranscode,
	)

	// Initialize media repository (optional)
	var media api.MediaStore
	if cfg.AWS.DynamoDBTable != "" {
		repo, err := storage.NewMediaRepository(dynamodb.NewFromConfig(awsCfg), cfg.AWS.DynamoDBTable)
		if err != nil {
			log.Error("Failed to initialize media repository", "error", err)
			os.Exit(1)
		}
		media = repo
		log.Info("DynamoDB media repository initialized", "table", cfg.AWS.DynamoDBTable)
	}

	// Presigned uploads go to the raw bucket (optional)
	var presigner api.URLPresigner
	if cfg.AWS.RawBucket != "" {
		presigner = storage.NewPresigner(s3Client)
	}

	// Initialize JWT service
	jwtSecret, err := cfg.GetJWTSecret()
	if err != nil {
		log.Error("Failed to get JWT secret", "error", err)
		os.Exit(1)
	}
	jwtService, err := auth.NewJWTService(jwtSecret)
	if err != nil {
		log.Error("Failed to create JWT service", "error", err)
		os.Exit(1)
	}

	// Initialize rate limiter
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimiterConfig())

	// Initialize health checker
	healthChecker := health.NewChecker(health.DefaultConfig("media-api", log,
		health.BucketProbe("s3", s3Client, cfg.AWS.MediaBucket),
		health.FFmpegProbe(cfg.Media.FFmpegPath),
		health.StagingProbe(pipeline.Staging.Dir()),
	))

	handlers := api.NewHandlers(&api.HandlersConfig{
		Config:       cfg,
		Logger:       log,
		Stager:       pipeline.Staging,
		Processor:    pipeline.Transcoding,
		RawProcessor: pipeline.Raw,
		Media:        media,
		Presigner:    presigner,
		JWTService:   jwtService,
		RateLimiter:  rateLimiter,
	})

	server := api.NewServer(&api.ServerConfig{
		Config:        cfg,
		Logger:        log,
		Handlers:      handlers,
		JWTService:    jwtService,
		RateLimiter:   rateLimiter,
		HealthChecker: healthChecker,
	})

	// Start server in goroutine
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Graceful shutdown lets running uploads finish their transcodes.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server shutdown complete")
}
