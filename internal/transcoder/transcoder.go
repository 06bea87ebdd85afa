package transcoder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/BanarasDigital/marketingbackend/internal/logger"
	"github.com/BanarasDigital/marketingbackend/internal/metrics"
)

var tracer = otel.Tracer("media-transcoder")

const (
	FormatHLS  = "hls"
	FormatDASH = "dash"
)

// Config holds configuration for the transcoder.
type Config struct {
	Ladder  Ladder
	Runner  Runner
	Timeout time.Duration
	Logger  *slog.Logger

	// SkipVerify disables manifest checks after each invocation.
	SkipVerify bool
}

// DefaultConfig returns a config running ffmpeg from PATH over DefaultLadder.
func DefaultConfig(logger *slog.Logger) *Config {
	return &Config{
		Ladder:  DefaultLadder,
		Runner:  NewFFmpegRunner("ffmpeg", logger),
		Timeout: 30 * time.Minute,
		Logger:  logger,
	}
}

// Job is the scratch layout of one transcode.
type Job struct {
	ID      string
	Source  string
	WorkDir string
	HLSDir  string
	DASHDir string
}

// Transcoder produces HLS and DASH renditions of a source file.
type Transcoder struct {
	config *Config
}

// New creates a Transcoder, rejecting invalid ladders.
func New(config *Config) (*Transcoder, error) {
	if err := config.Ladder.Validate(); err != nil {
		return nil, err
	}
	if config.Runner == nil {
		return nil, errors.New("transcoder: runner is required")
	}
	return &Transcoder{config: config}, nil
}

// Ladder returns the configured renditions.
func (t *Transcoder) Ladder() Ladder {
	return t.config.Ladder
}

// ProduceHLS encodes job.Source into an fMP4 HLS tree under job.HLSDir.
func (t *Transcoder) ProduceHLS(ctx context.Context, job Job) error {
	if err := CreateVariantDirs(job.HLSDir, t.config.Ladder); err != nil {
		return &TranscodeError{Format: FormatHLS, Err: err}
	}

	args := BuildHLSArgs(job.Source, job.HLSDir, t.config.Ladder)
	return t.produce(ctx, job, FormatHLS, args, func() error {
		return VerifyHLS(job.HLSDir, t.config.Ladder)
	})
}

// ProduceDASH encodes job.Source into a CMAF DASH tree under job.DASHDir.
func (t *Transcoder) ProduceDASH(ctx context.Context, job Job) error {
	args := BuildDASHArgs(job.Source, job.DASHDir, t.config.Ladder)
	return t.produce(ctx, job, FormatDASH, args, func() error {
		return VerifyDASH(job.DASHDir, t.config.Ladder)
	})
}

func (t *Transcoder) produce(ctx context.Context, job Job, format string, args []string, verify func() error) error {
	ctx, span := tracer.Start(ctx, "transcode-"+format)
	defer span.End()

	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("ladder.size", len(t.config.Ladder)),
	)

	if t.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Info(ctx, t.config.Logger, "Starting transcode", "jobId", job.ID, "format", format)

	err := t.config.Runner.Run(ctx, job.WorkDir, args)
	if err != nil {
		terr := asTranscodeError(ctx, err)
		terr.Format = format
		span.RecordError(terr)
		span.SetStatus(codes.Error, "ffmpeg failed")
		logger.Error(ctx, t.config.Logger, "Transcode failed",
			"jobId", job.ID,
			"format", format,
			"timedOut", terr.TimedOut,
			"diagnostics", terr.Diagnostics,
		)
		return terr
	}

	metrics.TranscodeDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())

	if !t.config.SkipVerify {
		if err := verify(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "manifest verification failed")
			return &TranscodeError{Format: format, Err: err}
		}
	}

	logger.Info(ctx, t.config.Logger, "Transcode complete",
		"jobId", job.ID,
		"format", format,
		"duration", time.Since(start).String(),
	)

	return nil
}

// asTranscodeError normalises runner errors, marking deadline expiry as a timeout.
func asTranscodeError(ctx context.Context, err error) *TranscodeError {
	var terr *TranscodeError
	if !errors.As(err, &terr) {
		terr = &TranscodeError{Err: err}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		terr.TimedOut = true
	}
	return terr
}
