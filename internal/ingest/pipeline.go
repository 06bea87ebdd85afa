package ingest

import (
	"fmt"
	"log/slog"

	"github.com/BanarasDigital/marketingbackend/internal/config"
	"github.com/BanarasDigital/marketingbackend/internal/staging"
	"github.com/BanarasDigital/marketingbackend/internal/storage"
	"github.com/BanarasDigital/marketingbackend/internal/transcoder"
)

// Pipeline is the set of collaborators both services run uploads through.
type Pipeline struct {
	Staging *staging.Manager
	Store   *storage.ObjectStore

	// Transcoding processes videos through the rendition ladder unless
	// SkipTranscode is configured. Raw stores every file once.
	Transcoding *Orchestrator
	Raw         *Orchestrator
}

// NewPipeline assembles staging, the media bucket store, the ffmpeg
// transcoder and both orchestrators from cfg.
func NewPipeline(cfg *config.Config, client storage.ObjectPutter, log *slog.Logger) (*Pipeline, error) {
	scratch, err := staging.NewManager(cfg.Media.StagingDir, log)
	if err != nil {
		return nil, err
	}

	store := storage.NewObjectStore(client, cfg.AWS.MediaBucket, log)
	trees := storage.NewTreeUploader(store, cfg.Media.TreeUploadConcurrency, log)
	urls := storage.NewCDN(cfg.AWS.CDNDomain)

	tc, err := transcoder.New(&transcoder.Config{
		Ladder:  transcoder.DefaultLadder,
		Runner:  transcoder.NewFFmpegRunner(cfg.Media.FFmpegPath, log),
		Timeout: cfg.Media.TranscodeTimeout,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("create transcoder: %w", err)
	}

	base := Config{
		Store:       store,
		Trees:       trees,
		Transcoder:  tc,
		Scratch:     scratch,
		URLs:        urls,
		Logger:      log,
		Concurrency: cfg.Media.UploadConcurrency,
	}

	transcoding := base
	transcoding.SkipTranscode = cfg.Media.SkipTranscode
	orch, err := New(transcoding)
	if err != nil {
		return nil, err
	}

	raw := base
	raw.SkipTranscode = true
	rawOrch, err := New(raw)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Staging:     scratch,
		Store:       store,
		Transcoding: orch,
		Raw:         rawOrch,
	}, nil
}
