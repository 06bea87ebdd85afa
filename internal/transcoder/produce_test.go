package transcoder_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BanarasDigital/marketingbackend/internal/transcoder"
	"github.com/BanarasDigital/marketingbackend/internal/transcoder/transcodertest"
	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJob(t *testing.T) transcoder.Job {
	root := t.TempDir()
	return transcoder.Job{
		ID:      "job-1",
		Source:  filepath.Join(root, "src.mp4"),
		WorkDir: root,
		HLSDir:  filepath.Join(root, "hls"),
		DASHDir: filepath.Join(root, "dash"),
	}
}

func newTranscoder(t *testing.T, runner transcoder.Runner, timeout time.Duration) *transcoder.Transcoder {
	t.Helper()
	tc, err := transcoder.New(&transcoder.Config{
		Ladder:  transcoder.DefaultLadder,
		Runner:  runner,
		Timeout: timeout,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tc
}

func TestProduceHLSAndDASH(t *testing.T) {
	runner := &transcodertest.Runner{}
	tc := newTranscoder(t, runner, time.Minute)
	job := newJob(t)
	ctx := context.Background()

	if err := tc.ProduceHLS(ctx, job); err != nil {
		t.Fatalf("ProduceHLS() error = %v", err)
	}
	if err := tc.ProduceDASH(ctx, job); err != nil {
		t.Fatalf("ProduceDASH() error = %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 2 {
		t.Fatalf("runner called %d times, want 2", len(calls))
	}
	if calls[0].Format != "hls" || calls[1].Format != "dash" {
		t.Errorf("formats = %s, %s; want hls, dash", calls[0].Format, calls[1].Format)
	}
	if calls[0].Dir != job.WorkDir {
		t.Errorf("runner dir = %s, want %s", calls[0].Dir, job.WorkDir)
	}
}

func TestProduceHLS_EncoderFails(t *testing.T) {
	runner := &transcodertest.Runner{Fail: map[string]bool{"hls": true}}
	tc := newTranscoder(t, runner, time.Minute)

	err := tc.ProduceHLS(context.Background(), newJob(t))
	if err == nil {
		t.Fatal("ProduceHLS() expected error")
	}

	var terr *transcoder.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T, want *TranscodeError", err)
	}
	if terr.Format != "hls" || terr.ExitCode != 1 || terr.Diagnostics == "" {
		t.Errorf("TranscodeError = %+v", terr)
	}
	if !errors.Is(err, models.ErrTranscodeFailed) || !errors.Is(err, models.ErrFFmpegFailed) {
		t.Errorf("error %v should wrap transcode sentinels", err)
	}
}

func TestProduceDASH_Timeout(t *testing.T) {
	runner := &transcodertest.Runner{Block: true}
	tc := newTranscoder(t, runner, 20*time.Millisecond)

	err := tc.ProduceDASH(context.Background(), newJob(t))

	var terr *transcoder.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TranscodeError", err)
	}
	if !terr.TimedOut {
		t.Error("TimedOut = false, want true")
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	if _, err := transcoder.New(&transcoder.Config{Ladder: transcoder.Ladder{}, Runner: &transcodertest.Runner{}}); err == nil {
		t.Error("New() expected error for empty ladder")
	}
	if _, err := transcoder.New(&transcoder.Config{Ladder: transcoder.DefaultLadder}); err == nil {
		t.Error("New() expected error without runner")
	}
}

func TestFFmpegRunner_CannotStart(t *testing.T) {
	runner := transcoder.NewFFmpegRunner(filepath.Join(t.TempDir(), "no-such-ffmpeg"), discardLogger())

	err := runner.Run(context.Background(), t.TempDir(), []string{"-version"})

	var terr *transcoder.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TranscodeError", err)
	}
	if !errors.Is(err, models.ErrFFmpegFailed) {
		t.Error("error should wrap ErrFFmpegFailed")
	}
}

func TestFFmpegRunner_NonZeroExit(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	runner := transcoder.NewFFmpegRunner(sh, discardLogger())

	err = runner.Run(context.Background(), t.TempDir(), []string{"-c", "echo 'Error opening input' >&2; exit 3"})

	var terr *transcoder.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TranscodeError", err)
	}
	if terr.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", terr.ExitCode)
	}
	if terr.Diagnostics != "Error opening input" {
		t.Errorf("Diagnostics = %q", terr.Diagnostics)
	}
}

func TestFFmpegRunner_LongProgressOutput(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	runner := transcoder.NewFFmpegRunner(sh, discardLogger())

	// Over 1 MiB of carriage-return terminated stats, as ffmpeg prints them.
	script := `i=0
while [ $i -lt 20000 ]; do
  printf 'frame=%6d fps=30 q=28.0 size=    1024kB time=00:00:01.00 bitrate= 800.0kbits/s speed=1.0x    \r' $i >&2
  i=$((i+1))
done
echo 'Conversion failed!' >&2
exit 4`

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = runner.Run(ctx, t.TempDir(), []string{"-c", script})

	var terr *transcoder.TranscodeError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TranscodeError", err)
	}
	if terr.TimedOut || ctx.Err() != nil {
		t.Fatal("runner stalled until the deadline")
	}
	if terr.ExitCode != 4 {
		t.Errorf("ExitCode = %d, want 4", terr.ExitCode)
	}
	if !strings.HasSuffix(terr.Diagnostics, "Conversion failed!") {
		t.Errorf("Diagnostics tail = %q", lastDiagnostic(terr.Diagnostics))
	}
}

func lastDiagnostic(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
