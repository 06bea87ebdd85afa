package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

// diagnosticLines is how much of the ffmpeg stderr tail is kept for errors.
const diagnosticLines = 20

// Runner executes an encoder with the given arguments inside dir.
type Runner interface {
	Run(ctx context.Context, dir string, args []string) error
}

// TranscodeError reports a failed or unstartable encoder invocation.
type TranscodeError struct {
	Format      string
	ExitCode    int
	TimedOut    bool
	Diagnostics string
	Err         error
}

func (e *TranscodeError) Error() string {
	var b strings.Builder
	b.WriteString("transcode")
	if e.Format != "" {
		b.WriteString(" " + e.Format)
	}
	switch {
	case e.TimedOut:
		b.WriteString(": timed out")
	case e.ExitCode != 0:
		fmt.Fprintf(&b, ": ffmpeg exited with code %d", e.ExitCode)
	case e.Err != nil:
		b.WriteString(": " + e.Err.Error())
	}
	if e.Diagnostics != "" {
		b.WriteString(": " + lastLine(e.Diagnostics))
	}
	return b.String()
}

func (e *TranscodeError) Unwrap() []error {
	errs := []error{models.ErrTranscodeFailed, models.ErrFFmpegFailed}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// FFmpegRunner runs the ffmpeg binary as a subprocess.
type FFmpegRunner struct {
	Path   string
	Logger *slog.Logger
}

// NewFFmpegRunner creates a runner for the binary at path ("ffmpeg" resolves via PATH).
func NewFFmpegRunner(path string, logger *slog.Logger) *FFmpegRunner {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegRunner{Path: path, Logger: logger}
}

// Run executes ffmpeg and waits for it to exit. Stdout is drained, stderr is
// logged and its tail is attached to any returned *TranscodeError.
func (f *FFmpegRunner) Run(ctx context.Context, dir string, args []string) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-execute")
	defer span.End()

	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Dir = dir

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return &TranscodeError{Err: fmt.Errorf("failed to get stderr pipe: %w", err)}
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return &TranscodeError{Err: fmt.Errorf("failed to get stdout pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		span.RecordError(err)
		return &TranscodeError{Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	tail := newLineTail(diagnosticLines)

	var wg sync.WaitGroup
	wg.Add(2)

	// Monitor stderr for progress and errors
	go func() {
		defer wg.Done()
		f.monitorOutput(ctx, stderrPipe, tail)
	}()

	// Drain stdout
	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	wg.Wait()
	cmdErr := cmd.Wait()

	if cmdErr != nil {
		span.RecordError(cmdErr)
		terr := &TranscodeError{
			Diagnostics: tail.String(),
			Err:         cmdErr,
		}
		var exitErr *exec.ExitError
		if errors.As(cmdErr, &exitErr) {
			terr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			terr.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
			terr.Err = ctx.Err()
		}
		return terr
	}

	return nil
}

// monitorOutput reads and logs FFmpeg output. Whatever the scanner cannot
// consume is discarded so ffmpeg never blocks on a full stderr pipe.
func (f *FFmpegRunner) monitorOutput(ctx context.Context, r io.Reader, tail *lineTail) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(scanOutputLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.Add(line)
		if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
			f.Logger.DebugContext(ctx, "FFmpeg progress", "output", line)
		} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
			f.Logger.WarnContext(ctx, "FFmpeg warning", "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		f.Logger.WarnContext(ctx, "FFmpeg output scanner error", "error", err)
	}
	_, _ = io.Copy(io.Discard, r)
}

// scanOutputLines splits on '\n' and on the bare '\r' ffmpeg ends each
// progress update with.
func scanOutputLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineTail keeps the last n lines written to it.
type lineTail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) Add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
