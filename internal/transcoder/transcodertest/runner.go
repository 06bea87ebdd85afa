// Package transcodertest provides a fake encoder that writes the output layout
// ffmpeg would produce, so pipelines can be tested without ffmpeg installed.
package transcodertest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BanarasDigital/marketingbackend/internal/transcoder"
)

// Runner is a transcoder.Runner that fabricates HLS and DASH trees.
type Runner struct {
	// Fail makes invocations of the given format ("hls", "dash") exit non-zero.
	Fail map[string]bool

	// Block makes every invocation wait for context cancellation.
	Block bool

	mu    sync.Mutex
	calls []Call
}

// Call records one invocation.
type Call struct {
	Format string
	Dir    string
	Args   []string
}

var _ transcoder.Runner = (*Runner)(nil)

func (r *Runner) Run(ctx context.Context, dir string, args []string) error {
	format := flagValue(args, "-f")

	r.mu.Lock()
	r.calls = append(r.calls, Call{Format: format, Dir: dir, Args: append([]string(nil), args...)})
	r.mu.Unlock()

	if r.Block {
		<-ctx.Done()
		return ctx.Err()
	}

	if r.Fail[format] {
		return &transcoder.TranscodeError{
			ExitCode:    1,
			Diagnostics: "Invalid data found when processing input",
			Err:         errors.New("exit status 1"),
		}
	}

	renditions := countPairs(args, "-map", "0:v:0")
	out := args[len(args)-1]

	switch format {
	case transcoder.FormatHLS:
		return writeHLS(filepath.Dir(filepath.Dir(out)), renditions)
	case transcoder.FormatDASH:
		return writeDASH(filepath.Dir(out), renditions)
	}
	return fmt.Errorf("transcodertest: unknown format %q", format)
}

// Calls returns the recorded invocations in order.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

func writeHLS(dir string, n int) error {
	var master strings.Builder
	master.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-INDEPENDENT-SEGMENTS\n")

	for i := 0; i < n; i++ {
		variant := transcoder.VariantDir(i)
		fmt.Fprintf(&master, "#EXT-X-STREAM-INF:BANDWIDTH=%d\n%s/index.m3u8\n", (i+1)*500000, variant)

		files := map[string]string{
			"index.m3u8":     "#EXTM3U\n#EXT-X-PLAYLIST-TYPE:VOD\n#EXTINF:6.0,\nseg_000000.m4s\n#EXT-X-ENDLIST\n",
			"init.mp4":       "init",
			"seg_000000.m4s": "segment",
		}
		if err := writeFiles(filepath.Join(dir, variant), files); err != nil {
			return err
		}
	}

	return os.WriteFile(filepath.Join(dir, transcoder.HLSMasterName), []byte(master.String()), 0644)
}

func writeDASH(dir string, n int) error {
	var mpd strings.Builder
	mpd.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	mpd.WriteString(`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT6S">` + "\n")
	mpd.WriteString(`<Period id="0" start="PT0S">` + "\n")
	mpd.WriteString(`<AdaptationSet id="0" contentType="video">` + "\n")

	files := make(map[string]string)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&mpd, `<Representation id="%d" mimeType="video/mp4" bandwidth="%d"/>`+"\n", i, (i+1)*400000)
		files[fmt.Sprintf("init_%d.m4s", i)] = "init"
		files[fmt.Sprintf("chunk_%d_00001.m4s", i)] = "chunk"
	}
	mpd.WriteString(`</AdaptationSet>` + "\n")

	fmt.Fprintf(&mpd, `<AdaptationSet id="1" contentType="audio"><Representation id="%d" mimeType="audio/mp4" bandwidth="128000"/></AdaptationSet>`+"\n", n)
	files[fmt.Sprintf("init_%d.m4s", n)] = "init"
	files[fmt.Sprintf("chunk_%d_00001.m4s", n)] = "chunk"

	mpd.WriteString("</Period>\n</MPD>\n")
	files[transcoder.DASHManifestName] = mpd.String()

	return writeFiles(dir, files)
}

func writeFiles(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			return err
		}
	}
	return nil
}

func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func countPairs(args []string, flag, value string) int {
	n := 0
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			n++
		}
	}
	return n
}
