package staging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BanarasDigital/marketingbackend/pkg/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return m
}

func TestStage(t *testing.T) {
	m := newTestManager(t)

	path, size, err := m.Stage(context.Background(), strings.NewReader("hello world"), "My Lecture 01.mp4")
	require.NoError(t, err)

	assert.Equal(t, int64(11), size)
	assert.Equal(t, m.Dir(), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "-My_Lecture_01.mp4"), "path = %s", path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestStage_UniqueNames(t *testing.T) {
	m := newTestManager(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		path, _, err := m.Stage(context.Background(), strings.NewReader("x"), "same.png")
		require.NoError(t, err)
		assert.False(t, seen[path], "duplicate staged path %s", path)
		seen[path] = true
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStage_ReadFailureLeavesNoResidue(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Stage(context.Background(), failingReader{}, "a.pdf")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStaging))

	entries, err := os.ReadDir(m.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRelease(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path, _, err := m.Stage(ctx, strings.NewReader("x"), "a.txt")
	require.NoError(t, err)

	m.Release(ctx, path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Releasing twice or releasing nothing is a no-op.
	m.Release(ctx, path)
	m.Release(ctx, "")
}

func TestWorkDirLifecycle(t *testing.T) {
	m := newTestManager(t)

	wd, err := m.NewWorkDir("job-1")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.Dir(), "xcode-job-1"), wd.Root)
	assert.DirExists(t, wd.HLS)
	assert.DirExists(t, wd.DASH)

	require.NoError(t, os.MkdirAll(filepath.Join(wd.HLS, "v0"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(wd.HLS, "v0", "index.m3u8"), []byte("#EXTM3U"), 0644))

	m.RemoveWorkDir(context.Background(), wd.Root)
	assert.NoDirExists(t, wd.Root)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"my  cool\tvideo.mp4", "my_cool_video.mp4"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\me\clip.mov`, "clip.mov"},
		{"naïve café.png", "nave_caf.png"},
		{"", "upload"},
		{"$$$", "upload"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.in))
		})
	}
}
