package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/indexer"
)

type chanUploader struct {
	paths chan string
}

func (u *chanUploader) Upload(_ context.Context, path string, _ indexer.ProgressFunc) (*document.Document, error) {
	u.paths <- path
	return &document.Document{Name: filepath.Base(path), Status: document.StatusReady}, nil
}

func startWatcher(t *testing.T) (string, *chanUploader) {
	t.Helper()
	dir := t.TempDir()
	uploader := &chanUploader{paths: make(chan string, 10)}

	w := New(Config{
		Dir:      dir,
		Settle:   50 * time.Millisecond,
		Supports: func(name string) bool { return strings.HasSuffix(name, ".txt") },
	}, uploader, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	return dir, uploader
}

func waitUpload(t *testing.T, u *chanUploader) string {
	t.Helper()
	select {
	case p := <-u.paths:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upload")
		return ""
	}
}

func assertNoUpload(t *testing.T, u *chanUploader) {
	t.Helper()
	select {
	case p := <-u.paths:
		t.Errorf("unexpected upload of %s", p)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_UploadsCreatedFile(t *testing.T) {
	dir, uploader := startWatcher(t)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("first and more"), 0o644))

	assert.Equal(t, path, waitUpload(t, uploader))
	assertNoUpload(t, uploader)
}

func TestWatcher_IgnoresUnsupportedFiles(t *testing.T) {
	dir, uploader := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "image.png"), []byte("png"), 0o644))
	assertNoUpload(t, uploader)
}

func TestWatcher_RecreatedFileUploadsAgain(t *testing.T) {
	dir, uploader := startWatcher(t)
	path := filepath.Join(dir, "notes.txt")

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	waitUpload(t, uploader)

	require.NoError(t, os.Remove(path))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	assert.Equal(t, path, waitUpload(t, uploader))
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, &chanUploader{}, nil)
	assert.Error(t, w.Run(context.Background()))
}
