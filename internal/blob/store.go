// Package blob keeps the original uploaded files on local disk.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Open for an unknown document.
var ErrNotFound = errors.New("file not found")

// FileStore stores each document's file as {id}{ext} in a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns where the file for id with the original name would be stored.
func (s *FileStore) Path(id, name string) string {
	return filepath.Join(s.dir, id+strings.ToLower(filepath.Ext(name)))
}

// Save copies r to the file for id and returns its path and size. A partial file
// is removed on failure.
func (s *FileStore) Save(ctx context.Context, id, name string, r io.Reader) (string, int64, error) {
	path := s.Path(id, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create %s: %w", path, err)
	}

	size, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("write %s: %w", path, err)
	}
	return path, size, nil
}

// Open returns the stored file at path. Paths outside the store are rejected.
func (s *FileStore) Open(path string) (*os.File, error) {
	if !s.owns(path) {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrNotFound, path, s.dir)
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return f, err
}

// Delete removes the file at path. A missing file is not an error.
func (s *FileStore) Delete(path string) error {
	if path == "" || !s.owns(path) {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *FileStore) owns(path string) bool {
	rel, err := filepath.Rel(s.dir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// ctxReader stops a copy when ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
