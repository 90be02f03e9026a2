package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bull/docrag/internal/document"
)

// JSONFileBackend stores the whole index in a single JSON file.
//
// Every commit rewrites the file through a temporary sibling and a rename, so a
// crash leaves either the old or the new file, never a truncated one.
type JSONFileBackend struct {
	path string
}

// NewJSONFileBackend returns a backend writing to path. Parent directories are
// created on first commit.
func NewJSONFileBackend(path string) *JSONFileBackend {
	return &JSONFileBackend{path: path}
}

func (b *JSONFileBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()
	found, err := readJSON(b.path, snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexIO, err)
	}
	if !found {
		return NewSnapshot(), nil
	}

	if snap.Chunks == nil {
		snap.Chunks = make(map[string]document.Chunk)
	}
	if snap.DocumentChunks == nil {
		snap.DocumentChunks = make(map[string][]string)
	}
	return snap, nil
}

func (b *JSONFileBackend) Commit(ctx context.Context, next *Snapshot, _ Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeJSONAtomic(b.path, next)
}

func (b *JSONFileBackend) Close() error {
	return nil
}

// JSONDocumentStore keeps document records in a single JSON file shaped
// {"documents": {id: record}}.
type JSONDocumentStore struct {
	path string

	mu   sync.Mutex
	docs map[string]document.Document
}

type documentsFile struct {
	Documents map[string]document.Document `json:"documents"`
}

// OpenJSONDocumentStore reads path if it exists.
func OpenJSONDocumentStore(path string) (*JSONDocumentStore, error) {
	var file documentsFile
	if _, err := readJSON(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexIO, err)
	}
	if file.Documents == nil {
		file.Documents = make(map[string]document.Document)
	}
	return &JSONDocumentStore{path: path, docs: file.Documents}, nil
}

func (s *JSONDocumentStore) Load(ctx context.Context) (map[string]document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]document.Document, len(s.docs))
	for id, doc := range s.docs {
		out[id] = doc
	}
	return out, nil
}

func (s *JSONDocumentStore) Put(ctx context.Context, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.docs[doc.ID]
	s.docs[doc.ID] = doc
	if err := writeJSONAtomic(s.path, documentsFile{Documents: s.docs}); err != nil {
		if existed {
			s.docs[doc.ID] = prev
		} else {
			delete(s.docs, doc.ID)
		}
		return fmt.Errorf("%w: %v", ErrIndexIO, err)
	}
	return nil
}

func (s *JSONDocumentStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.docs[id]
	if !ok {
		return nil
	}
	delete(s.docs, id)
	if err := writeJSONAtomic(s.path, documentsFile{Documents: s.docs}); err != nil {
		s.docs[id] = prev
		return fmt.Errorf("%w: %v", ErrIndexIO, err)
	}
	return nil
}

func (s *JSONDocumentStore) Close() error {
	return nil
}

// readJSON decodes path into v. A missing file reports found=false and no error.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
