// Package storage persists chunk embeddings and document records and answers
// similarity queries over them.
package storage

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
)

// VectorIndex stores chunks with embeddings and ranks them against a query vector.
type VectorIndex interface {
	// AddChunks upserts chunks by ID. Every chunk must carry an embedding.
	AddChunks(ctx context.Context, chunks []document.Chunk) error

	// GetDocumentChunks returns the chunks of a document ordered by chunk index.
	GetDocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error)

	// DeleteDocumentChunks removes every chunk owned by documentID.
	DeleteDocumentChunks(ctx context.Context, documentID string) error

	// Search ranks candidates by cosine similarity to query, highest first.
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]document.SearchResult, error)

	Stats(ctx context.Context) (IndexStats, error)
	Clear(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// SearchOptions restricts and shapes a Search.
type SearchOptions struct {
	// DocumentIDs limits candidates to these documents. Empty means all chunks.
	DocumentIDs []string

	// TopK truncates the ranking. Zero or less returns every match.
	TopK int

	// MinSimilarity drops candidates scoring below it.
	MinSimilarity float64

	// ExcludeUnembedded skips chunks whose embedding is the zero vector.
	ExcludeUnembedded bool
}

// IndexStats summarizes index contents.
type IndexStats struct {
	TotalChunks    int            `json:"totalChunks"`
	TotalDocuments int            `json:"totalDocuments"`
	DocumentChunks map[string]int `json:"documentChunks,omitempty"`
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0 when
// either vector has zero magnitude. The vectors must have the same length.
func CosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push parallel vectors slightly past 1
	return max(-1, min(1, sim))
}

// Snapshot is an immutable view of the index: the primary chunk map and the
// per-document secondary index. Its JSON form is the on-disk index file layout.
type Snapshot struct {
	Chunks         map[string]document.Chunk `json:"chunks"`
	DocumentChunks map[string][]string       `json:"documentChunks"`
}

// NewSnapshot returns an empty Snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Chunks:         make(map[string]document.Chunk),
		DocumentChunks: make(map[string][]string),
	}
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		Chunks:         make(map[string]document.Chunk, len(s.Chunks)),
		DocumentChunks: make(map[string][]string, len(s.DocumentChunks)),
	}
	for id, chunk := range s.Chunks {
		next.Chunks[id] = chunk
	}
	for docID, ids := range s.DocumentChunks {
		next.DocumentChunks[docID] = slices.Clone(ids)
	}
	return next
}

// Mutation describes the delta between two snapshots, for backends that persist
// incrementally.
type Mutation struct {
	Upserted  []document.Chunk
	DeletedID []string
	Cleared   bool
}

// Backend persists snapshots. Commit must be durable when it returns.
type Backend interface {
	Load(ctx context.Context) (*Snapshot, error)
	Commit(ctx context.Context, next *Snapshot, m Mutation) error
	Close() error
}

// Index is an in-memory VectorIndex persisted through a Backend.
//
// Readers take the current snapshot and never block on writers. A writer builds the
// next snapshot, commits it and only then publishes it, so a search observes either
// the state before a mutation or after it, never a mix.
type Index struct {
	backend Backend
	logger  *slog.Logger

	writeMu sync.Mutex // serializes mutations
	mu      sync.RWMutex
	snap    *Snapshot
}

var _ VectorIndex = (*Index)(nil)

// OpenIndex loads the backend contents into memory.
func OpenIndex(ctx context.Context, backend Backend, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	if snap == nil {
		snap = NewSnapshot()
	}

	logger.Info("Vector index loaded", "chunks", len(snap.Chunks), "documents", len(snap.DocumentChunks))
	return &Index{
		backend: backend,
		logger:  logger,
		snap:    snap,
	}, nil
}

func (x *Index) current() *Snapshot {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.snap
}

// apply runs a copy-on-write mutation: build from a clone, commit, publish.
func (x *Index) apply(ctx context.Context, build func(next *Snapshot) (Mutation, bool, error)) error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()

	next := x.current().clone()
	m, changed, err := build(next)
	if err != nil || !changed {
		return err
	}

	if err := x.backend.Commit(ctx, next, m); err != nil {
		return fmt.Errorf("%w: %v", ErrIndexIO, err)
	}

	x.mu.Lock()
	x.snap = next
	x.mu.Unlock()
	return nil
}

func (x *Index) AddChunks(ctx context.Context, chunks []document.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return x.apply(ctx, func(next *Snapshot) (Mutation, bool, error) {
		dim := next.dimension()
		for _, chunk := range chunks {
			if len(chunk.Embedding) == 0 {
				return Mutation{}, false, fmt.Errorf("%w: %s", ErrMissingEmbedding, chunk.ID)
			}
			if dim == 0 {
				dim = len(chunk.Embedding)
			}
			if len(chunk.Embedding) != dim {
				return Mutation{}, false, fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
					ErrDimensionMismatch, chunk.ID, len(chunk.Embedding), dim)
			}
		}

		for _, chunk := range chunks {
			if prev, ok := next.Chunks[chunk.ID]; ok && prev.DocumentID != chunk.DocumentID {
				next.DocumentChunks[prev.DocumentID] = removeID(next.DocumentChunks[prev.DocumentID], chunk.ID)
				if len(next.DocumentChunks[prev.DocumentID]) == 0 {
					delete(next.DocumentChunks, prev.DocumentID)
				}
			}

			next.Chunks[chunk.ID] = chunk
			if !slices.Contains(next.DocumentChunks[chunk.DocumentID], chunk.ID) {
				next.DocumentChunks[chunk.DocumentID] = append(next.DocumentChunks[chunk.DocumentID], chunk.ID)
			}
		}
		return Mutation{Upserted: chunks}, true, nil
	})
}

func (x *Index) GetDocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error) {
	snap := x.current()

	ids := snap.DocumentChunks[documentID]
	chunks := make([]document.Chunk, 0, len(ids))
	for _, id := range ids {
		chunk, ok := snap.Chunks[id]
		if !ok {
			x.logger.Warn("Dangling chunk reference", "document_id", documentID, "chunk_id", id)
			continue
		}
		chunks = append(chunks, chunk)
	}

	sortByChunkIndex(chunks)
	return chunks, nil
}

func (x *Index) DeleteDocumentChunks(ctx context.Context, documentID string) error {
	return x.apply(ctx, func(next *Snapshot) (Mutation, bool, error) {
		ids, ok := next.DocumentChunks[documentID]
		if !ok {
			return Mutation{}, false, nil
		}

		for _, id := range ids {
			delete(next.Chunks, id)
		}
		delete(next.DocumentChunks, documentID)
		return Mutation{DeletedID: ids}, true, nil
	})
}

func (x *Index) Search(ctx context.Context, query []float32, opts SearchOptions) ([]document.SearchResult, error) {
	snap := x.current()

	var results []document.SearchResult
	consider := func(chunk document.Chunk) error {
		if len(chunk.Embedding) == 0 {
			return nil
		}
		if opts.ExcludeUnembedded && embedding.IsZero(chunk.Embedding) {
			return nil
		}
		if len(chunk.Embedding) != len(query) {
			return fmt.Errorf("%w: query has %d dimensions, chunk %s has %d",
				ErrDimensionMismatch, len(query), chunk.ID, len(chunk.Embedding))
		}

		sim := CosineSimilarity(query, chunk.Embedding)
		if sim >= opts.MinSimilarity {
			results = append(results, document.SearchResult{Chunk: chunk, Similarity: sim})
		}
		return nil
	}

	if len(opts.DocumentIDs) > 0 {
		seen := make(map[string]bool, len(opts.DocumentIDs))
		for _, docID := range opts.DocumentIDs {
			if seen[docID] {
				continue
			}
			seen[docID] = true

			for _, id := range snap.DocumentChunks[docID] {
				chunk, ok := snap.Chunks[id]
				if !ok {
					continue
				}
				if err := consider(chunk); err != nil {
					return nil, err
				}
			}
		}
	} else {
		for _, chunk := range snap.Chunks {
			if err := consider(chunk); err != nil {
				return nil, err
			}
		}
	}

	rank(results)
	if opts.TopK > 0 && len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

func (x *Index) Stats(ctx context.Context) (IndexStats, error) {
	snap := x.current()

	stats := IndexStats{
		TotalChunks:    len(snap.Chunks),
		TotalDocuments: len(snap.DocumentChunks),
		DocumentChunks: make(map[string]int, len(snap.DocumentChunks)),
	}
	for docID, ids := range snap.DocumentChunks {
		stats.DocumentChunks[docID] = len(ids)
	}
	return stats, nil
}

func (x *Index) Clear(ctx context.Context) error {
	return x.apply(ctx, func(next *Snapshot) (Mutation, bool, error) {
		*next = *NewSnapshot()
		return Mutation{Cleared: true}, true, nil
	})
}

func (x *Index) Health(ctx context.Context) error {
	return ctx.Err()
}

func (x *Index) Close() error {
	x.writeMu.Lock()
	defer x.writeMu.Unlock()
	return x.backend.Close()
}

// dimension returns the embedding size of any stored chunk, or 0 when empty.
func (s *Snapshot) dimension() int {
	for _, chunk := range s.Chunks {
		return len(chunk.Embedding)
	}
	return 0
}

// rank sorts by similarity descending. Ties keep document order so results are
// deterministic across runs.
func rank(results []document.SearchResult) {
	slices.SortFunc(results, func(a, b document.SearchResult) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Chunk.DocumentID, b.Chunk.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk.Metadata.ChunkIndex, b.Chunk.Metadata.ChunkIndex)
	})
}

func sortByChunkIndex(chunks []document.Chunk) {
	slices.SortFunc(chunks, func(a, b document.Chunk) int {
		return cmp.Compare(a.Metadata.ChunkIndex, b.Metadata.ChunkIndex)
	})
}

func removeID(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(s string) bool { return s == id })
}
