//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/document"
)

// setupTestIndex connects to a local Qdrant with a throwaway collection.
// Skips test if Qdrant is not running.
func setupTestIndex(t *testing.T) *QdrantIndex {
	t.Helper()
	idx, err := NewQdrantIndex(context.Background(), QdrantConfig{
		Host:       "localhost",
		Port:       6334,
		Collection: "test_" + uuid.NewString(),
	}, nil)
	if err != nil {
		t.Skipf("Qdrant not available: %v", err)
	}

	t.Cleanup(func() {
		_ = idx.Clear(context.Background())
		idx.Close()
	})
	return idx
}

func TestPointIDDeterministic(t *testing.T) {
	assert.Equal(t, PointID("doc-chunk-0"), PointID("doc-chunk-0"))
	assert.NotEqual(t, PointID("doc-chunk-0"), PointID("doc-chunk-1"))
	_, err := uuid.Parse(PointID("doc-chunk-0"))
	assert.NoError(t, err)
}

func TestQdrantChunkRoundTrip(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	chunks := []document.Chunk{
		makeChunk("a", 1, 1, 1),
		makeChunk("a", 0, 1, 0),
		makeChunk("b", 0, 0, 1),
	}
	require.NoError(t, idx.AddChunks(ctx, chunks))
	// Re-adding overwrites the same points
	require.NoError(t, idx.AddChunks(ctx, chunks))

	got, err := idx.GetDocumentChunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a-chunk-0", got[0].ID)
	assert.Equal(t, chunks[1].Metadata, got[0].Metadata)
	assert.Equal(t, "a.txt", got[0].DocumentName)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.TotalDocuments)
}

func TestQdrantGetDocumentChunks_ManyPages(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	total := scrollPageSize + 44
	chunks := make([]document.Chunk, total)
	for i := range chunks {
		chunks[i] = makeChunk("big", i, 1, 0)
	}
	require.NoError(t, idx.AddChunks(ctx, chunks))

	got, err := idx.GetDocumentChunks(ctx, "big")
	require.NoError(t, err)
	require.Len(t, got, total)
	for i, chunk := range got {
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
	}

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, stats.DocumentChunks["big"])
}

func TestQdrantSearch(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddChunks(ctx, []document.Chunk{
		makeChunk("a", 0, 1, 0),
		makeChunk("a", 1, 1, 1),
		makeChunk("b", 0, 0, 1),
		makeChunk("c", 0, 0, 0),
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, SearchOptions{TopK: 2, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a-chunk-0", results[0].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-5)

	results, err = idx.Search(ctx, []float32{1, 0}, SearchOptions{DocumentIDs: []string{"b", "c"}, ExcludeUnembedded: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b-chunk-0", results[0].Chunk.ID)

	_, err = idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestQdrantDelete(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddChunks(ctx, []document.Chunk{makeChunk("gone", 0, 1, 0), makeChunk("kept", 0, 1, 0)}))
	require.NoError(t, idx.DeleteDocumentChunks(ctx, "gone"))

	got, err := idx.GetDocumentChunks(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, got)

	results, err := idx.Search(ctx, []float32{1, 0}, SearchOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Chunk.DocumentID)
}

func TestQdrantDimensionLocked(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.AddChunks(ctx, []document.Chunk{makeChunk("a", 0, 1, 0)}))
	err := idx.AddChunks(ctx, []document.Chunk{makeChunk("a", 1, 1, 0, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
