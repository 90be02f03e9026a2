package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID(t *testing.T) {
	assert.Equal(t, "doc-1-chunk-0", ChunkID("doc-1", 0))
	assert.Equal(t, "abc-chunk-12", ChunkID("abc", 12))
}

// TestChunkJSONLayout pins the field names of the persisted index layout.
func TestChunkJSONLayout(t *testing.T) {
	chunk := Chunk{
		ID:           "d-chunk-0",
		DocumentID:   "d",
		DocumentName: "report.txt",
		Content:      "hello",
		Metadata:     ChunkMetadata{Page: 1, ChunkIndex: 0, StartIndex: 0, EndIndex: 5},
		Embedding:    []float32{1, 0},
	}

	data, err := json.Marshal(chunk)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "documentId")
	assert.Contains(t, raw, "documentName")
	assert.Contains(t, raw, "embedding")

	meta, ok := raw["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, meta, "chunkIndex")
	assert.Contains(t, meta, "startIndex")
	assert.Contains(t, meta, "endIndex")
}
