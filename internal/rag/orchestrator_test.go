package rag

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/storage"
)

// axisEmbedder maps known texts to fixed vectors.
type axisEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

type recordingGenerator struct {
	completion Completion
	err        error

	calls    int
	question string
	context  string
}

func (g *recordingGenerator) Complete(_ context.Context, question, contextText string) (Completion, error) {
	g.calls++
	g.question = question
	g.context = contextText
	return g.completion, g.err
}

func chunk(docID, docName string, index, page int, content string, vec []float32) document.Chunk {
	return document.Chunk{
		ID:           document.ChunkID(docID, index),
		DocumentID:   docID,
		DocumentName: docName,
		Content:      content,
		Metadata:     document.ChunkMetadata{Page: page, ChunkIndex: index},
		Embedding:    vec,
	}
}

func newTestIndex(t *testing.T, chunks ...document.Chunk) *storage.Index {
	t.Helper()
	idx, err := storage.OpenIndex(context.Background(),
		storage.NewJSONFileBackend(filepath.Join(t.TempDir(), "index.json")), nil)
	require.NoError(t, err)
	if len(chunks) > 0 {
		require.NoError(t, idx.AddChunks(context.Background(), chunks))
	}
	return idx
}

func TestOrchestrator_Answer(t *testing.T) {
	idx := newTestIndex(t,
		chunk("doc-a", "a.txt", 0, 1, "Cats sleep most of the day.", []float32{1, 0, 0}),
		chunk("doc-a", "a.txt", 1, 2, "Dogs need daily walks.", []float32{0, 1, 0}),
		chunk("doc-b", "b.txt", 0, 1, "Cats and dogs can live together.", []float32{0.7, 0.7, 0}),
	)
	gen := &recordingGenerator{completion: Completion{Text: "Cats sleep a lot.", OK: true}}
	embedder := axisEmbedder{vectors: map[string][]float32{"how do cats sleep": {1, 0, 0}}}
	o := NewOrchestrator(embedder, idx, gen, nil)

	answer, err := o.Answer(context.Background(), "how do cats sleep", nil, 2)
	require.NoError(t, err)

	assert.Equal(t, "Cats sleep a lot.", answer.Answer)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "doc-a", answer.Sources[0].DocumentID)
	assert.InDelta(t, 1.0, answer.Sources[0].Similarity, 1e-6)
	assert.Equal(t, "doc-b", answer.Sources[1].DocumentID)

	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, "how do cats sleep", gen.question)
	assert.True(t, strings.HasPrefix(gen.context, "[Excerpt 1] (from \"a.txt\", page 1)\nCats sleep most of the day."))
	assert.Contains(t, gen.context, "\n\n---\n\n[Excerpt 2] (from \"b.txt\", page 1)\n")
}

func TestOrchestrator_AnswerScopedToDocuments(t *testing.T) {
	idx := newTestIndex(t,
		chunk("doc-a", "a.txt", 0, 1, "alpha", []float32{1, 0, 0}),
		chunk("doc-b", "b.txt", 0, 1, "beta", []float32{0.9, 0.1, 0}),
	)
	gen := &recordingGenerator{completion: Completion{Text: "ok", OK: true}}
	o := NewOrchestrator(axisEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}, idx, gen, nil)

	answer, err := o.Answer(context.Background(), "q", []string{"doc-b"}, 5)
	require.NoError(t, err)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "doc-b", answer.Sources[0].DocumentID)
}

func TestOrchestrator_FallbackToAllChunks(t *testing.T) {
	// Chunks whose embedding failed are stored as zero vectors and never rank.
	idx := newTestIndex(t,
		chunk("doc-a", "a.txt", 0, 1, "first part", []float32{0, 0, 0}),
		chunk("doc-a", "a.txt", 1, 2, "second part", []float32{0, 0, 0}),
		chunk("doc-b", "b.txt", 0, 1, "unrelated", []float32{0, 0, 0}),
	)
	gen := &recordingGenerator{completion: Completion{Text: "from fallback", OK: true}}
	o := NewOrchestrator(axisEmbedder{}, idx, gen, nil)

	answer, err := o.Answer(context.Background(), "anything", []string{"doc-a"}, 5)
	require.NoError(t, err)

	assert.Equal(t, "from fallback", answer.Answer)
	require.Len(t, answer.Sources, 2)
	for _, source := range answer.Sources {
		assert.Equal(t, "doc-a", source.DocumentID)
		assert.Zero(t, source.Similarity)
	}
	assert.Contains(t, gen.context, "first part")
	assert.Contains(t, gen.context, "second part")
	assert.NotContains(t, gen.context, "unrelated")
}

func TestOrchestrator_FallbackBelowThreshold(t *testing.T) {
	// Every chunk points away from the query, so none reaches similarity 0.
	idx := newTestIndex(t,
		chunk("doc-a", "a.txt", 0, 1, "opposite one", []float32{-1, 0, 0}),
		chunk("doc-a", "a.txt", 1, 1, "opposite two", []float32{-1, 0, 0}),
	)
	gen := &recordingGenerator{completion: Completion{Text: "answered anyway", OK: true}}
	o := NewOrchestrator(axisEmbedder{vectors: map[string][]float32{"q": {1, 0, 0}}}, idx, gen, nil)

	results, err := o.Search(context.Background(), "q", []string{"doc-a"}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	answer, err := o.Answer(context.Background(), "q", []string{"doc-a"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "answered anyway", answer.Answer)
	require.Len(t, answer.Sources, 2)
	for i, source := range answer.Sources {
		assert.Equal(t, "doc-a", source.DocumentID)
		assert.Zero(t, source.Similarity)
		assert.Equal(t, []string{"opposite one", "opposite two"}[i], source.Content)
	}
	assert.Equal(t, 1, gen.calls)
}

func TestOrchestrator_NoContent(t *testing.T) {
	tests := []struct {
		name string
		ids  []string
	}{
		{"unknown document", []string{"missing"}},
		{"empty index without scope", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &recordingGenerator{completion: Completion{Text: "never", OK: true}}
			o := NewOrchestrator(axisEmbedder{}, newTestIndex(t), gen, nil)

			answer, err := o.Answer(context.Background(), "q", tt.ids, 5)
			require.NoError(t, err)
			assert.Equal(t, NoContentAnswer, answer.Answer)
			assert.Empty(t, answer.Sources)
			assert.Zero(t, gen.calls, "generator must not be called")
		})
	}
}

func TestOrchestrator_Failures(t *testing.T) {
	idx := newTestIndex(t, chunk("doc-a", "a.txt", 0, 1, "alpha", []float32{0, 0, 1}))

	tests := []struct {
		name     string
		embedder axisEmbedder
		gen      *recordingGenerator
		contains string
	}{
		{
			name:     "embedding error",
			embedder: axisEmbedder{err: errors.New("model unavailable")},
			gen:      &recordingGenerator{},
			contains: "model unavailable",
		},
		{
			name:     "generation error",
			gen:      &recordingGenerator{err: errors.New("connection refused")},
			contains: "connection refused",
		},
		{
			name:     "generation not ok",
			gen:      &recordingGenerator{completion: Completion{ErrorMessage: "empty content"}},
			contains: "empty content",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(tt.embedder, idx, tt.gen, nil)

			_, err := o.Answer(context.Background(), "q", nil, 5)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrRetrievalFailed)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestOrchestrator_SearchDimensionMismatch(t *testing.T) {
	idx := newTestIndex(t, chunk("doc-a", "a.txt", 0, 1, "alpha", []float32{1, 0}))
	o := NewOrchestrator(axisEmbedder{}, idx, &recordingGenerator{}, nil)

	_, err := o.Search(context.Background(), "q", nil, 5)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrRetrievalFailed)

	_, err = o.Answer(context.Background(), "q", nil, 5)
	assert.ErrorIs(t, err, ErrRetrievalFailed)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestSources_Preview(t *testing.T) {
	long := strings.Repeat("文", PreviewLength+10)
	sources := Sources([]document.SearchResult{
		{Chunk: chunk("d", "d.txt", 0, 3, long, nil), Similarity: 0.5},
		{Chunk: chunk("d", "d.txt", 1, 4, "short", nil), Similarity: 0.4},
	})

	require.Len(t, sources, 2)
	assert.Equal(t, strings.Repeat("文", PreviewLength)+"...", sources[0].Content)
	assert.Equal(t, 3, sources[0].Page)
	assert.Equal(t, "short", sources[1].Content)
}

func TestOrchestrator_AnswerWithoutGenerator(t *testing.T) {
	o := NewOrchestrator(axisEmbedder{}, newTestIndex(t), nil, nil)

	_, err := o.Answer(context.Background(), "q", nil, 5)
	assert.ErrorIs(t, err, ErrNoGenerator)
}
