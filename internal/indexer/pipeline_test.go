package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/blob"
	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/metadata"
	"github.com/bull/docrag/internal/parser"
	"github.com/bull/docrag/internal/storage"
)

type testEnv struct {
	dir      string
	index    *storage.Index
	registry *Registry
	files    *blob.FileStore
	pipeline *Pipeline
}

type envOptions struct {
	embedder Embedder
	index    func(*storage.Index) storage.VectorIndex
	enricher Enricher
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := storage.OpenIndex(ctx, storage.NewJSONFileBackend(filepath.Join(dir, "index.json")), nil)
	require.NoError(t, err)

	var index storage.VectorIndex = idx
	if opts.index != nil {
		index = opts.index(idx)
	}

	docs, err := storage.OpenJSONDocumentStore(filepath.Join(dir, "documents.json"))
	require.NoError(t, err)
	registry, err := OpenRegistry(ctx, docs, index, nil)
	require.NoError(t, err)

	files, err := blob.NewFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	embedder := opts.embedder
	if embedder == nil {
		embedder = embedding.NewProvider(embedding.NewHashModel(64), embedding.Config{}, nil)
	}

	return &testEnv{
		dir:      dir,
		index:    idx,
		registry: registry,
		files:    files,
		pipeline: NewPipeline(registry, files, parser.NewRegistry(), chunker.New(), embedder, index, opts.enricher, nil),
	}
}

func (e *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) chunkCount(t *testing.T, docID string) int {
	t.Helper()
	chunks, err := e.index.GetDocumentChunks(context.Background(), docID)
	require.NoError(t, err)
	return len(chunks)
}

func twoPageText() string {
	return strings.Repeat("alpha beta gamma delta ", 44)[:1000] + "\f" + strings.Repeat("omega ", 40)[:200]
}

func TestPipeline_UploadHappyPath(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	path := env.writeFile(t, "report.txt", twoPageText())

	var checkpoints []int
	doc, err := env.pipeline.Upload(context.Background(), path, func(percent int, message string) {
		checkpoints = append(checkpoints, percent)
		assert.NotEmpty(t, message)
	})
	require.NoError(t, err)

	assert.Equal(t, document.StatusReady, doc.Status)
	assert.Empty(t, doc.Error)
	assert.Equal(t, "report.txt", doc.Name)
	assert.Equal(t, 2, doc.TotalPages)
	assert.Equal(t, 3, doc.TotalChunks)
	assert.Equal(t, int64(1201), doc.FileSize)
	assert.Equal(t, []int{10, 20, 40, 50, 70, 90, 100}, checkpoints)

	chunks, err := env.index.GetDocumentChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 1, 2}, []int{chunks[0].Metadata.Page, chunks[1].Metadata.Page, chunks[2].Metadata.Page})
	for _, chunk := range chunks {
		assert.Len(t, chunk.Embedding, 64)
	}

	stored, err := env.registry.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusReady, stored.Status)
	_, err = os.Stat(stored.Path)
	assert.NoError(t, err, "uploaded file persisted")

	stats, err := env.registry.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, document.Stats{TotalDocuments: 1, ReadyDocuments: 1, TotalChunks: 3}, stats)
}

func TestPipeline_EmptyExtraction(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	path := env.writeFile(t, "blank.txt", "  \n\n too short \f\f")

	doc, err := env.pipeline.Upload(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, document.StatusError, doc.Status)
	assert.Contains(t, doc.Error, "no extractable text")
	assert.Zero(t, env.chunkCount(t, doc.ID))
}

func TestPipeline_UnsupportedFormat(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	path := env.writeFile(t, "image.png", "not really a png")

	doc, err := env.pipeline.Upload(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, document.StatusError, doc.Status)
	assert.Contains(t, doc.Error, parser.ErrParseFailure.Error())
}

type failingEmbedder struct{ err error }

func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}

func TestPipeline_EmbeddingUnavailable(t *testing.T) {
	env := newTestEnv(t, envOptions{embedder: failingEmbedder{err: embedding.ErrModelUnavailable}})
	path := env.writeFile(t, "report.txt", twoPageText())

	var last int
	doc, err := env.pipeline.Upload(context.Background(), path, func(percent int, _ string) { last = percent })
	require.NoError(t, err)
	assert.Equal(t, document.StatusError, doc.Status)
	assert.Contains(t, doc.Error, "embedding model unavailable")
	assert.Equal(t, 3, doc.TotalChunks, "totalChunks recorded before embedding")
	assert.Equal(t, ProgressEmbed, last)
	assert.Zero(t, env.chunkCount(t, doc.ID))
}

type failingIndex struct {
	storage.VectorIndex
}

func (failingIndex) AddChunks(context.Context, []document.Chunk) error {
	return storage.ErrIndexIO
}

func TestPipeline_IndexFailureLeavesNoChunks(t *testing.T) {
	env := newTestEnv(t, envOptions{
		index: func(idx *storage.Index) storage.VectorIndex { return failingIndex{idx} },
	})
	path := env.writeFile(t, "report.txt", twoPageText())

	doc, err := env.pipeline.Upload(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, document.StatusError, doc.Status)
	assert.Zero(t, env.chunkCount(t, doc.ID))
}

type stubEnricher struct {
	meta *metadata.DocumentMetadata
	err  error
}

func (s stubEnricher) GenerateMetadata(context.Context, string, string) (*metadata.DocumentMetadata, error) {
	return s.meta, s.err
}

func TestPipeline_Enrichment(t *testing.T) {
	t.Run("stores summary", func(t *testing.T) {
		env := newTestEnv(t, envOptions{enricher: stubEnricher{meta: &metadata.DocumentMetadata{
			Summary: "A report", Entities: []string{"alpha"},
		}}})
		doc, err := env.pipeline.Upload(context.Background(), env.writeFile(t, "r.txt", twoPageText()), nil)
		require.NoError(t, err)
		assert.Equal(t, document.StatusReady, doc.Status)
		assert.Equal(t, "A report", doc.Summary)
		assert.Equal(t, []string{"alpha"}, doc.Entities)
	})

	t.Run("failure is ignored", func(t *testing.T) {
		env := newTestEnv(t, envOptions{enricher: stubEnricher{err: errors.New("quota exceeded")}})
		doc, err := env.pipeline.Upload(context.Background(), env.writeFile(t, "r.txt", twoPageText()), nil)
		require.NoError(t, err)
		assert.Equal(t, document.StatusReady, doc.Status)
		assert.Empty(t, doc.Summary)
	})
}

func TestPipeline_Delete(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	kept, err := env.pipeline.Upload(ctx, env.writeFile(t, "kept.txt", twoPageText()), nil)
	require.NoError(t, err)
	gone, err := env.pipeline.Upload(ctx, env.writeFile(t, "gone.txt", twoPageText()), nil)
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Delete(ctx, gone.ID))

	assert.Zero(t, env.chunkCount(t, gone.ID))
	assert.Equal(t, 3, env.chunkCount(t, kept.ID))
	_, err = os.Stat(gone.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = env.registry.Get(gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	results, err := env.index.Search(ctx, make([]float32, 64), storage.SearchOptions{MinSimilarity: -1})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, gone.ID, r.Chunk.DocumentID)
	}

	assert.ErrorIs(t, env.pipeline.Delete(ctx, "unknown"), ErrNotFound)
}

func TestPipeline_DeleteFailedDocument(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx := context.Background()

	doc, err := env.pipeline.Upload(ctx, env.writeFile(t, "blank.txt", ""), nil)
	require.NoError(t, err)
	require.Equal(t, document.StatusError, doc.Status)

	require.NoError(t, env.pipeline.Delete(ctx, doc.ID))
	assert.Empty(t, env.registry.List())
}
