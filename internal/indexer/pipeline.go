// Package indexer ingests documents into the vector index and keeps the
// document registry in step with it.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bull/docrag/internal/chunker"
	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/metadata"
	"github.com/bull/docrag/internal/parser"
	"github.com/bull/docrag/internal/storage"
)

// ErrNoText is recorded when a file parses but yields no chunk above the floor.
var ErrNoText = errors.New("no extractable text")

// ProgressFunc receives coarse ingestion milestones. Percentages are fixed
// checkpoints, not measured work.
type ProgressFunc func(percent int, message string)

// Progress checkpoints reported during Upload.
const (
	ProgressSaved    = 10
	ProgressParsed   = 20
	ProgressChunked  = 40
	ProgressEmbed    = 50
	ProgressEmbedded = 70
	ProgressIndexing = 90
	ProgressDone     = 100
)

// Parser extracts pages from a stored file.
type Parser interface {
	Parse(ctx context.Context, path string) (*parser.Parsed, error)
}

// Embedder maps chunk texts to vectors, zero vectors marking failed items.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Enricher produces optional document metadata.
type Enricher interface {
	GenerateMetadata(ctx context.Context, name, content string) (*metadata.DocumentMetadata, error)
}

// FileStore keeps uploaded files.
type FileStore interface {
	Save(ctx context.Context, id, name string, r io.Reader) (string, int64, error)
	Delete(path string) error
}

// Pipeline orchestrates ingestion from upload to an indexed, ready document.
type Pipeline struct {
	registry *Registry
	files    FileStore
	parser   Parser
	chunker  *chunker.Chunker
	embedder Embedder
	index    storage.VectorIndex
	enricher Enricher // optional
	logger   *slog.Logger
}

// NewPipeline creates a new ingestion pipeline with the given components.
// enricher may be nil.
func NewPipeline(
	registry *Registry,
	files FileStore,
	parser Parser,
	chunker *chunker.Chunker,
	embedder Embedder,
	index storage.VectorIndex,
	enricher Enricher,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		registry: registry,
		files:    files,
		parser:   parser,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		enricher: enricher,
		logger:   logger,
	}
}

// Registry returns the document registry the pipeline writes to.
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Upload ingests the file at path.
func (p *Pipeline) Upload(ctx context.Context, path string, progress ProgressFunc) (*document.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return p.UploadReader(ctx, filepath.Base(path), f, progress)
}

// UploadReader ingests the content of r under the display name name.
//
// Step failures do not return an error: the document is returned with status
// error and the failure message, and none of its chunks remain in the index.
// Only failures to record the document itself are returned as errors.
func (p *Pipeline) UploadReader(ctx context.Context, name string, r io.Reader, progress ProgressFunc) (*document.Document, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	start := time.Now()

	doc, err := p.registry.Create(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("register document: %w", err)
	}
	p.logger.Info("Starting ingestion", "document_id", doc.ID, "name", name)

	doc, err = p.ingest(ctx, doc, r, progress)
	if err != nil {
		return &doc, err
	}

	if doc.Status == document.StatusReady {
		p.logger.Info("Indexed document",
			"document_id", doc.ID, "name", name, "pages", doc.TotalPages,
			"chunks", doc.TotalChunks, "duration", time.Since(start))
	}
	return &doc, nil
}

func (p *Pipeline) ingest(ctx context.Context, doc document.Document, r io.Reader, progress ProgressFunc) (document.Document, error) {
	// 1. Persist file
	path, size, err := p.files.Save(ctx, doc.ID, doc.Name, r)
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("save file: %w", err))
	}
	doc.Path = path
	doc.FileSize = size
	if doc, err = p.registry.Update(ctx, doc); err != nil {
		return doc, err
	}
	progress(ProgressSaved, "File saved")

	// 2. Extract per-page text
	parsed, err := p.parser.Parse(ctx, path)
	if err != nil {
		return p.fail(ctx, doc, err)
	}
	doc.TotalPages = parsed.TotalPages
	doc.Outline = parsed.Outline
	if doc, err = p.registry.Update(ctx, doc); err != nil {
		return doc, err
	}
	progress(ProgressParsed, fmt.Sprintf("Extracted %d pages", parsed.TotalPages))

	// 3. Chunk and record totalChunks
	chunks := p.chunker.Chunk(parsed.Pages, doc.ID, doc.Name)
	if len(chunks) == 0 {
		return p.fail(ctx, doc, ErrNoText)
	}
	doc.TotalChunks = len(chunks)
	if doc, err = p.registry.Update(ctx, doc); err != nil {
		return doc, err
	}
	progress(ProgressChunked, fmt.Sprintf("Split into %d chunks", len(chunks)))

	// 4. Embed all chunks
	progress(ProgressEmbed, "Generating embeddings")
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return p.fail(ctx, doc, fmt.Errorf("embed chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return p.fail(ctx, doc, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	progress(ProgressEmbedded, "Embeddings generated")

	// Optional enrichment never fails the ingestion
	if p.enricher != nil {
		p.enrich(ctx, &doc, parsed.Pages)
	}

	// 5. Add to the index
	progress(ProgressIndexing, "Saving to index")
	if err := p.index.AddChunks(ctx, chunks); err != nil {
		// AddChunks is all-or-nothing; the delete covers chunk IDs from an earlier run
		p.dropChunks(ctx, doc.ID)
		return p.fail(ctx, doc, fmt.Errorf("index chunks: %w", err))
	}

	// 6. Mark ready
	doc.Status = document.StatusReady
	doc.Error = ""
	ready, err := p.registry.Update(ctx, doc)
	if err != nil {
		p.dropChunks(ctx, doc.ID)
		err = fmt.Errorf("mark ready: %w", err)
		failed, _ := p.fail(ctx, doc, err)
		return failed, err
	}
	progress(ProgressDone, "Done")
	return ready, nil
}

func (p *Pipeline) enrich(ctx context.Context, doc *document.Document, pages []document.Page) {
	texts := make([]string, len(pages))
	for i, page := range pages {
		texts[i] = page.Text
	}

	meta, err := p.enricher.GenerateMetadata(ctx, doc.Name, strings.Join(texts, "\n\n"))
	if err != nil {
		p.logger.Warn("Metadata generation failed, continuing without", "document_id", doc.ID, "error", err)
		return
	}
	doc.Summary = meta.Summary
	doc.Entities = meta.Entities
}

// fail records err on the document. The write is detached from ctx so a
// cancelled upload still leaves an inspectable record.
func (p *Pipeline) fail(ctx context.Context, doc document.Document, err error) (document.Document, error) {
	p.logger.Warn("Ingestion failed", "document_id", doc.ID, "name", doc.Name, "error", err)

	doc.Status = document.StatusError
	doc.Error = err.Error()
	updated, updateErr := p.registry.Update(context.WithoutCancel(ctx), doc)
	if updateErr != nil {
		return doc, fmt.Errorf("record failure: %w", updateErr)
	}
	return updated, nil
}

func (p *Pipeline) dropChunks(ctx context.Context, documentID string) {
	if err := p.index.DeleteDocumentChunks(context.WithoutCancel(ctx), documentID); err != nil {
		p.logger.Error("Failed to remove chunks of failed document", "document_id", documentID, "error", err)
	}
}

// Delete removes a document: index entries first, then the file, then the
// record, so a partial failure never leaves searchable chunks without a file.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	doc, err := p.registry.Get(id)
	if err != nil {
		return err
	}

	if err := p.index.DeleteDocumentChunks(ctx, id); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := p.files.Delete(doc.Path); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if err := p.registry.Remove(ctx, id); err != nil {
		return err
	}

	p.logger.Info("Deleted document", "document_id", id, "name", doc.Name)
	return nil
}
