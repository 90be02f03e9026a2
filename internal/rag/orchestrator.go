// Package rag answers questions from indexed document chunks.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/storage"
)

var (
	// ErrRetrievalFailed wraps embedding, index and generation failures.
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrNoGenerator is returned by Answer when no answer model is configured.
	ErrNoGenerator = errors.New("no answer model configured")
)

const (
	// DefaultTopK is the number of chunks used as context when none is given.
	DefaultTopK = 5

	// PreviewLength is the maximum number of characters of a chunk shown in a source.
	PreviewLength = 200

	// NoContentAnswer is returned, without a generation call, when the requested
	// documents have no indexed chunks.
	NoContentAnswer = "Sorry, the document content could not be read. Make sure the document was uploaded and indexed successfully."

	excerptSeparator = "\n\n---\n\n"
)

// Embedder turns a question into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever is the part of the vector index used for answering.
type Retriever interface {
	Search(ctx context.Context, query []float32, opts storage.SearchOptions) ([]document.SearchResult, error)
	GetDocumentChunks(ctx context.Context, documentID string) ([]document.Chunk, error)
}

// Completion is the result of a generation call. OK is false when the backend
// answered but could not produce text; ErrorMessage then says why.
type Completion struct {
	Text         string
	OK           bool
	ErrorMessage string
}

// Generator writes an answer to question grounded on context.
type Generator interface {
	Complete(ctx context.Context, question, context string) (Completion, error)
}

// Orchestrator runs retrieval followed by generation.
type Orchestrator struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	logger    *slog.Logger
}

// NewOrchestrator wires the retrieval components together. generator may be
// nil, leaving only Search usable.
func NewOrchestrator(embedder Embedder, retriever Retriever, generator Generator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
}

// Search embeds query and returns the topK most similar embedded chunks,
// restricted to documentIDs when given.
func (o *Orchestrator) Search(ctx context.Context, query string, documentIDs []string, topK int) ([]document.SearchResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed question: %w", ErrRetrievalFailed, err)
	}

	results, err := o.retriever.Search(ctx, vector, storage.SearchOptions{
		DocumentIDs:       documentIDs,
		TopK:              topK,
		MinSimilarity:     0,
		ExcludeUnembedded: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search chunks: %w", ErrRetrievalFailed, err)
	}
	return results, nil
}

// Answer retrieves context for question and asks the generator for an answer.
//
// When the search finds nothing, every chunk of the requested documents is used
// instead with similarity 0. If that is empty too, NoContentAnswer is returned
// with no sources and the generator is not called.
func (o *Orchestrator) Answer(ctx context.Context, question string, documentIDs []string, topK int) (*document.Answer, error) {
	if o.generator == nil {
		return nil, ErrNoGenerator
	}
	start := time.Now()

	results, err := o.Search(ctx, question, documentIDs, topK)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		o.logger.Warn("No similar chunks found, using full document content", "documents", len(documentIDs))
		results, err = o.fallback(ctx, documentIDs)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return &document.Answer{Answer: NoContentAnswer, Sources: []document.Source{}}, nil
		}
	}

	contextText := BuildContext(results)
	completion, err := o.generator.Complete(ctx, question, contextText)
	if err != nil {
		return nil, fmt.Errorf("%w: generate answer: %w", ErrRetrievalFailed, err)
	}
	if !completion.OK {
		return nil, fmt.Errorf("%w: generate answer: %s", ErrRetrievalFailed, completion.ErrorMessage)
	}

	o.logger.Info("Answered question",
		"chunks", len(results), "context_chars", len(contextText), "duration", time.Since(start))

	return &document.Answer{
		Answer:  completion.Text,
		Sources: Sources(results),
	}, nil
}

func (o *Orchestrator) fallback(ctx context.Context, documentIDs []string) ([]document.SearchResult, error) {
	var results []document.SearchResult
	for _, id := range documentIDs {
		chunks, err := o.retriever.GetDocumentChunks(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: get chunks of %s: %w", ErrRetrievalFailed, id, err)
		}
		for _, chunk := range chunks {
			results = append(results, document.SearchResult{Chunk: chunk, Similarity: 0})
		}
	}
	return results, nil
}

// BuildContext labels each result with its position, document name and page.
func BuildContext(results []document.SearchResult) string {
	excerpts := make([]string, len(results))
	for i, r := range results {
		excerpts[i] = fmt.Sprintf("[Excerpt %d] (from %q, page %d)\n%s",
			i+1, r.Chunk.DocumentName, r.Chunk.Metadata.Page, r.Chunk.Content)
	}
	return strings.Join(excerpts, excerptSeparator)
}

// Sources converts results to citations with shortened content.
func Sources(results []document.SearchResult) []document.Source {
	sources := make([]document.Source, len(results))
	for i, r := range results {
		sources[i] = document.Source{
			DocumentID:   r.Chunk.DocumentID,
			DocumentName: r.Chunk.DocumentName,
			Page:         r.Chunk.Metadata.Page,
			Content:      preview(r.Chunk.Content),
			Similarity:   r.Similarity,
		}
	}
	return sources
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLength {
		return content
	}
	return string(runes[:PreviewLength]) + "..."
}
