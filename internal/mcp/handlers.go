package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docrag/internal/indexer"
)

const (
	defaultTopK = 5
	maxTopK     = 50
)

func clampTopK(k int) int {
	switch {
	case k <= 0:
		return defaultTopK
	case k > maxTopK:
		return maxTopK
	}
	return k
}

// makeSearchHandler creates the search_documents tool handler.
func makeSearchHandler(retriever Retriever) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		if input.Query == "" {
			return nil, SearchDocumentsOutput{}, errors.New("query is required")
		}

		results, err := retriever.Search(ctx, input.Query, input.DocumentIDs, clampTopK(input.TopK))
		if err != nil {
			return nil, SearchDocumentsOutput{}, fmt.Errorf("search failed: %w", err)
		}

		if len(results) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []ChunkResult{},
				Message: "No matching chunks found. Check that documents are uploaded and ready.",
			}, nil
		}

		out := SearchDocumentsOutput{Results: make([]ChunkResult, len(results))}
		for i, r := range results {
			out.Results[i] = ChunkResult{
				DocumentID:   r.Chunk.DocumentID,
				DocumentName: r.Chunk.DocumentName,
				Page:         r.Chunk.Metadata.Page,
				ChunkIndex:   r.Chunk.Metadata.ChunkIndex,
				Content:      r.Chunk.Content,
				Similarity:   r.Similarity,
			}
		}
		return nil, out, nil
	}
}

// makeAskHandler creates the ask tool handler.
func makeAskHandler(retriever Retriever) func(
	context.Context, *mcp.CallToolRequest, AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (
		*mcp.CallToolResult, AskOutput, error,
	) {
		if input.Question == "" {
			return nil, AskOutput{}, errors.New("question is required")
		}

		answer, err := retriever.Answer(ctx, input.Question, input.DocumentIDs, clampTopK(input.TopK))
		if err != nil {
			return nil, AskOutput{}, err
		}
		return nil, AskOutput{Answer: answer.Answer, Sources: answer.Sources}, nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(docs Documents) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(context.Context, *mcp.CallToolRequest, ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		list := docs.List()
		out := ListDocumentsOutput{Documents: make([]DocumentSummary, len(list)), Count: len(list)}
		for i, doc := range list {
			out.Documents[i] = summarize(doc)
		}
		return nil, out, nil
	}
}

// makeGetHandler creates the get_document tool handler. Unknown IDs are
// reported with Found false rather than as an error.
func makeGetHandler(docs Documents) func(
	context.Context, *mcp.CallToolRequest, DocumentInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(_ context.Context, _ *mcp.CallToolRequest, input DocumentInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		doc, err := docs.Get(input.ID)
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, GetDocumentOutput{Found: false}, nil
		}
		if err != nil {
			return nil, GetDocumentOutput{}, err
		}
		summary := summarize(doc)
		return nil, GetDocumentOutput{Document: &summary, Found: true}, nil
	}
}

// makeContentHandler creates the document_content tool handler.
func makeContentHandler(docs Documents) func(
	context.Context, *mcp.CallToolRequest, DocumentInput,
) (*mcp.CallToolResult, DocumentContentOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentInput) (
		*mcp.CallToolResult, DocumentContentOutput, error,
	) {
		content, err := docs.Content(ctx, input.ID)
		switch {
		case errors.Is(err, indexer.ErrNotFound), errors.Is(err, indexer.ErrNoContent):
			return nil, DocumentContentOutput{Found: false}, nil
		case err != nil:
			return nil, DocumentContentOutput{}, fmt.Errorf("failed to read document content: %w", err)
		}
		return nil, DocumentContentOutput{
			Content:    content.Content,
			TotalPages: content.TotalPages,
			Found:      true,
		}, nil
	}
}

// makeDeleteHandler creates the delete_document tool handler.
func makeDeleteHandler(ingester Ingester) func(
	context.Context, *mcp.CallToolRequest, DocumentInput,
) (*mcp.CallToolResult, DeleteDocumentOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentInput) (
		*mcp.CallToolResult, DeleteDocumentOutput, error,
	) {
		err := ingester.Delete(ctx, input.ID)
		if errors.Is(err, indexer.ErrNotFound) {
			return nil, DeleteDocumentOutput{Deleted: false}, nil
		}
		if err != nil {
			return nil, DeleteDocumentOutput{}, fmt.Errorf("failed to delete document: %w", err)
		}
		return nil, DeleteDocumentOutput{Deleted: true}, nil
	}
}

// makeUploadHandler creates the upload_document tool handler. A failed
// ingestion is not a tool error: the record carries status error.
func makeUploadHandler(ingester Ingester) func(
	context.Context, *mcp.CallToolRequest, UploadDocumentInput,
) (*mcp.CallToolResult, UploadDocumentOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input UploadDocumentInput) (
		*mcp.CallToolResult, UploadDocumentOutput, error,
	) {
		if !filepath.IsAbs(input.Path) {
			return nil, UploadDocumentOutput{}, fmt.Errorf("path must be absolute: %q", input.Path)
		}

		doc, err := ingester.Upload(ctx, input.Path, nil)
		if err != nil {
			return nil, UploadDocumentOutput{}, fmt.Errorf("upload failed: %w", err)
		}
		return nil, UploadDocumentOutput{Document: summarize(*doc)}, nil
	}
}

// makeStatsHandler creates the get_stats tool handler.
func makeStatsHandler(docs Documents, model ModelInfo) func(
	context.Context, *mcp.CallToolRequest, StatsInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (
		*mcp.CallToolResult, StatsOutput, error,
	) {
		stats, err := docs.Stats(ctx)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("failed to read stats: %w", err)
		}

		out := StatsOutput{
			TotalDocuments:      stats.TotalDocuments,
			ReadyDocuments:      stats.ReadyDocuments,
			ProcessingDocuments: stats.ProcessingDocuments,
			ErrorDocuments:      stats.ErrorDocuments,
			TotalChunks:         stats.TotalChunks,
		}
		if model != nil {
			info := model.Info()
			out.EmbeddingModel = info.Name
			out.EmbeddingState = info.State
			out.Dimension = info.Dimension
		}
		return nil, out, nil
	}
}
