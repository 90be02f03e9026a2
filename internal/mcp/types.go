// Package mcp exposes document search, question answering and document
// management as Model Context Protocol tools.
package mcp

import (
	"time"

	"github.com/bull/docrag/internal/document"
)

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	Query       string   `json:"query" jsonschema:"the semantic search query"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"restrict the search to these document IDs"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"maximum number of chunks to return (default 5, at most 50)"`
}

// SearchDocumentsOutput contains the matching chunks.
type SearchDocumentsOutput struct {
	Results []ChunkResult `json:"results"`
	// Message provides informational context (e.g., "No matching chunks found").
	Message string `json:"message,omitempty"`
}

// ChunkResult is one ranked chunk.
type ChunkResult struct {
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Page         int     `json:"page"`
	ChunkIndex   int     `json:"chunk_index"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
}

// AskInput defines the input parameters for the ask tool.
type AskInput struct {
	Question    string   `json:"question" jsonschema:"the question to answer from the indexed documents"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"answer only from these document IDs"`
	TopK        int      `json:"top_k,omitempty" jsonschema:"number of excerpts used as context (default 5)"`
}

// AskOutput is the generated answer with its citations.
type AskOutput struct {
	Answer  string            `json:"answer"`
	Sources []document.Source `json:"sources"`
}

// DocumentInput identifies a document.
type DocumentInput struct {
	ID string `json:"id" jsonschema:"the document ID"`
}

// DocumentSummary is a document record as listed by the tools.
type DocumentSummary struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Status      document.Status `json:"status"`
	Error       string          `json:"error,omitempty"`
	TotalPages  int             `json:"total_pages"`
	TotalChunks int             `json:"total_chunks"`
	FileSize    int64           `json:"file_size"`
	Summary     string          `json:"summary,omitempty"`
	Entities    []string        `json:"entities,omitempty"`
	Outline     []string        `json:"outline,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ListDocumentsInput takes no parameters.
type ListDocumentsInput struct{}

// ListDocumentsOutput lists every document, most recently updated first.
type ListDocumentsOutput struct {
	Documents []DocumentSummary `json:"documents"`
	Count     int               `json:"count"`
}

// GetDocumentOutput contains one document record.
type GetDocumentOutput struct {
	Document *DocumentSummary `json:"document,omitempty"`
	Found    bool             `json:"found"`
}

// DocumentContentOutput is a document's text rebuilt from its chunks.
type DocumentContentOutput struct {
	Content    string `json:"content"`
	TotalPages int    `json:"total_pages"`
	Found      bool   `json:"found"`
}

// DeleteDocumentOutput reports a deletion.
type DeleteDocumentOutput struct {
	Deleted bool `json:"deleted"`
}

// UploadDocumentInput names a file on the server's filesystem.
type UploadDocumentInput struct {
	Path string `json:"path" jsonschema:"absolute path of the file to ingest, readable by the server"`
}

// UploadDocumentOutput is the record left by the ingestion.
type UploadDocumentOutput struct {
	Document DocumentSummary `json:"document"`
}

// StatsInput takes no parameters.
type StatsInput struct{}

// StatsOutput combines document counts with the embedding model state.
type StatsOutput struct {
	TotalDocuments      int    `json:"total_documents"`
	ReadyDocuments      int    `json:"ready_documents"`
	ProcessingDocuments int    `json:"processing_documents"`
	ErrorDocuments      int    `json:"error_documents"`
	TotalChunks         int    `json:"total_chunks"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingState      string `json:"embedding_state"`
	Dimension           int    `json:"dimension"`
}

func summarize(doc document.Document) DocumentSummary {
	return DocumentSummary{
		ID:          doc.ID,
		Name:        doc.Name,
		Status:      doc.Status,
		Error:       doc.Error,
		TotalPages:  doc.TotalPages,
		TotalChunks: doc.TotalChunks,
		FileSize:    doc.FileSize,
		Summary:     doc.Summary,
		Entities:    doc.Entities,
		Outline:     doc.Outline,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}
