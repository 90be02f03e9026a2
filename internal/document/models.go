// Package document defines the records shared by the ingestion and retrieval pipeline.
package document

import (
	"fmt"
	"time"
)

// Status is the ingestion state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// Page is the extracted text of one page of a document.
type Page struct {
	Number int    `json:"pageNumber"`
	Text   string `json:"text"`
}

// ChunkMetadata locates a chunk inside its document.
// StartIndex and EndIndex are offsets into the concatenated document text, not the page.
type ChunkMetadata struct {
	Page       int `json:"page"`
	ChunkIndex int `json:"chunkIndex"`
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// Chunk is a span of document text stored as the unit of retrieval.
// DocumentID and DocumentName are back-references only.
type Chunk struct {
	ID           string        `json:"id"`
	DocumentID   string        `json:"documentId"`
	DocumentName string        `json:"documentName"`
	Content      string        `json:"content"`
	Metadata     ChunkMetadata `json:"metadata"`
	Embedding    []float32     `json:"embedding,omitempty"`
}

// ChunkID builds the deterministic chunk identifier "{documentId}-chunk-{index}".
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s-chunk-%d", documentID, index)
}

// Document is the registry record for one uploaded file.
type Document struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	TotalPages  int       `json:"totalPages"`
	TotalChunks int       `json:"totalChunks"`
	FileSize    int64     `json:"fileSize"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Outline     []string  `json:"outline,omitempty"`  // Headings found by the parser
	Summary     string    `json:"summary,omitempty"`  // LLM-generated, optional
	Entities    []string  `json:"entities,omitempty"` // LLM-generated, optional
}

// SearchResult is a ranked chunk. Similarity is in [-1, 1].
type SearchResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// Source is a citation returned with an answer.
type Source struct {
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName"`
	Page         int     `json:"page"`
	Content      string  `json:"content"` // Short preview of the chunk
	Similarity   float64 `json:"similarity"`
}

// Answer is a generated answer grounded on retrieved chunks.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// Stats aggregates registry and index counts.
type Stats struct {
	TotalDocuments      int `json:"totalDocuments"`
	ReadyDocuments      int `json:"readyDocuments"`
	ProcessingDocuments int `json:"processingDocuments"`
	ErrorDocuments      int `json:"errorDocuments"`
	TotalChunks         int `json:"totalChunks"`
}
