// Package chunker splits extracted page text into overlapping fixed-size chunks.
package chunker

import (
	"strings"

	"github.com/bull/docrag/internal/document"
)

const (
	// DefaultChunkSize is the window length in characters.
	DefaultChunkSize = 800

	// DefaultOverlap is the number of characters shared by consecutive windows of a page.
	DefaultOverlap = 100

	// DefaultMinLength is the trimmed length below which a window is treated as noise.
	DefaultMinLength = 50
)

// Chunker slides a fixed window over each page of a document.
type Chunker struct {
	chunkSize int
	overlap   int
	minLength int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the window length in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive windows.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMinLength sets the minimum trimmed length of a kept chunk.
func WithMinLength(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minLength = n
		}
	}
}

// New creates a Chunker with the defaults (800/100/50) overridden by opts.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
		minLength: DefaultMinLength,
	}
	for _, opt := range opts {
		opt(c)
	}

	// The window must always advance
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the configured window length.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// MinLength returns the configured chunk floor.
func (c *Chunker) MinLength() int { return c.minLength }

// Chunk splits pages, in order, into chunks without embeddings.
//
// ChunkIndex is global across the document and offsets accumulate across pages.
// Lengths and offsets are counted in characters (runes), so multi-byte text is
// never cut inside a code point. Windows start every chunkSize-overlap
// characters for as long as the start lies inside the page, so the last window
// may lie entirely within the overlap of the one before it. A document without
// extractable text yields nil.
func (c *Chunker) Chunk(pages []document.Page, documentID, documentName string) []document.Chunk {
	var chunks []document.Chunk
	step := c.chunkSize - c.overlap
	pageOffset := 0

	for _, page := range pages {
		text := []rune(page.Text)

		for start := 0; start < len(text); start += step {
			end := min(start+c.chunkSize, len(text))
			content := strings.TrimSpace(string(text[start:end]))

			if content != "" && len([]rune(content)) >= c.minLength {
				index := len(chunks)
				chunks = append(chunks, document.Chunk{
					ID:           document.ChunkID(documentID, index),
					DocumentID:   documentID,
					DocumentName: documentName,
					Content:      content,
					Metadata: document.ChunkMetadata{
						Page:       pageNumber(page),
						ChunkIndex: index,
						StartIndex: pageOffset + start,
						EndIndex:   pageOffset + end,
					},
				})
			}
		}

		pageOffset += len(text)
	}

	return chunks
}

// pageNumber keeps page numbers 1-based even when a parser reports 0.
func pageNumber(page document.Page) int {
	if page.Number < 1 {
		return 1
	}
	return page.Number
}
