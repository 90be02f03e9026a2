// Package parser extracts per-page plain text from uploaded files.
package parser

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bull/docrag/internal/document"
)

// ErrParseFailure wraps every extraction failure, including unsupported formats.
var ErrParseFailure = errors.New("parse failure")

// Parsed is the text extracted from one file.
type Parsed struct {
	Pages      []document.Page
	TotalPages int
	// Outline lists section headings, when the format has them.
	Outline []string
}

// Parser extracts text from a file on disk.
type Parser interface {
	Parse(ctx context.Context, path string) (*Parsed, error)
}

// Registry dispatches to a Parser by file extension.
type Registry struct {
	parsers map[string]Parser
}

// NewRegistry returns a Registry with the built-in formats: plain text, Markdown
// and PDF.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}

	text := &TextParser{}
	for _, ext := range []string{".txt", ".text", ".log", ".csv"} {
		r.Register(ext, text)
	}
	md := NewMarkdownParser()
	for _, ext := range []string{".md", ".markdown"} {
		r.Register(ext, md)
	}
	r.Register(".pdf", &PDFParser{})
	return r
}

// Register sets the parser for ext (with leading dot, case-insensitive).
func (r *Registry) Register(ext string, p Parser) {
	r.parsers[strings.ToLower(ext)] = p
}

// Supports reports whether name has a registered extension.
func (r *Registry) Supports(name string) bool {
	_, ok := r.parsers[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Parse extracts path with the parser registered for its extension.
func (r *Registry) Parse(ctx context.Context, path string) (*Parsed, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p, ok := r.parsers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrParseFailure, ext)
	}

	parsed, err := p.Parse(ctx, path)
	if err != nil {
		if errors.Is(err, ErrParseFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return parsed, nil
}

// paginate splits text on form feeds into 1-based pages. A trailing empty page
// (text ending in a form feed) is dropped.
func paginate(text string) *Parsed {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\f")
	if len(parts) > 1 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}

	pages := make([]document.Page, len(parts))
	for i, part := range parts {
		pages[i] = document.Page{Number: i + 1, Text: part}
	}
	return &Parsed{Pages: pages, TotalPages: len(pages)}
}
