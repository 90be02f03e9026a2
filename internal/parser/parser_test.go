package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestMarkdownParser_Pages tests that each H1 section becomes a page.
func TestMarkdownParser_Pages(t *testing.T) {
	input := `Preamble paragraph.

# Getting Started

Introduction text with **bold** and ` + "`code`" + `.

## Installation

- step one
- step two

# Reference

<div>ignored html</div>

` + "```go\nfunc main() {}\n```\n"

	parsed, err := NewMarkdownParser().ParseBytes([]byte(input))
	if err != nil {
		t.Fatalf("ParseBytes failed: %v", err)
	}

	if parsed.TotalPages != 3 || len(parsed.Pages) != 3 {
		t.Fatalf("Expected 3 pages, got %d", len(parsed.Pages))
	}

	if parsed.Pages[0].Text != "Preamble paragraph." {
		t.Errorf("Page 1: got %q", parsed.Pages[0].Text)
	}

	page2 := parsed.Pages[1].Text
	for _, want := range []string{"Getting Started", "Introduction text with bold and code.", "Installation", "step one\nstep two"} {
		if !strings.Contains(page2, want) {
			t.Errorf("Page 2 missing %q in %q", want, page2)
		}
	}
	if strings.Contains(page2, "**") {
		t.Errorf("Page 2 still has emphasis markup: %q", page2)
	}

	page3 := parsed.Pages[2].Text
	if !strings.Contains(page3, "func main() {}") {
		t.Errorf("Page 3 missing code block: %q", page3)
	}
	if strings.Contains(page3, "ignored html") {
		t.Errorf("Page 3 should drop raw HTML: %q", page3)
	}

	for i, page := range parsed.Pages {
		if page.Number != i+1 {
			t.Errorf("Page %d numbered %d", i, page.Number)
		}
	}
}

// TestMarkdownParser_Outline tests the heading hierarchy.
func TestMarkdownParser_Outline(t *testing.T) {
	input := "# Guide\n\n## Install\n\n### Linux\n\n## Configure\n\n# FAQ\n"

	parsed, err := NewMarkdownParser().ParseBytes([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Guide",
		"Guide > Install",
		"Guide > Install > Linux",
		"Guide > Configure",
		"FAQ",
	}, parsed.Outline)
}

// TestMarkdownParser_NoHeaders tests a document without headings.
func TestMarkdownParser_NoHeaders(t *testing.T) {
	parsed, err := NewMarkdownParser().ParseBytes([]byte("Just a paragraph.\n\nAnd another."))
	require.NoError(t, err)
	require.Len(t, parsed.Pages, 1)
	assert.Equal(t, "Just a paragraph.\n\nAnd another.", parsed.Pages[0].Text)
	assert.Empty(t, parsed.Outline)
}

// TestMarkdownParser_Empty tests that an empty file still yields one blank page.
func TestMarkdownParser_Empty(t *testing.T) {
	parsed, err := NewMarkdownParser().ParseBytes(nil)
	require.NoError(t, err)
	require.Len(t, parsed.Pages, 1)
	assert.Empty(t, parsed.Pages[0].Text)
}

func TestTextParser_FormFeedPages(t *testing.T) {
	path := writeFile(t, "doc.txt", "page one\r\nline two\fpage two\f")

	parsed, err := (&TextParser{}).Parse(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, parsed.Pages, 2)
	assert.Equal(t, "page one\nline two", parsed.Pages[0].Text)
	assert.Equal(t, 2, parsed.Pages[1].Number)
	assert.Equal(t, 2, parsed.TotalPages)
}

func TestTextParser_InvalidUTF8(t *testing.T) {
	path := writeFile(t, "bin.txt", "\xff\xfe\x00")
	_, err := (&TextParser{}).Parse(context.Background(), path)
	assert.ErrorIs(t, err, ErrParseFailure)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supports("notes.MD"))
	assert.True(t, r.Supports("report.pdf"))
	assert.False(t, r.Supports("image.png"))
	assert.Contains(t, r.Extensions(), ".txt")

	_, err := r.Parse(context.Background(), writeFile(t, "image.png", "x"))
	assert.ErrorIs(t, err, ErrParseFailure)

	_, err = r.Parse(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, ErrParseFailure)

	parsed, err := r.Parse(context.Background(), writeFile(t, "a.md", "# Title\n\nBody"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Title"}, parsed.Outline)
}
