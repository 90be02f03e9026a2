package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	goldparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"go.abhg.dev/goldmark/toc"

	"github.com/bull/docrag/internal/document"
)

// MarkdownParser renders Markdown to plain text. Each top-level H1 section
// starts a new page, and headings up to H3 form the outline.
type MarkdownParser struct {
	md goldmark.Markdown
}

// NewMarkdownParser creates a MarkdownParser configured with the goldmark parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		md: goldmark.New(
			goldmark.WithParserOptions(
				goldparser.WithAutoHeadingID(),
			),
		),
	}
}

func (p *MarkdownParser) Parse(ctx context.Context, path string) (*Parsed, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	return p.ParseBytes(source)
}

// ParseBytes parses Markdown held in memory.
func (p *MarkdownParser) ParseBytes(source []byte) (*Parsed, error) {
	doc := p.md.Parser().Parse(text.NewReader(source))

	tree, err := toc.Inspect(doc, source,
		toc.MinDepth(1),
		toc.MaxDepth(3),
		toc.Compact(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: inspect headings: %v", ErrParseFailure, err)
	}

	var outline []string
	flattenOutline(tree.Items, nil, &outline)

	pages := splitPages(doc, source)
	return &Parsed{
		Pages:      pages,
		TotalPages: len(pages),
		Outline:    outline,
	}, nil
}

// flattenOutline lists every heading with its ancestors: "Install > Prerequisites".
func flattenOutline(items toc.Items, ancestors []string, out *[]string) {
	for _, item := range items {
		path := ancestors
		if len(item.Title) > 0 {
			path = append(ancestors[:len(ancestors):len(ancestors)], string(item.Title))
			*out = append(*out, strings.Join(path, " > "))
		}
		if len(item.Items) > 0 {
			flattenOutline(item.Items, path, out)
		}
	}
}

// splitPages walks top-level blocks, starting a page at every H1 that follows content.
func splitPages(doc ast.Node, source []byte) []document.Page {
	var (
		pages  []document.Page
		blocks []string
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		pages = append(pages, document.Page{
			Number: len(pages) + 1,
			Text:   strings.Join(blocks, "\n\n"),
		})
		blocks = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if heading, ok := n.(*ast.Heading); ok && heading.Level == 1 {
			flush()
		}

		var buf bytes.Buffer
		writePlainText(&buf, n, source)
		if block := strings.TrimSpace(buf.String()); block != "" {
			blocks = append(blocks, block)
		}
	}
	flush()

	if len(pages) == 0 {
		return []document.Page{{Number: 1}}
	}
	return pages
}

// writePlainText appends the readable text of n, dropping markup and raw HTML.
func writePlainText(buf *bytes.Buffer, n ast.Node, source []byte) {
	switch node := n.(type) {
	case *ast.Text:
		buf.Write(node.Segment.Value(source))
		if node.SoftLineBreak() || node.HardLineBreak() {
			buf.WriteByte('\n')
		}
		return
	case *ast.String:
		buf.Write(node.Value)
		return
	case *ast.AutoLink:
		buf.Write(node.URL(source))
		return
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			segment := lines.At(i)
			buf.Write(segment.Value(source))
		}
		return
	case *ast.HTMLBlock, *ast.RawHTML:
		return
	}

	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		writePlainText(buf, child, source)
		if child.Type() == ast.TypeBlock && buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
			buf.WriteByte('\n')
		}
	}
}
