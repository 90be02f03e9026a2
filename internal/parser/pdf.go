package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/bull/docrag/internal/document"
)

// PDFParser extracts the plain text of each page of a PDF.
type PDFParser struct {
	// Command, when set, names a pdftotext-compatible binary to use instead
	// of the built-in reader. Its output separates pages with form feeds.
	Command string
}

func (p *PDFParser) Parse(ctx context.Context, path string) (*Parsed, error) {
	if p.Command != "" {
		return p.runCommand(ctx, path)
	}
	return readPDF(ctx, path)
}

func readPDF(ctx context.Context, path string) (parsed *Parsed, err error) {
	// The reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			parsed, err = nil, fmt.Errorf("%w: malformed PDF: %v", ErrParseFailure, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open PDF: %v", ErrParseFailure, err)
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]document.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		text := ""
		if !page.V.IsNull() {
			if text, err = page.GetPlainText(nil); err != nil {
				return nil, fmt.Errorf("%w: page %d: %v", ErrParseFailure, i, err)
			}
		}
		pages = append(pages, document.Page{Number: i, Text: text})
	}
	return &Parsed{Pages: pages, TotalPages: total}, nil
}

func (p *PDFParser) runCommand(ctx context.Context, path string) (*Parsed, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command, "-layout", "-enc", "UTF-8", path, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not installed", ErrParseFailure, p.Command)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s: %s", ErrParseFailure, p.Command, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrParseFailure, p.Command, err)
	}

	return paginate(stdout.String()), nil
}
