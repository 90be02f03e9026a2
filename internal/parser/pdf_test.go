package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF writes a minimal PDF with one Helvetica text line per page and a
// correct cross-reference table.
func buildPDF(t *testing.T, pages ...string) string {
	t.Helper()

	n := len(pages)
	fontObj := 3 + 2*n
	var objects []string

	kids := make([]string, n)
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
	)
	for i, text := range pages {
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontObj, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	path := filepath.Join(t.TempDir(), "fixture.pdf")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestPDFParser_Pages(t *testing.T) {
	path := buildPDF(t, "Quarterly revenue grew", "Second page summary")

	parsed, err := (&PDFParser{}).Parse(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, 2, parsed.TotalPages)
	require.Len(t, parsed.Pages, 2)
	assert.Equal(t, 1, parsed.Pages[0].Number)
	assert.Equal(t, 2, parsed.Pages[1].Number)
	assert.Contains(t, parsed.Pages[0].Text, "Quarterly revenue grew")
	assert.Contains(t, parsed.Pages[1].Text, "Second page summary")
	assert.NotContains(t, parsed.Pages[0].Text, "Second page")
}

func TestPDFParser_Registry(t *testing.T) {
	parsed, err := NewRegistry().Parse(context.Background(), buildPDF(t, "Only page"))
	require.NoError(t, err)
	assert.Equal(t, 1, parsed.TotalPages)
}

func TestPDFParser_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a pdf", "plain text pretending to be a PDF"},
		{"truncated", "%PDF-1.4\n1 0 obj\n<< /Type /Catalog"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&PDFParser{}).Parse(context.Background(), writeFile(t, "bad.pdf", tt.content))
			assert.ErrorIs(t, err, ErrParseFailure)
		})
	}
}

func TestPDFParser_MissingCommand(t *testing.T) {
	p := &PDFParser{Command: "pdftotext-does-not-exist"}
	_, err := p.Parse(context.Background(), writeFile(t, "a.pdf", "%PDF-1.4"))
	assert.ErrorIs(t, err, ErrParseFailure)
}
