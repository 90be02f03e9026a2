package parser

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"
)

// TextParser reads UTF-8 text. Form feeds separate pages.
type TextParser struct{}

func (p *TextParser) Parse(ctx context.Context, path string) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailure, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrParseFailure, path)
	}
	return paginate(string(data)), nil
}
