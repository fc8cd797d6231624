// Package extract turns source files into text sections for chunking.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"supportkb/internal/domain"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// PlainText reads text documents directly. Form feeds split the file into
// numbered pages, the way pdftotext output marks page breaks. Binary formats
// are reported as ErrUnsupportedFormat: their text has to be supplied by an
// external converter at ingestion time.
type PlainText struct{}

func NewPlainText() *PlainText {
	return &PlainText{}
}

func (PlainText) Extract(ctx context.Context, path string, typ domain.DocType) ([]domain.Section, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if typ != domain.DocTypeText {
		return nil, fmt.Errorf("%w: no extractor for %s documents (%s)", domain.ErrUnsupportedFormat, typ, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("source %s: %w", path, domain.ErrNotFound)
		}
		return nil, err
	}
	data = bytes.TrimPrefix(data, bom)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", domain.ErrUnsupportedFormat, path)
	}

	return Pages(string(data)), nil
}

// Pages splits text on form feeds. Text without a form feed is one
// unpaginated section; otherwise every page is numbered from 1 and blank
// pages are dropped.
func Pages(text string) []domain.Section {
	if !strings.Contains(text, "\f") {
		return []domain.Section{{Text: text}}
	}

	var sections []domain.Section
	for i, page := range strings.Split(text, "\f") {
		if strings.TrimSpace(page) == "" {
			continue
		}
		n := i + 1
		sections = append(sections, domain.Section{Text: page, Page: &n})
	}
	return sections
}
