package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DocType classifies a source document by its original format.
type DocType string

const (
	DocTypePDF          DocType = "pdf"
	DocTypeWord         DocType = "word"
	DocTypeExcel        DocType = "excel"
	DocTypePresentation DocType = "presentation"
	DocTypeText         DocType = "text"
)

// Valid reports whether t is one of the known document types.
func (t DocType) Valid() bool {
	switch t {
	case DocTypePDF, DocTypeWord, DocTypeExcel, DocTypePresentation, DocTypeText:
		return true
	}
	return false
}

// DetectDocType classifies a path by its extension. The second return value
// is false for extensions the knowledge base does not ingest.
func DetectDocType(name string) (DocType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return DocTypePDF, true
	case ".doc", ".docx":
		return DocTypeWord, true
	case ".xls", ".xlsx", ".csv":
		return DocTypeExcel, true
	case ".ppt", ".pptx":
		return DocTypePresentation, true
	case ".txt", ".md", ".text":
		return DocTypeText, true
	default:
		return "", false
	}
}

// Chunk is a bounded span of document text stored as an independently
// retrievable unit.
type Chunk struct {
	Text      string `json:"text"`
	Source    string `json:"source"`
	Page      *int   `json:"page_or_slide,omitempty"`
	Sequence  int    `json:"sequence_number"`
	Important bool   `json:"important"`
}

// Validate rejects chunks that could not have been produced by the chunker.
func (c Chunk) Validate() error {
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("%w: chunk %d has empty text", ErrCorrupt, c.Sequence)
	}
	if c.Source == "" {
		return fmt.Errorf("%w: chunk %d has no source", ErrCorrupt, c.Sequence)
	}
	if c.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence number %d", ErrCorrupt, c.Sequence)
	}
	if c.Page != nil && *c.Page < 0 {
		return fmt.Errorf("%w: chunk %d has negative page %d", ErrCorrupt, c.Sequence, *c.Page)
	}
	return nil
}

// ValidateChunks checks every chunk and that sequence numbers strictly increase.
func ValidateChunks(chunks []Chunk) error {
	prev := -1
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
		if c.Sequence <= prev {
			return fmt.Errorf("%w: sequence %d after %d", ErrCorrupt, c.Sequence, prev)
		}
		prev = c.Sequence
	}
	return nil
}

// Section is one page or slide worth of extracted text. Page is nil for
// formats without pagination.
type Section struct {
	Text string
	Page *int
}

// DocumentRecord is a manifest entry.
type DocumentRecord struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	SourcePath string    `json:"source_path"`
	Type       DocType   `json:"type"`
	ChunkCount int       `json:"chunk_count"`
	AddedAt    time.Time `json:"added_at"`
}

// Validate rejects records with missing required fields.
func (r DocumentRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: document record without id", ErrCorrupt)
	}
	if r.SourcePath == "" {
		return fmt.Errorf("%w: document %s has no source path", ErrCorrupt, r.ID)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: document %s has unknown type %q", ErrCorrupt, r.ID, r.Type)
	}
	if r.ChunkCount < 0 {
		return fmt.Errorf("%w: document %s has negative chunk count", ErrCorrupt, r.ID)
	}
	return nil
}

// SourceName is the label chunks of this document carry: the source file's
// base name.
func (r DocumentRecord) SourceName() string {
	return path.Base(filepath.ToSlash(r.SourcePath))
}

// DocumentMetadata is the per-document metadata file: the manifest fields
// plus whatever the extractor reported.
type DocumentMetadata struct {
	DocumentRecord
	Pages      int               `json:"pages,omitempty"`
	Extraction map[string]string `json:"extraction,omitempty"`
}

// ScoredChunk pairs a chunk with its retrieval score and owning document.
type ScoredChunk struct {
	Chunk Chunk
	DocID string
	Score float64
}
