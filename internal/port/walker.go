package port

import (
	"context"

	"supportkb/internal/domain"
)

type FileWalker interface {
	Walk(root string) ([]FileInfo, error)
}

// FileInfo describes a candidate source file relative to the knowledge root.
type FileInfo struct {
	RelPath string
	Dir     string
	ModTime int64
	Size    int64
}

// Extractor turns a source file into plain text sections.
type Extractor interface {
	Extract(ctx context.Context, path string, typ domain.DocType) ([]domain.Section, error)
}
