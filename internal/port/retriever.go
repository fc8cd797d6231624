package port

import (
	"context"

	"supportkb/internal/domain"
)

// Retriever defines the interface for searching the knowledge base.
type Retriever interface {
	// Search returns the best matching chunks, highest score first.
	Search(ctx context.Context, query string) ([]domain.ScoredChunk, error)
}
