package port

import "supportkb/internal/domain"

// DocumentStore persists one storage unit (metadata + chunk list) per document.
type DocumentStore interface {
	// Put replaces the document's metadata and chunk set.
	Put(id string, meta domain.DocumentMetadata, chunks []domain.Chunk) error

	// GetChunks returns domain.ErrNotFound when nothing is persisted for id.
	GetChunks(id string) ([]domain.Chunk, error)

	GetMetadata(id string) (domain.DocumentMetadata, error)

	// Delete is a no-op for unknown ids.
	Delete(id string) error
}
