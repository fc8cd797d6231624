package port

import "supportkb/internal/domain"

type Chunker interface {
	Chunk(text, source string) ([]domain.Chunk, error)

	ChunkSections(sections []domain.Section, source string) ([]domain.Chunk, error)
}
