package memstore

import (
	"fmt"
	"sync"

	"supportkb/internal/domain"
)

// MemoryStore is a port.DocumentStore kept entirely in memory. Values are
// copied on the way in and out so callers cannot mutate stored chunks.
type MemoryStore struct {
	mu     sync.RWMutex
	meta   map[string]domain.DocumentMetadata
	chunks map[string][]domain.Chunk
	puts   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		meta:   make(map[string]domain.DocumentMetadata),
		chunks: make(map[string][]domain.Chunk),
		puts:   make(map[string]int),
	}
}

func (s *MemoryStore) Put(id string, meta domain.DocumentMetadata, chunks []domain.Chunk) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", domain.ErrInvalidID)
	}
	if err := domain.ValidateChunks(chunks); err != nil {
		return err
	}

	meta.ID = id
	meta.ChunkCount = len(chunks)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[id] = meta
	s.chunks[id] = append([]domain.Chunk(nil), chunks...)
	s.puts[id]++
	return nil
}

func (s *MemoryStore) GetChunks(id string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunks for %s: %w", id, domain.ErrNotFound)
	}
	return append([]domain.Chunk(nil), chunks...), nil
}

func (s *MemoryStore) GetMetadata(id string) (domain.DocumentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	meta, ok := s.meta[id]
	if !ok {
		return domain.DocumentMetadata{}, fmt.Errorf("metadata for %s: %w", id, domain.ErrNotFound)
	}
	return meta, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, id)
	delete(s.chunks, id)
	return nil
}

// PutCount reports how many times id has been written.
func (s *MemoryStore) PutCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts[id]
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
