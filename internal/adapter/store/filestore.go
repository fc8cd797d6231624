package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"supportkb/internal/adapter/fs"
	"supportkb/internal/domain"
)

const (
	metaSuffix   = ".meta.json"
	chunksSuffix = ".chunks.json"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateID rejects ids that cannot be used as a storage file name.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidID, id)
	}
	return nil
}

// FileStore keeps each document as two JSON files under dir: a metadata
// document and a chunk list. Every write is temp-file-then-rename.
type FileStore struct {
	dir   string
	stage func(filename string, data []byte, perm os.FileMode) (*fs.StagedFile, error)
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileStore{dir: abs, stage: fs.StageFile}, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) metaPath(id string) string {
	return filepath.Join(s.dir, id+metaSuffix)
}

func (s *FileStore) chunksPath(id string) string {
	return filepath.Join(s.dir, id+chunksSuffix)
}

// Put stages both files before replacing either, so a failed write leaves
// the previous chunk list and metadata in place together. The two renames
// run chunks first, metadata last.
func (s *FileStore) Put(id string, meta domain.DocumentMetadata, chunks []domain.Chunk) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := domain.ValidateChunks(chunks); err != nil {
		return fmt.Errorf("refusing to store document %s: %w", id, err)
	}
	if chunks == nil {
		chunks = []domain.Chunk{}
	}

	meta.ID = id
	meta.ChunkCount = len(chunks)
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("refusing to store document %s: %w", id, err)
	}

	chunkData, err := json.MarshalIndent(chunks, "", "  ")
	if err != nil {
		return err
	}
	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	chunkFile, err := s.stage(s.chunksPath(id), chunkData, 0644)
	if err != nil {
		return fmt.Errorf("failed to write chunks for %s: %w", id, err)
	}
	defer chunkFile.Discard()
	metaFile, err := s.stage(s.metaPath(id), metaData, 0644)
	if err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", id, err)
	}
	defer metaFile.Discard()

	if err := chunkFile.Commit(); err != nil {
		return fmt.Errorf("failed to write chunks for %s: %w", id, err)
	}
	if err := metaFile.Commit(); err != nil {
		return fmt.Errorf("failed to write metadata for %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) GetChunks(id string) ([]domain.Chunk, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.chunksPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("chunks for %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	var chunks []domain.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("%w: chunks for %s: %v", domain.ErrCorrupt, id, err)
	}
	if err := domain.ValidateChunks(chunks); err != nil {
		return nil, fmt.Errorf("chunks for %s: %w", id, err)
	}
	return chunks, nil
}

func (s *FileStore) GetMetadata(id string) (domain.DocumentMetadata, error) {
	var meta domain.DocumentMetadata
	if err := ValidateID(id); err != nil {
		return meta, err
	}

	data, err := os.ReadFile(s.metaPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, fmt.Errorf("metadata for %s: %w", id, domain.ErrNotFound)
		}
		return meta, err
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: metadata for %s: %v", domain.ErrCorrupt, id, err)
	}
	if err := meta.Validate(); err != nil {
		return meta, fmt.Errorf("metadata for %s: %w", id, err)
	}
	return meta, nil
}

// Delete removes both files. Missing files are not an error.
func (s *FileStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	for _, p := range []string{s.metaPath(id), s.chunksPath(id)} {
		if !fs.Within(s.dir, p) {
			return fmt.Errorf("%w: %s", domain.ErrOutsideRoot, p)
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}
