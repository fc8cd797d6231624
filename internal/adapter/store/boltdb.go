package store

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"supportkb/internal/domain"
)

// CurrentSchemaVersion is the current schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var (
	bucketMeta   = []byte("meta")
	bucketChunks = []byte("chunks")
	bucketInfo   = []byte("info")

	keySchemaVersion = []byte("schema_version")
)

// BoltStore keeps document metadata and chunk lists in a single bbolt file.
// A Put replaces both records in one transaction.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketMeta, bucketChunks, bucketInfo} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return checkSchema(tx.Bucket(bucketInfo))
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func checkSchema(b *bbolt.Bucket) error {
	data := b.Get(keySchemaVersion)
	if data == nil {
		v, _ := json.Marshal(CurrentSchemaVersion)
		return b.Put(keySchemaVersion, v)
	}

	var version int
	if err := json.Unmarshal(data, &version); err != nil {
		return fmt.Errorf("%w: schema version: %v", domain.ErrCorrupt, err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("database created by newer version (v%d > v%d)", version, CurrentSchemaVersion)
	}
	return nil
}

func (s *BoltStore) Put(id string, meta domain.DocumentMetadata, chunks []domain.Chunk) error {
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

	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	chunkData, err := json.Marshal(chunks)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChunks).Put([]byte(id), chunkData); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(id), metaData)
	})
}

func (s *BoltStore) GetChunks(id string) ([]domain.Chunk, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var chunks []domain.Chunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChunks).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chunks for %s: %w", id, domain.ErrNotFound)
		}
		if err := json.Unmarshal(data, &chunks); err != nil {
			return fmt.Errorf("%w: chunks for %s: %v", domain.ErrCorrupt, id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateChunks(chunks); err != nil {
		return nil, fmt.Errorf("chunks for %s: %w", id, err)
	}
	return chunks, nil
}

func (s *BoltStore) GetMetadata(id string) (domain.DocumentMetadata, error) {
	var meta domain.DocumentMetadata
	if err := ValidateID(id); err != nil {
		return meta, err
	}

	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("metadata for %s: %w", id, domain.ErrNotFound)
		}
		if err := json.Unmarshal(data, &meta); err != nil {
			return fmt.Errorf("%w: metadata for %s: %v", domain.ErrCorrupt, id, err)
		}
		return nil
	})
	if err != nil {
		return meta, err
	}
	if err := meta.Validate(); err != nil {
		return meta, fmt.Errorf("metadata for %s: %w", id, err)
	}
	return meta, nil
}

func (s *BoltStore) Delete(id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChunks).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Delete([]byte(id))
	})
}

// IDs lists every stored document id.
func (s *BoltStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
