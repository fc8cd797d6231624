package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"supportkb/internal/adapter/manifest"
	"supportkb/internal/domain"
	"supportkb/internal/logging"
	"supportkb/internal/port"
)

// Invalidator is implemented by retrievers that cache results.
type Invalidator interface {
	Invalidate()
}

// KnowledgeBaseConfig wires a KnowledgeBase.
type KnowledgeBaseConfig struct {
	Manifest  *manifest.Manifest
	Store     port.DocumentStore
	Chunker   port.Chunker
	Extractor port.Extractor
	Retriever port.Retriever
	Walker    port.FileWalker
	Assembler *Assembler
	Logger    *slog.Logger
}

// KnowledgeBase ties ingestion, removal, reconciliation and retrieval to one
// manifest. Every change to the corpus invalidates cached search results.
type KnowledgeBase struct {
	manifest  *manifest.Manifest
	store     port.DocumentStore
	chunker   port.Chunker
	extractor port.Extractor
	retriever port.Retriever
	walker    port.FileWalker
	assembler *Assembler
	logger    *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewKnowledgeBase(cfg KnowledgeBaseConfig) (*KnowledgeBase, error) {
	if cfg.Manifest == nil || cfg.Store == nil || cfg.Chunker == nil || cfg.Retriever == nil {
		return nil, fmt.Errorf("%w: knowledge base needs a manifest, store, chunker and retriever", domain.ErrInvalidConfig)
	}

	assembler := cfg.Assembler
	if assembler == nil {
		var err error
		if assembler, err = NewAssembler(); err != nil {
			return nil, err
		}
	}

	return &KnowledgeBase{
		manifest:  cfg.Manifest,
		store:     cfg.Store,
		chunker:   cfg.Chunker,
		extractor: cfg.Extractor,
		retriever: cfg.Retriever,
		walker:    cfg.Walker,
		assembler: assembler,
		logger:    logging.OrDefault(cfg.Logger),
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

func (kb *KnowledgeBase) invalidate() {
	if inv, ok := kb.retriever.(Invalidator); ok {
		inv.Invalidate()
	}
}

// List returns every manifest entry.
func (kb *KnowledgeBase) List() ([]domain.DocumentRecord, error) {
	return kb.manifest.Load()
}

// Remove deletes a document. Removed is false for unknown ids.
func (kb *KnowledgeBase) Remove(id string) (manifest.RemoveResult, error) {
	res, err := kb.manifest.Remove(id)
	if err != nil {
		return res, fmt.Errorf("failed to remove %s: %w", id, err)
	}
	if res.Removed {
		kb.invalidate()
		kb.logger.Info("document removed", "id", id, "title", res.Record.Title, "warnings", len(res.Warnings))
	}
	return res, nil
}

// Reconcile registers untracked source files and returns the full record
// set together with the number of new entries.
func (kb *KnowledgeBase) Reconcile() ([]domain.DocumentRecord, int, error) {
	before, err := kb.manifest.Load()
	if err != nil {
		return nil, 0, err
	}
	records, err := kb.manifest.Reconcile()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reconcile: %w", err)
	}

	added := len(records) - len(before)
	if added > 0 {
		kb.invalidate()
	}
	return records, added, nil
}
