// Package retriever implements keyword retrieval over the document store.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"supportkb/internal/domain"
	"supportkb/internal/logging"
	"supportkb/internal/port"
)

// Catalog is the part of the manifest the engine reads and heals.
type Catalog interface {
	Load() ([]domain.DocumentRecord, error)
	ResolveSource(rec domain.DocumentRecord) string
	SetChunkCount(id string, n int) error
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	Catalog   Catalog
	Store     port.DocumentStore
	Chunker   port.Chunker
	Extractor port.Extractor
	Scorer    *Scorer
	TopK      int
	Workers   int
	Logger    *slog.Logger
}

// Engine scores every chunk of every manifest document against a query.
// Chunk lists are loaded in parallel; scoring and ranking run on the
// calling goroutine so results are deterministic.
type Engine struct {
	catalog   Catalog
	store     port.DocumentStore
	chunker   port.Chunker
	extractor port.Extractor
	scorer    *Scorer
	topK      int
	workers   int
	logger    *slog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Catalog == nil || cfg.Store == nil || cfg.Scorer == nil {
		return nil, fmt.Errorf("%w: engine needs a catalog, a store and a scorer", domain.ErrInvalidConfig)
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", domain.ErrInvalidConfig)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Engine{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		chunker:   cfg.Chunker,
		extractor: cfg.Extractor,
		scorer:    cfg.Scorer,
		topK:      cfg.TopK,
		workers:   workers,
		logger:    logging.OrDefault(cfg.Logger),
	}, nil
}

// Search returns at most TopK chunks with a positive score, best first.
// Equal scores keep manifest order, then chunk order.
func (e *Engine) Search(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	q, ok := e.scorer.Parse(query)
	if !ok {
		return nil, nil
	}

	records, err := e.catalog.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	docs, err := e.loadAll(ctx, records, nil)
	if err != nil {
		return nil, err
	}

	var results []domain.ScoredChunk
	for i, chunks := range docs {
		for _, c := range chunks {
			score := e.scorer.Score(q, c.Text)
			if score <= 0 {
				continue
			}
			results = append(results, domain.ScoredChunk{
				Chunk: c,
				DocID: records[i].ID,
				Score: score,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > e.topK {
		results = results[:e.topK]
	}
	return results, nil
}

// WarmResult describes one document processed by Warm.
type WarmResult struct {
	Record domain.DocumentRecord
	Chunks int
	Err    error
}

// Warm loads every manifest document, re-chunking any whose stored chunks
// are missing or corrupt. onDone is called once per document, possibly from
// several goroutines at once.
func (e *Engine) Warm(ctx context.Context, onDone func(WarmResult)) error {
	records, err := e.catalog.Load()
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	_, err = e.loadAll(ctx, records, onDone)
	return err
}

// loadAll fetches every document's chunks into a slot per record. Failing
// documents leave an empty slot; only context cancellation is returned.
func (e *Engine) loadAll(ctx context.Context, records []domain.DocumentRecord, onDone func(WarmResult)) ([][]domain.Chunk, error) {
	docs := make([][]domain.Chunk, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := e.documentChunks(gctx, rec)
			if onDone != nil {
				onDone(WarmResult{Record: rec, Chunks: len(chunks), Err: err})
			}
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				e.logger.Warn("skipping document", "id", rec.ID, "title", rec.Title, "error", err)
				return nil
			}
			docs[i] = chunks
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// documentChunks returns the stored chunks for rec, rebuilding them from the
// source file when the storage unit is missing or unreadable.
func (e *Engine) documentChunks(ctx context.Context, rec domain.DocumentRecord) ([]domain.Chunk, error) {
	chunks, err := e.store.GetChunks(rec.ID)
	if err == nil {
		return chunks, nil
	}
	if !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrCorrupt) {
		return nil, err
	}
	if e.extractor == nil || e.chunker == nil {
		return nil, err
	}

	e.logger.Info("rebuilding chunks from source", "id", rec.ID, "reason", err)

	src := e.catalog.ResolveSource(rec)
	sections, err := e.extractor.Extract(ctx, src, rec.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", src, err)
	}
	chunks, err = e.chunker.ChunkSections(sections, rec.SourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to chunk %s: %w", src, err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	meta := domain.DocumentMetadata{
		DocumentRecord: rec,
		Extraction:     map[string]string{"rebuilt": "true"},
	}
	if err := e.store.Put(rec.ID, meta, chunks); err != nil {
		e.logger.Warn("failed to persist rebuilt chunks", "id", rec.ID, "error", err)
		return chunks, nil
	}
	if err := e.catalog.SetChunkCount(rec.ID, len(chunks)); err != nil {
		e.logger.Warn("failed to update chunk count", "id", rec.ID, "error", err)
	}
	return chunks, nil
}
