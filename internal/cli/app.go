package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"supportkb/config"
	"supportkb/internal/adapter/cache"
	"supportkb/internal/adapter/chunker"
	"supportkb/internal/adapter/extract"
	"supportkb/internal/adapter/fs"
	"supportkb/internal/adapter/manifest"
	"supportkb/internal/adapter/retriever"
	"supportkb/internal/adapter/store"
	"supportkb/internal/port"
	"supportkb/internal/usecase"
)

// app holds one fully wired knowledge base for the duration of a command.
type app struct {
	root     string
	kb       *usecase.KnowledgeBase
	engine   *retriever.Engine
	manifest *manifest.Manifest
	close    func() error
}

func (a *app) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}

func openApp() (*app, error) {
	cfg := GetConfig()
	root := cfg.RootDir(GetRootDir())

	if err := cfg.EnsureDirs(root); err != nil {
		return nil, fmt.Errorf("failed to create knowledge root: %w", err)
	}

	st, closeStore, err := openStore(cfg, root)
	if err != nil {
		return nil, err
	}

	walker := fs.NewWalker(cfg.Knowledge.Excludes, skipNames(cfg)...)

	m, err := manifest.New(manifest.Config{
		Path:   cfg.ManifestPath(root),
		Root:   root,
		Store:  st,
		Walker: walker,
		Logger: logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	rules, err := chunker.CompileRules(cfg.Chunk.ImportantRules)
	if err != nil {
		closeStore()
		return nil, err
	}
	ch, err := chunker.NewWindowChunker(cfg.Chunk.Size, cfg.Chunk.Overlap, rules)
	if err != nil {
		closeStore()
		return nil, err
	}

	ex := extract.NewPlainText()
	engine, err := retriever.NewEngine(retriever.EngineConfig{
		Catalog:   m,
		Store:     st,
		Chunker:   ch,
		Extractor: ex,
		Scorer:    retriever.NewScorer(cfg.Retrieve.Scoring, cfg.Retrieve.HighValueTerms),
		TopK:      cfg.Retrieve.TopK,
		Workers:   cfg.Retrieve.Workers,
		Logger:    logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	ttl := time.Duration(cfg.Retrieve.CacheTTLSeconds) * time.Second
	cached := cache.NewCachedRetriever(engine, cache.NewQueryCache(cfg.Retrieve.CacheSize, ttl))

	kb, err := usecase.NewKnowledgeBase(usecase.KnowledgeBaseConfig{
		Manifest:  m,
		Store:     st,
		Chunker:   ch,
		Extractor: ex,
		Retriever: cached,
		Walker:    fs.NewWalker(cfg.Knowledge.Excludes),
		Logger:    logger,
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	return &app{
		root:     root,
		kb:       kb,
		engine:   engine,
		manifest: m,
		close:    closeStore,
	}, nil
}

func openStore(cfg *config.Config, root string) (port.DocumentStore, func() error, error) {
	switch cfg.Knowledge.Backend {
	case "bolt":
		st, err := store.NewBoltStore(config.BoltPath(root))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, st.Close, nil
	default:
		st, err := store.NewFileStore(cfg.StoragePath(root))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open store: %w", err)
		}
		return st, func() error { return nil }, nil
	}
}

// skipNames lists root entries reconciliation must never treat as sources:
// the manifest and a storage directory that is not hidden.
func skipNames(cfg *config.Config) []string {
	names := []string{cfg.Knowledge.ManifestFile}
	first := strings.Split(filepath.ToSlash(filepath.Clean(cfg.Knowledge.StorageDir)), "/")[0]
	if first != "" && first != "." && first != ".." {
		names = append(names, first)
	}
	return names
}
