package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"supportkb/config"
	"supportkb/internal/adapter/chunker"
	"supportkb/internal/adapter/extract"
	"supportkb/internal/adapter/manifest"
	"supportkb/internal/adapter/retriever"
	"supportkb/internal/adapter/store"
	"supportkb/internal/domain"
	"supportkb/internal/logging"
	"supportkb/internal/port"
)

// evalCase is one labelled query: the documents (by title) that should be
// retrieved for it, most relevant first.
type evalCase struct {
	Query  string   `yaml:"query"`
	Expect []string `yaml:"expect"`
}

type evalFile struct {
	Queries []evalCase `yaml:"queries"`
}

func main() {
	dir := flag.String("dir", ".", "working directory holding kb.yaml")
	casesPath := flag.String("cases", "", "YAML file with labelled queries")
	flag.Parse()

	if *casesPath == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir . -cases eval.yaml")
		fmt.Println("\neval.yaml:")
		fmt.Println("  queries:")
		fmt.Println("    - query: 締付トルク")
		fmt.Println("      expect: [wheels/nut]")
		os.Exit(1)
	}

	if err := run(*dir, *casesPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, casesPath string) error {
	cfg, err := config.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})

	data, err := os.ReadFile(casesPath)
	if err != nil {
		return err
	}
	var cases evalFile
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return fmt.Errorf("failed to parse %s: %w", casesPath, err)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	root := cfg.RootDir(absDir)

	var st port.DocumentStore
	if cfg.Knowledge.Backend == "bolt" {
		bs, err := store.NewBoltStore(config.BoltPath(root))
		if err != nil {
			return err
		}
		defer bs.Close()
		st = bs
	} else {
		if st, err = store.NewFileStore(cfg.StoragePath(root)); err != nil {
			return err
		}
	}
	m, err := manifest.New(manifest.Config{
		Path:   cfg.ManifestPath(root),
		Root:   root,
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	records, err := m.Load()
	if err != nil {
		return err
	}
	titles := make(map[string]string, len(records))
	for _, r := range records {
		titles[r.ID] = r.Title
	}

	engine, err := newEngine(cfg, m, st, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Corpus: %d documents, %d labelled queries\n\n", len(records), len(cases.Queries))

	var sumRR, sumRecall float64
	var total time.Duration
	for _, c := range cases.Queries {
		start := time.Now()
		results, err := engine.Search(context.Background(), c.Query)
		elapsed := time.Since(start)
		if err != nil {
			return fmt.Errorf("query %q: %w", c.Query, err)
		}
		total += elapsed

		retrieved := rankedTitles(results, titles)
		rr := reciprocalRank(retrieved, c.Expect)
		rec := recall(retrieved, c.Expect)
		sumRR += rr
		sumRecall += rec

		fmt.Printf("%-30s RR=%.3f recall=%.2f %6.1fms  %v\n",
			c.Query, rr, rec, float64(elapsed.Microseconds())/1000, retrieved)
	}

	if n := float64(len(cases.Queries)); n > 0 {
		fmt.Printf("\nMRR=%.3f  mean recall=%.3f  mean latency=%.1fms\n",
			sumRR/n, sumRecall/n, float64(total.Microseconds())/1000/n)
	}
	return nil
}

func newEngine(cfg *config.Config, m *manifest.Manifest, st port.DocumentStore, logger *slog.Logger) (*retriever.Engine, error) {
	rules, err := chunker.CompileRules(cfg.Chunk.ImportantRules)
	if err != nil {
		return nil, err
	}
	ch, err := chunker.NewWindowChunker(cfg.Chunk.Size, cfg.Chunk.Overlap, rules)
	if err != nil {
		return nil, err
	}
	return retriever.NewEngine(retriever.EngineConfig{
		Catalog:   m,
		Store:     st,
		Chunker:   ch,
		Extractor: extract.NewPlainText(),
		Scorer:    retriever.NewScorer(cfg.Retrieve.Scoring, cfg.Retrieve.HighValueTerms),
		TopK:      cfg.Retrieve.TopK,
		Workers:   cfg.Retrieve.Workers,
		Logger:    logger,
	})
}

// rankedTitles lists the distinct documents in result order.
func rankedTitles(results []domain.ScoredChunk, titles map[string]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, r := range results {
		t := titles[r.DocID]
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func reciprocalRank(retrieved, expect []string) float64 {
	want := make(map[string]bool, len(expect))
	for _, e := range expect {
		want[e] = true
	}
	for i, r := range retrieved {
		if want[r] {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

func recall(retrieved, expect []string) float64 {
	if len(expect) == 0 {
		return 0
	}
	got := make(map[string]bool, len(retrieved))
	for _, r := range retrieved {
		got[r] = true
	}
	hits := 0
	for _, e := range expect {
		if got[e] {
			hits++
		}
	}
	return float64(hits) / float64(len(expect))
}
