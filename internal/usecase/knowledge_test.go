package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportkb/config"
	"supportkb/internal/adapter/cache"
	"supportkb/internal/adapter/chunker"
	"supportkb/internal/adapter/extract"
	"supportkb/internal/adapter/fs"
	"supportkb/internal/adapter/manifest"
	"supportkb/internal/adapter/retriever"
	"supportkb/internal/adapter/store"
	"supportkb/internal/domain"
	"supportkb/internal/port"
)

type kbFixture struct {
	root     string
	store    port.DocumentStore
	manifest *manifest.Manifest
	kb       *KnowledgeBase
}

func newKB(t *testing.T, wrap func(port.DocumentStore) port.DocumentStore) *kbFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	fileStore, err := store.NewFileStore(cfg.StoragePath(root))
	require.NoError(t, err)
	var st port.DocumentStore = fileStore
	if wrap != nil {
		st = wrap(st)
	}

	walker := fs.NewWalker(cfg.Knowledge.Excludes, cfg.Knowledge.ManifestFile)
	m, err := manifest.New(manifest.Config{
		Path:   cfg.ManifestPath(root),
		Root:   root,
		Store:  st,
		Walker: walker,
		Logger: logger,
	})
	require.NoError(t, err)

	rules, err := chunker.CompileRules(cfg.Chunk.ImportantRules)
	require.NoError(t, err)
	ch, err := chunker.NewWindowChunker(cfg.Chunk.Size, cfg.Chunk.Overlap, rules)
	require.NoError(t, err)

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
	require.NoError(t, err)

	cached := cache.NewCachedRetriever(engine, cache.NewQueryCache(cfg.Retrieve.CacheSize, time.Minute))

	kb, err := NewKnowledgeBase(KnowledgeBaseConfig{
		Manifest:  m,
		Store:     st,
		Chunker:   ch,
		Extractor: ex,
		Retriever: cached,
		Walker:    walker,
		Logger:    logger,
	})
	require.NoError(t, err)

	return &kbFixture{root: root, store: st, manifest: m, kb: kb}
}

func (f *kbFixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestIngestAndSearch(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "wheels/nut.txt", "ホイールナットの締付トルクは110N・mです。")

	res, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.NoError(t, err)
	assert.False(t, res.Replaced)
	assert.NotEmpty(t, res.Record.ID)
	assert.Equal(t, "nut", res.Record.Title)
	assert.Equal(t, "wheels/nut.txt", res.Record.SourcePath)
	assert.Equal(t, domain.DocTypeText, res.Record.Type)

	chunks, err := f.store.GetChunks(res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, len(chunks), res.Record.ChunkCount)

	got, err := f.manifest.Get(res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Record.ChunkCount, got.ChunkCount)

	results, err := f.kb.Search(context.Background(), "締付")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, res.Record.ID, results[0].DocID)
	assert.Equal(t, "nut.txt", results[0].Chunk.Source)
}

func TestIngestExternalText(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "manual.pdf", "%PDF-1.7 binary")

	p1, p2 := 1, 2
	res, err := f.kb.Ingest(context.Background(), IngestRequest{
		Path:  p,
		Title: "整備マニュアル",
		Sections: []domain.Section{
			{Text: "一ページ目", Page: &p1},
			{Text: "二ページ目 警告灯の意味", Page: &p2},
		},
		Extra: map[string]string{"converter": "pdftotext"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DocTypePDF, res.Record.Type)
	assert.Equal(t, "整備マニュアル", res.Record.Title)

	meta, err := f.store.GetMetadata(res.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Pages)
	assert.Equal(t, "pdftotext", meta.Extraction["converter"])

	results, err := f.kb.Search(context.Background(), "警告灯")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Chunk.Page)
	assert.Equal(t, 2, *results[0].Chunk.Page)
	assert.Equal(t, float64(15), results[0].Score, "high-value term bonus")
}

func TestIngestBinaryWithoutTextIsRejected(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "slides.pptx", "PK binary")

	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestEmptyText(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "blank.txt", "   \n\t ")

	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	assert.ErrorIs(t, err, domain.ErrEmptyText)

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Empty(t, records, "failed ingestion must not register the document")
}

func TestIngestUnknownExtension(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "data.bin", "xxx")

	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestReingestKeepsID(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "oil.txt", "オイル交換は5000kmごと")

	first, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.NoError(t, err)

	f.write(t, "oil.txt", "オイル交換は10000kmごと。フィルターも同時に交換")
	second, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.NoError(t, err)

	assert.True(t, second.Replaced)
	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.True(t, first.Record.AddedAt.Equal(second.Record.AddedAt), "re-ingestion keeps the original ingestion time")

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)

	results, err := f.kb.Search(context.Background(), "フィルター")
	require.NoError(t, err)
	assert.Len(t, results, 1, "search sees the replaced chunks")
}

func TestConcurrentIngestSameSource(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "coolant.txt", "冷却水の交換時期は2年ごと")

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
			ids[i], errs[i] = res.Record.ID, err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Len(t, records, 1, "one manifest entry per source")

	results, err := f.kb.Search(context.Background(), "冷却水")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

type failingPut struct {
	port.DocumentStore
}

func (failingPut) Put(string, domain.DocumentMetadata, []domain.Chunk) error {
	return errors.New("no space left on device")
}

func TestIngestStorageFailureLeavesManifestUntouched(t *testing.T) {
	f := newKB(t, func(st port.DocumentStore) port.DocumentStore { return failingPut{st} })
	p := f.write(t, "a.txt", "バッテリー電圧")

	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left")

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestInvalidatesCache(t *testing.T) {
	f := newKB(t, nil)
	f.write(t, "a.txt", "ブレーキパッドの点検")
	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: filepath.Join(f.root, "a.txt")})
	require.NoError(t, err)

	results, err := f.kb.Search(context.Background(), "ブレーキ")
	require.NoError(t, err)
	require.Len(t, results, 1)

	f.write(t, "b.txt", "ブレーキ液の交換")
	_, err = f.kb.Ingest(context.Background(), IngestRequest{Path: filepath.Join(f.root, "b.txt")})
	require.NoError(t, err)

	results, err = f.kb.Search(context.Background(), "ブレーキ")
	require.NoError(t, err)
	assert.Len(t, results, 2, "cached results must be dropped after ingestion")
}

func TestRemove(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "fan.txt", "ラジエーターファンの点検")
	res, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.NoError(t, err)

	results, err := f.kb.Search(context.Background(), "ラジエーター")
	require.NoError(t, err)
	require.Len(t, results, 1)

	removed, err := f.kb.Remove(res.Record.ID)
	require.NoError(t, err)
	assert.True(t, removed.Removed)
	assert.Empty(t, removed.Warnings)

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
	_, err = f.store.GetChunks(res.Record.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	results, err = f.kb.Search(context.Background(), "ラジエーター")
	require.NoError(t, err)
	assert.Empty(t, results)

	again, err := f.kb.Remove(res.Record.ID)
	require.NoError(t, err)
	assert.False(t, again.Removed)
}

func TestReconcileThenLazySearch(t *testing.T) {
	f := newKB(t, nil)
	f.write(t, "cooling/water.txt", "冷却水の交換時期は2年")
	f.write(t, "~$lock.txt", "office lock file")

	records, added, err := f.kb.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	require.Len(t, records, 1)
	assert.Equal(t, "cooling/water", records[0].Title)
	assert.Equal(t, 0, records[0].ChunkCount)

	results, err := f.kb.Search(context.Background(), "冷却水")
	require.NoError(t, err)
	require.Len(t, results, 1)

	rec, err := f.manifest.Get(records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ChunkCount, "lazy chunking records the chunk count")

	_, added, err = f.kb.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestIngestDir(t *testing.T) {
	f := newKB(t, nil)
	src := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(src, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("a.txt", "エアコンフィルター")
	write("sub/b.md", "# ワイパー\n交換手順")
	write("empty.txt", "")
	write("image.png", "binary")
	write("scan.pdf", "%PDF")

	var seen []string
	res, err := f.kb.IngestDir(context.Background(), src, func(path string, err error) {
		seen = append(seen, filepath.Base(path))
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Ingested)
	assert.Equal(t, 3, res.Skipped)
	assert.Empty(t, res.Errors)
	assert.Len(t, seen, 5)

	records, err := f.kb.List()
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, filepath.IsAbs(r.SourcePath), "sources outside the root stay absolute: %s", r.SourcePath)
	}
}

type fakeGenerator struct {
	system, user string
}

func (g *fakeGenerator) Generate(_ context.Context, system, user string) (string, error) {
	g.system, g.user = system, user
	return "回答", nil
}

func (g *fakeGenerator) ModelName() string { return "fake" }

func TestAsk(t *testing.T) {
	f := newKB(t, nil)
	p := f.write(t, "belt.txt", "ファンベルトのたわみ量を点検する")
	_, err := f.kb.Ingest(context.Background(), IngestRequest{Path: p})
	require.NoError(t, err)

	gen := &fakeGenerator{}
	ans, err := f.kb.Ask(context.Background(), gen, "ファンベルト")
	require.NoError(t, err)

	assert.Equal(t, "回答", ans.Text)
	assert.Equal(t, "fake", ans.Model)
	assert.Len(t, ans.Chunks, 1)
	assert.Equal(t, "ファンベルト", gen.user)
	assert.Contains(t, gen.system, "source: belt.txt")
	assert.True(t, strings.HasSuffix(gen.system, ans.Context))
}

func TestAskWithNoMatches(t *testing.T) {
	f := newKB(t, nil)

	gen := &fakeGenerator{}
	ans, err := f.kb.Ask(context.Background(), gen, "存在しない部品")
	require.NoError(t, err)
	assert.Empty(t, ans.Chunks)
	assert.Contains(t, gen.system, "見つかりませんでした")
}
