package usecase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"supportkb/internal/adapter/fs"
	"supportkb/internal/domain"
)

// IngestRequest describes one document to add. Text from an external
// converter goes in Sections (or Text, for unpaginated input); when both
// are empty the source file is read with the configured extractor.
type IngestRequest struct {
	Path     string
	Title    string
	Type     domain.DocType
	Text     string
	Sections []domain.Section
	Extra    map[string]string
}

// IngestResult reports an ingested document.
type IngestResult struct {
	Record   domain.DocumentRecord
	Replaced bool
}

// Ingest chunks a document, persists its storage unit and then registers it
// in the manifest. Re-ingesting a source path already in the manifest keeps
// its id and replaces its chunks. Nothing is registered on failure.
func (kb *KnowledgeBase) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	var result IngestResult

	if req.Path == "" {
		return result, fmt.Errorf("%w: ingestion needs a source path", domain.ErrInvalidConfig)
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		return result, err
	}

	typ := req.Type
	if typ == "" {
		var ok bool
		if typ, ok = domain.DetectDocType(abs); !ok {
			return result, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filepath.Ext(abs))
		}
	}
	if !typ.Valid() {
		return result, fmt.Errorf("%w: document type %q", domain.ErrUnsupportedFormat, typ)
	}

	sections, err := kb.sections(ctx, req, abs, typ)
	if err != nil {
		return result, err
	}
	if blank(sections) {
		return result, fmt.Errorf("%s: %w", abs, domain.ErrEmptyText)
	}

	rec := domain.DocumentRecord{
		Title:      req.Title,
		SourcePath: kb.sourcePath(abs),
		Type:       typ,
		AddedAt:    kb.now().UTC(),
	}
	if rec.Title == "" {
		base := filepath.Base(abs)
		rec.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}

	claim, err := kb.manifest.ClaimSource(rec.SourcePath, kb.newID(), rec.AddedAt)
	if err != nil {
		return result, err
	}
	defer kb.manifest.Release(claim)
	rec.ID = claim.ID
	rec.AddedAt = claim.AddedAt
	result.Replaced = claim.Existed

	chunks, err := kb.chunker.ChunkSections(sections, rec.SourceName())
	if err != nil {
		return result, fmt.Errorf("failed to chunk %s: %w", abs, err)
	}
	if len(chunks) == 0 {
		return result, fmt.Errorf("%s: %w", abs, domain.ErrEmptyText)
	}
	rec.ChunkCount = len(chunks)

	meta := domain.DocumentMetadata{
		DocumentRecord: rec,
		Pages:          pageCount(sections),
		Extraction:     req.Extra,
	}
	if err := kb.store.Put(rec.ID, meta, chunks); err != nil {
		return result, fmt.Errorf("failed to store %s: %w", abs, err)
	}
	if err := kb.manifest.Upsert(rec); err != nil {
		return result, fmt.Errorf("failed to register %s: %w", abs, err)
	}

	kb.invalidate()
	kb.logger.Info("document ingested", "id", rec.ID, "title", rec.Title, "chunks", rec.ChunkCount, "replaced", result.Replaced)

	result.Record = rec
	return result, nil
}

func (kb *KnowledgeBase) sections(ctx context.Context, req IngestRequest, abs string, typ domain.DocType) ([]domain.Section, error) {
	if len(req.Sections) > 0 {
		return req.Sections, nil
	}
	if req.Text != "" {
		return []domain.Section{{Text: req.Text}}, nil
	}
	if kb.extractor == nil {
		return nil, fmt.Errorf("%w: no text supplied for %s", domain.ErrUnsupportedFormat, abs)
	}
	sections, err := kb.extractor.Extract(ctx, abs, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", abs, err)
	}
	return sections, nil
}

// sourcePath stores paths under the knowledge root relative to it so the
// root can be moved; anything else is kept absolute.
func (kb *KnowledgeBase) sourcePath(abs string) string {
	root := kb.manifest.Root()
	if fs.Within(root, abs) {
		if rel, err := filepath.Rel(root, abs); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return abs
}

func blank(sections []domain.Section) bool {
	for _, s := range sections {
		if strings.TrimSpace(s.Text) != "" {
			return false
		}
	}
	return true
}

func pageCount(sections []domain.Section) int {
	n := 0
	for _, s := range sections {
		if s.Page != nil && *s.Page > n {
			n = *s.Page
		}
	}
	return n
}

// IngestDirResult summarizes a directory ingestion.
type IngestDirResult struct {
	Ingested int
	Skipped  int
	Errors   []string
}

// IngestDir ingests every supported file the walker finds under dir.
// Unsupported or empty files are skipped; other failures are collected and
// do not stop the run. onFile, when set, is called after each file.
func (kb *KnowledgeBase) IngestDir(ctx context.Context, dir string, onFile func(path string, err error)) (*IngestDirResult, error) {
	if kb.walker == nil {
		return nil, fmt.Errorf("%w: no file walker configured", domain.ErrInvalidConfig)
	}
	files, err := kb.walker.Walk(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	result := &IngestDirResult{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		p := filepath.Join(dir, filepath.FromSlash(f.RelPath))
		if _, ok := domain.DetectDocType(p); !ok {
			result.Skipped++
			if onFile != nil {
				onFile(p, nil)
			}
			continue
		}

		_, err := kb.Ingest(ctx, IngestRequest{Path: p})
		switch {
		case err == nil:
			result.Ingested++
		case errors.Is(err, domain.ErrEmptyText), errors.Is(err, domain.ErrUnsupportedFormat):
			result.Skipped++
			kb.logger.Warn("skipping file", "path", p, "error", err)
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", p, err))
		}
		if onFile != nil {
			onFile(p, err)
		}
	}
	return result, nil
}
