// Package manifest maintains the durable catalog of ingested documents.
//
// The manifest is a single JSON file, {"documents": [...]}, meant to be
// human-inspectable and safe to hand-edit between runs. All mutation goes
// through one Manifest value per file, which serializes read-modify-write
// cycles with a mutex. Reads take no lock: writes are atomic renames, so a
// reader sees either the old or the new file.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"supportkb/internal/adapter/fs"
	"supportkb/internal/domain"
	"supportkb/internal/logging"
	"supportkb/internal/port"
)

type file struct {
	Documents []json.RawMessage `json:"documents"`
}

type fileOut struct {
	Documents []domain.DocumentRecord `json:"documents"`
}

// Config wires a Manifest to its file, knowledge root and document store.
type Config struct {
	Path   string
	Root   string
	Store  port.DocumentStore
	Walker port.FileWalker // defaults to fs.NewWalker(nil, base of Path)
	Logger *slog.Logger
}

type Manifest struct {
	mu     sync.Mutex
	path   string
	root   string
	store  port.DocumentStore
	walker port.FileWalker
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	pending map[string]*pendingSource // resolved source path -> in-flight ingestion
}

type pendingSource struct {
	id      string
	addedAt time.Time
	refs    int
}

// SourceClaim is the identity an ingestion of one source must use.
// Existed is true when the manifest already had a record for the source.
type SourceClaim struct {
	ID      string
	AddedAt time.Time
	Existed bool

	key     string
	pending bool
}

// RemoveResult reports a removal. Removed tracks the manifest entry only;
// Warnings lists physical deletions that failed or were refused.
type RemoveResult struct {
	Removed  bool
	Record   domain.DocumentRecord
	Warnings []string
}

func New(cfg Config) (*Manifest, error) {
	if cfg.Path == "" || cfg.Root == "" {
		return nil, fmt.Errorf("%w: manifest path and knowledge root are required", domain.ErrInvalidConfig)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: manifest needs a document store", domain.ErrInvalidConfig)
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}
	p, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, err
	}

	walker := cfg.Walker
	if walker == nil {
		walker = fs.NewWalker(nil, filepath.Base(p))
	}

	return &Manifest{
		path:   p,
		root:   root,
		store:  cfg.Store,
		walker: walker,
		logger: logging.OrDefault(cfg.Logger),
		now:     time.Now,
		newID:   uuid.NewString,
		pending: make(map[string]*pendingSource),
	}, nil
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return m.path
}

// Root returns the knowledge root.
func (m *Manifest) Root() string {
	return m.root
}

// ResolveSource returns the absolute path of a record's source file.
// Relative source paths are relative to the knowledge root.
func (m *Manifest) ResolveSource(rec domain.DocumentRecord) string {
	p := filepath.FromSlash(rec.SourcePath)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(m.root, p)
}

// Load reads the manifest. A missing file is an empty manifest; a malformed
// file is logged and treated as empty. Individual malformed records are
// dropped with a warning, as are duplicate ids after the first.
func (m *Manifest) Load() ([]domain.DocumentRecord, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		m.logger.Warn("manifest is malformed, treating as empty", "path", m.path, "error", err)
		return nil, nil
	}

	records := make([]domain.DocumentRecord, 0, len(f.Documents))
	seen := make(map[string]struct{}, len(f.Documents))
	for i, raw := range f.Documents {
		var rec domain.DocumentRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			m.logger.Warn("dropping malformed manifest entry", "index", i, "error", err)
			continue
		}
		if err := rec.Validate(); err != nil {
			m.logger.Warn("dropping invalid manifest entry", "index", i, "error", err)
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			m.logger.Warn("dropping duplicate manifest entry", "id", rec.ID)
			continue
		}
		seen[rec.ID] = struct{}{}
		records = append(records, rec)
	}
	return records, nil
}

// Save replaces the manifest contents.
func (m *Manifest) Save(records []domain.DocumentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(records)
}

func (m *Manifest) save(records []domain.DocumentRecord) error {
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return err
		}
	}
	if records == nil {
		records = []domain.DocumentRecord{}
	}

	data, err := json.MarshalIndent(fileOut{Documents: records}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest dir: %w", err)
	}
	if err := fs.WriteFileAtomic(m.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// update runs one serialized load-modify-save cycle. fn reports whether it
// changed anything; unchanged manifests are not rewritten.
func (m *Manifest) update(fn func([]domain.DocumentRecord) ([]domain.DocumentRecord, bool, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Load()
	if err != nil {
		return err
	}
	records, changed, err := fn(records)
	if err != nil || !changed {
		return err
	}
	return m.save(records)
}

// Get returns the record with the given id.
func (m *Manifest) Get(id string) (domain.DocumentRecord, error) {
	records, err := m.Load()
	if err != nil {
		return domain.DocumentRecord{}, err
	}
	for _, rec := range records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return domain.DocumentRecord{}, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
}

// FindBySource returns the record whose source resolves to sourcePath.
func (m *Manifest) FindBySource(sourcePath string) (domain.DocumentRecord, bool, error) {
	records, err := m.Load()
	if err != nil {
		return domain.DocumentRecord{}, false, err
	}
	target := m.ResolveSource(domain.DocumentRecord{SourcePath: sourcePath})
	for _, rec := range records {
		if m.ResolveSource(rec) == target {
			return rec, true, nil
		}
	}
	return domain.DocumentRecord{}, false, nil
}

// ClaimSource resolves the id for ingesting sourcePath. A source already in
// the manifest keeps its record's id and added time. Otherwise id and
// addedAt are reserved for the source until every claim on it is released,
// so concurrent ingestions of one source share a single id. Each claim must
// be passed to Release once the record is upserted or ingestion fails.
func (m *Manifest) ClaimSource(sourcePath, id string, addedAt time.Time) (SourceClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Load()
	if err != nil {
		return SourceClaim{}, err
	}
	key := m.ResolveSource(domain.DocumentRecord{SourcePath: sourcePath})
	for _, rec := range records {
		if m.ResolveSource(rec) == key {
			return SourceClaim{ID: rec.ID, AddedAt: rec.AddedAt, Existed: true}, nil
		}
	}

	p, ok := m.pending[key]
	if !ok {
		p = &pendingSource{id: id, addedAt: addedAt}
		m.pending[key] = p
	}
	p.refs++
	return SourceClaim{ID: p.id, AddedAt: p.addedAt, key: key, pending: true}, nil
}

// Release drops a claim returned by ClaimSource.
func (m *Manifest) Release(c SourceClaim) {
	if !c.pending {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pending[c.key]; ok {
		if p.refs--; p.refs <= 0 {
			delete(m.pending, c.key)
		}
	}
}

// Upsert inserts rec or replaces the entry with the same id.
func (m *Manifest) Upsert(rec domain.DocumentRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return m.update(func(records []domain.DocumentRecord) ([]domain.DocumentRecord, bool, error) {
		for i := range records {
			if records[i].ID == rec.ID {
				records[i] = rec
				return records, true, nil
			}
		}
		return append(records, rec), true, nil
	})
}

// SetChunkCount records the persisted chunk count for id. Unknown ids are
// ignored: the document may have been removed concurrently.
func (m *Manifest) SetChunkCount(id string, n int) error {
	return m.update(func(records []domain.DocumentRecord) ([]domain.DocumentRecord, bool, error) {
		for i := range records {
			if records[i].ID == id {
				if records[i].ChunkCount == n {
					return records, false, nil
				}
				records[i].ChunkCount = n
				return records, true, nil
			}
		}
		return records, false, nil
	})
}

// Reconcile registers source files under the knowledge root that the
// manifest does not know about yet. New entries get a fresh id and a zero
// chunk count; they are chunked lazily on first query. Files with an
// unsupported extension are ignored. Returns the full record set.
func (m *Manifest) Reconcile() ([]domain.DocumentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.Load()
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(records))
	for _, rec := range records {
		known[m.ResolveSource(rec)] = struct{}{}
	}

	files, err := m.walker.Walk(m.root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan knowledge root: %w", err)
	}

	added := 0
	for _, f := range files {
		abs := filepath.Join(m.root, filepath.FromSlash(f.RelPath))
		if _, ok := known[abs]; ok {
			continue
		}
		typ, ok := domain.DetectDocType(f.RelPath)
		if !ok {
			m.logger.Debug("skipping unsupported file", "path", f.RelPath)
			continue
		}

		base := path.Base(f.RelPath)
		title := strings.TrimSuffix(base, path.Ext(base))
		if f.Dir != "" {
			title = f.Dir + "/" + title
		}

		records = append(records, domain.DocumentRecord{
			ID:         m.newID(),
			Title:      title,
			SourcePath: f.RelPath,
			Type:       typ,
			AddedAt:    m.now().UTC(),
		})
		known[abs] = struct{}{}
		added++
	}

	if added == 0 {
		return records, nil
	}
	if err := m.save(records); err != nil {
		return nil, err
	}
	m.logger.Info("registered untracked source files", "added", added, "total", len(records))
	return records, nil
}

// Remove deletes the entry for id, then makes a best-effort attempt to
// delete its source file (only inside the knowledge root) and its storage
// unit. An unknown id leaves the manifest file untouched.
func (m *Manifest) Remove(id string) (RemoveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result RemoveResult

	records, err := m.Load()
	if err != nil {
		return result, err
	}

	idx := -1
	for i, rec := range records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return result, nil
	}

	rec := records[idx]
	remaining := append(records[:idx:idx], records[idx+1:]...)
	if err := m.save(remaining); err != nil {
		return result, err
	}
	result.Removed = true
	result.Record = rec

	src := m.ResolveSource(rec)
	if !fs.Within(m.root, src) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("source %s is outside the knowledge root and was left in place", src))
	} else if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to delete source %s: %v", src, err))
	}

	if err := m.store.Delete(id); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("failed to delete stored chunks for %s: %v", id, err))
	}

	for _, w := range result.Warnings {
		m.logger.Warn("document removed with warnings", "id", id, "warning", w)
	}
	return result, nil
}
