package fs

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"supportkb/internal/port"
)

// Walker lists candidate source files under a knowledge root: the root
// itself and one level of subdirectories. Hidden entries are never listed.
type Walker struct {
	excludes []string
	skip     map[string]struct{}
}

// NewWalker creates a walker. excludes are doublestar patterns matched
// against both the slash-separated relative path and the base name; skip
// names entries in the root that are never sources (e.g. the manifest).
func NewWalker(excludes []string, skip ...string) *Walker {
	s := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		s[name] = struct{}{}
	}
	return &Walker{
		excludes: excludes,
		skip:     s,
	}
}

func (w *Walker) Walk(root string) ([]port.FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var files []port.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if isHidden(name) {
			continue
		}
		if _, ok := w.skip[name]; ok {
			continue
		}

		if entry.IsDir() {
			sub, err := w.walkDir(root, name)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}

		if fi, ok := w.fileInfo(entry, name, ""); ok {
			files = append(files, fi)
		}
	}

	return files, nil
}

func (w *Walker) walkDir(root, dir string) ([]port.FileInfo, error) {
	if w.shouldExclude(dir + "/") {
		return nil, nil
	}

	entries, err := os.ReadDir(filepath.Join(root, dir))
	if err != nil {
		return nil, err
	}

	var files []port.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if isHidden(name) || entry.IsDir() {
			continue
		}
		if fi, ok := w.fileInfo(entry, path.Join(dir, name), dir); ok {
			files = append(files, fi)
		}
	}
	return files, nil
}

func (w *Walker) fileInfo(entry os.DirEntry, relPath, dir string) (port.FileInfo, bool) {
	if !entry.Type().IsRegular() {
		return port.FileInfo{}, false
	}
	if w.shouldExclude(relPath) {
		return port.FileInfo{}, false
	}
	info, err := entry.Info()
	if err != nil {
		return port.FileInfo{}, false
	}
	return port.FileInfo{
		RelPath: relPath,
		Dir:     dir,
		ModTime: info.ModTime().Unix(),
		Size:    info.Size(),
	}, true
}

func (w *Walker) shouldExclude(relPath string) bool {
	base := path.Base(strings.TrimSuffix(relPath, "/"))
	for _, pattern := range w.excludes {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
		if matched, err := doublestar.Match(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ReadFile reads a whole file as a string.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
