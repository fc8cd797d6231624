package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TempFilePrefix marks staged files. The leading dot keeps them out of
// reconciliation scans.
const TempFilePrefix = ".kb-tmp-"

// StagedFile holds data written next to its target but not yet visible
// under the target name.
type StagedFile struct {
	tmp    string
	target string
}

// StageFile writes and syncs data into a temp file in filename's directory.
// Nothing is visible at filename until Commit.
func StageFile(filename string, data []byte, perm os.FileMode) (*StagedFile, error) {
	f, err := os.CreateTemp(filepath.Dir(filename), TempFilePrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for %s: %w", filename, err)
	}

	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(f.Name(), perm)
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to stage %s: %w", filename, err)
	}
	return &StagedFile{tmp: f.Name(), target: filename}, nil
}

// Commit renames the staged file over its target.
func (s *StagedFile) Commit() error {
	if err := os.Rename(s.tmp, s.target); err != nil {
		os.Remove(s.tmp)
		return fmt.Errorf("failed to replace %s: %w", s.target, err)
	}
	return nil
}

// Discard drops an uncommitted staged file. It is a no-op after Commit.
func (s *StagedFile) Discard() {
	os.Remove(s.tmp)
}

// WriteFileAtomic replaces filename with data in one rename.
func WriteFileAtomic(filename string, data []byte, perm os.FileMode) error {
	staged, err := StageFile(filename, data, perm)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Within reports whether target lies strictly inside root after both are
// made absolute and cleaned.
func Within(root, target string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
