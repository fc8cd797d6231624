package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Run("Creates New File", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "index.json")
		content := []byte(`{"documents":[]}`)

		if err := WriteFileAtomic(filename, content, 0644); err != nil {
			t.Fatalf("WriteFileAtomic failed: %v", err)
		}

		got, err := os.ReadFile(filename)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("Expected %q, got %q", content, got)
		}
	})

	t.Run("Overwrites Existing File", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "index.json")

		if err := os.WriteFile(filename, []byte("initial"), 0644); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		if err := WriteFileAtomic(filename, []byte("overwritten"), 0644); err != nil {
			t.Fatalf("WriteFileAtomic failed: %v", err)
		}

		got, err := os.ReadFile(filename)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != "overwritten" {
			t.Errorf("Expected 'overwritten', got '%s'", string(got))
		}
	})

	t.Run("Leaves No Temp Files", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "doc.chunks.json")

		if err := WriteFileAtomic(filename, []byte("[]"), 0644); err != nil {
			t.Fatalf("WriteFileAtomic failed: %v", err)
		}

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), TempFilePrefix) {
				t.Errorf("temp file left behind: %s", e.Name())
			}
		}
	})

	t.Run("Fails if Directory Missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "missing_folder", "test.txt")

		if err := WriteFileAtomic(filename, []byte("fail"), 0644); err == nil {
			t.Error("Expected error when directory is missing, got nil")
		}
	})
}

func TestStageFile(t *testing.T) {
	t.Run("Invisible Until Commit", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "doc.chunks.json")
		if err := os.WriteFile(filename, []byte("old"), 0644); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		staged, err := StageFile(filename, []byte("new"), 0644)
		if err != nil {
			t.Fatalf("StageFile failed: %v", err)
		}
		if got, _ := os.ReadFile(filename); string(got) != "old" {
			t.Errorf("target changed before commit: %q", got)
		}

		if err := staged.Commit(); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
		staged.Discard()
		if got, _ := os.ReadFile(filename); string(got) != "new" {
			t.Errorf("Expected 'new' after commit, got %q", got)
		}
	})

	t.Run("Discard Leaves Target Alone", func(t *testing.T) {
		tmpDir := t.TempDir()
		filename := filepath.Join(tmpDir, "doc.meta.json")
		if err := os.WriteFile(filename, []byte("old"), 0644); err != nil {
			t.Fatalf("Setup failed: %v", err)
		}

		staged, err := StageFile(filename, []byte("new"), 0644)
		if err != nil {
			t.Fatalf("StageFile failed: %v", err)
		}
		staged.Discard()

		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected only the target to remain, found %d entries", len(entries))
		}
		if got, _ := os.ReadFile(filename); string(got) != "old" {
			t.Errorf("Expected 'old' after discard, got %q", got)
		}
	})
}

func TestWithin(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "kb")

	tests := []struct {
		target string
		want   bool
	}{
		{filepath.Join(root, "manual.pdf"), true},
		{filepath.Join(root, "sub", "manual.pdf"), true},
		{root, false},
		{filepath.Join(root, ".."), false},
		{filepath.Join(root, "..", "other", "x.txt"), false},
		{filepath.Join(string(filepath.Separator), "srv", "kb-other", "x.txt"), false},
		{filepath.Join(root, "sub", "..", "..", "etc", "passwd"), false},
	}

	for _, tt := range tests {
		if got := Within(root, tt.target); got != tt.want {
			t.Errorf("Within(%q, %q) = %v, want %v", root, tt.target, got, tt.want)
		}
	}
}
