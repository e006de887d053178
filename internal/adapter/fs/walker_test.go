package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWalkIncludesAndExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "policy.md")
	writeFile(t, root, "notes.txt")
	writeFile(t, root, "binary.pdf")
	writeFile(t, root, ".rlg/index.db")
	writeFile(t, root, "sub/deep.md")

	w := NewWalker([]string{"**/*.md", "**/*.txt"}, []string{"**/.rlg/**"})
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]bool)
	for _, f := range files {
		rel, _ := filepath.Rel(root, f.Path)
		got[filepath.ToSlash(rel)] = true
	}

	for _, want := range []string{"policy.md", "notes.txt", "sub/deep.md"} {
		if !got[want] {
			t.Errorf("expected %s in results, got %v", want, got)
		}
	}
	if got["binary.pdf"] {
		t.Error("pdf should not match includes")
	}
	if got[".rlg/index.db"] {
		t.Error("excluded directory leaked into results")
	}
}

func TestWalkExtension(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Policy.MD")

	w := NewWalker([]string{"**/*"}, nil)
	files, err := w.Walk(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}
	if files[0].Ext != "md" {
		t.Errorf("extension should be lowercased without the dot, got %q", files[0].Ext)
	}
}
