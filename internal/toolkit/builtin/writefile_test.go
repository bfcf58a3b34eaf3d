package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nyxforge/codeagent/internal/backup"
)

func TestWriteFileCreatesNewFile(t *testing.T) {
	v, root := newValidator(t)
	store := backup.NewStore()
	tool := NewWriteFile(v, store)
	res, err := tool.Handler(context.Background(), map[string]interface{}{"path": "new.txt", "content": "hi"})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Metadata["created"] != true {
		t.Fatalf("expected created=true, got %v", res.Metadata["created"])
	}
	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	if err != nil || string(data) != "hi" {
		t.Fatalf("file contents = %q, err=%v", data, err)
	}
}

func TestWriteFileBacksUpExistingContent(t *testing.T) {
	v, root := newValidator(t)
	store := backup.NewStore()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tool := NewWriteFile(v, store)
	res, _ := tool.Handler(context.Background(), map[string]interface{}{"path": "a.txt", "content": "new"})
	if !res.Success || res.Metadata["created"] != false {
		t.Fatalf("res = %+v", res)
	}
	entry, ok := store.Latest(filepath.Join(root, "a.txt"))
	if !ok || string(entry.Content) != "old" {
		t.Fatalf("expected backup of prior content, got ok=%v content=%q", ok, entry.Content)
	}
}

func TestWriteFileWarnsOnDangerousPattern(t *testing.T) {
	v, _ := newValidator(t)
	store := backup.NewStore()
	tool := NewWriteFile(v, store)
	res, _ := tool.Handler(context.Background(), map[string]interface{}{"path": "x.html", "content": "<script>evil()</script>"})
	if !res.Success {
		t.Fatalf("dangerous pattern should warn, not fail: %+v", res)
	}
	if res.Output == "" || res.Output[:7] != "warning" {
		t.Fatalf("expected warning prefix, got %q", res.Output)
	}
}

func TestWriteFileRejectsMissingParentWithoutCreateDirs(t *testing.T) {
	v, _ := newValidator(t)
	store := backup.NewStore()
	tool := NewWriteFile(v, store)
	res, _ := tool.Handler(context.Background(), map[string]interface{}{
		"path": "sub/dir/file.txt", "content": "x", "create_dirs": false,
	})
	if res.Success {
		t.Fatalf("expected failure when parent directory is missing and create_dirs=false")
	}
}

func TestWriteFileEmptyContentZeroLines(t *testing.T) {
	v, _ := newValidator(t)
	store := backup.NewStore()
	tool := NewWriteFile(v, store)
	res, _ := tool.Handler(context.Background(), map[string]interface{}{"path": "empty.txt", "content": ""})
	if res.Metadata["lines"] != 0 {
		t.Fatalf("lines = %v, want 0", res.Metadata["lines"])
	}
}
