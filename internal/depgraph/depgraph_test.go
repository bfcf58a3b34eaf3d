package depgraph

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestBuildFindsGoImportEdges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "widget.go"), "package widget\n")
	writeFile(t, filepath.Join(root, "main.go"), "package main\n\nimport (\n\t\"myapp/widget\"\n)\n")

	g, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	importers := g.ImpactOf("widget.go")
	if len(importers) != 1 || importers[0] != "main.go" {
		t.Fatalf("ImpactOf(widget.go) = %v", importers)
	}
}

func TestBuildSkipsExcludedDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vendor", "widget.go"), "package widget\n")
	writeFile(t, filepath.Join(root, "main.go"), "package main\n\nimport (\n\t\"myapp/widget\"\n)\n")

	g, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if _, ok := g.imports[filepath.Join("vendor", "widget.go")]; ok {
		t.Fatalf("expected vendor/ to be excluded from the scan")
	}
}

func TestImpactOfUnknownFileReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")

	g, err := Build(root)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if importers := g.ImpactOf("nothing.go"); len(importers) != 0 {
		t.Fatalf("expected no importers, got %v", importers)
	}
}
