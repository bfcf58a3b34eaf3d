package builtin

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

const fileSearchMaxResults = 200

// NewFileSearch builds the file_search tool (§4.H).
func NewFileSearch(validator *sandbox.PathValidator) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "file_search",
		Description: "Find files or directories under the workspace by name pattern.",
		Safe:        true,
		Params: []toolkit.Parameter{
			{Name: "pattern", Type: toolkit.ParamString, Required: true},
			{Name: "path", Type: toolkit.ParamString, Required: false, Default: "."},
			{Name: "type", Type: toolkit.ParamString, Required: false, Default: "any"},
			{Name: "max_depth", Type: toolkit.ParamNumber, Required: false, Default: float64(10)},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		pattern, _ := params["pattern"].(string)
		path, _ := params["path"].(string)
		if path == "" {
			path = "."
		}
		typeFilter, _ := params["type"].(string)
		if typeFilter == "" {
			typeFilter = "any"
		}
		maxDepth := 10
		if v, ok := params["max_depth"].(float64); ok {
			maxDepth = int(v)
		}

		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}

		type entry struct {
			relPath string
			isDir   bool
		}
		var entries []entry
		truncated := false

		walkErr := filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if p == abs {
				return nil
			}
			rel, _ := filepath.Rel(abs, p)
			depth := strings.Count(rel, string(filepath.Separator)) + 1
			if info.IsDir() {
				if excludedDirs[info.Name()] {
					return filepath.SkipDir
				}
				if maxDepth > 0 && depth > maxDepth {
					return filepath.SkipDir
				}
			}
			if len(entries) >= fileSearchMaxResults {
				truncated = true
				return filepath.SkipAll
			}
			if !matchGlob(pattern, info.Name()) {
				return nil
			}
			if typeFilter == "file" && info.IsDir() {
				return nil
			}
			if typeFilter == "directory" && !info.IsDir() {
				return nil
			}
			entries = append(entries, entry{relPath: rel, isDir: info.IsDir()})
			return nil
		})
		if walkErr != nil {
			return toolkit.Fail(ioErrorMessage(walkErr)), nil
		}

		sort.Slice(entries, func(i, j int) bool {
			if entries[i].isDir != entries[j].isDir {
				return entries[i].isDir
			}
			return entries[i].relPath < entries[j].relPath
		})

		var b strings.Builder
		for _, e := range entries {
			b.WriteString(e.relPath)
			b.WriteByte('\n')
		}

		return toolkit.Ok(b.String(), map[string]interface{}{
			"count":     len(entries),
			"truncated": truncated,
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
