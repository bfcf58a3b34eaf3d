package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// NewListDirectory builds the list_directory tool.
func NewListDirectory(validator *sandbox.PathValidator) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "list_directory",
		Description: "List entries under a workspace directory.",
		Safe:        true,
		Params: []toolkit.Parameter{
			{Name: "path", Type: toolkit.ParamString, Required: false, Default: "."},
			{Name: "recursive", Type: toolkit.ParamBoolean, Required: false},
			{Name: "max_depth", Type: toolkit.ParamNumber, Required: false},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		path, _ := params["path"].(string)
		if path == "" {
			path = "."
		}
		recursive, _ := params["recursive"].(bool)
		maxDepth := -1
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

		walkErr := filepath.Walk(abs, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}
			if p == abs {
				return nil
			}
			rel, _ := filepath.Rel(abs, p)
			depth := strings.Count(rel, string(filepath.Separator)) + 1
			if !recursive && depth > 1 {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if maxDepth > 0 && depth > maxDepth {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			entries = append(entries, entry{relPath: rel, isDir: info.IsDir()})
			if info.IsDir() && excludedDirs[info.Name()] {
				return filepath.SkipDir
			}
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
			suffix := ""
			if e.isDir {
				suffix = "/"
			}
			fmt.Fprintf(&b, "%s%s\n", e.relPath, suffix)
		}

		return toolkit.Ok(b.String(), map[string]interface{}{
			"count": len(entries),
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
