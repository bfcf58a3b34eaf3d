// Package builtin implements the built-in tool contracts of §4.H: read,
// write, list, run, apply-diff, grep-search, file-search.
package builtin

import (
	"context"
	"os"
	"strings"

	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// NewReadFile builds the read_file tool.
func NewReadFile(validator *sandbox.PathValidator) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "read_file",
		Description: "Read the contents of a file within the workspace.",
		Safe:        true,
		Params: []toolkit.Parameter{
			{Name: "path", Type: toolkit.ParamString, Required: true, Description: "Workspace-relative or absolute file path"},
			{Name: "encoding", Type: toolkit.ParamString, Required: false, Default: "utf-8", Description: "Text encoding, defaults to utf-8"},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		path, _ := params["path"].(string)
		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			return toolkit.Fail(ioErrorMessage(err)), nil
		}

		content := string(data)
		lines := readLineCount(content)
		rel := relativeTo(validator.Root(), abs)

		return toolkit.Ok(content, map[string]interface{}{
			"absolutePath": abs,
			"relativePath": rel,
			"size":         len(data),
			"lines":        lines,
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}

// readLineCount is read_file's line-count rule: a zero-byte file counts as
// one line. write_file uses a different rule (writeLineCount) — the source
// is inconsistent here and §4.H pins down one rule per tool (§9).
func readLineCount(content string) int {
	if content == "" {
		return 1
	}
	return strings.Count(content, "\n") + 1
}

// writeLineCount is write_file's line-count rule: empty content counts as
// zero lines.
func writeLineCount(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
