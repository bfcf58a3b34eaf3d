package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/nyxforge/codeagent/internal/backup"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// dangerousPatterns are the known-dangerous-content heuristics of §4.H
// write_file: they produce a warning, not a rejection.
var dangerousPatterns = []string{"<script>", "eval(", "rm -rf"}

// NewWriteFile builds the write_file tool.
func NewWriteFile(validator *sandbox.PathValidator, store *backup.Store) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "write_file",
		Description: "Write content to a file within the workspace, creating it if needed.",
		Safe:        false,
		Params: []toolkit.Parameter{
			{Name: "path", Type: toolkit.ParamString, Required: true},
			{Name: "content", Type: toolkit.ParamString, Required: true},
			{Name: "create_dirs", Type: toolkit.ParamBoolean, Required: false, Default: true},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		path, _ := params["path"].(string)
		content, _ := params["content"].(string)
		createDirs := true
		if v, ok := params["create_dirs"].(bool); ok {
			createDirs = v
		}

		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}

		warning := ""
		lowerContent := strings.ToLower(content)
		for _, pattern := range dangerousPatterns {
			if strings.Contains(lowerContent, pattern) {
				warning = "warning: content matches dangerous pattern " + pattern
				break
			}
		}

		existing, readErr := os.ReadFile(abs)
		created := os.IsNotExist(readErr)

		dir := filepath.Dir(abs)
		if _, statErr := os.Stat(dir); statErr != nil {
			if !createDirs {
				return toolkit.Fail("IO(not-found): parent directory does not exist and create_dirs is false"), nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return toolkit.Fail(ioErrorMessage(err)), nil
			}
		}

		if !created && readErr == nil {
			store.Save(abs, existing, "write_file")
		}

		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return toolkit.Fail(ioErrorMessage(err)), nil
		}

		metadata := map[string]interface{}{
			"path":    abs,
			"size":    len(content),
			"lines":   writeLineCount(content),
			"created": created,
		}
		output := "wrote " + path
		if warning != "" {
			output = warning + "\n" + output
		}
		return toolkit.Ok(output, metadata), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
