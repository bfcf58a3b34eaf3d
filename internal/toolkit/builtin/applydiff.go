package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/nyxforge/codeagent/internal/backup"
	"github.com/nyxforge/codeagent/internal/diffutil"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// NewApplyDiff builds the apply_diff tool (§4.H). Pre-patch content is
// snapshotted into store (the same in-memory backup store write_file saves
// into) so a write failure after a successful patch can restore the file
// from that snapshot.
func NewApplyDiff(validator *sandbox.PathValidator, store *backup.Store) toolkit.Tool {
	def := toolkit.Definition{
		Name:        "apply_diff",
		Description: "Apply a unified diff to a file within the workspace.",
		Safe:        false,
		Params: []toolkit.Parameter{
			{Name: "path", Type: toolkit.ParamString, Required: true},
			{Name: "diff", Type: toolkit.ParamString, Required: true},
			{Name: "create_backup", Type: toolkit.ParamBoolean, Required: false, Default: true},
		},
	}

	handler := func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
		path, _ := params["path"].(string)
		diff, _ := params["diff"].(string)
		createBackup := true
		if v, ok := params["create_backup"].(bool); ok {
			createBackup = v
		}

		abs, err := validator.Validate(path)
		if err != nil {
			return toolkit.Fail(err.Error()), nil
		}

		original := ""
		fileCreated := false
		data, readErr := os.ReadFile(abs)
		switch {
		case readErr == nil:
			original = string(data)
		case os.IsNotExist(readErr):
			if strings.Contains(diff, "/dev/null") {
				fileCreated = true
			} else {
				return toolkit.Fail(ioErrorMessage(readErr)), nil
			}
		default:
			return toolkit.Fail(ioErrorMessage(readErr)), nil
		}

		patched, err := diffutil.ApplyUnifiedDiff(original, diff)
		if err != nil {
			return toolkit.Fail("PatchFormat: " + err.Error()), nil
		}

		backedUp := false
		if createBackup && !fileCreated {
			store.Save(abs, data, "apply_diff")
			backedUp = true
		}

		if dir := filepath.Dir(abs); fileCreated {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return toolkit.Fail(ioErrorMessage(err)), nil
			}
		}

		if err := os.WriteFile(abs, []byte(patched.Content), 0o644); err != nil {
			if backedUp {
				if entry, ok := store.Latest(abs); ok {
					_ = os.WriteFile(abs, entry.Content, 0o644)
				}
			}
			return toolkit.Fail(ioErrorMessage(err)), nil
		}

		return toolkit.Ok("applied patch to "+path, map[string]interface{}{
			"linesAdded":   patched.LinesAdded,
			"linesRemoved": patched.LinesRemoved,
			"originalSize": len(original),
			"patchedSize":  len(patched.Content),
			"fileCreated":  fileCreated,
			"backedUp":     backedUp,
		}), nil
	}

	return toolkit.Tool{Definition: def, Handler: handler}
}
