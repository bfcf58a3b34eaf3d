package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nyxforge/codeagent/internal/diffutil"
	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/safety"
)

const diffPreviewLineThreshold = 50

// Executor validates parameters, applies the approval policy per call,
// invokes the handler, and renders diff previews (§4.G).
type Executor struct {
	Registry      *Registry
	Mode          safety.Mode
	Approver      Approver
	WorkspaceRoot string
}

// NewExecutor builds an executor bound to registry under mode.
func NewExecutor(registry *Registry, mode safety.Mode, approver Approver, workspaceRoot string) *Executor {
	return &Executor{Registry: registry, Mode: mode, Approver: approver, WorkspaceRoot: workspaceRoot}
}

// ErrKind distinguishes the executor-produced error kinds of §7.
type ErrKind string

const (
	ErrUnknownTool      ErrKind = "UnknownTool"
	ErrMissingParameter ErrKind = "MissingParameter"
)

// ExecErr carries a typed error kind alongside its message.
type ExecErr struct {
	Kind ErrKind
	Msg  string
}

func (e ExecErr) Error() string { return string(e.Kind) + ": " + e.Msg }

// Execute runs the steps of §4.G in order and returns the Result the
// orchestrator appends to the transcript.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	safe := false
	result := e.execute(ctx, call, &safe)
	obslog.ToolCall(call.Name, safe, string(e.Mode), result.Success, time.Since(start).Milliseconds())
	return result
}

func (e *Executor) execute(ctx context.Context, call Call, safe *bool) Result {
	// 1. Resolve.
	tool, ok := e.Registry.Get(call.Name)
	if !ok {
		return Fail(ExecErr{Kind: ErrUnknownTool, Msg: fmt.Sprintf("no tool named %q", call.Name)}.Error())
	}
	*safe = tool.Definition.Safe

	// 2. Validate: every declared required parameter must be present.
	for _, p := range tool.Definition.Params {
		if !p.Required {
			continue
		}
		if _, present := call.Params[p.Name]; !present {
			return Fail(ExecErr{Kind: ErrMissingParameter, Msg: fmt.Sprintf("%s requires parameter %q", call.Name, p.Name)}.Error())
		}
	}

	// 3. Approval.
	if e.Mode == safety.ModeDryRun {
		return Ok("DRY-RUN; no effect", nil)
	}
	if e.Mode == safety.ModeReview && !tool.Definition.Safe {
		decision, err := e.approve(ctx, tool, call)
		if err != nil {
			return Fail(err.Error())
		}
		switch decision {
		case DecisionNo:
			return Fail("rejected by user")
		case DecisionQuit:
			return Fail("session terminated by user")
		}
	}

	// 4. Invoke; convert any panic-like low-level error into Failure.
	result, err := invoke(ctx, tool, call.Params)
	if err != nil {
		return Fail(err.Error())
	}
	return result
}

func invoke(ctx context.Context, tool Tool, params map[string]interface{}) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{}
			err = fmt.Errorf("panic in tool %s: %v", tool.Definition.Name, r)
		}
	}()
	return tool.Handler(ctx, params)
}

// approve renders a diff preview for write_file-like tools and repeatedly
// prompts until a terminal decision (y/n/q) is reached; "d" re-renders the
// full diff and re-prompts.
func (e *Executor) approve(ctx context.Context, tool Tool, call Call) (Decision, error) {
	if e.Approver == nil {
		return DecisionYes, nil
	}
	preview := e.renderPreview(tool, call)
	for {
		decision, err := e.Approver.Approve(ctx, call, preview)
		if err != nil {
			return "", err
		}
		if decision == DecisionDiff {
			preview = e.renderFullDiff(tool, call)
			continue
		}
		return decision, nil
	}
}

// diffPreviewTools names the tools whose calls get a diff-style approval
// preview instead of the raw parameter dump (§4.G).
var diffPreviewTools = map[string]bool{
	"write_file": true,
	"apply_diff": true,
}

// renderPreview implements §4.G's diff preview policy: full unified diff
// when the target file is under 50 lines, else stats only; annotated as
// "new file" when the target doesn't exist yet. The threshold gates on the
// target file's own size, not the size of the change.
func (e *Executor) renderPreview(tool Tool, call Call) string {
	if !diffPreviewTools[tool.Definition.Name] {
		return ""
	}
	path, content, original, isNew, ok := e.previewInputs(tool, call)
	if !ok {
		return ""
	}
	if isNew {
		return fmt.Sprintf("%s: new file (%d bytes)", path, len(content))
	}

	lineCount := strings.Count(original, "\n") + 1
	if lineCount < diffPreviewLineThreshold {
		if diff, err := diffutil.RenderUnifiedDiff(path, original, content); err == nil {
			return diff
		}
	}
	added, removed := diffutil.DiffStats(original, content)
	return fmt.Sprintf("%s: +%d/-%d", path, added, removed)
}

// renderFullDiff forces a full unified diff regardless of the file-size
// threshold, for the "d" (show diff) decision in the approval loop.
func (e *Executor) renderFullDiff(tool Tool, call Call) string {
	if !diffPreviewTools[tool.Definition.Name] {
		return e.renderPreview(tool, call)
	}
	path, content, original, isNew, ok := e.previewInputs(tool, call)
	if !ok {
		return ""
	}
	if isNew {
		return fmt.Sprintf("%s: new file (%d bytes)", path, len(content))
	}
	diff, err := diffutil.RenderUnifiedDiff(path, original, content)
	if err != nil {
		added, removed := diffutil.DiffStats(original, content)
		return fmt.Sprintf("%s: +%d/-%d", path, added, removed)
	}
	return diff
}

// previewInputs resolves the path, resulting content, and current on-disk
// content for a diff-previewable call, dispatching on tool name since
// write_file carries the new content directly while apply_diff carries a
// unified diff that must be applied against the current file to see what
// would change (isNew is true when the target doesn't exist yet).
func (e *Executor) previewInputs(tool Tool, call Call) (path, content, original string, isNew, ok bool) {
	switch tool.Definition.Name {
	case "write_file":
		path, content, original, isNew = e.writeFilePreviewInputs(call)
		return path, content, original, isNew, true
	case "apply_diff":
		return e.applyDiffPreviewInputs(call)
	default:
		return "", "", "", false, false
	}
}

// writeFilePreviewInputs reads the write_file call's target path and current
// on-disk content (isNew is true when the file doesn't exist yet).
func (e *Executor) writeFilePreviewInputs(call Call) (path, content, original string, isNew bool) {
	path, _ = call.Params["path"].(string)
	content, _ = call.Params["content"].(string)

	data, err := os.ReadFile(e.resolvePath(path))
	if err != nil {
		return path, content, "", true
	}
	return path, content, string(data), false
}

// applyDiffPreviewInputs reads the apply_diff call's target path and current
// on-disk content, then applies its unified diff to compute what the file
// would look like if approved. ok is false when the diff can't be parsed.
func (e *Executor) applyDiffPreviewInputs(call Call) (path, content, original string, isNew, ok bool) {
	path, _ = call.Params["path"].(string)
	diff, _ := call.Params["diff"].(string)

	data, err := os.ReadFile(e.resolvePath(path))
	if err == nil {
		original = string(data)
	} else if !strings.Contains(diff, "/dev/null") {
		return path, "", "", false, false
	} else {
		isNew = true
	}

	patched, err := diffutil.ApplyUnifiedDiff(original, diff)
	if err != nil {
		return path, "", "", false, false
	}
	if isNew {
		return path, patched.Content, "", true, true
	}
	return path, patched.Content, original, false, true
}

func (e *Executor) resolvePath(path string) string {
	if e.WorkspaceRoot != "" && !filepath.IsAbs(path) {
		return filepath.Join(e.WorkspaceRoot, path)
	}
	return path
}
