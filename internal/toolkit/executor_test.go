package toolkit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nyxforge/codeagent/internal/safety"
)

func echoTool(name string, safe bool, required ...string) Tool {
	def := Definition{Name: name, Safe: safe}
	for _, r := range required {
		def.Params = append(def.Params, Parameter{Name: r, Required: true})
	}
	return Tool{
		Definition: def,
		Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
			return Ok("ok", nil), nil
		},
	}
}

func newExecutor(t *testing.T, mode safety.Mode, approver Approver, tools ...Tool) *Executor {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return NewExecutor(r, mode, approver, t.TempDir())
}

func TestExecuteUnknownTool(t *testing.T) {
	e := newExecutor(t, safety.ModeReview, nil)
	res := e.Execute(context.Background(), Call{Name: "missing"})
	if res.Success {
		t.Fatalf("expected failure for unknown tool")
	}
}

func TestExecuteMissingRequiredParameter(t *testing.T) {
	e := newExecutor(t, safety.ModeReview, nil, echoTool("write_file", false, "path"))
	res := e.Execute(context.Background(), Call{Name: "write_file", Params: map[string]interface{}{}})
	if res.Success {
		t.Fatalf("expected failure for missing parameter")
	}
}

func TestExecuteDryRunNeverInvokesHandler(t *testing.T) {
	invoked := false
	tool := Tool{
		Definition: Definition{Name: "write_file", Safe: false, Params: []Parameter{{Name: "path", Required: true}}},
		Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
			invoked = true
			return Ok("should not happen", nil), nil
		},
	}
	e := newExecutor(t, safety.ModeDryRun, nil, tool)
	res := e.Execute(context.Background(), Call{Name: "write_file", Params: map[string]interface{}{"path": "a.txt"}})
	if !res.Success {
		t.Fatalf("expected dry-run success placeholder, got %+v", res)
	}
	if invoked {
		t.Fatalf("dry-run must not invoke the handler")
	}
}

func TestExecuteSafeToolBypassesApproval(t *testing.T) {
	approverCalled := false
	approver := ApproverFunc(func(ctx context.Context, call Call, preview string) (Decision, error) {
		approverCalled = true
		return DecisionYes, nil
	})
	e := newExecutor(t, safety.ModeReview, approver, echoTool("read_file", true))
	res := e.Execute(context.Background(), Call{Name: "read_file"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if approverCalled {
		t.Fatalf("safe tool must bypass approval")
	}
}

func TestExecuteUnsafeToolRejectedByApprover(t *testing.T) {
	approver := ApproverFunc(func(ctx context.Context, call Call, preview string) (Decision, error) {
		return DecisionNo, nil
	})
	e := newExecutor(t, safety.ModeReview, approver, echoTool("write_file", false))
	res := e.Execute(context.Background(), Call{Name: "write_file"})
	if res.Success {
		t.Fatalf("expected rejection to produce failure")
	}
}

func TestExecuteApprovalDiffLoopsThenTerminates(t *testing.T) {
	calls := 0
	approver := ApproverFunc(func(ctx context.Context, call Call, preview string) (Decision, error) {
		calls++
		if calls < 3 {
			return DecisionDiff, nil
		}
		return DecisionYes, nil
	})
	e := newExecutor(t, safety.ModeReview, approver, echoTool("write_file", false))
	res := e.Execute(context.Background(), Call{Name: "write_file"})
	if !res.Success {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if calls != 3 {
		t.Fatalf("expected 3 approval prompts, got %d", calls)
	}
}

func TestRenderPreviewThresholdUsesTargetFileSize(t *testing.T) {
	root := t.TempDir()
	e := NewExecutor(NewRegistry(), safety.ModeReview, nil, root)
	tool := echoTool("write_file", false)

	// A large existing file with a tiny change must fall back to stats
	// only, even though the delta itself is small.
	bigPath := filepath.Join(root, "big.txt")
	bigLines := make([]string, 60)
	for i := range bigLines {
		bigLines[i] = "line"
	}
	bigContent := strings.Join(bigLines, "\n")
	if err := os.WriteFile(bigPath, []byte(bigContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	preview := e.renderPreview(tool, Call{Name: "write_file", Params: map[string]interface{}{
		"path":    "big.txt",
		"content": bigContent + "\nextra",
	}})
	if !strings.Contains(preview, "+") || strings.Contains(preview, "@@") {
		t.Fatalf("expected stats-only preview for a large file, got %q", preview)
	}

	// A small existing file rewritten heavily must still get a full diff,
	// since the threshold gates on the file's own size, not the delta size.
	smallPath := filepath.Join(root, "small.txt")
	smallContent := "one\ntwo\nthree"
	if err := os.WriteFile(smallPath, []byte(smallContent), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rewriteLines := make([]string, 60)
	for i := range rewriteLines {
		rewriteLines[i] = "rewritten"
	}
	preview = e.renderPreview(tool, Call{Name: "write_file", Params: map[string]interface{}{
		"path":    "small.txt",
		"content": strings.Join(rewriteLines, "\n"),
	}})
	if !strings.Contains(preview, "@@") {
		t.Fatalf("expected a full unified diff for a small file, got %q", preview)
	}
}

func TestRenderPreviewAppliesApplyDiffAgainstCurrentContent(t *testing.T) {
	root := t.TempDir()
	e := NewExecutor(NewRegistry(), safety.ModeReview, nil, root)
	tool := echoTool("apply_diff", false)

	path := filepath.Join(root, "small.txt")
	if err := os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	diff := "@@ -1,3 +1,4 @@\n line1\n+inserted\n line2\n line3\n"
	preview := e.renderPreview(tool, Call{Name: "apply_diff", Params: map[string]interface{}{
		"path": "small.txt",
		"diff": diff,
	}})
	if !strings.Contains(preview, "+inserted") {
		t.Fatalf("expected the applied diff's addition to appear in the preview, got %q", preview)
	}
}

func TestExecuteApprovalDiffForcesFullDiffEvenPastThreshold(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "big.txt")
	bigLines := make([]string, 60)
	for i := range bigLines {
		bigLines[i] = "line"
	}
	if err := os.WriteFile(path, []byte(strings.Join(bigLines, "\n")), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var previews []string
	calls := 0
	approver := ApproverFunc(func(ctx context.Context, call Call, preview string) (Decision, error) {
		previews = append(previews, preview)
		calls++
		if calls < 2 {
			return DecisionDiff, nil
		}
		return DecisionYes, nil
	})
	e := newExecutor(t, safety.ModeReview, approver, echoTool("write_file", false))
	res := e.Execute(context.Background(), Call{Name: "write_file", Params: map[string]interface{}{
		"path":    path,
		"content": strings.Join(bigLines, "\n") + "\nextra",
	}})
	if !res.Success {
		t.Fatalf("expected eventual success, got %+v", res)
	}
	if len(previews) != 2 {
		t.Fatalf("expected 2 previews, got %d", len(previews))
	}
	if strings.Contains(previews[0], "@@") {
		t.Fatalf("expected initial preview to be stats-only for a large file, got %q", previews[0])
	}
	if !strings.Contains(previews[1], "@@") {
		t.Fatalf("expected the 'd' decision to force a full unified diff, got %q", previews[1])
	}
}

func TestExecuteRecoversHandlerPanic(t *testing.T) {
	tool := Tool{
		Definition: Definition{Name: "read_file", Safe: true},
		Handler: func(ctx context.Context, params map[string]interface{}) (Result, error) {
			panic("boom")
		},
	}
	e := newExecutor(t, safety.ModeReview, nil, tool)
	res := e.Execute(context.Background(), Call{Name: "read_file"})
	if res.Success {
		t.Fatalf("expected panic to be converted into a failure result")
	}
}

func TestExecuteAutoApplySkipsApproval(t *testing.T) {
	approverCalled := false
	approver := ApproverFunc(func(ctx context.Context, call Call, preview string) (Decision, error) {
		approverCalled = true
		return DecisionYes, nil
	})
	e := newExecutor(t, safety.ModeAutoApply, approver, echoTool("write_file", false))
	res := e.Execute(context.Background(), Call{Name: "write_file"})
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if approverCalled {
		t.Fatalf("auto-apply must not prompt for approval")
	}
}
