package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/nyxforge/codeagent/internal/llm"
	"github.com/nyxforge/codeagent/internal/safety"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// scriptedTransport replays one response per call to ChatStream/Chat, in order.
type scriptedTransport struct {
	responses []string
	calls     int
}

func (s *scriptedTransport) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (string, error) {
	return s.next(), nil
}

func (s *scriptedTransport) ChatStream(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema) (<-chan llm.Chunk, error) {
	text := s.next()
	ch := make(chan llm.Chunk, 2)
	ch <- llm.Chunk{Text: text}
	ch <- llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (s *scriptedTransport) next() string {
	if s.calls >= len(s.responses) {
		return ""
	}
	r := s.responses[s.calls]
	s.calls++
	return r
}

func (s *scriptedTransport) GetModelName() string                          { return "fake" }
func (s *scriptedTransport) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func echoTool(name string, safe bool, success bool) toolkit.Tool {
	return toolkit.Tool{
		Definition: toolkit.Definition{Name: name, Safe: safe},
		Handler: func(ctx context.Context, params map[string]interface{}) (toolkit.Result, error) {
			if success {
				return toolkit.Ok("done", nil), nil
			}
			return toolkit.Fail("boom"), nil
		},
	}
}

func newTestOrchestrator(t *testing.T, transport llm.Transport, tools ...toolkit.Tool) *Orchestrator {
	t.Helper()
	registry := toolkit.NewRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	executor := toolkit.NewExecutor(registry, safety.ModeAutoApply, nil, t.TempDir())
	parser := toolkit.NewParser(registry)
	return New(registry, executor, transport, parser, nil, safety.ModeAutoApply)
}

func TestRunTurnReturnsPlainTextWhenNoToolCalls(t *testing.T) {
	transport := &scriptedTransport{responses: []string{"just a plain answer"}}
	o := newTestOrchestrator(t, transport)
	transcript := []Message{{Role: RoleSystem, Content: "sys"}}

	final, out, err := o.RunTurn(context.Background(), transcript, "hello", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if final != "just a plain answer" {
		t.Fatalf("final = %q", final)
	}
	if len(out) < 3 {
		t.Fatalf("expected transcript to grow, got %d entries", len(out))
	}
}

func TestRunTurnExecutesToolThenReturnsFollowup(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"all done",
	}}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, true))
	transcript := []Message{{Role: RoleSystem, Content: "sys"}}

	final, _, err := o.RunTurn(context.Background(), transcript, "read the file", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if final != "all done" {
		t.Fatalf("final = %q", final)
	}
}

func TestRunTurnTerminatesOnConsecutiveFailures(t *testing.T) {
	responses := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		responses = append(responses, "<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>")
	}
	transport := &scriptedTransport{responses: responses}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, false))
	transcript := []Message{{Role: RoleSystem, Content: "sys"}}

	_, _, err := o.RunTurn(context.Background(), transcript, "read the file", nil)
	if !errors.Is(err, ErrConsecutiveFailures) {
		t.Fatalf("expected ErrConsecutiveFailures, got %v", err)
	}
}

func TestRunTurnConsecutiveFailuresCountAcrossDifferentTools(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"run_command\"><param name=\"command\">ls</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
	}}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, false), echoTool("run_command", true, false))
	transcript := []Message{{Role: RoleSystem, Content: "sys"}}

	_, _, err := o.RunTurn(context.Background(), transcript, "do stuff", nil)
	if !errors.Is(err, ErrConsecutiveFailures) {
		t.Fatalf("expected ErrConsecutiveFailures, got %v", err)
	}
	if transport.calls != 3 {
		t.Fatalf("expected the streak to trip on the 3rd failure regardless of tool identity, got %d calls", transport.calls)
	}
}

func TestRunTurnSuccessOnAnyToolResetsSharedStreak(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"run_command\"><param name=\"command\">ls</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
	}}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, false), echoTool("run_command", true, true))
	transcript := []Message{{Role: RoleSystem, Content: "sys"}}

	_, _, err := o.RunTurn(context.Background(), transcript, "do stuff", nil)
	if !errors.Is(err, ErrConsecutiveFailures) {
		t.Fatalf("expected ErrConsecutiveFailures, got %v", err)
	}
	// run_command's single success at call 3 must reset the streak, so it
	// takes 3 more read_file failures (calls 4-6) to trip, not the single
	// further failure (call 4) a read_file counter ignoring that success
	// would require.
	if transport.calls != 6 {
		t.Fatalf("expected the reset by run_command's success to require 3 fresh failures, got %d calls", transport.calls)
	}
}

func TestRunTurnDryRunStopsAfterFirstIteration(t *testing.T) {
	transport := &scriptedTransport{responses: []string{
		"<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>",
	}}
	registry := toolkit.NewRegistry()
	tool := echoTool("read_file", true, true)
	if err := registry.Register(tool); err != nil {
		t.Fatalf("register: %v", err)
	}
	executor := toolkit.NewExecutor(registry, safety.ModeDryRun, nil, t.TempDir())
	parser := toolkit.NewParser(registry)
	o := New(registry, executor, transport, parser, nil, safety.ModeDryRun)

	transcript := []Message{{Role: RoleSystem, Content: "sys"}}
	_, _, err := o.RunTurn(context.Background(), transcript, "do it", nil)
	if err != nil {
		t.Fatalf("RunTurn: %v", err)
	}
	if transport.calls != 1 {
		t.Fatalf("expected exactly one model call in dry-run, got %d", transport.calls)
	}
}

func TestRunTurnHitsMaxIterations(t *testing.T) {
	responses := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, "<action>\n<invoke tool=\"read_file\"><param name=\"path\">a.txt</param></invoke>\n</action>")
	}
	transport := &scriptedTransport{responses: responses}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, true))
	o.MaxIterations = 3

	transcript := []Message{{Role: RoleSystem, Content: "sys"}}
	_, _, err := o.RunTurn(context.Background(), transcript, "loop forever", nil)
	if !errors.Is(err, ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
}

func TestInjectToolDefinitionsOnlyOnce(t *testing.T) {
	transport := &scriptedTransport{responses: []string{"a", "b"}}
	o := newTestOrchestrator(t, transport, echoTool("read_file", true, true))

	transcript := []Message{{Role: RoleSystem, Content: "sys"}}
	first := o.injectToolDefinitions(transcript)
	second := o.injectToolDefinitions(first)
	if first[0].Content != second[0].Content {
		t.Fatalf("expected tool injection to be idempotent")
	}
}
