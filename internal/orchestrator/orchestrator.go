// Package orchestrator drives the LLM-to-tool iteration loop (§4.K): it
// owns the transcript, calls the LLM transport, hands the response to the
// tool parser, dispatches calls through the executor, and folds results
// back into the transcript until the model stops asking for tools or a
// stop condition fires.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nyxforge/codeagent/internal/llm"
	"github.com/nyxforge/codeagent/internal/obslog"
	"github.com/nyxforge/codeagent/internal/safety"
	"github.com/nyxforge/codeagent/internal/sandbox"
	"github.com/nyxforge/codeagent/internal/toolkit"
)

// Defaults from §4.K.
const (
	DefaultMaxIterations     = 100
	maxIterationsWarnAbove   = 1000
	defaultContextWindow     = 200_000
	compactionThreshold      = 0.80
	consecutiveFailureLimit  = 3
	testCommandTimeout       = 60 * time.Second
)

// Stop condition errors (§4.K, §7).
var (
	ErrMaxIterations        = errors.New("MaxIterations: turn terminated after reaching the iteration limit")
	ErrConsecutiveFailures  = errors.New("ConsecutiveFailures: the same tool failed three times in a row")
)

// StreamSink receives display-safe text as it arrives, with <action> blocks
// withheld (§4.K step 2). It is optional; a nil sink means no live display.
type StreamSink func(text string)

// fileModifyingTools lists the tools whose success triggers the workspace
// testCommand (§4.K step 6, §6).
var fileModifyingTools = map[string]bool{
	"write_file": true,
	"apply_diff": true,
}

// Orchestrator holds the collaborators for one agent session.
type Orchestrator struct {
	Registry      *toolkit.Registry
	Executor      *toolkit.Executor
	Transport     llm.Transport
	Parser        *toolkit.Parser
	Runner        *sandbox.Runner
	Mode          safety.Mode
	TestCommand   string
	MaxIterations int
	ContextWindow int
	AutoCompress  bool

	toolsInjected bool
}

// New builds an Orchestrator with spec defaults; callers may override the
// exported fields before the first RunTurn call.
func New(registry *toolkit.Registry, executor *toolkit.Executor, transport llm.Transport, parser *toolkit.Parser, runner *sandbox.Runner, mode safety.Mode) *Orchestrator {
	return &Orchestrator{
		Registry:      registry,
		Executor:      executor,
		Transport:     transport,
		Parser:        parser,
		Runner:        runner,
		Mode:          mode,
		MaxIterations: DefaultMaxIterations,
		ContextWindow: defaultContextWindow,
		AutoCompress:  true,
	}
}

// RunTurn appends userInput to transcript and iterates the loop until a
// stop condition fires. It returns the model's final natural-language
// response, the (possibly compacted) transcript, and an error for the
// terminal stop conditions in §4.K((b),(c)).
func (o *Orchestrator) RunTurn(ctx context.Context, transcript []Message, userInput string, sink StreamSink) (string, []Message, error) {
	if o.MaxIterations > maxIterationsWarnAbove {
		log.Warn().Int("maxIterations", o.MaxIterations).Msg("orchestrator: maxIterations is unusually high")
	}
	transcript = o.injectToolDefinitions(transcript)
	transcript = append(transcript, Message{Role: RoleUser, Content: userInput})

	failureStreak := 0

	for iteration := 0; iteration < o.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", transcript, err
		}

		if o.AutoCompress {
			if compacted, did := compactTranscript(transcript, o.ContextWindow, compactionThreshold); did {
				before := EstimateTokens(transcript)
				transcript = compacted
				obslog.Compaction(before, EstimateTokens(transcript))
			}
		}

		captured, err := o.streamOnce(ctx, transcript, sink)
		if err != nil {
			return "", transcript, fmt.Errorf("ModelStreamInterrupt: %w", err)
		}

		calls, plainText := o.Parser.Parse(captured)
		transcript = append(transcript, Message{Role: RoleAssistant, Content: captured})

		if len(calls) == 0 {
			return plainText, transcript, nil
		}

		var results strings.Builder
		anyFileWrite := false

		for _, call := range calls {
			res := o.Executor.Execute(ctx, call)
			writeResultLine(&results, call.Name, res)

			if res.Success {
				failureStreak = 0
				if fileModifyingTools[call.Name] {
					anyFileWrite = true
				}
			} else {
				failureStreak++
				if failureStreak >= consecutiveFailureLimit {
					return "", transcript, fmt.Errorf("%w (tool=%s)", ErrConsecutiveFailures, call.Name)
				}
			}
		}

		if anyFileWrite && o.TestCommand != "" && o.Runner != nil {
			o.runTestCommand(ctx, &results)
		}

		results.WriteString("\nPlease review the tool results above and continue, explaining what happened.")
		transcript = append(transcript, Message{Role: RoleUser, Content: results.String()})

		if o.Mode == safety.ModeDryRun {
			return plainText, transcript, nil
		}
	}

	return "", transcript, ErrMaxIterations
}

// streamOnce calls the transport's streaming API, forwarding display-safe
// text to sink as it arrives while retaining the full response for parsing.
func (o *Orchestrator) streamOnce(ctx context.Context, transcript []Message, sink StreamSink) (string, error) {
	chunks, err := o.Transport.ChatStream(ctx, toLLMMessages(transcript), o.toolSchemas())
	if err != nil {
		return "", err
	}
	var captured strings.Builder
	var filter DisplayFilter
	for chunk := range chunks {
		if chunk.Text != "" {
			captured.WriteString(chunk.Text)
			if sink != nil {
				if visible := filter.Feed(chunk.Text); visible != "" {
					sink(visible)
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	return captured.String(), nil
}

func (o *Orchestrator) runTestCommand(ctx context.Context, results *strings.Builder) {
	testCtx, cancel := context.WithTimeout(ctx, testCommandTimeout)
	defer cancel()
	fields := strings.Fields(o.TestCommand)
	if len(fields) == 0 {
		return
	}
	res, err := o.Runner.Run(testCtx, fields[0], fields[1:], "")
	if err != nil {
		fmt.Fprintf(results, "\n[testCommand error: %v]", err)
		return
	}
	fmt.Fprintf(results, "\n[testCommand %q exitCode=%d timedOut=%t]", o.TestCommand, res.ExitCode, res.TimedOut)
}

// injectToolDefinitions augments the first system message with a
// human-readable tool list and the tag-format instructions, once per
// session (§4.K Tool-definition injection).
func (o *Orchestrator) injectToolDefinitions(transcript []Message) []Message {
	if o.toolsInjected || len(transcript) == 0 || transcript[0].Role != RoleSystem {
		return transcript
	}
	o.toolsInjected = true

	var b strings.Builder
	b.WriteString(transcript[0].Content)
	b.WriteString("\n\nAvailable tools:\n")
	for _, tool := range o.Registry.All() {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name(), tool.Description)
	}
	b.WriteString("\nTo call a tool, emit exactly:\n")
	b.WriteString("<action>\n<invoke tool=\"NAME\">\n  <param name=\"K1\">V1</param>\n</invoke>\n</action>\n")

	out := append([]Message{}, transcript...)
	out[0] = Message{Role: RoleSystem, Content: b.String()}
	return out
}

func (o *Orchestrator) toolSchemas() []llm.ToolSchema {
	tools := o.Registry.All()
	schemas := make([]llm.ToolSchema, 0, len(tools))
	for _, tool := range tools {
		props := map[string]interface{}{}
		for _, p := range tool.Params {
			props[p.Name] = map[string]interface{}{"type": string(p.Type), "description": p.Description}
		}
		schemas = append(schemas, llm.ToolSchema{
			Name:        tool.Name(),
			Description: tool.Description,
			Parameters:  map[string]interface{}{"type": "object", "properties": props},
		})
	}
	return schemas
}

func toLLMMessages(transcript []Message) []llm.Message {
	out := make([]llm.Message, 0, len(transcript))
	for _, m := range transcript {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func writeResultLine(b *strings.Builder, tool string, res toolkit.Result) {
	status := "ok"
	if !res.Success {
		status = "error"
	}
	fmt.Fprintf(b, "[%s:%s] %s\n", tool, status, res.Output)
	if res.Error != "" {
		fmt.Fprintf(b, "  error: %s\n", res.Error)
	}
}
