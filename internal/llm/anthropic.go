package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// defaultAnthropicModel is used when AnthropicConfig.Model is empty (no
// --model flag given).
const defaultAnthropicModel = anthropicsdk.ModelClaudeSonnet4_5

// supportedAnthropicModels backs ListModels; codeagent passes unrecognized
// names through rather than rejecting them, in case a proxy serves a model
// this list doesn't know about yet.
var supportedAnthropicModels = []anthropicsdk.Model{
	anthropicsdk.ModelClaudeHaiku4_5,
	anthropicsdk.ModelClaudeSonnet4_0,
	anthropicsdk.ModelClaudeSonnet4_5,
	anthropicsdk.ModelClaudeOpus4_0,
	anthropicsdk.ModelClaudeOpus4_1_20250805,
}

// anthropicMessages is the subset of the SDK's Messages service this
// transport depends on, narrowed so tests can substitute a fake.
type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
	NewStreaming(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[anthropicsdk.MessageStreamEventUnion]
}

// AnthropicConfig configures the Anthropic-backed Transport.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	System    string
}

// AnthropicTransport implements Transport against the Anthropic Messages API.
type AnthropicTransport struct {
	msgs      anthropicMessages
	model     anthropicsdk.Model
	maxTokens int64
	system    string
}

// NewAnthropicTransport resolves the API key from cfg, then
// ANTHROPIC_API_KEY, then ANTHROPIC_AUTH_TOKEN.
func NewAnthropicTransport(cfg AnthropicConfig) (*AnthropicTransport, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	var opts []option.RequestOption
	switch {
	case apiKey != "":
		opts = append(opts, option.WithAPIKey(apiKey))
	case strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) != "":
		opts = append(opts, option.WithAPIKey(os.Getenv("ANTHROPIC_API_KEY")))
	case strings.TrimSpace(os.Getenv("ANTHROPIC_AUTH_TOKEN")) != "":
		opts = append(opts, option.WithAuthToken(os.Getenv("ANTHROPIC_AUTH_TOKEN")))
	default:
		return nil, fmt.Errorf("llm: no Anthropic credentials (set ANTHROPIC_API_KEY or ANTHROPIC_AUTH_TOKEN)")
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := anthropicsdk.NewClient(opts...)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicTransport{
		msgs:      &client.Messages,
		model:     mapAnthropicModel(cfg.Model),
		maxTokens: int64(maxTokens),
		system:    strings.TrimSpace(cfg.System),
	}, nil
}

// Chat sends messages and tools as a single non-streaming request and
// returns the assistant's text, including any <action> blocks it emitted.
func (t *AnthropicTransport) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (string, error) {
	params, err := t.buildParams(messages, tools)
	if err != nil {
		return "", err
	}
	msg, err := t.msgs.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: anthropic chat: %w", err)
	}
	return flattenAnthropicText(msg), nil
}

// ChatStream issues a streaming request against the Messages SSE API and
// forwards each text delta on the returned channel as it arrives, closing
// the channel once the stream ends.
func (t *AnthropicTransport) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan Chunk, error) {
	params, err := t.buildParams(messages, tools)
	if err != nil {
		return nil, err
	}
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		stream := t.msgs.NewStreaming(ctx, params)
		if stream == nil {
			ch <- Chunk{Text: "error: llm: anthropic stream not available", Done: true}
			return
		}
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropicsdk.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text := delta.Delta.AsTextDelta().Text; text != "" {
				ch <- Chunk{Text: text}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- Chunk{Text: fmt.Sprintf("error: llm: anthropic stream: %v", err), Done: true}
			return
		}
		ch <- Chunk{Done: true}
	}()
	return ch, nil
}

// GetModelName reports the resolved model identifier.
func (t *AnthropicTransport) GetModelName() string { return string(t.model) }

// ListModels returns the fixed set of model identifiers this adapter knows
// about; the Anthropic API has no models-list endpoint of its own.
func (t *AnthropicTransport) ListModels(ctx context.Context) ([]string, error) {
	names := make([]string, 0, len(supportedAnthropicModels))
	for _, m := range supportedAnthropicModels {
		names = append(names, string(m))
	}
	return names, nil
}

func (t *AnthropicTransport) buildParams(messages []Message, tools []ToolSchema) (anthropicsdk.MessageNewParams, error) {
	var system []anthropicsdk.TextBlockParam
	var msgParams []anthropicsdk.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			text := strings.TrimSpace(m.Content)
			if text != "" {
				system = append(system, anthropicsdk.TextBlockParam{Text: text})
			}
		case "assistant":
			msgParams = append(msgParams, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content)))
		default:
			msgParams = append(msgParams, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content)))
		}
	}
	if t.system != "" {
		system = append([]anthropicsdk.TextBlockParam{{Text: t.system}}, system...)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     t.model,
		MaxTokens: t.maxTokens,
		Messages:  msgParams,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = convertAnthropicTools(tools)
	}
	return params, nil
}

func convertAnthropicTools(tools []ToolSchema) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropicsdk.ToolInputSchemaParam{
			Properties: tool.Parameters,
		}
		toolParam := anthropicsdk.ToolParam{
			Name:        tool.Name,
			InputSchema: schema,
		}
		if tool.Description != "" {
			toolParam.Description = anthropicsdk.String(tool.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}

func flattenAnthropicText(msg *anthropicsdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Text != "" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func mapAnthropicModel(name string) anthropicsdk.Model {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultAnthropicModel
	}
	for _, m := range supportedAnthropicModels {
		if string(m) == trimmed {
			return m
		}
	}
	return anthropicsdk.Model(trimmed)
}
