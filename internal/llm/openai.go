package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
)

const (
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 4096
)

// openaiChatCompletions is the subset of the SDK's Chat Completions service
// this transport depends on, narrowed so tests can substitute a fake.
type openaiChatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// OpenAIConfig configures the OpenAI-backed Transport.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	System    string
}

// OpenAITransport implements Transport against the Chat Completions API, the
// second selectable provider alongside AnthropicTransport (§6 config).
type OpenAITransport struct {
	completions openaiChatCompletions
	model       string
	maxTokens   int64
	system      string
}

// NewOpenAITransport resolves the API key from cfg then OPENAI_API_KEY.
func NewOpenAITransport(cfg OpenAIConfig) (*OpenAITransport, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("llm: no OpenAI credentials (set OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}

	return &OpenAITransport{
		completions: &client.Chat.Completions,
		model:       model,
		maxTokens:   int64(maxTokens),
		system:      strings.TrimSpace(cfg.System),
	}, nil
}

// Chat sends messages and tools as a single non-streaming request.
func (t *OpenAITransport) Chat(ctx context.Context, messages []Message, tools []ToolSchema) (string, error) {
	params := t.buildParams(messages, tools)
	completion, err := t.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: openai chat: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

// ChatStream requests a streaming completion and forwards each content
// delta as it arrives.
func (t *OpenAITransport) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema) (<-chan Chunk, error) {
	params := t.buildParams(messages, tools)
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		stream := t.completions.NewStreaming(ctx, params)
		if stream == nil {
			ch <- Chunk{Text: "error: llm: openai stream not available", Done: true}
			return
		}
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					ch <- Chunk{Text: choice.Delta.Content}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- Chunk{Text: fmt.Sprintf("error: llm: openai stream: %v", err), Done: true}
			return
		}
		ch <- Chunk{Done: true}
	}()
	return ch, nil
}

// GetModelName reports the configured model identifier.
func (t *OpenAITransport) GetModelName() string { return t.model }

// ListModels returns the small set of chat-completions models codeagent
// has been exercised against; the full catalog endpoint mixes in
// embeddings/audio/image models unrelated to chat.
func (t *OpenAITransport) ListModels(ctx context.Context) ([]string, error) {
	return []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "o1", "o1-mini"}, nil
}

func (t *OpenAITransport) buildParams(messages []Message, tools []ToolSchema) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if t.system != "" {
		msgs = append(msgs, openai.SystemMessage(t.system))
	}
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:               t.model,
		Messages:            msgs,
		MaxCompletionTokens: openai.Int(t.maxTokens),
	}
	if len(tools) > 0 {
		params.Tools = convertOpenAITools(tools)
	}
	return params
}

func convertOpenAITools(tools []ToolSchema) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  convertOpenAIFunctionParameters(tool.Parameters),
			},
		})
	}
	return out
}

func convertOpenAIFunctionParameters(params map[string]interface{}) shared.FunctionParameters {
	if len(params) == 0 {
		return shared.FunctionParameters{"type": "object"}
	}
	out := make(shared.FunctionParameters, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
