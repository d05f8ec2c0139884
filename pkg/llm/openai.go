package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/reqforge/reqforge/pkg/config"
)

// OpenAIClient is the production ChatClient over an OpenAI-compatible
// endpoint. Transient transport failures are retried with exponential
// backoff before the call is declared upstream-unavailable.
type OpenAIClient struct {
	llm        *openai.LLM
	model      string
	maxRetries uint64
	logger     *slog.Logger
}

var _ ChatClient = (*OpenAIClient)(nil)

// NewOpenAIClient builds the client from configuration. BaseURL empty
// means the provider default endpoint.
func NewOpenAIClient(cfg *config.LLMConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.APIKey))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to construct openai client: %w", err)
	}
	maxRetries := uint64(cfg.MaxRetries)
	if cfg.MaxRetries <= 0 {
		maxRetries = 1
	}
	return &OpenAIClient{
		llm:        client,
		model:      cfg.Model,
		maxRetries: maxRetries,
		logger:     logger.With("component", "llm"),
	}, nil
}

// Complete sends the conversation and returns the model's reply. Context
// cancellation aborts both the in-flight call and any pending retry.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompleteOptions) (*Completion, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatRole(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature)}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if len(opts.Tools) > 0 {
		tools := make([]llms.Tool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			tools = append(tools, llms.Tool{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		callOpts = append(callOpts, llms.WithTools(tools))
		if opts.ForceTool {
			callOpts = append(callOpts, llms.WithToolChoice(map[string]any{
				"type":     "function",
				"function": map[string]any{"name": opts.Tools[0].Name},
			}))
		}
	}

	var resp *llms.ContentResponse
	operation := func() error {
		var err error
		resp, err = c.llm.GenerateContent(ctx, content, callOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("completion attempt failed", "model", c.model, "error", err)
			return err
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUpstreamUnavailable)
	}

	choice := resp.Choices[0]
	out := &Completion{Content: choice.Content, ModelID: c.model}
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall == nil {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.FunctionCall.Name,
			Arguments: tc.FunctionCall.Arguments,
		})
	}
	return out, nil
}

// CreateEmbedding exposes the underlying embedding endpoint so the same
// configured client can back the embedder.
func (c *OpenAIClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return c.llm.CreateEmbedding(ctx, texts)
}

func chatRole(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}
