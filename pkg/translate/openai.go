package translate

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI translates via the chat completions API. It also works with
// OpenAI-compatible gateways through a custom base URL.
type OpenAI struct {
	client openai.Client
	model  string
}

// OpenAIConfig configures the backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string // default gpt-4o-mini
}

// NewOpenAI creates the backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Translate implements Translator.
func (o *OpenAI) Translate(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Texts) == 0 {
		return &Result{}, nil
	}
	system, user := buildPrompt(req)

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("translate: openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("translate: openai returned no choices")
	}
	return parseResponse(resp.Choices[0].Message.Content, len(req.Texts))
}
