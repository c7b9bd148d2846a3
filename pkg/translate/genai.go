package translate

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini translates via the Google GenAI API.
type Gemini struct {
	client *genai.Client
	model  string
}

// GeminiConfig configures the backend.
type GeminiConfig struct {
	APIKey string
	Model  string // default gemini-2.0-flash
}

// NewGemini creates the backend.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("translate: genai client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Gemini{client: client, model: model}, nil
}

// Translate implements Translator.
func (g *Gemini) Translate(ctx context.Context, req *Request) (*Result, error) {
	if len(req.Texts) == 0 {
		return &Result{}, nil
	}
	system, user := buildPrompt(req)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: system + "\n\n" + user}}},
	}, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("translate: genai generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, fmt.Errorf("translate: genai returned no content")
	}
	return parseResponse(sb.String(), len(req.Texts))
}
