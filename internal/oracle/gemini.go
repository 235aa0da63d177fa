package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks the Gemini API.
type Gemini struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
}

// NewGemini creates a Gemini backend.
func NewGemini(ctx context.Context, apiKey, model string, temperature float64, maxTokens int) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{
		models:      client.Models,
		model:       model,
		temperature: float32(temperature),
		maxTokens:   int32(maxTokens),
	}, nil
}

// Decide implements Oracle.
func (g *Gemini) Decide(ctx context.Context, req Request) (string, error) {
	system, user := Render(req)
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = g.maxTokens
	}

	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
