package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatCompletions is the slice of the OpenAI client the oracle uses.
type chatCompletions interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI asks an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	completions chatCompletions
	model       string
	temperature float64
	maxTokens   int
}

// NewOpenAI creates an OpenAI backend. baseURL may point at any compatible
// server; empty means api.openai.com.
func NewOpenAI(apiKey, baseURL, model string, temperature float64, maxTokens int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{
		completions: &client.Chat.Completions,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Decide implements Oracle.
func (o *OpenAI) Decide(ctx context.Context, req Request) (string, error) {
	system, user := Render(req)
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(o.temperature),
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(o.maxTokens))
	}

	resp, err := o.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
