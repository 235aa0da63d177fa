package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaURL is used when no base URL is configured.
const DefaultOllamaURL = "http://127.0.0.1:11434"

type ollamaChat interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

// Ollama asks a local Ollama server.
type Ollama struct {
	client      ollamaChat
	model       string
	temperature float64
	maxTokens   int
}

// NewOllama creates an Ollama backend.
func NewOllama(baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	return &Ollama{
		client:      api.NewClient(u, &http.Client{Timeout: timeout}),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Decide implements Oracle.
func (o *Ollama) Decide(ctx context.Context, req Request) (string, error) {
	system, user := Render(req)
	stream := false
	chat := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: &stream,
		Format: []byte(`"json"`),
		Options: map[string]interface{}{
			"temperature": o.temperature,
		},
	}
	if o.maxTokens > 0 {
		chat.Options["num_predict"] = o.maxTokens
	}

	var b strings.Builder
	err := o.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	return strings.TrimSpace(b.String()), nil
}
