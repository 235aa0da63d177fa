package oracle

import (
	"context"
	"fmt"

	"github.com/fentz26/uta/internal/config"
)

// New builds the configured backend, wrapped with the retry policy.
func New(ctx context.Context, cfg config.OracleConfig) (Oracle, error) {
	var (
		o   Oracle
		err error
	)
	switch cfg.Backend {
	case config.BackendOpenAI:
		o, err = NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	case config.BackendOllama:
		o, err = NewOllama(cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout)
	case config.BackendGemini:
		o, err = NewGemini(ctx, cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return WithRetry(o, cfg.Retries, cfg.RetryDelay), nil
}
