// Package oracle asks an LLM-backed decision oracle for structured verdicts
// about a task and the current screen.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/fentz26/uta/internal/logging"
	"github.com/fentz26/uta/internal/metrics"
	"github.com/fentz26/uta/internal/models"
)

// Kind names the question being asked.
type Kind string

const (
	KindRelation  Kind = "relation"
	KindAction    Kind = "action"
	KindBack      Kind = "back"
	KindApp       Kind = "app"
	KindClassify  Kind = "classify"
	KindClarify   Kind = "clarify"
	KindDecompose Kind = "decompose"
	KindInquiry   Kind = "inquiry"
)

// Request is the context handed to the oracle for one decision.
type Request struct {
	Kind             Kind
	Task             string
	Tree             string
	History          string
	ExcludedElements []int
	ExcludedApps     []string
	Candidates       []string
	Notes            []string
}

// Oracle answers one request with raw model text.
type Oracle interface {
	Decide(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

// Decide implements Oracle.
func (f Func) Decide(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ErrEmptyResponse is returned when a backend produced no text.
var ErrEmptyResponse = errors.New("empty oracle response")

// WithRetry retries failed calls up to retries extra times with a constant
// delay. Zero retries returns o unchanged. Context errors are never retried.
func WithRetry(o Oracle, retries int, delay time.Duration) Oracle {
	if retries <= 0 {
		return o
	}
	return Func(func(ctx context.Context, req Request) (string, error) {
		return backoff.Retry(ctx, func() (string, error) {
			out, err := o.Decide(ctx, req)
			if err != nil && ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return out, err
		},
			backoff.WithMaxTries(uint(retries+1)),
			backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		)
	})
}

// Client wraps an Oracle with decoding, logging and metrics. Every failure it
// returns is a *models.DecisionError.
type Client struct {
	oracle  Oracle
	decoder *Decoder
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewClient creates a client. logger and m may be nil.
func NewClient(o Oracle, logger *slog.Logger, m *metrics.Recorder) *Client {
	logger = logging.OrDefault(logger).With("component", "oracle")
	return &Client{
		oracle:  o,
		decoder: &Decoder{Logger: logger, Metrics: m},
		metrics: m,
		logger:  logger,
	}
}

// Ask sends req and decodes the reply into fields.
func (c *Client) Ask(ctx context.Context, req Request) (Fields, string, error) {
	raw, err := c.Raw(ctx, req)
	if err != nil {
		return nil, raw, err
	}
	fields, err := c.decoder.Decode(req.Kind, raw)
	if err != nil {
		return nil, raw, models.NewDecisionError(string(req.Kind), raw, err)
	}
	return fields, raw, nil
}

// Raw sends req and returns the undecoded reply.
func (c *Client) Raw(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	raw, err := c.oracle.Decide(ctx, req)
	if err == nil && raw == "" {
		err = ErrEmptyResponse
	}
	c.metrics.OracleCall(string(req.Kind), err)
	if err != nil {
		c.logger.Warn("oracle call failed", "kind", req.Kind, "error", err, "elapsed", time.Since(start))
		return raw, models.NewDecisionError(string(req.Kind), raw, fmt.Errorf("call oracle: %w", err))
	}
	c.logger.Debug("oracle replied", "kind", req.Kind, "elapsed", time.Since(start), "bytes", len(raw))
	return raw, nil
}
