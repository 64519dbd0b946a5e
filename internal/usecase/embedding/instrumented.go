package embedding

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// InstrumentedEmbedder wraps Embedder with a per-call timeout and logging.
// Transport metrics (requests, duration, tokens) are recorded in the transport layer.
type InstrumentedEmbedder struct {
	inner    domain.Embedder
	provider string
	model    string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewInstrumentedEmbedder wraps an embedder. A non-positive timeout disables the deadline.
func NewInstrumentedEmbedder(
	inner domain.Embedder, provider, model string,
	timeout time.Duration, logger *zap.Logger,
) *InstrumentedEmbedder {
	return &InstrumentedEmbedder{
		inner:    inner,
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   logger,
	}
}

// Embed delegates to the inner embedder under the configured deadline.
// A deadline hit is reported as an embedding service failure.
func (p *InstrumentedEmbedder) Embed(
	ctx context.Context, text string,
) (domain.EmbeddingResult, error) {
	callCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := p.inner.Embed(callCtx, text)
	duration := time.Since(start)

	if err != nil {
		p.logger.Error("Embedding request failed",
			zap.String("provider", p.provider),
			zap.String("model", p.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		if ctx.Err() == nil && callCtx.Err() != nil {
			return domain.EmbeddingResult{}, fmt.Errorf("embed timed out after %s: %w", p.timeout,
				domain.ErrEmbeddingServiceUnavailable)
		}
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}

	p.logger.Debug("Embedding request completed",
		zap.String("provider", p.provider),
		zap.String("model", p.model),
		zap.Duration("duration", duration),
		zap.Int("dimensions", len(result.Embedding)),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("total_tokens", result.TotalTokens),
	)

	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (p *InstrumentedEmbedder) HealthCheck(ctx context.Context) error {
	if hc, ok := p.inner.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health: %w", p.provider, err)
		}
	}
	return nil
}
