package domain

import (
	"context"
	"fmt"
)

// Embedder is the shared text vectorization contract between layers.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// HealthChecker verifies embedding provider availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// EmbeddingResult carries the embedding vector and token usage through the decorator chain.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// InstructionEmbedder is a domain decorator that prepends instruction text before embedding.
// Asymmetric models (e5 and friends) expect different prefixes for passages and queries.
type InstructionEmbedder struct {
	inner       Embedder
	instruction string
}

// NewInstructionEmbedder creates a decorator that prepends instruction text.
func NewInstructionEmbedder(inner Embedder, instruction string) *InstructionEmbedder {
	return &InstructionEmbedder{inner: inner, instruction: instruction}
}

// Embed prepends instruction and delegates to inner embedder.
func (e *InstructionEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	result, err := e.inner.Embed(ctx, e.instruction+text)
	if err != nil {
		return EmbeddingResult{}, fmt.Errorf("instruction embed: %w", err)
	}
	return result, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (e *InstructionEmbedder) HealthCheck(ctx context.Context) error {
	return healthOf(ctx, e.inner)
}

// DimensionGuard rejects vectors whose length differs from the index dimensionality.
type DimensionGuard struct {
	inner Embedder
	dim   int
}

// NewDimensionGuard wraps inner so that every returned vector has exactly dim components.
func NewDimensionGuard(inner Embedder, dim int) *DimensionGuard {
	return &DimensionGuard{inner: inner, dim: dim}
}

// Embed delegates and checks the vector length.
// A wrong length is reported as a provider failure, not as bad input.
func (g *DimensionGuard) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := g.inner.Embed(ctx, text)
	if err != nil {
		return EmbeddingResult{}, err
	}
	if g.dim > 0 && len(res.Embedding) != g.dim {
		return EmbeddingResult{}, fmt.Errorf("got %d components, want %d: %w: %w",
			len(res.Embedding), g.dim, ErrVectorDimMismatch, ErrEmbeddingServiceUnavailable)
	}
	return res, nil
}

// HealthCheck delegates to the inner embedder when it supports health checks.
func (g *DimensionGuard) HealthCheck(ctx context.Context) error {
	return healthOf(ctx, g.inner)
}

func healthOf(ctx context.Context, e Embedder) error {
	if hc, ok := e.(HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
