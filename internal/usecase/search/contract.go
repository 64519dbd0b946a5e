package search

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Repository runs k-NN queries against the search index.
type Repository interface {
	SearchKNN(ctx context.Context, vector []float32, department domain.Department, k int) ([]domain.Hit, error)
}

// Counter reports the number of indexed documents.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Embedder vectorizes query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
