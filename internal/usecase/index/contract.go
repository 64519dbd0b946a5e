package index

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

// ArtifactReader reads transformed artifacts.
type ArtifactReader interface {
	Get(ctx context.Context, bucket, key string) (*blob.Object, error)
}

// Repository is the search index write side.
type Repository interface {
	EnsureIndex(ctx context.Context) error
	Upsert(ctx context.Context, doc domain.IndexedDocument) error
}
