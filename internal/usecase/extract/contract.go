package extract

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/blob"
)

// ObjectStore reads raw objects and writes transformed artifacts.
type ObjectStore interface {
	Get(ctx context.Context, bucket, key string) (*blob.Object, error)
	Put(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error)
}
