package objects

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/blob"
)

// Store is the object store surface used by uploads and listing.
type Store interface {
	Put(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]blob.ObjectInfo, error)
}
