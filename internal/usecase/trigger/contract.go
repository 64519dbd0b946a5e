package trigger

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// UploadHandler receives raw uploads routed to the ingestion queue.
type UploadHandler interface {
	OnUploadEvent(ctx context.Context, ev domain.UploadEvent) error
}

// ArtifactHandler receives transformed artifacts routed to indexing.
type ArtifactHandler interface {
	OnArtifactCreated(ctx context.Context, ref domain.ObjectRef) error
}

// Publisher enqueues bodies on the ingestion queue.
type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}
