package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Enqueuer publishes upload events as queue envelopes.
type Enqueuer struct {
	pub Publisher
	now func() time.Time
}

// NewEnqueuer creates an UploadHandler backed by the ingestion queue.
func NewEnqueuer(pub Publisher) *Enqueuer {
	return &Enqueuer{pub: pub, now: time.Now}
}

// OnUploadEvent wraps ev in an envelope and publishes it.
func (e *Enqueuer) OnUploadEvent(ctx context.Context, ev domain.UploadEvent) error {
	body, err := domain.NewEnvelope(ev, e.now()).Encode()
	if err != nil {
		return err
	}
	if err := e.pub.Publish(ctx, body); err != nil {
		return fmt.Errorf("publish %s/%s: %w", ev.Bucket, ev.ObjectKey, err)
	}
	return nil
}
