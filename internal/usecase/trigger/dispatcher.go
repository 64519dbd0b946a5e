// Package trigger routes object store creation events to the pipeline stages.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/routing"
	"github.com/kailas-cloud/docsearch/internal/metrics"
	"github.com/kailas-cloud/docsearch/internal/retry"
)

// Config holds dispatcher settings.
type Config struct {
	// IndexWorkers is the ants pool size for index worker invocations.
	IndexWorkers int
	// IndexRetry bounds retries of transient index failures.
	IndexRetry retry.Opts
	// PublishRetry bounds retries of transient queue publish failures.
	PublishRetry retry.Opts
}

// Dispatcher resolves every creation event against the routing table.
// Uploads are published inline; artifacts are indexed on a bounded pool.
type Dispatcher struct {
	table     *routing.Table
	uploads   UploadHandler
	artifacts ArtifactHandler
	pool      *ants.Pool
	cfg       Config
	logger    *zap.Logger

	// ctx outlives the notifying call; it is cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher and its worker pool.
func NewDispatcher(
	table *routing.Table, uploads UploadHandler, artifacts ArtifactHandler, cfg Config, logger *zap.Logger,
) (*Dispatcher, error) {
	size := cfg.IndexWorkers
	if size <= 0 {
		size = 4
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("create index pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		table:     table,
		uploads:   uploads,
		artifacts: artifacts,
		pool:      pool,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// routeUploadLost labels upload events whose publish failed after every retry.
const routeUploadLost = "upload_lost"

// Notify implements blob.Notifier.
func (d *Dispatcher) Notify(ctx context.Context, ev blob.Event) {
	route := d.table.Resolve(ev.Bucket, ev.Key)
	log := d.logger.With(zap.String("bucket", ev.Bucket), zap.String("object_key", ev.Key))

	switch route {
	case routing.RouteUpload:
		metrics.TriggerEventsTotal.WithLabelValues(string(route)).Inc()
		d.onUpload(ctx, ev, log)
	case routing.RouteArtifact:
		metrics.TriggerEventsTotal.WithLabelValues(string(route)).Inc()
		d.onArtifact(ctx, ev, log)
	default:
		metrics.TriggerEventsTotal.WithLabelValues("ignored").Inc()
		log.Debug("Object event ignored")
	}
}

func (d *Dispatcher) onUpload(ctx context.Context, ev blob.Event, log *zap.Logger) {
	upload := domain.UploadEvent{
		Bucket:      ev.Bucket,
		ObjectKey:   ev.Key,
		SizeBytes:   ev.Size,
		ContentType: ev.ContentType,
		UploadedAt:  ev.CreatedAt,
	}
	err := retry.Do(ctx, d.cfg.PublishRetry, nil, func(ctx context.Context) error {
		return d.uploads.OnUploadEvent(ctx, upload)
	})
	if err != nil {
		// The upload already succeeded; this counter and log line are what a replay starts from.
		metrics.TriggerEventsTotal.WithLabelValues(routeUploadLost).Inc()
		log.Error("Upload event not enqueued, document will not be indexed",
			zap.Int64("size_bytes", ev.Size),
			zap.String("content_type", ev.ContentType),
			zap.Time("uploaded_at", ev.CreatedAt),
			zap.Error(err),
		)
		return
	}
	log.Debug("Upload event enqueued")
}

func (d *Dispatcher) onArtifact(ctx context.Context, ev blob.Event, log *zap.Logger) {
	ref := domain.ObjectRef{Bucket: ev.Bucket, Key: ev.Key}
	jobCtx := trace.ContextWithSpanContext(d.ctx, trace.SpanContextFromContext(ctx))

	d.wg.Add(1)
	err := d.pool.Submit(func() {
		defer d.wg.Done()
		err := retry.Do(jobCtx, d.cfg.IndexRetry, domain.IsTransient, func(ctx context.Context) error {
			return d.artifacts.OnArtifactCreated(ctx, ref)
		})
		if err != nil && !domain.IsMalformed(err) {
			log.Error("Artifact not indexed", zap.Error(err))
		}
	})
	if err != nil {
		d.wg.Done()
		log.Error("Index job rejected", zap.Error(err))
	}
}

// Wait blocks until every submitted index job has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Close cancels pending retries, waits for running jobs and releases the pool.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
	d.pool.Release()
}
