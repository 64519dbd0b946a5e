// Package extract is the extraction and embedding stage: it consumes upload events from the
// ingestion queue and writes one transformed artifact per raw object.
package extract

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/metrics"
	"github.com/kailas-cloud/docsearch/internal/queue"
)

// Input is one raw object to transform, together with its resolved owner.
type Input struct {
	Event      domain.UploadEvent
	Object     *blob.Object
	Department domain.Department
}

// Worker pulls one message at a time and extracts, embeds and stores it.
type Worker struct {
	queue     queue.Queue
	objects   ObjectStore
	extractor domain.Extractor
	embedder  domain.Embedder
	cfg       Config
	logger    *zap.Logger

	// sem caps in-flight extraction calls at one even when several Run loops share the worker.
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	now     func() time.Time
}

// New creates a worker.
func New(
	q queue.Queue, objects ObjectStore, extractor domain.Extractor, embedder domain.Embedder,
	cfg Config, logger *zap.Logger,
) *Worker {
	cfg.applyDefaults()

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Dimensions > 0 {
		embedder = domain.NewDimensionGuard(embedder, cfg.Dimensions)
	}

	return &Worker{
		queue:     q,
		objects:   objects,
		extractor: extractor,
		embedder:  embedder,
		cfg:       cfg,
		logger:    logger,
		sem:       semaphore.NewWeighted(1),
		limiter:   rate.NewLimiter(limit, cfg.Burst),
		now:       time.Now,
	}
}

// Run consumes the queue until ctx is done or the queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Extraction worker started")
	defer w.logger.Info("Extraction worker stopped")

	for {
		d, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return nil
			}
			w.logger.Warn("Queue receive failed", zap.Error(err))
			if !sleep(ctx, w.cfg.ReceiveBackoff) {
				return nil
			}
			continue
		}
		_ = w.Handle(ctx, d)
	}
}

// Handle processes one delivery and settles it. The message is acked only after the
// artifact write succeeded. The returned error is the processing failure, if any.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, d.Carrier())
	ctx, span := otel.Tracer("docsearch/extract").Start(ctx, "extract.handle")
	defer span.End()

	log := w.logger.With(zap.Int("attempt", d.Attempt()))

	env, err := domain.DecodeEnvelope(d.Body())
	if err != nil {
		w.settle(ctx, d, err, log)
		return err
	}
	log = log.With(zap.String("object_key", env.Event.ObjectKey), zap.String("bucket", env.Event.Bucket))

	artifact, err := w.Process(ctx, env.Event)
	if err != nil {
		span.RecordError(err)
		w.settle(ctx, d, err, log)
		return err
	}

	if err := d.Ack(ctx); err != nil {
		// The artifact is already written; redelivery overwrites it with the same content.
		log.Warn("Ack failed", zap.Error(err))
	}
	metrics.IngestMessagesTotal.WithLabelValues("written").Inc()
	log.Info("Artifact written",
		zap.String("document_id", artifact.SourceDocumentID),
		zap.String("department", artifact.Department.String()),
	)
	return nil
}

// Process runs extraction, embedding and the artifact write for one upload event.
func (w *Worker) Process(ctx context.Context, ev domain.UploadEvent) (domain.TransformedArtifact, error) {
	in, err := w.load(ctx, ev)
	if err != nil {
		return domain.TransformedArtifact{}, err
	}
	artifact, err := w.transform(ctx, in)
	if err != nil {
		return domain.TransformedArtifact{}, err
	}
	if err := w.store(ctx, in, &artifact); err != nil {
		return domain.TransformedArtifact{}, err
	}
	return artifact, nil
}

func (w *Worker) load(ctx context.Context, ev domain.UploadEvent) (Input, error) {
	callCtx, cancel := withTimeout(ctx, w.cfg.ReadTimeout)
	defer cancel()

	obj, err := w.objects.Get(callCtx, ev.Bucket, ev.ObjectKey)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		return Input{}, fmt.Errorf("get %s/%s: %w", ev.Bucket, ev.ObjectKey, domain.ErrObjectNotFound)
	case err != nil && ctx.Err() != nil:
		return Input{}, ctx.Err()
	case err != nil && !domain.IsTransient(err):
		return Input{}, fmt.Errorf("get %s/%s: %w: %w", ev.Bucket, ev.ObjectKey, err, domain.ErrObjectStoreUnavailable)
	case err != nil:
		return Input{}, fmt.Errorf("get %s/%s: %w", ev.Bucket, ev.ObjectKey, err)
	}

	dept, err := domain.DepartmentFromTags(obj.Tags, w.cfg.DepartmentTag)
	if err != nil {
		return Input{}, fmt.Errorf("object %s/%s tag %q: %w", ev.Bucket, ev.ObjectKey, w.cfg.DepartmentTag, err)
	}
	return Input{Event: ev, Object: obj, Department: dept}, nil
}

func (w *Worker) transform(ctx context.Context, in Input) (domain.TransformedArtifact, error) {
	extraction, err := w.extract(ctx, in)
	if err != nil {
		return domain.TransformedArtifact{}, err
	}

	text := extraction.SelectText(w.cfg.TextField)
	if text == "" {
		return domain.TransformedArtifact{}, fmt.Errorf("object %s: %w", in.Event.ObjectKey, domain.ErrEmptyText)
	}

	emb, err := w.embedder.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TransformedArtifact{}, ctx.Err()
		}
		if !domain.IsTransient(err) {
			err = fmt.Errorf("%w: %w", err, domain.ErrEmbeddingServiceUnavailable)
		}
		return domain.TransformedArtifact{}, fmt.Errorf("embed %s: %w", in.Event.ObjectKey, err)
	}

	return domain.TransformedArtifact{
		SourceDocumentID: domain.DocumentID(in.Event.Bucket, in.Event.ObjectKey),
		SourceKey:        in.Event.ObjectKey,
		ExtractedText:    text,
		Fields:           extraction.Fields,
		Embedding:        emb.Embedding,
		Department:       in.Department,
		CreatedAt:        w.now().UTC(),
	}, nil
}

// extract calls the extraction service under the single-slot semaphore and the rate limit.
func (w *Worker) extract(ctx context.Context, in Input) (domain.Extraction, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return domain.Extraction{}, err
	}
	defer w.sem.Release(1)

	if err := w.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.Extraction{}, ctx.Err()
		}
		return domain.Extraction{}, fmt.Errorf("rate limit: %v: %w", err, domain.ErrQuotaExceeded)
	}

	metrics.ExtractionInflight.Inc()
	defer metrics.ExtractionInflight.Dec()

	callCtx, cancel := withTimeout(ctx, w.cfg.ExtractTimeout)
	defer cancel()

	start := time.Now()
	out, err := w.extractor.Extract(callCtx, domain.SourceDocument{
		Bucket:      in.Event.Bucket,
		Key:         in.Event.ObjectKey,
		ContentType: in.Object.ContentType,
		Body:        in.Object.Body,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ExtractionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return domain.Extraction{}, ctx.Err()
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return domain.Extraction{}, fmt.Errorf("extract %s: timed out after %s: %w",
			in.Event.ObjectKey, w.cfg.ExtractTimeout, domain.ErrExtractionUnavailable)
	case !domain.IsTransient(err) && !domain.IsMalformed(err):
		return domain.Extraction{}, fmt.Errorf("extract %s: %w: %w", in.Event.ObjectKey, err, domain.ErrExtractionUnavailable)
	default:
		return domain.Extraction{}, fmt.Errorf("extract %s: %w", in.Event.ObjectKey, err)
	}
}

func (w *Worker) store(ctx context.Context, in Input, a *domain.TransformedArtifact) error {
	body, err := a.Encode()
	if err != nil {
		return err
	}

	tags := maps.Clone(in.Object.Tags)
	if tags == nil {
		tags = make(map[string]string, 1)
	}
	tags[w.cfg.DepartmentTag] = a.Department.String()

	callCtx, cancel := withTimeout(ctx, w.cfg.WriteTimeout)
	defer cancel()

	_, err = w.objects.Put(callCtx, blob.PutInput{
		Bucket:      w.cfg.TransformedBucket,
		Key:         domain.ArtifactKey(a.SourceKey),
		Body:        body,
		ContentType: domain.ArtifactContentType,
		Tags:        tags,
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case domain.IsTransient(err):
		return fmt.Errorf("put artifact %s: %w", a.SourceKey, err)
	default:
		return fmt.Errorf("put artifact %s: %w: %w", a.SourceKey, err, domain.ErrObjectStoreUnavailable)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
