package extract

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/metrics"
	"github.com/kailas-cloud/docsearch/internal/queue"
)

type action int

const (
	// actionRelease leaves the message unacknowledged; it reappears after the visibility timeout.
	actionRelease action = iota
	// actionRetry makes the message visible again after a computed delay.
	actionRetry
	actionDeadLetter
)

type decision struct {
	action action
	delay  time.Duration
}

// classify maps a processing failure on the given attempt to a queue action.
func (w *Worker) classify(err error, attempt int) decision {
	switch {
	case errors.Is(err, domain.ErrMalformedEnvelope):
		return decision{action: actionDeadLetter}
	case errors.Is(err, domain.ErrQuotaExceeded):
		if w.exhausted(attempt) {
			return decision{action: actionDeadLetter}
		}
		return decision{action: actionRetry, delay: w.cfg.QuotaBackoff.Delay(attempt)}
	case domain.IsMalformed(err):
		if attempt >= w.cfg.MaxMalformedAttempts {
			return decision{action: actionDeadLetter}
		}
		return decision{action: actionRelease}
	default:
		if w.exhausted(attempt) {
			return decision{action: actionDeadLetter}
		}
		return decision{action: actionRelease}
	}
}

func (w *Worker) exhausted(attempt int) bool {
	return w.cfg.MaxDeliveries > 0 && attempt >= w.cfg.MaxDeliveries
}

// settle applies the failure policy to a delivery.
func (w *Worker) settle(ctx context.Context, d queue.Delivery, err error, log *zap.Logger) {
	if ctx.Err() != nil {
		log.Debug("Shutting down, message left for redelivery", zap.Error(err))
		return
	}

	dec := w.classify(err, d.Attempt())
	switch dec.action {
	case actionDeadLetter:
		if dlErr := d.DeadLetter(ctx, err.Error()); dlErr != nil {
			log.Error("Dead-letter failed", zap.Error(dlErr), zap.NamedError("cause", err))
			return
		}
		metrics.IngestMessagesTotal.WithLabelValues("dead_lettered").Inc()
		log.Error("Message dead-lettered", zap.Error(err))

	case actionRetry:
		if rErr := d.Retry(ctx, dec.delay); rErr != nil {
			log.Warn("Delayed retry failed, falling back to visibility timeout", zap.Error(rErr))
		}
		metrics.IngestMessagesTotal.WithLabelValues("quota_retry").Inc()
		log.Warn("Extraction throttled, retrying", zap.Duration("delay", dec.delay), zap.Error(err))

	default:
		metrics.IngestMessagesTotal.WithLabelValues("redelivery").Inc()
		log.Warn("Processing failed, message left for redelivery", zap.Error(err))
	}
}
