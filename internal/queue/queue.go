// Package queue defines the ingestion queue contract: at-least-once delivery, one message at
// a time, redelivery after a visibility timeout for unacknowledged messages, and a dead-letter
// destination.
package queue

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/propagation"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue: closed")

// Queue is an at-least-once work queue.
type Queue interface {
	// Publish enqueues body. Trace context in ctx travels with the message.
	Publish(ctx context.Context, body []byte) error
	// Receive blocks until a message is visible or ctx is done. Batch size is one.
	Receive(ctx context.Context) (Delivery, error)
	// Ping reports whether the queue backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is one received message. A delivery that is neither acked, retried nor
// dead-lettered becomes visible again after the visibility timeout.
type Delivery interface {
	Body() []byte
	// Attempt is the 1-based delivery count.
	Attempt() int
	// Carrier exposes the propagated trace headers.
	Carrier() propagation.TextMapCarrier
	Ack(ctx context.Context) error
	// Retry makes the message visible again after delay.
	Retry(ctx context.Context, delay time.Duration) error
	// DeadLetter removes the message from the queue and parks it with reason.
	DeadLetter(ctx context.Context, reason string) error
}

// DeadLetter is a message parked after it could not be processed.
type DeadLetter struct {
	Body     []byte
	Reason   string
	Attempts int
	At       time.Time
}
