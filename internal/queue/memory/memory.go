// Package memory is an in-process queue.Queue with visibility timeouts and a dead-letter list.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kailas-cloud/docsearch/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

type message struct {
	id        uint64
	body      []byte
	headers   propagation.MapCarrier
	attempts  int
	visibleAt time.Time
	// receipt changes on every delivery; settling a stale delivery is a no-op.
	receipt uint64
}

// Queue keeps messages in FIFO order. Safe for concurrent use.
type Queue struct {
	visibility time.Duration
	now        func() time.Time

	mu      sync.Mutex
	msgs    []*message
	dead    []queue.DeadLetter
	nextID  uint64
	receipt uint64
	closed  bool
	wake    chan struct{}
}

// New creates a queue whose unacknowledged deliveries reappear after visibility.
func New(visibility time.Duration) *Queue {
	return &Queue{
		visibility: visibility,
		now:        time.Now,
		wake:       make(chan struct{}),
	}
}

// Publish appends a message, visible immediately.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	headers := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, headers)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	q.nextID++
	q.msgs = append(q.msgs, &message{
		id:        q.nextID,
		body:      slices.Clone(body),
		headers:   headers,
		visibleAt: q.now(),
	})
	q.signalLocked()
	return nil
}

// Receive returns the oldest visible message, hiding it for the visibility timeout.
func (q *Queue) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, queue.ErrClosed
		}

		now := q.now()
		var next time.Time
		for _, m := range q.msgs {
			if !m.visibleAt.After(now) {
				m.attempts++
				m.visibleAt = now.Add(q.visibility)
				q.receipt++
				m.receipt = q.receipt
				d := &delivery{q: q, id: m.id, receipt: m.receipt, body: m.body, attempt: m.attempts, headers: m.headers}
				q.mu.Unlock()
				return d, nil
			}
			if next.IsZero() || m.visibleAt.Before(next) {
				next = m.visibleAt
			}
		}
		wake := q.wake
		q.mu.Unlock()

		if err := waitFor(ctx, wake, next, now); err != nil {
			return nil, err
		}
	}
}

// waitFor blocks until wake fires, next is reached, or ctx is done. A zero next waits for wake only.
func waitFor(ctx context.Context, wake <-chan struct{}, next, now time.Time) error {
	var timer <-chan time.Time
	if !next.IsZero() {
		t := time.NewTimer(next.Sub(now))
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-timer:
	}
	return nil
}

// Ping fails once the queue is closed.
func (q *Queue) Ping(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return queue.ErrClosed
	}
	return nil
}

// Close wakes blocked receivers with ErrClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signalLocked()
	}
	return nil
}

// Len returns the number of messages not yet acked or dead-lettered.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// DeadLetters returns a copy of the dead-letter list.
func (q *Queue) DeadLetters() []queue.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.dead)
}

func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// settle runs fn on the message if the receipt is still current.
func (q *Queue) settle(id, receipt uint64, fn func(i int, m *message)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.msgs, func(m *message) bool { return m.id == id })
	if i < 0 || q.msgs[i].receipt != receipt {
		return fmt.Errorf("message %d: stale delivery", id)
	}
	fn(i, q.msgs[i])
	q.signalLocked()
	return nil
}

type delivery struct {
	q       *Queue
	id      uint64
	receipt uint64
	body    []byte
	attempt int
	headers propagation.MapCarrier
}

func (d *delivery) Body() []byte                         { return d.body }
func (d *delivery) Attempt() int                         { return d.attempt }
func (d *delivery) Carrier() propagation.TextMapCarrier { return d.headers }

func (d *delivery) Ack(_ context.Context) error {
	return d.q.settle(d.id, d.receipt, func(i int, _ *message) {
		d.q.msgs = slices.Delete(d.q.msgs, i, i+1)
	})
}

func (d *delivery) Retry(_ context.Context, delay time.Duration) error {
	return d.q.settle(d.id, d.receipt, func(_ int, m *message) {
		m.visibleAt = d.q.now().Add(delay)
	})
}

func (d *delivery) DeadLetter(_ context.Context, reason string) error {
	return d.q.settle(d.id, d.receipt, func(i int, m *message) {
		d.q.dead = append(d.q.dead, queue.DeadLetter{
			Body:     m.body,
			Reason:   reason,
			Attempts: m.attempts,
			At:       d.q.now(),
		})
		d.q.msgs = slices.Delete(d.q.msgs, i, i+1)
	})
}
