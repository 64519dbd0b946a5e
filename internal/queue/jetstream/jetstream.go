// Package jetstream implements queue.Queue on a NATS JetStream work-queue stream.
//
// Visibility timeout maps to the consumer AckWait, redelivery with delay to NakWithDelay,
// dead-lettering to a publish on the DLQ subject followed by Term. MaxAckPending is 1, so
// the stream hands out one message at a time across all workers.
package jetstream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/kailas-cloud/docsearch/internal/queue"
)

const (
	headerReason   = "Docsearch-Dead-Letter-Reason"
	headerAttempts = "Docsearch-Attempts"
)

var _ queue.Queue = (*Queue)(nil)

// Config names the stream, subjects and consumer.
type Config struct {
	Stream     string
	Subject    string
	DLQStream  string
	DLQSubject string
	Consumer   string
	Visibility time.Duration
	// FetchWait bounds a single pull; Receive loops until ctx is done.
	FetchWait time.Duration
	// InMemory selects memory storage for the streams.
	InMemory bool
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "DOCSEARCH_INGEST"
	}
	if c.Subject == "" {
		c.Subject = "docsearch.ingest"
	}
	if c.DLQStream == "" {
		c.DLQStream = c.Stream + "_DLQ"
	}
	if c.DLQSubject == "" {
		c.DLQSubject = c.Subject + ".dlq"
	}
	if c.Consumer == "" {
		c.Consumer = "extract-worker"
	}
	if c.Visibility <= 0 {
		c.Visibility = 30 * time.Second
	}
	if c.FetchWait <= 0 {
		c.FetchWait = time.Second
	}
}

// Queue is a JetStream-backed ingestion queue.
type Queue struct {
	cfg      Config
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	ownsConn bool
}

// Connect dials url and opens the queue. Close drains the connection.
func Connect(ctx context.Context, url string, cfg Config) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("docsearch"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	q, err := New(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	q.ownsConn = true
	return q, nil
}

// New declares the work and dead-letter streams and the durable pull consumer.
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Queue, error) {
	cfg.applyDefaults()

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	storage := jetstream.FileStorage
	if cfg.InMemory {
		storage = jetstream.MemoryStorage
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   storage,
	}); err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.DLQStream,
		Subjects: []string{cfg.DLQSubject},
		Storage:  storage,
	}); err != nil {
		return nil, fmt.Errorf("create stream %s: %w", cfg.DLQStream, err)
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.Visibility,
		MaxDeliver:    -1, // the worker decides when to dead-letter
		MaxAckPending: 1,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer %s: %w", cfg.Consumer, err)
	}

	return &Queue{cfg: cfg, nc: nc, js: js, consumer: consumer}, nil
}

// Publish sends body to the work subject with trace headers.
func (q *Queue) Publish(ctx context.Context, body []byte) error {
	msg := nats.NewMsg(q.cfg.Subject)
	msg.Data = body
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(msg.Header))

	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", q.cfg.Subject, err)
	}
	return nil
}

// Receive pulls one message, waiting up to FetchWait per pull until ctx is done.
func (q *Queue) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if q.nc.IsClosed() {
			return nil, queue.ErrClosed
		}

		batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) {
				return nil, queue.ErrClosed
			}
			return nil, fmt.Errorf("fetch: %w", err)
		}

		if msg, ok := <-batch.Messages(); ok {
			return q.newDelivery(msg)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("fetch: %w", err)
		}
	}
}

// Ping checks the JetStream account is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	if _, err := q.js.AccountInfo(ctx); err != nil {
		return fmt.Errorf("jetstream account info: %w", err)
	}
	return nil
}

// Close drains the connection when the queue dialed it.
func (q *Queue) Close() error {
	if q.ownsConn {
		return q.nc.Drain()
	}
	return nil
}

// DeadLetterCount returns how many messages sit on the dead-letter stream.
func (q *Queue) DeadLetterCount(ctx context.Context) (uint64, error) {
	stream, err := q.js.Stream(ctx, q.cfg.DLQStream)
	if err != nil {
		return 0, fmt.Errorf("dlq stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("dlq stream info: %w", err)
	}
	return info.State.Msgs, nil
}

// LastDeadLetter returns the most recent dead-lettered message.
func (q *Queue) LastDeadLetter(ctx context.Context) (queue.DeadLetter, error) {
	stream, err := q.js.Stream(ctx, q.cfg.DLQStream)
	if err != nil {
		return queue.DeadLetter{}, fmt.Errorf("dlq stream: %w", err)
	}
	raw, err := stream.GetLastMsgForSubject(ctx, q.cfg.DLQSubject)
	if err != nil {
		return queue.DeadLetter{}, fmt.Errorf("dlq last message: %w", err)
	}
	attempts, _ := strconv.Atoi(raw.Header.Get(headerAttempts))
	return queue.DeadLetter{
		Body:     raw.Data,
		Reason:   raw.Header.Get(headerReason),
		Attempts: attempts,
		At:       raw.Time,
	}, nil
}

func (q *Queue) newDelivery(msg jetstream.Msg) (*delivery, error) {
	meta, err := msg.Metadata()
	if err != nil {
		return nil, fmt.Errorf("message metadata: %w", err)
	}
	return &delivery{q: q, msg: msg, attempt: int(meta.NumDelivered)}, nil
}

type delivery struct {
	q       *Queue
	msg     jetstream.Msg
	attempt int
}

func (d *delivery) Body() []byte { return d.msg.Data() }
func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Carrier() propagation.TextMapCarrier {
	return headerCarrier(d.msg.Headers())
}

func (d *delivery) Ack(_ context.Context) error {
	return d.msg.Ack()
}

func (d *delivery) Retry(_ context.Context, delay time.Duration) error {
	return d.msg.NakWithDelay(delay)
}

// DeadLetter copies the message to the DLQ subject, then terminates it on the work stream.
func (d *delivery) DeadLetter(ctx context.Context, reason string) error {
	dlq := nats.NewMsg(d.q.cfg.DLQSubject)
	dlq.Data = d.msg.Data()
	for k, vs := range d.msg.Headers() {
		for _, v := range vs {
			dlq.Header.Add(k, v)
		}
	}
	dlq.Header.Set(headerReason, reason)
	dlq.Header.Set(headerAttempts, strconv.Itoa(d.attempt))

	if _, err := d.q.js.PublishMsg(ctx, dlq); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}
	return d.msg.TermWithReason(reason)
}

// headerCarrier adapts nats.Header for the OTel TextMapCarrier.
type headerCarrier nats.Header

func (c headerCarrier) Get(key string) string {
	return nats.Header(c).Get(key)
}

func (c headerCarrier) Set(key, val string) {
	if c == nil {
		return
	}
	nats.Header(c).Set(key, val)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
