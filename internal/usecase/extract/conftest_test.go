package extract

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/queue"
	"github.com/kailas-cloud/docsearch/internal/queue/memory"
	"github.com/kailas-cloud/docsearch/internal/retry"
)

const (
	rawBucket         = "raw"
	transformedBucket = "transformed"
	testDim           = 4
)

type mockObjects struct {
	getFn func(ctx context.Context, bucket, key string) (*blob.Object, error)
	putFn func(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error)

	mu   sync.Mutex
	puts []blob.PutInput
}

func (m *mockObjects) Get(ctx context.Context, bucket, key string) (*blob.Object, error) {
	return m.getFn(ctx, bucket, key)
}

func (m *mockObjects) Put(ctx context.Context, in blob.PutInput) (blob.ObjectInfo, error) {
	m.mu.Lock()
	m.puts = append(m.puts, in)
	m.mu.Unlock()
	if m.putFn != nil {
		return m.putFn(ctx, in)
	}
	return blob.ObjectInfo{Bucket: in.Bucket, Key: in.Key}, nil
}

func (m *mockObjects) putCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

type mockExtractor struct {
	extractFn func(ctx context.Context, doc domain.SourceDocument) (domain.Extraction, error)
}

func (m *mockExtractor) Extract(ctx context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
	return m.extractFn(ctx, doc)
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	return m.embedFn(ctx, text)
}

type fakeDelivery struct {
	body    []byte
	attempt int
	carrier propagation.MapCarrier

	acked      bool
	retried    bool
	retryDelay time.Duration
	deadReason string
}

func (d *fakeDelivery) Body() []byte                         { return d.body }
func (d *fakeDelivery) Attempt() int                         { return d.attempt }
func (d *fakeDelivery) Carrier() propagation.TextMapCarrier { return d.carrier }
func (d *fakeDelivery) Ack(context.Context) error            { d.acked = true; return nil }

func (d *fakeDelivery) Retry(_ context.Context, delay time.Duration) error {
	d.retried, d.retryDelay = true, delay
	return nil
}

func (d *fakeDelivery) DeadLetter(_ context.Context, reason string) error {
	d.deadReason = reason
	return nil
}

func (d *fakeDelivery) settled() bool { return d.acked || d.retried || d.deadReason != "" }

func newDelivery(t *testing.T, key string, attempt int) *fakeDelivery {
	t.Helper()
	body, err := domain.NewEnvelope(domain.UploadEvent{
		Bucket: rawBucket, ObjectKey: key, SizeBytes: 5, UploadedAt: time.Now(),
	}, time.Now()).Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return &fakeDelivery{body: body, attempt: attempt, carrier: propagation.MapCarrier{}}
}

func rawObject(key, department, body string) *blob.Object {
	tags := map[string]string{"origin": "upload"}
	if department != "" {
		tags[domain.DefaultDepartmentTag] = department
	}
	return &blob.Object{
		ObjectInfo: blob.ObjectInfo{Bucket: rawBucket, Key: key, ContentType: "text/plain", Tags: tags},
		Body:       []byte(body),
	}
}

func vec(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i+1) / 10
	}
	return v
}

type testEnv struct {
	objects   *mockObjects
	extractor *mockExtractor
	embedder  *mockEmbedder
	cfg       Config
}

// newTestEnv wires working fakes: every object exists with department "sales" and its body
// as text, every text embeds to a testDim vector.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		objects: &mockObjects{getFn: func(_ context.Context, _, key string) (*blob.Object, error) {
			return rawObject(key, "sales", "quarterly revenue grew"), nil
		}},
		extractor: &mockExtractor{extractFn: func(_ context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
			return domain.Extraction{Text: string(doc.Body)}, nil
		}},
		embedder: &mockEmbedder{embedFn: func(context.Context, string) (domain.EmbeddingResult, error) {
			return domain.EmbeddingResult{Embedding: vec(testDim)}, nil
		}},
		cfg: Config{
			TransformedBucket:    transformedBucket,
			Dimensions:           testDim,
			ExtractTimeout:       time.Second,
			ReadTimeout:          time.Second,
			WriteTimeout:         time.Second,
			QuotaBackoff:         retry.Opts{InitialWait: 2 * time.Second, MaxWait: time.Minute},
			MaxDeliveries:        5,
			MaxMalformedAttempts: 3,
			ReceiveBackoff:       10 * time.Millisecond,
		},
	}
}

func (e *testEnv) worker(q queue.Queue) *Worker {
	if q == nil {
		q = memory.New(time.Minute)
	}
	return New(q, e.objects, e.extractor, e.embedder, e.cfg, zap.NewNop())
}
