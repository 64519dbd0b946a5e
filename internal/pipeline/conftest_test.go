package pipeline

import (
	"context"
	"hash/fnv"
	"math"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/blob/badger"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
	"github.com/kailas-cloud/docsearch/internal/domain/routing"
	"github.com/kailas-cloud/docsearch/internal/queue/memory"
	"github.com/kailas-cloud/docsearch/internal/retry"
	"github.com/kailas-cloud/docsearch/internal/transport/extraction"
	"github.com/kailas-cloud/docsearch/internal/usecase/extract"
	"github.com/kailas-cloud/docsearch/internal/usecase/index"
	"github.com/kailas-cloud/docsearch/internal/usecase/trigger"
)

const (
	rawBucket         = "raw"
	transformedBucket = "transformed"
	testDim           = 32
)

// wordEmbedder hashes words into a fixed number of buckets, so texts sharing words are close.
type wordEmbedder struct {
	calls atomic.Int32
}

func (e *wordEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls.Add(1)
	v := make([]float32, testDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		v[h.Sum32()%testDim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return domain.EmbeddingResult{Embedding: v, TotalTokens: len(text)}, nil
}

// memIndex is a brute-force cosine index with upsert-by-id semantics.
type memIndex struct {
	mu      sync.Mutex
	docs    map[string]domain.IndexedDocument
	order   []string
	ensured int
}

func newMemIndex() *memIndex {
	return &memIndex{docs: map[string]domain.IndexedDocument{}}
}

func (m *memIndex) EnsureIndex(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

func (m *memIndex) Upsert(_ context.Context, doc domain.IndexedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; !ok {
		m.order = append(m.order, doc.ID)
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs), nil
}

func (m *memIndex) SearchKNN(
	_ context.Context, vector []float32, department domain.Department, k int,
) ([]domain.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hits := make([]domain.Hit, 0, len(m.docs))
	for _, id := range m.order {
		d := m.docs[id]
		if !department.IsZero() && d.Department != department {
			continue
		}
		var dot float64
		for i := range vector {
			dot += float64(vector[i] * d.Embedding[i])
		}
		hits = append(hits, domain.Hit{DocumentID: d.ID, Text: d.Text, Department: d.Department, Score: dot})
	}
	slices.SortStableFunc(hits, func(a, b domain.Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memIndex) get(id string) (domain.IndexedDocument, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	return d, ok
}

func (m *memIndex) all() []domain.IndexedDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.IndexedDocument, 0, len(m.docs))
	for _, id := range m.order {
		out = append(out, m.docs[id])
	}
	return out
}

// countingExtractor records the extraction concurrency peak and can fail the first calls.
type countingExtractor struct {
	inner    domain.Extractor
	failures atomic.Int32
	failWith error
	delay    time.Duration

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (c *countingExtractor) Extract(ctx context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
	c.calls.Add(1)
	n := c.inflight.Add(1)
	defer c.inflight.Add(-1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.failures.Add(-1) >= 0 {
		return domain.Extraction{}, c.failWith
	}
	return c.inner.Extract(ctx, doc)
}

type env struct {
	t         *testing.T
	store     *badger.Store
	queue     *memory.Queue
	index     *memIndex
	extractor *countingExtractor
	pipeline  *Pipeline
}

type envOption func(*Config, *countingExtractor)

func newEnv(t *testing.T, policy access.Mode, opts ...envOption) *env {
	t.Helper()

	store, err := badger.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	table, err := routing.NewTable(routing.DefaultRules(
		rawBucket, transformedBucket,
		[]string{"sales/", "marketing/"}, []string{".txt", ".pdf", ".png"}, domain.ArtifactSuffix,
	))
	if err != nil {
		t.Fatalf("routing table: %v", err)
	}

	extractor := &countingExtractor{
		inner: extraction.NewRouter(nil).Handle(".txt", extraction.PlainText{}),
	}
	cfg := Config{
		Routes: table,
		Extract: extract.Config{
			TransformedBucket:    transformedBucket,
			Dimensions:           testDim,
			MaxDeliveries:        5,
			MaxMalformedAttempts: 3,
			ReceiveBackoff:       10 * time.Millisecond,
		},
		Index: index.Config{RawBucket: rawBucket, Dimensions: testDim},
		Trigger: trigger.Config{
			IndexWorkers: 4,
			IndexRetry:   retry.Opts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond},
			PublishRetry: retry.Opts{MaxAttempts: 2, InitialWait: time.Millisecond},
		},
		Policy: access.NewPolicy(policy, 10),
	}
	for _, o := range opts {
		o(&cfg, extractor)
	}

	q := memory.New(100 * time.Millisecond)
	t.Cleanup(func() { _ = q.Close() })

	idx := newMemIndex()
	p, err := New(Deps{
		Objects:          store,
		Queue:            q,
		Extractor:        extractor,
		DocumentEmbedder: &wordEmbedder{},
		Index:            idx,
	}, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}

	p.Start(context.Background())
	t.Cleanup(func() { _ = p.Stop() })

	return &env{t: t, store: store, queue: q, index: idx, extractor: extractor, pipeline: p}
}

func (e *env) upload(key, department, body string) {
	e.t.Helper()
	tags := map[string]string{}
	if department != "" {
		tags[domain.DefaultDepartmentTag] = department
	}
	_, err := e.store.Put(context.Background(), blob.PutInput{
		Bucket:      rawBucket,
		Key:         key,
		Body:        []byte(body),
		ContentType: "text/plain",
		Tags:        tags,
	})
	if err != nil {
		e.t.Fatalf("upload %s: %v", key, err)
	}
}

// settled reports whether the queue is drained and no index job is pending.
func (e *env) settled() bool {
	if e.queue.Len() > 0 {
		return false
	}
	e.pipeline.WaitIndexed()
	return true
}

func (e *env) waitIndexed(n int) {
	e.t.Helper()
	eventually(e.t, 5*time.Second, func() bool {
		c, _ := e.index.Count(context.Background())
		return c >= n && e.settled()
	}, "documents indexed")
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
