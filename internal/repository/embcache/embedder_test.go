package embcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	return m.result, m.err
}

type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_cache_total"}, []string{"result"})
}

func TestEmbed_MissStoresWithTTL(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: 4}}
	counter := newCounter()
	ms := &mockKVStore{}

	var gotKey string
	var gotTTL time.Duration
	var gotVal []byte
	ms.setFn = func(_ context.Context, key string, value []byte, ttl time.Duration) error {
		gotKey, gotVal, gotTTL = key, value, ttl
		return nil
	}

	ce := New(inner, ms, "e5-small", time.Hour, counter, zap.NewNop())
	res, err := ce.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTokens != 4 {
		t.Errorf("TotalTokens = %d, want 4", res.TotalTokens)
	}
	if !strings.HasPrefix(gotKey, "docsearch:emb_cache:e5-small:") {
		t.Errorf("unexpected cache key %q", gotKey)
	}
	if gotTTL != time.Hour {
		t.Errorf("ttl = %v, want 1h", gotTTL)
	}
	if len(gotVal) != 8 {
		t.Errorf("cached bytes = %d, want 8", len(gotVal))
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("miss")); v != 1 {
		t.Errorf("miss count = %v, want 1", v)
	}
}

func TestEmbed_Hit(t *testing.T) {
	inner := &mockEmbedder{}
	counter := newCounter()
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return vectorToBytes([]float32{0.4, 0.5, 0.6}), nil
	}}

	ce := New(inner, ms, "m", 0, counter, zap.NewNop())
	res, err := ce.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 3 || res.Embedding[0] != 0.4 {
		t.Fatalf("expected cached vector, got %v", res.Embedding)
	}
	if res.TotalTokens != 0 {
		t.Errorf("expected TotalTokens=0 on hit, got %d", res.TotalTokens)
	}
	if inner.calls != 0 {
		t.Errorf("inner called %d times on hit", inner.calls)
	}
	if v := testutil.ToFloat64(counter.WithLabelValues("hit")); v != 1 {
		t.Errorf("hit count = %v, want 1", v)
	}
}

func TestEmbed_ModelScopesKey(t *testing.T) {
	a := New(&mockEmbedder{}, &mockKVStore{}, "model-a", 0, nil, zap.NewNop())
	b := New(&mockEmbedder{}, &mockKVStore{}, "model-b", 0, nil, zap.NewNop())
	if a.cacheKey("same") == b.cacheKey("same") {
		t.Error("different models must not share cache keys")
	}
}

func TestEmbed_StoreErrorsAreNotFatal(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ms := &mockKVStore{
		getFn: func(_ context.Context, _ string) ([]byte, error) { return nil, errors.New("conn refused") },
		setFn: func(_ context.Context, _ string, _ []byte, _ time.Duration) error { return errors.New("conn refused") },
	}

	ce := New(inner, ms, "m", 0, nil, zap.NewNop())
	res, err := ce.Embed(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Embedding) != 1 {
		t.Errorf("unexpected embedding %v", res.Embedding)
	}
}

func TestEmbed_CorruptCacheFallsThrough(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) {
		return []byte{1, 2, 3}, nil
	}}

	ce := New(inner, ms, "m", 0, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}

func TestEmbed_InnerErrorWrapped(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingServiceUnavailable}
	ce := New(inner, &mockKVStore{}, "m", 0, nil, zap.NewNop())

	_, err := ce.Embed(context.Background(), "x")
	if !errors.Is(err, domain.ErrEmbeddingServiceUnavailable) {
		t.Fatalf("expected ErrEmbeddingServiceUnavailable, got %v", err)
	}
}
