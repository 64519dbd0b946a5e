package document

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	hsetFn        func(ctx context.Context, key string, fields map[string]string) error
	hgetAllFn     func(ctx context.Context, key string) (map[string]string, error)
	createIndexFn func(ctx context.Context, def *db.IndexDefinition) error
	indexExistsFn func(ctx context.Context, name string) (bool, error)
	indexInfoFn   func(ctx context.Context, name string) (db.IndexInfo, error)
}

func (m *mockStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if m.hsetFn != nil {
		return m.hsetFn(ctx, key, fields)
	}
	return nil
}

func (m *mockStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if m.hgetAllFn != nil {
		return m.hgetAllFn(ctx, key)
	}
	return map[string]string{}, nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexExists(ctx context.Context, name string) (bool, error) {
	if m.indexExistsFn != nil {
		return m.indexExistsFn(ctx, name)
	}
	return true, nil
}

func (m *mockStore) IndexInfo(ctx context.Context, name string) (db.IndexInfo, error) {
	if m.indexInfoFn != nil {
		return m.indexInfoFn(ctx, name)
	}
	return db.IndexInfo{Name: name}, nil
}

func testVectorConfig() domain.VectorConfig {
	cfg := domain.DefaultVectorConfig()
	cfg.Dimensions = 4
	return cfg
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	return New(ms, testVectorConfig()), ms
}

func testDocument() domain.IndexedDocument {
	return domain.IndexedDocument{
		ID:         "doc-1",
		Text:       "Q3 revenue grew 12%",
		Embedding:  []float32{0.1, 0.2, 0.3, 0.4},
		Department: "sales",
		SourceKey:  "sales/report.txt",
		IndexedAt:  time.Unix(1700000000, 0).UTC(),
	}
}
