package document

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

// --- EnsureIndex ---

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t)

	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return false, nil }
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil {
		t.Fatal("expected CreateIndex call")
	}
	if created.Name != "docsearch:idx" {
		t.Errorf("index name = %q", created.Name)
	}
	if !slices.Equal(created.Prefixes, []string{"docsearch:doc:"}) {
		t.Errorf("prefixes = %v", created.Prefixes)
	}

	var vec *db.IndexField
	for i := range created.Fields {
		if created.Fields[i].Type == db.IndexFieldVector {
			vec = &created.Fields[i]
		}
	}
	if vec == nil {
		t.Fatal("expected a vector field")
	}
	if vec.VectorDim != 4 || vec.VectorDistance != db.DistanceCosine || vec.VectorM != 16 || vec.VectorEFConstruct != 512 {
		t.Errorf("unexpected vector field: %+v", vec)
	}
}

func TestEnsureIndex_SkipsWhenPresent(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error {
		t.Fatal("CreateIndex must not be called when the index exists")
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceLostIsSuccess(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) { return false, nil }
	ms.createIndexFn = func(_ context.Context, _ *db.IndexDefinition) error { return db.ErrIndexExists }

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_Memoized(t *testing.T) {
	repo, ms := newTestRepo(t)
	calls := 0
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) {
		calls++
		return true, nil
	}
	for range 3 {
		if err := repo.EnsureIndex(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("IndexExists calls = %d, want 1", calls)
	}
}

func TestEnsureIndex_StoreDown(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(_ context.Context, _ string) (bool, error) {
		return false, errors.New("connection refused")
	}

	err := repo.EnsureIndex(context.Background())
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}

	// a failed attempt is not memoized
	ms.indexExistsFn = nil
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error on retry: %v", err)
	}
}

// --- Upsert ---

func TestUpsert_WritesAllFields(t *testing.T) {
	repo, ms := newTestRepo(t)
	doc := testDocument()

	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		if key != "docsearch:doc:doc-1" {
			t.Errorf("unexpected key: %s", key)
		}
		if fields[FieldContent] != doc.Text {
			t.Errorf("content = %q", fields[FieldContent])
		}
		if fields[FieldDepartment] != "sales" {
			t.Errorf("department = %q", fields[FieldDepartment])
		}
		if fields[FieldSourceKey] != "sales/report.txt" {
			t.Errorf("source_key = %q", fields[FieldSourceKey])
		}
		if fields[FieldIndexedAt] != "1700000000" {
			t.Errorf("indexed_at = %q", fields[FieldIndexedAt])
		}
		if len(fields[FieldVector]) != 16 {
			t.Errorf("vector bytes = %d, want 16", len(fields[FieldVector]))
		}
		return nil
	}

	if err := repo.Upsert(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_WrongDimension(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		t.Fatal("HSet must not be called")
		return nil
	}

	doc := testDocument()
	doc.Embedding = []float32{1, 2}
	if err := repo.Upsert(context.Background(), doc); !errors.Is(err, domain.ErrMalformedArtifact) {
		t.Fatalf("expected ErrMalformedArtifact, got %v", err)
	}
}

func TestUpsert_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetFn = func(_ context.Context, _ string, _ map[string]string) error {
		return &db.Error{Op: db.OpHSet, Err: errors.New("OOM")}
	}

	err := repo.Upsert(context.Background(), testDocument())
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
	if !domain.IsTransient(err) {
		t.Error("store failure should be transient")
	}
}

// --- Get ---

func TestGet_RoundTrip(t *testing.T) {
	repo, ms := newTestRepo(t)
	doc := testDocument()

	var stored map[string]string
	ms.hsetFn = func(_ context.Context, _ string, fields map[string]string) error {
		stored = fields
		return nil
	}
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return stored, nil
	}

	ctx := context.Background()
	if err := repo.Upsert(ctx, doc); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err := repo.Get(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Text != doc.Text || got.Department != doc.Department || got.SourceKey != doc.SourceKey {
		t.Errorf("got %+v", got)
	}
	if !slices.Equal(got.Embedding, doc.Embedding) {
		t.Errorf("embedding = %v", got.Embedding)
	}
	if !got.IndexedAt.Equal(doc.IndexedAt) {
		t.Errorf("indexed_at = %v", got.IndexedAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, db.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

// --- Count ---

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(_ context.Context, name string) (db.IndexInfo, error) {
		return db.IndexInfo{Name: name, NumDocs: 5}, nil
	}
	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 {
		t.Errorf("count = %d, want 5", n)
	}
}

func TestCount_MissingIndexIsZero(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(_ context.Context, _ string) (db.IndexInfo, error) {
		return db.IndexInfo{}, db.ErrIndexNotFound
	}
	n, err := repo.Count(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
}

func TestCount_StoreError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(_ context.Context, _ string) (db.IndexInfo, error) {
		return db.IndexInfo{}, errors.New("timeout")
	}
	if _, err := repo.Count(context.Background()); !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}
