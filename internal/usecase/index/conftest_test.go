package index

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

const (
	rawBucket         = "raw"
	transformedBucket = "transformed"
	testDim           = 3
)

type mockArtifacts struct {
	getFn func(ctx context.Context, bucket, key string) (*blob.Object, error)
}

func (m *mockArtifacts) Get(ctx context.Context, bucket, key string) (*blob.Object, error) {
	return m.getFn(ctx, bucket, key)
}

type mockRepo struct {
	ensureFn func(ctx context.Context) error
	upsertFn func(ctx context.Context, doc domain.IndexedDocument) error

	docs map[string]domain.IndexedDocument
}

func (m *mockRepo) EnsureIndex(ctx context.Context) error {
	if m.ensureFn != nil {
		return m.ensureFn(ctx)
	}
	return nil
}

func (m *mockRepo) Upsert(ctx context.Context, doc domain.IndexedDocument) error {
	if m.upsertFn != nil {
		return m.upsertFn(ctx, doc)
	}
	m.docs[doc.ID] = doc
	return nil
}

func testArtifact(sourceKey, department string) domain.TransformedArtifact {
	return domain.TransformedArtifact{
		SourceDocumentID: domain.DocumentID(rawBucket, sourceKey),
		SourceKey:        sourceKey,
		ExtractedText:    "refund policy for enterprise customers",
		Embedding:        []float32{0.1, 0.2, 0.3},
		Department:       domain.Department(department),
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func artifactObject(t *testing.T, a domain.TransformedArtifact, tags map[string]string) *blob.Object {
	t.Helper()
	body, err := a.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &blob.Object{
		ObjectInfo: blob.ObjectInfo{Bucket: transformedBucket, Key: domain.ArtifactKey(a.SourceKey), Tags: tags},
		Body:       body,
	}
}

func newTestService(t *testing.T, obj *blob.Object) (*Service, *mockArtifacts, *mockRepo) {
	t.Helper()
	artifacts := &mockArtifacts{getFn: func(context.Context, string, string) (*blob.Object, error) {
		return obj, nil
	}}
	repo := &mockRepo{docs: make(map[string]domain.IndexedDocument)}
	svc := New(artifacts, repo, Config{RawBucket: rawBucket, Dimensions: testDim, Timeout: time.Second}, zap.NewNop())
	return svc, artifacts, repo
}

func ref(sourceKey string) domain.ObjectRef {
	return domain.ObjectRef{Bucket: transformedBucket, Key: domain.ArtifactKey(sourceKey)}
}
