package pipeline

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/domain"
	documentrepo "github.com/kailas-cloud/docsearch/internal/repository/document"
	searchrepo "github.com/kailas-cloud/docsearch/internal/repository/search"
)

// KVIndex joins the write and read repositories of the key-value search index.
type KVIndex struct {
	docs   *documentrepo.Repo
	search *searchrepo.Repo
}

var _ Index = (*KVIndex)(nil)

// NewKVIndex pairs a document repository with a search repository over the same store.
func NewKVIndex(docs *documentrepo.Repo, search *searchrepo.Repo) *KVIndex {
	return &KVIndex{docs: docs, search: search}
}

func (i *KVIndex) EnsureIndex(ctx context.Context) error { return i.docs.EnsureIndex(ctx) }

func (i *KVIndex) Upsert(ctx context.Context, doc domain.IndexedDocument) error {
	return i.docs.Upsert(ctx, doc)
}

func (i *KVIndex) Count(ctx context.Context) (int, error) { return i.docs.Count(ctx) }

func (i *KVIndex) SearchKNN(
	ctx context.Context, vector []float32, department domain.Department, k int,
) ([]domain.Hit, error) {
	return i.search.SearchKNN(ctx, vector, department, k)
}
