package document

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

// store is the consumer interface for documents (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	IndexInfo(ctx context.Context, name string) (db.IndexInfo, error)
}

// Repo stores indexed documents as hashes under an FT vector index.
type Repo struct {
	store  store
	vector domain.VectorConfig

	mu      sync.Mutex
	ensured bool
}

// New creates a document repository.
func New(s store, vector domain.VectorConfig) *Repo {
	return &Repo{store: s, vector: vector}
}

// EnsureIndex creates the FT index when it is absent. Safe to call on every write:
// after the first success it returns without a round trip.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ensured {
		return nil
	}

	exists, err := r.store.IndexExists(ctx, IndexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w: %w", IndexName, err, domain.ErrIndexUnavailable)
	}
	if !exists {
		def, err := buildIndex(r.vector)
		if err != nil {
			return fmt.Errorf("build index definition: %w", err)
		}
		if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
			return fmt.Errorf("create index %s: %w: %w", IndexName, err, domain.ErrIndexUnavailable)
		}
	}

	r.ensured = true
	return nil
}

// Upsert writes the document in a single HSET. An existing hash under the same ID is
// overwritten field by field; every field is always written, so nothing stale survives.
func (r *Repo) Upsert(ctx context.Context, doc domain.IndexedDocument) error {
	if len(doc.Embedding) != r.vector.Dimensions {
		return fmt.Errorf("document %s: %d components, want %d: %w",
			doc.ID, len(doc.Embedding), r.vector.Dimensions, domain.ErrMalformedArtifact)
	}
	key := DocKey(doc.ID)
	if err := r.store.HSet(ctx, key, buildHashFields(&doc)); err != nil {
		return fmt.Errorf("hset %s: %w: %w", key, err, domain.ErrIndexUnavailable)
	}
	return nil
}

// Get returns a document by ID.
func (r *Repo) Get(ctx context.Context, id string) (domain.IndexedDocument, error) {
	key := DocKey(id)
	m, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("hgetall %s: %w: %w", key, err, domain.ErrIndexUnavailable)
	}
	if len(m) == 0 {
		return domain.IndexedDocument{}, fmt.Errorf("document %s: %w", id, db.ErrKeyNotFound)
	}
	return parseHashFields(id, m), nil
}

// Count returns the number of indexed documents. A missing index counts as empty.
func (r *Repo) Count(ctx context.Context) (int, error) {
	info, err := r.store.IndexInfo(ctx, IndexName)
	if errors.Is(err, db.ErrIndexNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("index info %s: %w: %w", IndexName, err, domain.ErrIndexUnavailable)
	}
	return info.NumDocs, nil
}
