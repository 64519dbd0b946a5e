package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/repository/document"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// Repo runs k-NN queries against the document index.
type Repo struct {
	store    store
	distance db.DistanceMetric
}

// New creates a search repository. The vector config's metric decides how distances
// become scores; an unknown metric falls back to cosine, which the index builder rejects.
func New(s store, vec domain.VectorConfig) *Repo {
	distance, err := db.ParseDistance(vec.DistanceMetric)
	if err != nil {
		distance = db.DistanceCosine
	}
	return &Repo{store: s, distance: distance}
}

// SearchKNN returns the k nearest documents, nearest first. A non-zero department
// pre-filters on the department TAG; a missing index yields no hits.
func (r *Repo) SearchKNN(
	ctx context.Context, vector []float32, department domain.Department, k int,
) ([]domain.Hit, error) {
	q := &db.KNNQuery{
		IndexName:    document.IndexName,
		VectorField:  document.VectorAlias,
		Vector:       vector,
		K:            k,
		ReturnFields: []string{document.FieldContent, document.FieldDepartment},
		Distance:     r.distance,
	}
	if !department.IsZero() {
		q.Filters = []db.TagFilter{{Field: document.FieldDepartment, Value: department.String()}}
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if errors.Is(err, db.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w: %w", document.IndexName, err, domain.ErrIndexUnavailable)
	}

	return parseKNNResults(sr), nil
}

func parseKNNResults(sr *db.SearchResult) []domain.Hit {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	hits := make([]domain.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		hits = append(hits, domain.Hit{
			DocumentID: document.IDFromKey(e.Key),
			Text:       e.Fields[document.FieldContent],
			Department: domain.Department(e.Fields[document.FieldDepartment]),
			Score:      e.Score,
		})
	}
	return hits
}
