package document

import (
	"strconv"
	"time"

	"github.com/kailas-cloud/docsearch/internal/db"
	"github.com/kailas-cloud/docsearch/internal/db/valkey"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

// buildHashFields flattens a document into HSET field/value pairs.
func buildHashFields(doc *domain.IndexedDocument) map[string]string {
	return map[string]string{
		FieldContent:    doc.Text,
		FieldDepartment: doc.Department.String(),
		FieldSourceKey:  doc.SourceKey,
		FieldIndexedAt:  strconv.FormatInt(doc.IndexedAt.Unix(), 10),
		FieldVector:     valkey.VectorToBytes(doc.Embedding),
	}
}

// parseHashFields rebuilds a document from HGETALL output.
func parseHashFields(id string, m map[string]string) domain.IndexedDocument {
	doc := domain.IndexedDocument{
		ID:         id,
		Text:       m[FieldContent],
		Department: domain.Department(m[FieldDepartment]),
		SourceKey:  m[FieldSourceKey],
	}
	if v, ok := m[FieldVector]; ok && len(v)%4 == 0 {
		doc.Embedding = valkey.BytesToVector(v)
	}
	if ts, err := strconv.ParseInt(m[FieldIndexedAt], 10, 64); err == nil {
		doc.IndexedAt = time.Unix(ts, 0).UTC()
	}
	return doc
}

// buildIndex describes the FT index for the given vector configuration.
func buildIndex(cfg domain.VectorConfig) (*db.IndexDefinition, error) {
	distance, err := db.ParseDistance(cfg.DistanceMetric)
	if err != nil {
		return nil, err
	}
	return db.NewIndex(IndexName).
		Prefix(DocPrefix).
		Tag(FieldDepartment).
		Numeric(FieldIndexedAt).
		VectorHNSW(FieldVector, VectorAlias, cfg.Dimensions, distance, cfg.HNSWM, cfg.HNSWEFConstruct).
		Build()
}
