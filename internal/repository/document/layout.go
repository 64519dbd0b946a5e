package document

import (
	"strings"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Hash layout of an indexed document.
const (
	FieldContent    = "content"
	FieldDepartment = "department"
	FieldSourceKey  = "source_key"
	FieldIndexedAt  = "indexed_at"
	FieldVector     = "__vector"
	VectorAlias     = "vector"
)

var (
	// IndexName is the FT index over document hashes.
	IndexName = domain.KeyPrefix + "idx"
	// DocPrefix prefixes every document hash key.
	DocPrefix = domain.KeyPrefix + "doc:"
)

// DocKey returns the hash key of a document.
func DocKey(id string) string {
	return DocPrefix + id
}

// IDFromKey strips DocPrefix.
func IDFromKey(key string) string {
	return strings.TrimPrefix(key, DocPrefix)
}
