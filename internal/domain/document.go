package domain

import (
	"time"

	"github.com/google/uuid"
)

// KeyPrefix namespaces every key the service writes to the key-value store.
const KeyPrefix = "docsearch:"

// documentNamespace seeds name-based document IDs.
var documentNamespace = uuid.MustParse("5b0f4c52-7d0e-4c1e-9a61-3f1d2b8e9c40")

// DocumentID derives the stable identifier of a raw object.
// The same bucket and key always yield the same ID, so redelivery overwrites.
func DocumentID(bucket, objectKey string) string {
	return uuid.NewSHA1(documentNamespace, []byte(bucket+"/"+objectKey)).String()
}

// IndexedDocument is a searchable record in the vector index.
type IndexedDocument struct {
	ID         string
	Text       string
	Embedding  []float32
	Department Department
	SourceKey  string
	IndexedAt  time.Time
}

// DefaultK is the number of neighbours returned by a search.
const DefaultK = 3

// SearchQuery is a single semantic search request.
type SearchQuery struct {
	Text             string
	CallerDepartment Department
	K                int
}

// Hit is one ranked search result.
type Hit struct {
	DocumentID string
	Text       string
	Department Department
	Score      float64
}

// SearchResult is the response of a search.
type SearchResult struct {
	Hits      []Hit
	IndexSize int
}
