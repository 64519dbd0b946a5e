package db

// TagFilter restricts a KNN query to entries whose TAG field equals Value.
type TagFilter struct {
	Field string
	Value string
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // alias of the vector field, default "vector"
	Filters      []TagFilter
	Vector       []float32
	K            int
	ReturnFields []string
	Distance     DistanceMetric // metric of the vector field, default cosine
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64 // similarity in [0,1], higher is nearer
	Fields map[string]string
}

// IndexInfo is the subset of FT.INFO the application reads.
type IndexInfo struct {
	Name    string
	NumDocs int
}
