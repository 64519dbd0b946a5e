package domain

import "strings"

// VectorConfig holds internal vectorization settings, not exposed to clients.
type VectorConfig struct {
	Model               string
	Dimensions          int
	DistanceMetric      string
	Algorithm           string
	HNSWM               int
	HNSWEFConstruct     int
	DocumentInstruction string
	QueryInstruction    string
}

// fixedModelDimensions lists models whose output width cannot be configured.
var fixedModelDimensions = map[string]int{
	"distiluse-base-multilingual-cased-v2":  512,
	"multilingual-e5-small":                 384,
	"multilingual-e5-base":                  768,
	"multilingual-e5-large":                 1024,
	"paraphrase-multilingual-MiniLM-L12-v2": 384,
}

// ModelDimensions returns the fixed embedding width of a known model.
// Models with a configurable width, and unknown ones, report false.
func ModelDimensions(model string) (int, bool) {
	name := model
	if i := strings.LastIndex(model, "/"); i >= 0 {
		name = model[i+1:]
	}
	d, ok := fixedModelDimensions[name]
	return d, ok
}

// DefaultVectorConfig returns the defaults for a 512-dimensional multilingual model.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:           "distiluse-base-multilingual-cased-v2",
		Dimensions:      512,
		DistanceMetric:  "cosine",
		Algorithm:       "hnsw",
		HNSWM:           16,
		HNSWEFConstruct: 512,
	}
}
