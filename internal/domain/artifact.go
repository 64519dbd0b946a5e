package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ArtifactSuffix is appended to the source key to name the transformed artifact.
const ArtifactSuffix = ".txt"

// ArtifactContentType is the content type of artifact bodies.
const ArtifactContentType = "application/json"

// ArtifactKey returns the transformed-bucket key for a raw object key.
func ArtifactKey(sourceKey string) string { return sourceKey + ArtifactSuffix }

// TransformedArtifact is the durable output of extraction and embedding.
type TransformedArtifact struct {
	SourceDocumentID string            `json:"source_document_id"`
	SourceKey        string            `json:"source_key"`
	ExtractedText    string            `json:"extracted_text"`
	Fields           map[string]string `json:"fields,omitempty"`
	Embedding        []float32         `json:"embedding"`
	Department       Department        `json:"department"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Encode serializes the artifact.
func (a *TransformedArtifact) Encode() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return data, nil
}

// DecodeArtifact parses an artifact body. Structural validation is left to Validate.
func DecodeArtifact(data []byte) (TransformedArtifact, error) {
	var a TransformedArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return TransformedArtifact{}, fmt.Errorf("%w: %v", ErrMalformedArtifact, err)
	}
	return a, nil
}

// Validate checks that the artifact can be turned into an indexed document.
func (a *TransformedArtifact) Validate(dim int) error {
	if strings.TrimSpace(a.SourceDocumentID) == "" {
		return fmt.Errorf("%w: source document id is empty", ErrMalformedArtifact)
	}
	if strings.TrimSpace(a.ExtractedText) == "" {
		return fmt.Errorf("%w: extracted text is empty", ErrMalformedArtifact)
	}
	if dim > 0 && len(a.Embedding) != dim {
		return fmt.Errorf("%w: embedding has %d components, want %d", ErrMalformedArtifact, len(a.Embedding), dim)
	}
	if a.Department.IsZero() {
		return fmt.Errorf("%w: department is empty", ErrMalformedArtifact)
	}
	return nil
}

// Document converts the artifact into the record stored in the search index.
func (a *TransformedArtifact) Document(indexedAt time.Time) IndexedDocument {
	return IndexedDocument{
		ID:         a.SourceDocumentID,
		Text:       a.ExtractedText,
		Embedding:  a.Embedding,
		Department: a.Department,
		SourceKey:  a.SourceKey,
		IndexedAt:  indexedAt.UTC(),
	}
}
