package domain

import (
	"context"
	"maps"
	"regexp"
	"slices"
	"strings"
)

// SourceDocument is the raw object handed to an extractor.
type SourceDocument struct {
	Bucket      string
	Key         string
	ContentType string
	Body        []byte
}

// Extraction is the output of the text extraction service.
// Fields holds form key-value pairs when the service detects them.
type Extraction struct {
	Text   string
	Fields map[string]string
}

// Extractor turns a raw document into text.
type Extractor interface {
	Extract(ctx context.Context, doc SourceDocument) (Extraction, error)
}

// SelectText picks the text to embed. With an empty field pattern the full text is used.
// Otherwise the value of the first form field whose name matches pattern (case-insensitive)
// wins, falling back to the full text when nothing matches.
func (e Extraction) SelectText(fieldPattern string) string {
	if fieldPattern == "" || len(e.Fields) == 0 {
		return strings.TrimSpace(e.Text)
	}
	re, err := regexp.Compile("(?i)" + fieldPattern)
	if err != nil {
		return strings.TrimSpace(e.Text)
	}
	for _, name := range slices.Sorted(maps.Keys(e.Fields)) {
		if re.MatchString(name) {
			if v := strings.TrimSpace(e.Fields[name]); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(e.Text)
}
