package extraction

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// PlainText extracts text documents locally. A byte order mark selects UTF-8 or UTF-16;
// without one the body must be UTF-8. Output is NFC-normalized.
type PlainText struct{}

// Extract implements domain.Extractor.
func (PlainText) Extract(_ context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
	if !hasUTF16BOM(doc.Body) && !utf8.Valid(doc.Body) {
		return domain.Extraction{}, fmt.Errorf("decode %s: invalid utf-8: %w", doc.Key, domain.ErrExtractionFailed)
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), doc.Body)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("decode %s: %v: %w", doc.Key, err, domain.ErrExtractionFailed)
	}
	return domain.Extraction{Text: norm.NFC.String(string(decoded))}, nil
}

func hasUTF16BOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xFF, 0xFE}) || bytes.HasPrefix(b, []byte{0xFE, 0xFF})
}
