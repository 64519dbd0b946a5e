package extraction

import (
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/kailas-cloud/docsearch/internal/domain"
)

// Router picks an extractor by content type, then by key suffix.
type Router struct {
	byType   map[string]domain.Extractor
	bySuffix map[string]domain.Extractor
	fallback domain.Extractor
}

// NewRouter creates a router. fallback may be nil, in which case unknown documents fail.
func NewRouter(fallback domain.Extractor) *Router {
	return &Router{
		byType:   make(map[string]domain.Extractor),
		bySuffix: make(map[string]domain.Extractor),
		fallback: fallback,
	}
}

// Handle registers e for a media type ("text/plain") or a key suffix (".txt").
func (r *Router) Handle(match string, e domain.Extractor) *Router {
	if strings.HasPrefix(match, ".") {
		r.bySuffix[strings.ToLower(match)] = e
	} else {
		r.byType[strings.ToLower(match)] = e
	}
	return r
}

// Extract implements domain.Extractor.
func (r *Router) Extract(ctx context.Context, doc domain.SourceDocument) (domain.Extraction, error) {
	e := r.pick(doc)
	if e == nil {
		return domain.Extraction{}, fmt.Errorf("no extractor for %s (%s): %w",
			doc.Key, doc.ContentType, domain.ErrExtractionFailed)
	}
	return e.Extract(ctx, doc)
}

func (r *Router) pick(doc domain.SourceDocument) domain.Extractor {
	if mt, _, err := mime.ParseMediaType(doc.ContentType); err == nil {
		if e, ok := r.byType[strings.ToLower(mt)]; ok {
			return e
		}
	}
	if e, ok := r.bySuffix[strings.ToLower(path.Ext(doc.Key))]; ok {
		return e
	}
	return r.fallback
}
