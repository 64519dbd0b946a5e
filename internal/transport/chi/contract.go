package chi

import (
	"context"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	healthuc "github.com/kailas-cloud/docsearch/internal/usecase/health"
	objectsuc "github.com/kailas-cloud/docsearch/internal/usecase/objects"
)

// Searcher runs semantic queries.
type Searcher interface {
	Search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error)
}

// Objects stores and lists raw uploads.
type Objects interface {
	Upload(ctx context.Context, in objectsuc.UploadInput) (blob.ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]blob.ObjectInfo, error)
}

// HealthChecker reports dependency status.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}
