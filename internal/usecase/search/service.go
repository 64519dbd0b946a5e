// Package search answers semantic queries under the configured access policy.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
	"github.com/kailas-cloud/docsearch/internal/metrics"
)

// Service handles semantic k-NN search.
type Service struct {
	repo    Repository
	counter Counter
	embed   Embedder
	policy  access.Policy
	timeout time.Duration
	logger  *zap.Logger
}

// New creates a search service. timeout bounds each index call; 0 disables it.
func New(
	repo Repository, counter Counter, embed Embedder,
	policy access.Policy, timeout time.Duration, logger *zap.Logger,
) *Service {
	return &Service{repo: repo, counter: counter, embed: embed, policy: policy, timeout: timeout, logger: logger}
}

// Search embeds the query and returns up to K nearest documents the caller may see,
// most similar first. Failures are not retried.
func (s *Service) Search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error) {
	res, err := s.search(ctx, q)
	metrics.SearchRequestsTotal.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (s *Service) search(ctx context.Context, q domain.SearchQuery) (domain.SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return domain.SearchResult{}, domain.ErrInvalidQuery
	}
	k := q.K
	if k <= 0 {
		k = domain.DefaultK
	}

	plan, err := s.policy.Plan(q.CallerDepartment, k)
	if err != nil {
		return domain.SearchResult{}, err
	}

	emb, err := s.embed.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("Query embedding failed", zap.Error(err))
		return domain.SearchResult{}, fmt.Errorf("embed query: %w: %w", err, domain.ErrSearchUnavailable)
	}

	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	hits, err := s.repo.SearchKNN(callCtx, emb.Embedding, plan.Department, plan.Fetch)
	if err != nil {
		s.logger.Warn("Index query failed", zap.Error(err))
		return domain.SearchResult{}, fmt.Errorf("knn: %w: %w", err, domain.ErrSearchUnavailable)
	}

	slices.SortStableFunc(hits, func(a, b domain.Hit) int { return cmp.Compare(b.Score, a.Score) })
	hits = s.policy.Apply(q.CallerDepartment, hits, k)

	size, err := s.counter.Count(callCtx)
	if err != nil {
		s.logger.Warn("Index count failed", zap.Error(err))
		return domain.SearchResult{}, fmt.Errorf("count: %w: %w", err, domain.ErrSearchUnavailable)
	}

	if hits == nil {
		hits = []domain.Hit{}
	}
	return domain.SearchResult{Hits: hits, IndexSize: size}, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, domain.ErrScopeRequired):
		return "scope_required"
	case errors.Is(err, domain.ErrSearchUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
