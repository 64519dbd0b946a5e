// Package pipeline assembles the ingestion-to-index stages and the search service around
// one object store, one queue and one search index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
	"github.com/kailas-cloud/docsearch/internal/domain/routing"
	"github.com/kailas-cloud/docsearch/internal/queue"
	"github.com/kailas-cloud/docsearch/internal/usecase/extract"
	"github.com/kailas-cloud/docsearch/internal/usecase/index"
	"github.com/kailas-cloud/docsearch/internal/usecase/search"
	"github.com/kailas-cloud/docsearch/internal/usecase/trigger"
)

// ObjectStore is an object store that emits creation events.
type ObjectStore interface {
	blob.Store
	Subscribe(n blob.Notifier)
}

// Index is both sides of the search index.
type Index interface {
	index.Repository
	search.Repository
	search.Counter
}

// Deps are the external collaborators.
type Deps struct {
	Objects   ObjectStore
	Queue     queue.Queue
	Extractor domain.Extractor
	// DocumentEmbedder vectorizes extracted text; QueryEmbedder vectorizes search queries.
	DocumentEmbedder domain.Embedder
	QueryEmbedder    domain.Embedder
	Index            Index
}

// Config holds stage settings.
type Config struct {
	Routes        *routing.Table
	Extract       extract.Config
	Index         index.Config
	Trigger       trigger.Config
	Policy        access.Policy
	SearchTimeout time.Duration
}

// Pipeline owns the running stages.
type Pipeline struct {
	worker     *extract.Worker
	indexer    *index.Service
	dispatcher *trigger.Dispatcher
	search     *search.Service
	index      Index
	logger     *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	errMu  sync.Mutex
	runErr error
}

// New wires the stages and subscribes the trigger to the object store.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.Routes == nil {
		return nil, errors.New("routing table is required")
	}

	indexer := index.New(deps.Objects, deps.Index, cfg.Index, logger.Named("index"))
	dispatcher, err := trigger.NewDispatcher(
		cfg.Routes, trigger.NewEnqueuer(deps.Queue), indexer, cfg.Trigger, logger.Named("trigger"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	deps.Objects.Subscribe(dispatcher)

	queryEmbedder := deps.QueryEmbedder
	if queryEmbedder == nil {
		queryEmbedder = deps.DocumentEmbedder
	}

	return &Pipeline{
		worker: extract.New(
			deps.Queue, deps.Objects, deps.Extractor, deps.DocumentEmbedder, cfg.Extract, logger.Named("extract"),
		),
		indexer:    indexer,
		dispatcher: dispatcher,
		search: search.New(
			deps.Index, deps.Index, queryEmbedder, cfg.Policy, cfg.SearchTimeout, logger.Named("search"),
		),
		index:  deps.Index,
		logger: logger,
	}, nil
}

func (d Deps) validate() error {
	switch {
	case d.Objects == nil:
		return errors.New("object store is required")
	case d.Queue == nil:
		return errors.New("queue is required")
	case d.Extractor == nil:
		return errors.New("extractor is required")
	case d.DocumentEmbedder == nil:
		return errors.New("embedder is required")
	case d.Index == nil:
		return errors.New("search index is required")
	}
	return nil
}

// EnsureIndex creates the search index if it is absent.
func (p *Pipeline) EnsureIndex(ctx context.Context) error {
	if err := p.index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	return nil
}

// Start runs the extraction worker in the background until Stop.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.worker.Run(ctx); err != nil {
			p.logger.Error("Extraction worker stopped", zap.Error(err))
			p.errMu.Lock()
			p.runErr = err
			p.errMu.Unlock()
		}
	}()
}

// Stop halts the worker, waits for in-flight index jobs and releases the pool.
// Unsettled queue messages are left for redelivery.
func (p *Pipeline) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.dispatcher.Close()

	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.runErr
}

// WaitIndexed blocks until every submitted index job has finished.
func (p *Pipeline) WaitIndexed() { p.dispatcher.Wait() }

// Search returns the query service.
func (p *Pipeline) Search() *search.Service { return p.search }

// Worker returns the extraction worker.
func (p *Pipeline) Worker() *extract.Worker { return p.worker }

// Indexer returns the index worker.
func (p *Pipeline) Indexer() *index.Service { return p.indexer }
