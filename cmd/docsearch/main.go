package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob/badger"
	"github.com/kailas-cloud/docsearch/internal/config"
	"github.com/kailas-cloud/docsearch/internal/db/valkey"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/domain/access"
	logpkg "github.com/kailas-cloud/docsearch/internal/logger"
	"github.com/kailas-cloud/docsearch/internal/metrics"
	"github.com/kailas-cloud/docsearch/internal/pipeline"
	"github.com/kailas-cloud/docsearch/internal/queue"
	"github.com/kailas-cloud/docsearch/internal/queue/jetstream"
	"github.com/kailas-cloud/docsearch/internal/queue/memory"
	documentrepo "github.com/kailas-cloud/docsearch/internal/repository/document"
	"github.com/kailas-cloud/docsearch/internal/repository/embcache"
	"github.com/kailas-cloud/docsearch/internal/repository/qdrant"
	searchrepo "github.com/kailas-cloud/docsearch/internal/repository/search"
	"github.com/kailas-cloud/docsearch/internal/retry"
	chiTransport "github.com/kailas-cloud/docsearch/internal/transport/chi"
	"github.com/kailas-cloud/docsearch/internal/transport/extraction"
	"github.com/kailas-cloud/docsearch/internal/transport/inference"
	openaiEmb "github.com/kailas-cloud/docsearch/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/docsearch/internal/usecase/embedding"
	"github.com/kailas-cloud/docsearch/internal/usecase/extract"
	healthuc "github.com/kailas-cloud/docsearch/internal/usecase/health"
	"github.com/kailas-cloud/docsearch/internal/usecase/index"
	objectsuc "github.com/kailas-cloud/docsearch/internal/usecase/objects"
	"github.com/kailas-cloud/docsearch/internal/usecase/trigger"
	"github.com/kailas-cloud/docsearch/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docsearch",
		zap.String("version", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("queue_driver", cfg.Queue.Driver),
		zap.String("access_policy", cfg.Search.AccessPolicy),
	)

	// Register metrics explicitly
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	ctx := context.Background()

	objects, err := badger.Open(badger.Config{
		Path:     cfg.ObjectStore.Path,
		InMemory: cfg.ObjectStore.InMemory,
	}, logger.Named("objectstore"))
	if err != nil {
		logger.Fatal("Failed to open object store", zap.Error(err))
	}
	defer func() { _ = objects.Close() }()

	// The key-value store backs the search index (valkey backend) and the embedding cache.
	var kv *valkey.Store
	if len(cfg.Database.Addrs) > 0 {
		kv, err = valkey.NewStore(valkey.Config{Addrs: cfg.Database.Addrs, Password: cfg.Database.Password})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer kv.Close()
		if err := kv.WaitForReady(ctx, config.Seconds(cfg.Database.ReadinessTimeout)); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))
	}

	vec := cfg.VectorConfig()
	idx, indexPing, closeIndex, err := buildIndex(cfg, kv, vec)
	if err != nil {
		logger.Fatal("Failed to create search index", zap.Error(err))
	}
	defer closeIndex()

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to create ingestion queue", zap.Error(err))
	}
	defer func() { _ = q.Close() }()

	docEmbedder := buildEmbedder(cfg, vec.DocumentInstruction, kv, logger)
	queryEmbedder := buildEmbedder(cfg, vec.QueryInstruction, kv, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", vec.Model),
		zap.Int("dimensions", vec.Dimensions),
	)

	routes, err := cfg.RoutingTable()
	if err != nil {
		logger.Fatal("Invalid routing table", zap.Error(err))
	}
	mode, err := access.ParseMode(cfg.Search.AccessPolicy)
	if err != nil {
		logger.Fatal("Invalid access policy", zap.Error(err))
	}

	p, err := pipeline.New(pipeline.Deps{
		Objects:          objects,
		Queue:            q,
		Extractor:        buildExtractor(cfg),
		DocumentEmbedder: docEmbedder,
		QueryEmbedder:    queryEmbedder,
		Index:            idx,
	}, pipeline.Config{
		Routes: routes,
		Extract: extract.Config{
			TransformedBucket:    cfg.ObjectStore.TransformedBucket,
			DepartmentTag:        cfg.ObjectStore.DepartmentTag,
			TextField:            cfg.Extraction.TextField,
			Dimensions:           vec.Dimensions,
			ExtractTimeout:       config.Seconds(cfg.Extraction.TimeoutSec),
			ReadTimeout:          config.Seconds(cfg.ObjectStore.ReadTimeoutSec),
			WriteTimeout:         config.Seconds(cfg.ObjectStore.WriteTimeoutSec),
			RatePerSec:           cfg.Extraction.RatePerSec,
			Burst:                cfg.Extraction.Burst,
			QuotaBackoff:         retry.Opts{InitialWait: config.Seconds(cfg.Queue.QuotaBackoffSec), MaxWait: config.Seconds(cfg.Queue.QuotaBackoffMaxSec)},
			MaxDeliveries:        cfg.Queue.MaxDeliveries,
			MaxMalformedAttempts: cfg.Queue.MaxMalformedAttempts,
		},
		Index: index.Config{
			RawBucket:     cfg.ObjectStore.RawBucket,
			DepartmentTag: cfg.ObjectStore.DepartmentTag,
			Dimensions:    vec.Dimensions,
			Timeout:       config.Seconds(cfg.Index.TimeoutSec),
		},
		Trigger: trigger.Config{
			IndexWorkers: cfg.Pipeline.IndexWorkers,
			IndexRetry:   retry.Opts{MaxAttempts: cfg.Pipeline.IndexRetries, InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true},
			PublishRetry: retry.Default,
		},
		Policy:        access.NewPolicy(mode, cfg.Search.RerankCandidates),
		SearchTimeout: config.Seconds(cfg.Index.TimeoutSec),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to assemble pipeline", zap.Error(err))
	}

	// The index is also created lazily before the first write.
	if err := p.EnsureIndex(ctx); err != nil {
		logger.Warn("Search index not created at startup", zap.Error(err))
	}

	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	p.Start(runCtx)

	healthSvc := healthuc.New(indexPing, embeddingHealth{docEmbedder}).
		WithQueue(q).
		WithObjectStore(objects)
	objectsSvc := objectsuc.New(
		objects, cfg.ObjectStore.RawBucket, cfg.ObjectStore.DepartmentTag, cfg.HTTP.MaxUploadBytes,
	)

	server := chiTransport.NewServer(p.Search(), objectsSvc, healthSvc, chiTransport.Options{
		APIKeys:          cfg.Auth.APIKeys,
		DepartmentHeader: cfg.Auth.DepartmentHeader,
		MaxUploadBytes:   cfg.HTTP.MaxUploadBytes,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  config.Seconds(cfg.HTTP.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.HTTP.WriteTimeoutSec),
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	stopRun()
	if err := p.Stop(); err != nil {
		logger.Error("Pipeline stopped with error", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildIndex selects the search index backend. The returned pinger feeds the health check.
func buildIndex(
	cfg config.Config, kv *valkey.Store, vec domain.VectorConfig,
) (pipeline.Index, healthuc.Pinger, func(), error) {
	switch cfg.Index.Backend {
	case "qdrant":
		st, err := qdrant.New(cfg.Index.QdrantAddr, cfg.Index.QdrantCollection, vec)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("qdrant: %w", err)
		}
		return st, st, func() { _ = st.Close() }, nil
	default:
		if kv == nil {
			return nil, nil, nil, errors.New("valkey backend requires database.addrs")
		}
		idx := pipeline.NewKVIndex(documentrepo.New(kv, vec), searchrepo.New(kv, vec))
		return idx, kv, func() {}, nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	visibility := config.Seconds(cfg.Queue.VisibilityTimeoutSec)
	if cfg.Queue.Driver != "jetstream" {
		return memory.New(visibility), nil
	}
	q, err := jetstream.Connect(ctx, cfg.Queue.URL, jetstream.Config{
		Stream:     cfg.Queue.Stream,
		Subject:    cfg.Queue.Subject,
		Consumer:   cfg.Queue.Consumer,
		Visibility: visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return q, nil
}

// buildExtractor routes plain text to the local decoder when enabled, everything else to
// the extraction service.
func buildExtractor(cfg config.Config) domain.Extractor {
	var remote domain.Extractor
	if cfg.Extraction.URL != "" {
		remote = extraction.NewClient(cfg.Extraction.URL, cfg.Extraction.APIKey, nil)
	}
	if !cfg.Extraction.LocalPlainText {
		return remote
	}
	return extraction.NewRouter(remote).
		Handle("text/plain", extraction.PlainText{}).
		Handle(".txt", extraction.PlainText{})
}

// buildEmbedder assembles the decorator chain: provider -> Cached -> Instrumented -> Instruction
func buildEmbedder(cfg config.Config, instruction string, kv *valkey.Store, logger *zap.Logger) domain.Embedder {
	ec := cfg.Embedding

	var base domain.Embedder
	switch ec.Provider {
	case "inference":
		base = inference.New(inference.Config{
			URL:      ec.InferenceURL,
			APIKey:   ec.APIKey,
			Model:    ec.Model,
			Provider: ec.Provider,
		})
	default:
		base = openaiEmb.NewEmbedder(&openaiEmb.Config{
			APIKey:     ec.APIKey,
			BaseURL:    ec.BaseURL,
			Model:      ec.Model,
			Dimensions: ec.Dimensions,
			Provider:   ec.Provider,
			Logger:     logger,
		})
	}

	embedder := base
	if kv != nil && ec.CacheTTLSec > 0 {
		embedder = embcache.New(
			base, kv, ec.Model, config.Seconds(ec.CacheTTLSec), metrics.EmbeddingCacheTotal, logger,
		)
	}

	embedder = embeddinguc.NewInstrumentedEmbedder(
		embedder, ec.Provider, ec.Model, config.Seconds(ec.TimeoutSec), logger,
	)

	// Instruction prefix (outermost, so the cache key includes it)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}
	return embedder
}

// embeddingHealth adapts domain.Embedder to health.EmbeddingChecker.
type embeddingHealth struct {
	embedder domain.Embedder
}

func (h embeddingHealth) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}
