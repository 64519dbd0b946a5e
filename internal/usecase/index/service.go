// Package index turns transformed artifacts into searchable documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
	"github.com/kailas-cloud/docsearch/internal/metrics"
)

// Config holds index worker settings.
type Config struct {
	// RawBucket is where source objects live; used to verify artifact document IDs.
	RawBucket     string
	DepartmentTag string
	Dimensions    int
	// Timeout bounds each object store read and index write.
	Timeout time.Duration
}

// Service is the index worker.
type Service struct {
	artifacts ArtifactReader
	repo      Repository
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an index worker.
func New(artifacts ArtifactReader, repo Repository, cfg Config, logger *zap.Logger) *Service {
	if cfg.DepartmentTag == "" {
		cfg.DepartmentTag = domain.DefaultDepartmentTag
	}
	return &Service{artifacts: artifacts, repo: repo, cfg: cfg, logger: logger, now: time.Now}
}

// OnArtifactCreated indexes one artifact. Reprocessing the same artifact upserts the same
// document. Malformed artifacts come back as ErrMalformedArtifact and must not be retried;
// ErrIndexUnavailable and other transient errors may be.
func (s *Service) OnArtifactCreated(ctx context.Context, ref domain.ObjectRef) error {
	log := s.logger.With(zap.String("object_key", ref.Key), zap.String("bucket", ref.Bucket))

	doc, err := s.load(ctx, ref)
	if err != nil {
		if domain.IsMalformed(err) {
			metrics.IndexUpsertsTotal.WithLabelValues("skipped").Inc()
			log.Error("Artifact skipped", zap.Error(err))
		} else {
			metrics.IndexUpsertsTotal.WithLabelValues("failed").Inc()
		}
		return err
	}
	log = log.With(zap.String("document_id", doc.ID), zap.String("department", doc.Department.String()))

	if err := s.write(ctx, doc); err != nil {
		metrics.IndexUpsertsTotal.WithLabelValues("failed").Inc()
		log.Warn("Index write failed", zap.Error(err))
		return err
	}

	metrics.IndexUpsertsTotal.WithLabelValues("indexed").Inc()
	log.Info("Document indexed")
	return nil
}

func (s *Service) load(ctx context.Context, ref domain.ObjectRef) (domain.IndexedDocument, error) {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	obj, err := s.artifacts.Get(callCtx, ref.Bucket, ref.Key)
	if errors.Is(err, blob.ErrNotFound) {
		return domain.IndexedDocument{}, fmt.Errorf("artifact %s: %w: %w", ref, domain.ErrObjectNotFound, domain.ErrMalformedArtifact)
	}
	if err != nil {
		if domain.IsTransient(err) {
			return domain.IndexedDocument{}, fmt.Errorf("read artifact %s: %w", ref, err)
		}
		return domain.IndexedDocument{}, fmt.Errorf("read artifact %s: %w: %w", ref, err, domain.ErrObjectStoreUnavailable)
	}

	a, err := domain.DecodeArtifact(obj.Body)
	if err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("artifact %s: %w", ref, err)
	}
	if err := a.Validate(s.cfg.Dimensions); err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("artifact %s: %w", ref, err)
	}
	if err := s.verify(ref, obj, &a); err != nil {
		return domain.IndexedDocument{}, fmt.Errorf("artifact %s: %w", ref, err)
	}
	return a.Document(s.now()), nil
}

// verify cross-checks the artifact body against its object metadata and key.
func (s *Service) verify(ref domain.ObjectRef, obj *blob.Object, a *domain.TransformedArtifact) error {
	if tag, ok := obj.Tags[s.cfg.DepartmentTag]; ok {
		if dept, err := domain.NewDepartment(tag); err != nil || dept != a.Department {
			return fmt.Errorf("%w: department tag %q does not match body %q",
				domain.ErrMalformedArtifact, tag, a.Department)
		}
	}
	if ref.Key != domain.ArtifactKey(a.SourceKey) {
		return fmt.Errorf("%w: key does not match source key %q", domain.ErrMalformedArtifact, a.SourceKey)
	}
	if s.cfg.RawBucket != "" && a.SourceDocumentID != domain.DocumentID(s.cfg.RawBucket, a.SourceKey) {
		return fmt.Errorf("%w: document id %s does not match source %s/%s",
			domain.ErrMalformedArtifact, a.SourceDocumentID, s.cfg.RawBucket, a.SourceKey)
	}
	return nil
}

func (s *Service) write(ctx context.Context, doc domain.IndexedDocument) error {
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.repo.EnsureIndex(callCtx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	if err := s.repo.Upsert(callCtx, doc); err != nil {
		return fmt.Errorf("upsert %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}
