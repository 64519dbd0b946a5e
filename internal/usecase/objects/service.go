// Package objects stores raw uploads on behalf of authenticated callers and lists them.
package objects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/docsearch/internal/blob"
	"github.com/kailas-cloud/docsearch/internal/domain"
)

var (
	// ErrInvalidKey signals an empty or unsafe object key.
	ErrInvalidKey = errors.New("invalid object key")
	// ErrTooLarge signals a body over the upload limit.
	ErrTooLarge = errors.New("object too large")
)

// UploadInput is one upload from an authenticated caller.
type UploadInput struct {
	Key         string
	Body        []byte
	ContentType string
	Department  domain.Department
}

// Service writes to and lists the raw bucket.
type Service struct {
	store         Store
	bucket        string
	departmentTag string
	maxBytes      int64
}

// New creates a service over bucket. maxBytes 0 disables the size limit.
func New(store Store, bucket, departmentTag string, maxBytes int64) *Service {
	if departmentTag == "" {
		departmentTag = domain.DefaultDepartmentTag
	}
	return &Service{store: store, bucket: bucket, departmentTag: departmentTag, maxBytes: maxBytes}
}

// Upload stores the body tagged with the caller's department. The object store emits the
// creation event that starts ingestion.
func (s *Service) Upload(ctx context.Context, in UploadInput) (blob.ObjectInfo, error) {
	if err := validateKey(in.Key); err != nil {
		return blob.ObjectInfo{}, err
	}
	if in.Department.IsZero() {
		return blob.ObjectInfo{}, domain.ErrScopeRequired
	}
	if s.maxBytes > 0 && int64(len(in.Body)) > s.maxBytes {
		return blob.ObjectInfo{}, fmt.Errorf("%d bytes, limit %d: %w", len(in.Body), s.maxBytes, ErrTooLarge)
	}

	info, err := s.store.Put(ctx, blob.PutInput{
		Bucket:      s.bucket,
		Key:         in.Key,
		Body:        in.Body,
		ContentType: in.ContentType,
		Tags:        map[string]string{s.departmentTag: in.Department.String()},
	})
	if err != nil {
		return blob.ObjectInfo{}, fmt.Errorf("put %s: %w", in.Key, err)
	}
	return info, nil
}

// List returns raw objects whose key starts with prefix.
func (s *Service) List(ctx context.Context, prefix string) ([]blob.ObjectInfo, error) {
	infos, err := s.store.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.bucket, err)
	}
	return infos, nil
}

func validateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("%w: leading slash", ErrInvalidKey)
	case len(key) > 1024:
		return fmt.Errorf("%w: longer than 1024 bytes", ErrInvalidKey)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return fmt.Errorf("%w: relative segment", ErrInvalidKey)
		}
	}
	return nil
}
