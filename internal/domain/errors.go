package domain

import (
	"errors"
	"fmt"
)

// Failure classes. Every pipeline error wraps exactly one of them.
var (
	// ErrTransient signals a failure that may succeed on redelivery.
	ErrTransient = errors.New("transient failure")
	// ErrMalformedInput signals input that no amount of retrying will fix.
	ErrMalformedInput = errors.New("malformed input")
)

// Pipeline errors, transient.
var (
	// ErrQuotaExceeded signals that the extraction service throttled the call.
	ErrQuotaExceeded = fmt.Errorf("extraction quota exceeded: %w", ErrTransient)
	// ErrExtractionUnavailable signals a network or 5xx failure of the extraction service.
	ErrExtractionUnavailable = fmt.Errorf("extraction service unavailable: %w", ErrTransient)
	// ErrEmbeddingServiceUnavailable signals an embedding provider failure.
	ErrEmbeddingServiceUnavailable = fmt.Errorf("embedding service unavailable: %w", ErrTransient)
	// ErrIndexUnavailable signals that the search index rejected or could not take a write.
	ErrIndexUnavailable = fmt.Errorf("search index unavailable: %w", ErrTransient)
	// ErrObjectStoreUnavailable signals an object store read or write failure.
	ErrObjectStoreUnavailable = fmt.Errorf("object store unavailable: %w", ErrTransient)
)

// Pipeline errors, malformed.
var (
	// ErrExtractionFailed signals an unsupported or corrupt document.
	ErrExtractionFailed = fmt.Errorf("extraction failed: %w", ErrMalformedInput)
	// ErrEmptyText signals that extraction produced no text to embed.
	ErrEmptyText = fmt.Errorf("extracted text is empty: %w", ErrMalformedInput)
	// ErrMissingDepartment signals an object without a department tag.
	ErrMissingDepartment = fmt.Errorf("department is missing: %w", ErrMalformedInput)
	// ErrObjectNotFound signals that the referenced object does not exist.
	ErrObjectNotFound = fmt.Errorf("object not found: %w", ErrMalformedInput)
	// ErrMalformedArtifact signals a transformed artifact that cannot be indexed.
	ErrMalformedArtifact = fmt.Errorf("malformed artifact: %w", ErrMalformedInput)
	// ErrMalformedEnvelope signals a queue message that cannot be decoded.
	ErrMalformedEnvelope = fmt.Errorf("malformed envelope: %w", ErrMalformedInput)
)

// Query errors.
var (
	// ErrInvalidQuery signals an empty or whitespace-only query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrScopeRequired signals a caller without a department under the filter policy.
	ErrScopeRequired = errors.New("caller department is required")
	// ErrSearchUnavailable signals an embedding or index failure during search.
	ErrSearchUnavailable = errors.New("search unavailable")
	// ErrVectorDimMismatch signals a vector with the wrong number of components.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsMalformed reports whether err stems from bad input.
func IsMalformed(err error) bool { return errors.Is(err, ErrMalformedInput) }
