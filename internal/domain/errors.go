package domain

import "errors"

// Sentinel errors shared across features and adapters. Handlers translate
// these into HTTP status codes; batch operations absorb them into per-item
// outcome reports instead of propagating.
var (
	// ErrValidation marks a malformed request: missing required field,
	// unknown provider or source type, bad collection name. Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown raw document or origin document id.
	ErrNotFound = errors.New("not found")

	// ErrConnectionNotFound marks an unknown connection id.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrScopeDenied marks an operation attempted without the required
	// granted scope. Requires explicit re-consent, not a retry.
	ErrScopeDenied = errors.New("scope denied")

	// ErrAdapterUnavailable marks a transient remote failure (network,
	// auth, quota) on a provider or origin source.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrWriteFailed marks a rejected vector upsert or delete.
	ErrWriteFailed = errors.New("write failed")

	// ErrEmbeddingFailed marks an embedding engine failure. Query calls
	// fail fast on this one.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrAllSourcesUnavailable means every fan-out target of a
	// multi-search failed. Partial failures never raise this.
	ErrAllSourcesUnavailable = errors.New("all sources unavailable")

	// ErrInvalidCollectionType marks an attempt to vector-search an
	// origin (non-semantic) collection.
	ErrInvalidCollectionType = errors.New("invalid collection type")
)
