// Package common defines shared constants and sentinel errors used across
// MediaVault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrInternal     = errors.New("internal error")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")

	// Pool / lifecycle errors.
	ErrPoolExhausted      = errors.New("slot pool exhausted")
	ErrOwnershipViolation = errors.New("caller does not own resource")
	ErrInvalidOrder       = errors.New("order is not a permutation of active media ids")
	ErrPipelineFailure    = errors.New("processing pipeline failure")

	// Validation errors.
	ErrInvalidInput = errors.New("invalid input")

	// Backing-dependency errors (retryable by the caller).
	ErrNamespaceUnavailable = errors.New("id namespace unavailable")
	ErrStorageUnavailable   = errors.New("object storage unavailable")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
)
