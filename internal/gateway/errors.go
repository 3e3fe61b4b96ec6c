package gateway

import "errors"

// Sentinel errors for model calls.
var (
	// ErrModelUnavailable is returned when a provider call exhausted its
	// retry budget. The failing item fails; other requests are unaffected.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrDimensionMismatch is returned when a provider returns vectors of a
	// different dimension than configured. Vectors are never truncated or
	// padded to fit.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrTimeout is returned when a caller's deadline elapses while queued
	// at the admission gate or in flight.
	ErrTimeout = errors.New("model call timed out")

	// ErrNoCapability is returned when an operation requires a capability
	// with no configured provider and no fallback.
	ErrNoCapability = errors.New("capability not configured")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input")

	// ErrInvalidConfig indicates invalid gateway configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)
