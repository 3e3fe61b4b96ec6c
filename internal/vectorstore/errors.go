package vectorstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for adapter operations.
var (
	// ErrUnsupportedBackend is returned when resolving an adapter by an
	// unregistered backend name.
	ErrUnsupportedBackend = errors.New("unsupported backend")

	// ErrDimensionMismatch is returned when a record's dense vector length
	// differs from the collection's configured dimension. Vectors are never
	// truncated or padded.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned by Get for an unknown record id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidRecord indicates a record that cannot be stored (empty id,
	// missing vector for the collection's configured kinds).
	ErrInvalidRecord = errors.New("invalid record")

	// ErrClosed is returned by operations on a closed adapter.
	ErrClosed = errors.New("adapter closed")
)

// ConfigError reports a missing or invalid backend configuration field.
// Fatal at startup for that backend only.
type ConfigError struct {
	Backend string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("backend %q: config field %q: %s", e.Backend, e.Field, e.Reason)
}

// NewConfigError builds a ConfigError.
func NewConfigError(backend, field, reason string) *ConfigError {
	return &ConfigError{Backend: backend, Field: field, Reason: reason}
}

// BatchFailure records one failed id inside a best-effort batch.
type BatchFailure struct {
	ID  string
	Err error
}

// BatchError carries per-id outcomes of a partially failed batch. Succeeded
// ids are already visible; nothing is rolled back.
type BatchError struct {
	Op       string
	Failures []BatchFailure
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}
	sort.Strings(ids)
	return fmt.Sprintf("%s: %d of batch failed: %s", e.Op, len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap exposes the first underlying failure so errors.Is can match the
// dominant cause (e.g. ErrDimensionMismatch).
func (e *BatchError) Unwrap() error {
	if len(e.Failures) == 0 {
		return nil
	}
	return e.Failures[0].Err
}
