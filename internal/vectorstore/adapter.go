// Package vectorstore defines the collection adapter contract every vector
// database backend implements, and the registry that resolves backends by
// name.
//
// Backend differences never leak past the Adapter and Handle interfaces:
// filter syntax is hidden behind the filter.Visitor each backend implements,
// auth and transport are hidden behind the factory, and index-parameter
// quirks are hidden behind the hook methods. The retrieval and knowledge
// layers see one contract regardless of which backend is configured.
package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackendConfig is the resolved configuration for one backend, supplied at
// startup. The core never parses configuration files; the config package
// maps its own types into this struct.
type BackendConfig struct {
	// Backend is the registry key: "memory", "chromem", "qdrant", "redis".
	Backend string

	// Endpoint is the backend address (host:port for qdrant and redis).
	Endpoint string

	// APIKey authenticates against backends that require it.
	APIKey string

	// Path is the storage directory for embedded backends.
	Path string

	// Timeout bounds each remote call.
	Timeout time.Duration

	// MaxRetries and RetryBackoff tune transient-error retries.
	MaxRetries   int
	RetryBackoff time.Duration

	// UseTLS enables transport encryption where the backend supports it.
	UseTLS bool
}

// Adapter is a bound connection to one backend. Instances move through
// Unbound -> Binding|Creating -> Bound per collection; the Binder collapses
// concurrent first uses to a single winner.
type Adapter interface {
	// EnsureCollection loads the named collection if it exists remotely,
	// otherwise creates it from the schema. Idempotent: calling twice with
	// the same schema returns an equivalent handle and never issues a
	// second create.
	EnsureCollection(ctx context.Context, schema CollectionSchema) (Handle, error)

	// DropCollection removes the named collection and every record in it.
	// Dropping an absent collection is a no-op. Collections are never
	// dropped implicitly; this is the administrative path only.
	DropCollection(ctx context.Context, name string) error

	// Close releases the adapter's connections. Handles obtained from it
	// become invalid.
	Close() error

	Hooks
}

// Handle is a bound collection. All methods are safe for concurrent use; the
// backend, not this layer, serializes writes.
type Handle interface {
	// Name returns the bound collection name.
	Name() string

	// Upsert overwrites records by id. Best-effort batch: per-id failures
	// are reported in the BatchResult, succeeded ids stay written.
	Upsert(ctx context.Context, records []Record) (BatchResult, error)

	// Get fetches one record by id, ErrNotFound when absent. Dense vectors
	// are not returned by every backend; callers needing vectors re-embed.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes records by ids or by filter, best-effort.
	Delete(ctx context.Context, spec DeleteSpec) (BatchResult, error)

	// Count returns the number of records matching the filter. A nil filter
	// counts everything. Count and Query compile the filter through the
	// same visitor, so they always agree on the selected set.
	Count(ctx context.Context, f Filter) (int64, error)

	// Query scores records of the spec's kind against the spec's vector and
	// returns up to TopK hits, best score first.
	Query(ctx context.Context, spec QuerySpec) ([]Hit, error)

	// Aggregate computes grouped counts over records matching the filter.
	Aggregate(ctx context.Context, f Filter, spec AggregateSpec) (AggregateResult, error)
}

// Hooks are the backend-tunable extension points. BaseHooks provides the
// passthrough defaults; a backend embeds it and overrides what it must.
type Hooks interface {
	// SanitizeScalarIndexFields filters the scalar fields a backend can
	// actually index. Unindexable fields stay in the payload, just without
	// an index.
	SanitizeScalarIndexFields(fields []ScalarField) []ScalarField

	// BuildDefaultIndexMeta picks index parameters for a new collection.
	BuildDefaultIndexMeta(schema CollectionSchema) IndexMeta
}

// BaseHooks is the no-op hook implementation.
type BaseHooks struct{}

// SanitizeScalarIndexFields passes every field through unchanged.
func (BaseHooks) SanitizeScalarIndexFields(fields []ScalarField) []ScalarField {
	return fields
}

// BuildDefaultIndexMeta selects a flat index; backends with ANN support
// override.
func (BaseHooks) BuildDefaultIndexMeta(_ CollectionSchema) IndexMeta {
	return IndexMeta{Kind: "flat"}
}

// Factory builds an adapter from resolved backend config.
type Factory func(cfg BackendConfig, logger *zap.Logger) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register installs a backend factory under a name. Called from package init
// of each backend file; registering a duplicate name panics because it is a
// wiring bug, not a runtime condition.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("vectorstore: backend %q registered twice", name))
	}
	registry[name] = factory
}

// New resolves the configured backend and builds its adapter. Unknown names
// fail with ErrUnsupportedBackend listing the registered backends.
func New(cfg BackendConfig, logger *zap.Logger) (Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	registryMu.RLock()
	factory, ok := registry[cfg.Backend]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnsupportedBackend, cfg.Backend, strings.Join(Backends(), ", "))
	}
	return factory(cfg, logger)
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
