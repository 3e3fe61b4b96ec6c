// Package retrieval coordinates hybrid dense/sparse search across tenant
// collections: one embed per query, per-kind backend queries, score fusion,
// and an optional rerank pass over the fused head.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// Fusion strategies.
const (
	StrategyLinear = "linear"
	StrategyRRF    = "rrf"
)

// rrfK is the reciprocal rank fusion constant.
const rrfK = 60

// ErrReservedField indicates a caller filter naming a tenant field.
var ErrReservedField = errors.New("filter may not reference tenant fields")

// CollectionResolver resolves a scope and record kind to a bound handle.
// *tenant.Registry satisfies it.
type CollectionResolver interface {
	Collection(ctx context.Context, scope tenant.Scope, kind string) (vectorstore.Handle, error)
}

// Config holds coordinator settings.
type Config struct {
	// Strategy selects how dense and sparse scores fuse: linear (default)
	// or rrf.
	Strategy string

	// SparseWeight scales the sparse contribution under linear fusion.
	// Zero disables the sparse side entirely: results are then identical
	// to dense-only retrieval.
	SparseWeight float32

	// RerankWindow caps how many fused candidates are reranked.
	RerankWindow int

	// Rerank enables the rerank pass.
	Rerank bool
}

func (c *Config) applyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyLinear
	}
	if c.RerankWindow <= 0 {
		c.RerankWindow = 50
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategyLinear, StrategyRRF:
	default:
		return fmt.Errorf("unknown fusion strategy %q", c.Strategy)
	}
	if c.SparseWeight < 0 {
		return fmt.Errorf("sparse weight cannot be negative")
	}
	return nil
}

// Options selects what one search runs against.
type Options struct {
	// Kinds are the record kinds to search; at least one is required.
	Kinds []string

	// Filter is the caller filter, ANDed with the implicit tenant scope
	// filter. It may not reference tenant fields.
	Filter filter.Expr

	// TopK is the number of results to return.
	TopK int
}

// Result is one fused search hit.
type Result struct {
	vectorstore.Hit

	// Kind is the record kind of the collection the hit came from.
	Kind string

	// RerankScore is set when the rerank pass ran over this hit.
	RerankScore float32
}

// Coordinator runs hybrid searches. The sparse encoder is optional; without
// it retrieval is dense-only regardless of configuration.
type Coordinator struct {
	cfg      Config
	gw       *gateway.Gateway
	sparse   *gateway.BM25Encoder
	resolver CollectionResolver
	logger   *zap.Logger
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg Config, gw *gateway.Gateway, sparse *gateway.BM25Encoder, resolver CollectionResolver, logger *zap.Logger) (*Coordinator, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("collection resolver required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:      cfg,
		gw:       gw,
		sparse:   sparse,
		resolver: resolver,
		logger:   logger.Named("retrieval"),
	}, nil
}

// Search runs one query. Any backend or model error mid-flight fails the
// whole search; a ranked list is never silently truncated.
func (c *Coordinator) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	scope, err := tenant.ScopeFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, fmt.Errorf("%w: query", gateway.ErrEmptyInput)
	}
	if len(opts.Kinds) == 0 {
		return nil, fmt.Errorf("at least one record kind required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	scoped, err := c.scopedFilter(scope, opts.Filter)
	if err != nil {
		return nil, err
	}

	// Embed once, reuse across every kind.
	dense, err := c.gw.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	var sparseVec vectorstore.SparseVector
	if c.hybrid() {
		sparseVec = vectorstore.SparseVector(c.sparse.EncodeQuery(query))
	}

	// Fetch enough per kind to fill the rerank window even after fusion
	// dedupes nothing.
	fetchK := opts.TopK
	if c.cfg.Rerank && c.cfg.RerankWindow > fetchK {
		fetchK = c.cfg.RerankWindow
	}

	pool := make(map[string]*Result)
	for _, kind := range opts.Kinds {
		handle, err := c.resolver.Collection(ctx, scope, kind)
		if err != nil {
			return nil, fmt.Errorf("resolving %s collection: %w", kind, err)
		}

		denseHits, err := handle.Query(ctx, vectorstore.QuerySpec{
			Kind:   vectorstore.KindDense,
			Dense:  dense,
			Filter: scoped,
			TopK:   fetchK,
		})
		if err != nil {
			return nil, fmt.Errorf("dense query on %s: %w", handle.Name(), err)
		}

		var sparseHits []vectorstore.Hit
		if c.hybrid() {
			sparseHits, err = handle.Query(ctx, vectorstore.QuerySpec{
				Kind:   vectorstore.KindSparse,
				Sparse: sparseVec,
				Text:   query,
				Filter: scoped,
				TopK:   fetchK,
			})
			if err != nil {
				return nil, fmt.Errorf("sparse query on %s: %w", handle.Name(), err)
			}
		}

		c.fuse(pool, kind, denseHits, sparseHits)
	}

	fused := make([]Result, 0, len(pool))
	for _, r := range pool {
		fused = append(fused, *r)
	}
	sortResults(fused)

	if c.cfg.Rerank && len(fused) > 0 {
		fused, err = c.rerank(ctx, query, fused, opts.TopK)
		if err != nil {
			return nil, fmt.Errorf("reranking: %w", err)
		}
	}

	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}
	return fused, nil
}

// hybrid reports whether the sparse side contributes at all.
func (c *Coordinator) hybrid() bool {
	if c.sparse == nil {
		return false
	}
	if c.cfg.Strategy == StrategyLinear && c.cfg.SparseWeight == 0 {
		return false
	}
	return true
}

// scopedFilter rejects caller filters naming tenant fields, then ANDs the
// implicit scope: workspace equality plus agent membership including the
// shared agent.
func (c *Coordinator) scopedFilter(scope tenant.Scope, caller filter.Expr) (filter.Expr, error) {
	for _, f := range filter.Fields(caller) {
		if tenant.IsReservedField(f) {
			return nil, fmt.Errorf("%w: %q", ErrReservedField, f)
		}
	}

	var agent filter.Expr
	if scope.Agent == tenant.SharedAgent {
		agent = filter.Eq(tenant.FieldAgent, tenant.SharedAgent)
	} else {
		agent = filter.In(tenant.FieldAgent, scope.Agent, tenant.SharedAgent)
	}

	return filter.Normalize(filter.And(
		caller,
		filter.Eq(tenant.FieldWorkspace, scope.Workspace),
		agent,
	)), nil
}

// fuse folds one kind's hits into the shared pool.
func (c *Coordinator) fuse(pool map[string]*Result, kind string, denseHits, sparseHits []vectorstore.Hit) {
	switch c.cfg.Strategy {
	case StrategyRRF:
		for rank, h := range denseHits {
			r := poolEntry(pool, kind, h)
			r.Score += 1 / float32(rrfK+rank+1)
		}
		for rank, h := range sparseHits {
			r := poolEntry(pool, kind, h)
			r.Score += 1 / float32(rrfK+rank+1)
		}
	default: // linear
		for _, h := range denseHits {
			r := poolEntry(pool, kind, h)
			r.Score += h.Score
		}
		for _, h := range sparseHits {
			r := poolEntry(pool, kind, h)
			r.Score += c.cfg.SparseWeight * h.Score
		}
	}
}

// poolEntry returns the pool slot for a hit, creating it with a zero fused
// score on first sight.
func poolEntry(pool map[string]*Result, kind string, h vectorstore.Hit) *Result {
	if r, ok := pool[h.ID]; ok {
		return r
	}
	r := &Result{Hit: h, Kind: kind}
	r.Score = 0
	pool[h.ID] = r
	return r
}

// rerank runs the gateway rerank pass over the fused head, keeping the tail
// in fused order behind it.
func (c *Coordinator) rerank(ctx context.Context, query string, fused []Result, topK int) ([]Result, error) {
	window := c.cfg.RerankWindow
	if window > len(fused) {
		window = len(fused)
	}

	candidates := make([]gateway.Candidate, window)
	byID := make(map[string]Result, window)
	for i, r := range fused[:window] {
		candidates[i] = gateway.Candidate{ID: r.ID, Content: r.Content, Score: r.Score}
		byID[r.ID] = r
	}

	reranked, err := c.gw.Rerank(ctx, query, candidates, window)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(fused))
	for _, sc := range reranked {
		r, ok := byID[sc.ID]
		if !ok {
			continue
		}
		r.RerankScore = sc.RerankScore
		out = append(out, r)
	}
	out = append(out, fused[window:]...)
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// sortResults orders by fused score descending, ties broken by most recent
// creation then id, so identical inputs always produce identical rankings.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
}
