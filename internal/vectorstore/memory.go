package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

func init() {
	Register("memory", func(cfg BackendConfig, logger *zap.Logger) (Adapter, error) {
		return NewMemoryAdapter(logger), nil
	})
}

// MemoryAdapter is the in-process reference backend. It implements the full
// contract with exact semantics: every filter node type, dense and sparse
// scoring, grouped aggregates. Tests and the default local setup run on it;
// the other backends are checked against its behavior.
type MemoryAdapter struct {
	BaseHooks

	logger *zap.Logger

	mu          sync.RWMutex
	collections map[string]*memoryCollection
	closed      bool

	// createCalls counts remote create operations, observable by tests
	// asserting EnsureCollection idempotence.
	createCalls atomic.Int64
}

// NewMemoryAdapter builds an empty in-process backend.
func NewMemoryAdapter(logger *zap.Logger) *MemoryAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryAdapter{
		logger:      logger.Named("vectorstore.memory"),
		collections: make(map[string]*memoryCollection),
	}
}

var _ Adapter = (*MemoryAdapter)(nil)

// EnsureCollection loads or creates the named collection.
func (a *MemoryAdapter) EnsureCollection(ctx context.Context, schema CollectionSchema) (Handle, error) {
	if err := ValidateCollectionName(schema.Name); err != nil {
		return nil, err
	}
	if schema.Vector.Dimension <= 0 {
		return nil, NewConfigError("memory", "dimension", "must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if c, ok := a.collections[schema.Name]; ok {
		return c, nil
	}
	c := &memoryCollection{
		schema:  schema,
		records: make(map[string]Record),
	}
	a.collections[schema.Name] = c
	a.createCalls.Add(1)
	a.logger.Debug("created collection",
		zap.String("collection", schema.Name),
		zap.Int("dimension", schema.Vector.Dimension))
	return c, nil
}

// CreateCalls returns how many collections have actually been created.
func (a *MemoryAdapter) CreateCalls() int64 {
	return a.createCalls.Load()
}

// DropCollection removes a collection and all its records.
func (a *MemoryAdapter) DropCollection(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	delete(a.collections, name)
	return nil
}

// Close marks the adapter unusable.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.collections = make(map[string]*memoryCollection)
	a.mu.Unlock()
	return nil
}

type memoryCollection struct {
	schema CollectionSchema

	mu      sync.RWMutex
	records map[string]Record
}

var _ Handle = (*memoryCollection)(nil)

func (c *memoryCollection) Name() string { return c.schema.Name }

func (c *memoryCollection) Upsert(ctx context.Context, records []Record) (BatchResult, error) {
	var res BatchResult
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			// Abandon the remainder: already written ids stay visible.
			res.Failed = append(res.Failed, BatchFailure{ID: rec.ID, Err: err})
			continue
		}
		if err := c.validate(rec); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: rec.ID, Err: err})
			continue
		}
		c.mu.Lock()
		c.records[rec.ID] = cloneRecord(rec)
		c.mu.Unlock()
		res.Succeeded = append(res.Succeeded, rec.ID)
	}
	return res, nil
}

func (c *memoryCollection) validate(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Dense) != c.schema.Vector.Dimension {
		return fmt.Errorf("%w: got %d, collection %q expects %d",
			ErrDimensionMismatch, len(rec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}
	if len(rec.Sparse) > 0 && !c.schema.Vector.EnableSparse {
		return fmt.Errorf("%w: sparse vector on a dense-only collection", ErrInvalidRecord)
	}
	return nil
}

func (c *memoryCollection) Get(ctx context.Context, id string) (*Record, error) {
	c.mu.RLock()
	rec, ok := c.records[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (c *memoryCollection) Delete(ctx context.Context, spec DeleteSpec) (BatchResult, error) {
	var res BatchResult
	if len(spec.IDs) > 0 {
		c.mu.Lock()
		for _, id := range spec.IDs {
			delete(c.records, id)
			res.Succeeded = append(res.Succeeded, id)
		}
		c.mu.Unlock()
		return res, nil
	}

	pred, err := c.compile(spec.Filter)
	if err != nil {
		return res, err
	}
	c.mu.Lock()
	for id, rec := range c.records {
		if pred(rec) {
			delete(c.records, id)
			res.Succeeded = append(res.Succeeded, id)
		}
	}
	c.mu.Unlock()
	return res, nil
}

func (c *memoryCollection) Count(ctx context.Context, f Filter) (int64, error) {
	pred, err := c.compile(f)
	if err != nil {
		return 0, err
	}
	var n int64
	c.mu.RLock()
	for _, rec := range c.records {
		if pred(rec) {
			n++
		}
	}
	c.mu.RUnlock()
	return n, nil
}

func (c *memoryCollection) Query(ctx context.Context, spec QuerySpec) ([]Hit, error) {
	if spec.Kind == KindSparse && !c.schema.Vector.EnableSparse {
		return nil, fmt.Errorf("%w: sparse query on a dense-only collection", ErrInvalidRecord)
	}
	if spec.Kind == KindDense && len(spec.Dense) != c.schema.Vector.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection %q expects %d",
			ErrDimensionMismatch, len(spec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}
	pred, err := c.compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	var hits []Hit
	c.mu.RLock()
	for _, rec := range c.records {
		if !pred(rec) {
			continue
		}
		var score float32
		switch spec.Kind {
		case KindSparse:
			score = sparseDot(spec.Sparse, rec.Sparse)
			if score == 0 {
				continue
			}
		default:
			score = denseScore(c.schema.Vector.Distance, spec.Dense, rec.Dense)
		}
		hits = append(hits, Hit{
			ID:        rec.ID,
			Score:     score,
			Content:   rec.Content,
			Fields:    cloneFields(rec.Fields),
			CreatedAt: rec.CreatedAt,
		})
	}
	c.mu.RUnlock()

	sortHits(hits)
	if spec.TopK > 0 && len(hits) > spec.TopK {
		hits = hits[:spec.TopK]
	}
	return hits, nil
}

func (c *memoryCollection) Aggregate(ctx context.Context, f Filter, spec AggregateSpec) (AggregateResult, error) {
	pred, err := c.compile(f)
	if err != nil {
		return AggregateResult{}, err
	}
	res := AggregateResult{Groups: make(map[string]int64)}
	c.mu.RLock()
	for _, rec := range c.records {
		if !pred(rec) {
			continue
		}
		res.Total++
		if spec.GroupBy != "" {
			res.Groups[fmt.Sprint(rec.Fields[spec.GroupBy])]++
		}
	}
	c.mu.RUnlock()
	return res, nil
}

// compile turns the filter into a record predicate through the shared
// visitor. Count, Query, Delete and Aggregate all come through here.
func (c *memoryCollection) compile(f Filter) (predicate, error) {
	f = filter.Normalize(f)
	if f == nil {
		return func(Record) bool { return true }, nil
	}
	return filter.Compile[predicate](f, predicateVisitor{})
}

// sortHits orders by score descending, ties broken by most recent creation
// timestamp, then id for a total deterministic order.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].CreatedAt.Equal(hits[j].CreatedAt) {
			return hits[i].CreatedAt.After(hits[j].CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
}

type predicate func(Record) bool

// predicateVisitor compiles filter expressions to record predicates,
// defining the reference semantics the remote backends must match.
type predicateVisitor struct{}

func (predicateVisitor) And(conds []predicate) (predicate, error) {
	return func(r Record) bool {
		for _, p := range conds {
			if !p(r) {
				return false
			}
		}
		return true
	}, nil
}

func (predicateVisitor) Or(conds []predicate) (predicate, error) {
	return func(r Record) bool {
		for _, p := range conds {
			if p(r) {
				return true
			}
		}
		return false
	}, nil
}

func (predicateVisitor) Not(cond predicate) (predicate, error) {
	return func(r Record) bool { return !cond(r) }, nil
}

func (predicateVisitor) None() (predicate, error) {
	return func(Record) bool { return false }, nil
}

func (predicateVisitor) Eq(field string, value any) (predicate, error) {
	return func(r Record) bool {
		v, ok := r.Fields[field]
		return ok && scalarEqual(v, value)
	}, nil
}

func (predicateVisitor) In(field string, values []any) (predicate, error) {
	return func(r Record) bool {
		v, ok := r.Fields[field]
		if !ok {
			return false
		}
		for _, want := range values {
			if scalarEqual(v, want) {
				return true
			}
		}
		return false
	}, nil
}

func (predicateVisitor) Range(field string, b filter.Bounds) (predicate, error) {
	return func(r Record) bool {
		v, ok := asFloat(r.Fields[field])
		if !ok {
			return false
		}
		if bound, ok := asFloat(b.GTE); ok && v < bound {
			return false
		}
		if bound, ok := asFloat(b.GT); ok && v <= bound {
			return false
		}
		if bound, ok := asFloat(b.LTE); ok && v > bound {
			return false
		}
		if bound, ok := asFloat(b.LT); ok && v >= bound {
			return false
		}
		return true
	}, nil
}

func (predicateVisitor) Contains(field, substring string) (predicate, error) {
	return func(r Record) bool {
		s, ok := r.Fields[field].(string)
		return ok && strings.Contains(s, substring)
	}, nil
}

// scalarEqual compares payload values with numeric widening, so an int64
// stored value matches an int filter value.
func scalarEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return aok && bok && af == bf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// denseScore converts the configured distance into a similarity score where
// higher is better, matching the convention remote backends return.
func denseScore(d Distance, query, vec []float32) float32 {
	switch d {
	case DistanceDot:
		return dot(query, vec)
	case DistanceEuclid:
		var sum float64
		for i := range query {
			diff := float64(query[i]) - float64(vec[i])
			sum += diff * diff
		}
		return float32(1 / (1 + math.Sqrt(sum)))
	default: // cosine
		qn, vn := norm(query), norm(vec)
		if qn == 0 || vn == 0 {
			return 0
		}
		return dot(query, vec) / (qn * vn)
	}
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

func sparseDot(query, vec SparseVector) float32 {
	var sum float32
	for term, w := range query {
		sum += w * vec[term]
	}
	return sum
}

func cloneRecord(rec Record) Record {
	out := rec
	out.Dense = append([]float32(nil), rec.Dense...)
	if rec.Sparse != nil {
		out.Sparse = make(SparseVector, len(rec.Sparse))
		for k, v := range rec.Sparse {
			out.Sparse[k] = v
		}
	}
	out.Fields = cloneFields(rec.Fields)
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
