package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

func init() {
	Register("chromem", func(cfg BackendConfig, logger *zap.Logger) (Adapter, error) {
		return NewChromemAdapter(cfg, logger)
	})
}

// ChromemAdapter is the embedded persistent backend on chromem-go. Zero
// external services: vectors live in gob files under the configured path.
//
// Capability limits, enforced at the contract boundary rather than papered
// over: dense vectors only (a sparse-enabled schema is a ConfigError), and
// equality-only filters (chromem's where maps) — any other node compiles to
// ErrUnsupported.
//
// chromem stores metadata but does not expose a filtered scan, so each
// collection keeps a sidecar payload index (id -> stringified fields,
// creation time) persisted as JSON next to the gob files. Count and Query
// both consume the one compiled where map; the sidecar only changes which
// engine evaluates it.
type ChromemAdapter struct {
	BaseHooks

	db     *chromem.DB
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	handles map[string]*chromemCollection
}

// NewChromemAdapter opens or creates the persistent database at cfg.Path.
func NewChromemAdapter(cfg BackendConfig, logger *zap.Logger) (*ChromemAdapter, error) {
	if cfg.Path == "" {
		return nil, NewConfigError("chromem", "path", "storage path required")
	}
	if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating chromem directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}
	return &ChromemAdapter{
		db:      db,
		path:    cfg.Path,
		logger:  logger.Named("vectorstore.chromem"),
		handles: make(map[string]*chromemCollection),
	}, nil
}

var _ Adapter = (*ChromemAdapter)(nil)

// EnsureCollection loads or creates the collection and its sidecar index.
func (a *ChromemAdapter) EnsureCollection(ctx context.Context, schema CollectionSchema) (Handle, error) {
	if err := ValidateCollectionName(schema.Name); err != nil {
		return nil, err
	}
	if schema.Vector.EnableSparse {
		return nil, NewConfigError("chromem", "enable_sparse", "chromem backend is dense-only")
	}
	if schema.Vector.Dimension <= 0 {
		return nil, NewConfigError("chromem", "dimension", "must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if h, ok := a.handles[schema.Name]; ok {
		return h, nil
	}

	coll, err := a.db.GetOrCreateCollection(schema.Name, nil, rejectServerSideEmbedding)
	if err != nil {
		return nil, fmt.Errorf("ensuring chromem collection %q: %w", schema.Name, err)
	}

	h := &chromemCollection{
		schema:      schema,
		coll:        coll,
		sidecarPath: filepath.Join(a.path, schema.Name+".payload.json"),
		logger:      a.logger.With(zap.String("collection", schema.Name)),
	}
	if err := h.loadSidecar(); err != nil {
		return nil, err
	}
	a.handles[schema.Name] = h
	return h, nil
}

// DropCollection deletes the collection's gob store and its sidecar index.
func (a *ChromemAdapter) DropCollection(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("dropping chromem collection %q: %w", name, err)
	}
	delete(a.handles, name)
	sidecar := filepath.Join(a.path, name+".payload.json")
	if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sidecar for %q: %w", name, err)
	}
	return nil
}

// Close flushes nothing: chromem persists on every mutation.
func (a *ChromemAdapter) Close() error {
	return nil
}

// rejectServerSideEmbedding guards against code paths that would ask chromem
// to embed; all vectors arrive pre-computed from the model gateway.
func rejectServerSideEmbedding(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("chromem adapter stores pre-computed vectors only")
}

type chromemPayload struct {
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
}

type chromemCollection struct {
	schema      CollectionSchema
	coll        *chromem.Collection
	sidecarPath string
	logger      *zap.Logger

	mu       sync.RWMutex
	payloads map[string]chromemPayload
}

var _ Handle = (*chromemCollection)(nil)

func (c *chromemCollection) Name() string { return c.schema.Name }

func (c *chromemCollection) Upsert(ctx context.Context, records []Record) (BatchResult, error) {
	var res BatchResult
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: rec.ID, Err: err})
			continue
		}
		if err := c.upsertOne(ctx, rec); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: rec.ID, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, rec.ID)
	}
	return res, nil
}

func (c *chromemCollection) upsertOne(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Dense) != c.schema.Vector.Dimension {
		return fmt.Errorf("%w: got %d, collection %q expects %d",
			ErrDimensionMismatch, len(rec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}
	meta := stringifyFields(rec.Fields)
	err := c.coll.AddDocuments(ctx, []chromem.Document{{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: rec.Dense,
		Metadata:  meta,
	}}, 1)
	if err != nil {
		return fmt.Errorf("adding document %q: %w", rec.ID, err)
	}

	c.mu.Lock()
	c.payloads[rec.ID] = chromemPayload{Fields: meta, CreatedAt: rec.CreatedAt}
	saveErr := c.saveSidecarLocked()
	c.mu.Unlock()
	return saveErr
}

func (c *chromemCollection) Get(ctx context.Context, id string) (*Record, error) {
	doc, err := c.coll.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	c.mu.RLock()
	payload := c.payloads[id]
	c.mu.RUnlock()
	return &Record{
		ID:        doc.ID,
		Content:   doc.Content,
		Dense:     doc.Embedding,
		Fields:    fieldsFromStrings(doc.Metadata),
		CreatedAt: payload.CreatedAt,
	}, nil
}

func (c *chromemCollection) Delete(ctx context.Context, spec DeleteSpec) (BatchResult, error) {
	var res BatchResult
	ids := spec.IDs
	if len(ids) == 0 {
		where, err := c.compile(spec.Filter)
		if err != nil {
			return res, err
		}
		ids = c.matchSidecar(where)
	}
	for _, id := range ids {
		if err := c.coll.Delete(ctx, nil, nil, id); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Err: err})
			continue
		}
		c.mu.Lock()
		delete(c.payloads, id)
		err := c.saveSidecarLocked()
		c.mu.Unlock()
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func (c *chromemCollection) Count(ctx context.Context, f Filter) (int64, error) {
	where, err := c.compile(f)
	if err != nil {
		return 0, err
	}
	if where == nil {
		return int64(c.coll.Count()), nil
	}
	return int64(len(c.matchSidecar(where))), nil
}

func (c *chromemCollection) Query(ctx context.Context, spec QuerySpec) ([]Hit, error) {
	if spec.Kind == KindSparse {
		return nil, fmt.Errorf("%w: chromem backend is dense-only", filter.ErrUnsupported)
	}
	if len(spec.Dense) != c.schema.Vector.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection %q expects %d",
			ErrDimensionMismatch, len(spec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}
	where, err := c.compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults beyond the matching count, so clamp first.
	limit := spec.TopK
	matching := c.coll.Count()
	if where != nil {
		matching = len(c.matchSidecar(where))
	}
	if limit <= 0 || limit > matching {
		limit = matching
	}
	if limit == 0 {
		return nil, nil
	}

	results, err := c.coll.QueryEmbedding(ctx, spec.Dense, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem collection %q: %w", c.schema.Name, err)
	}

	hits := make([]Hit, 0, len(results))
	c.mu.RLock()
	for _, r := range results {
		hits = append(hits, Hit{
			ID:        r.ID,
			Score:     r.Similarity,
			Content:   r.Content,
			Fields:    fieldsFromStrings(r.Metadata),
			CreatedAt: c.payloads[r.ID].CreatedAt,
		})
	}
	c.mu.RUnlock()
	sortHits(hits)
	return hits, nil
}

func (c *chromemCollection) Aggregate(ctx context.Context, f Filter, spec AggregateSpec) (AggregateResult, error) {
	where, err := c.compile(f)
	if err != nil {
		return AggregateResult{}, err
	}
	res := AggregateResult{Groups: make(map[string]int64)}
	c.mu.RLock()
	for _, payload := range c.payloads {
		if !matchesWhere(payload.Fields, where) {
			continue
		}
		res.Total++
		if spec.GroupBy != "" {
			res.Groups[payload.Fields[spec.GroupBy]]++
		}
	}
	c.mu.RUnlock()
	return res, nil
}

// compile produces the chromem where map used by every operation on this
// collection. nil means match-all.
func (c *chromemCollection) compile(f Filter) (map[string]string, error) {
	f = filter.Normalize(f)
	if f == nil {
		return nil, nil
	}
	return filter.Compile[map[string]string](f, chromemVisitor{})
}

func (c *chromemCollection) matchSidecar(where map[string]string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, payload := range c.payloads {
		if matchesWhere(payload.Fields, where) {
			ids = append(ids, id)
		}
	}
	return ids
}

func matchesWhere(fields, where map[string]string) bool {
	for k, v := range where {
		if fields[k] != v {
			return false
		}
	}
	return true
}

func (c *chromemCollection) loadSidecar() error {
	c.payloads = make(map[string]chromemPayload)
	data, err := os.ReadFile(c.sidecarPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading payload sidecar: %w", err)
	}
	if err := json.Unmarshal(data, &c.payloads); err != nil {
		return fmt.Errorf("decoding payload sidecar: %w", err)
	}
	return nil
}

func (c *chromemCollection) saveSidecarLocked() error {
	data, err := json.Marshal(c.payloads)
	if err != nil {
		return fmt.Errorf("encoding payload sidecar: %w", err)
	}
	tmp := c.sidecarPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing payload sidecar: %w", err)
	}
	return os.Rename(tmp, c.sidecarPath)
}

// chromemVisitor compiles to chromem where maps. Only conjunctions of
// equalities are expressible; everything else fails fast rather than
// widening the result set.
type chromemVisitor struct{}

func (chromemVisitor) And(conds []map[string]string) (map[string]string, error) {
	merged := make(map[string]string)
	for _, cond := range conds {
		for k, v := range cond {
			if prev, ok := merged[k]; ok && prev != v {
				return nil, fmt.Errorf("conflicting equality on %q: %w", k, filter.ErrUnsupported)
			}
			merged[k] = v
		}
	}
	return merged, nil
}

func (chromemVisitor) Or([]map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("or combinator: %w", filter.ErrUnsupported)
}

func (chromemVisitor) Not(map[string]string) (map[string]string, error) {
	return nil, fmt.Errorf("not combinator: %w", filter.ErrUnsupported)
}

func (chromemVisitor) None() (map[string]string, error) {
	// Where maps cannot express an always-false condition.
	return nil, fmt.Errorf("match-none: %w", filter.ErrUnsupported)
}

func (chromemVisitor) Eq(field string, value any) (map[string]string, error) {
	return map[string]string{field: stringifyScalar(value)}, nil
}

func (chromemVisitor) In(field string, values []any) (map[string]string, error) {
	// A single-value membership is an equality; real disjunction is not.
	if len(values) == 1 {
		return map[string]string{field: stringifyScalar(values[0])}, nil
	}
	return nil, fmt.Errorf("in with %d values: %w", len(values), filter.ErrUnsupported)
}

func (chromemVisitor) Range(string, filter.Bounds) (map[string]string, error) {
	return nil, fmt.Errorf("range predicate: %w", filter.ErrUnsupported)
}

func (chromemVisitor) Contains(string, string) (map[string]string, error) {
	return nil, fmt.Errorf("contains predicate: %w", filter.ErrUnsupported)
}

func stringifyFields(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = stringifyScalar(v)
	}
	return out
}

func stringifyScalar(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func fieldsFromStrings(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
