package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

var qdrantTracer = otel.Tracer("strata.vectorstore.qdrant")

// qdrantPointNamespace makes point UUIDs a pure function of the record id,
// so re-upserting a record always lands on the same point.
var qdrantPointNamespace = uuid.MustParse("9f2c1a94-63db-45a1-9b1a-5f4e8c2d7b10")

// sparseVectorName is the named sparse vector carrying hashed lexical terms.
const sparseVectorName = "lexical"

// denseVectorName is the named dense vector.
const denseVectorName = "dense"

// Payload keys reserved by the adapter itself.
const (
	qdrantPayloadContent   = "content"
	qdrantPayloadID        = "id"
	qdrantPayloadCreatedAt = "created_at"
)

func init() {
	Register("qdrant", func(cfg BackendConfig, logger *zap.Logger) (Adapter, error) {
		return NewQdrantAdapter(cfg, logger)
	})
}

// QdrantAdapter talks to a Qdrant server over gRPC. Dense vectors and,
// when the schema enables sparse, a named sparse vector with fnv32a-hashed
// terms. Transient gRPC failures are retried with exponential backoff
// behind a circuit breaker.
type QdrantAdapter struct {
	client *qdrant.Client
	cfg    BackendConfig
	logger *zap.Logger

	breaker circuitBreaker
}

// NewQdrantAdapter connects and health-checks the server.
func NewQdrantAdapter(cfg BackendConfig, logger *zap.Logger) (*QdrantAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, NewConfigError("qdrant", "endpoint", "host:port required")
	}
	host, portStr, err := net.SplitHostPort(cfg.Endpoint)
	if err != nil {
		return nil, NewConfigError("qdrant", "endpoint", fmt.Sprintf("expected host:port, got %q", cfg.Endpoint))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, NewConfigError("qdrant", "endpoint", fmt.Sprintf("invalid port %q", portStr))
	}
	applyBackendDefaults(&cfg)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant at %s: %w", cfg.Endpoint, err)
	}

	a := &QdrantAdapter{
		client:  client,
		cfg:     cfg,
		logger:  logger.Named("vectorstore.qdrant"),
		breaker: circuitBreaker{threshold: 5, cooldown: 30 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}
	return a, nil
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
}

var _ Adapter = (*QdrantAdapter)(nil)

// SanitizeScalarIndexFields keeps keyword, integer and bool fields for
// payload indexing; double fields stay filterable but unindexed.
func (a *QdrantAdapter) SanitizeScalarIndexFields(fields []ScalarField) []ScalarField {
	out := make([]ScalarField, 0, len(fields))
	for _, f := range fields {
		if f.Type == FieldDouble {
			f.Indexed = false
		}
		out = append(out, f)
	}
	return out
}

// BuildDefaultIndexMeta selects HNSW with qdrant's recommended parameters.
func (a *QdrantAdapter) BuildDefaultIndexMeta(_ CollectionSchema) IndexMeta {
	return IndexMeta{Kind: "hnsw", M: 16, EfConstruction: 128}
}

// EnsureCollection checks remote existence first; an existing collection is
// bound as-is, never recreated.
func (a *QdrantAdapter) EnsureCollection(ctx context.Context, schema CollectionSchema) (Handle, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantAdapter.EnsureCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", schema.Name))

	if err := ValidateCollectionName(schema.Name); err != nil {
		return nil, err
	}
	if schema.Vector.Dimension <= 0 {
		return nil, NewConfigError("qdrant", "dimension", "must be positive")
	}

	exists, err := a.client.CollectionExists(ctx, schema.Name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("checking collection %q: %w", schema.Name, err)
	}
	if !exists {
		if err := a.createCollection(ctx, schema); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	return &qdrantCollection{adapter: a, schema: schema}, nil
}

func (a *QdrantAdapter) createCollection(ctx context.Context, schema CollectionSchema) error {
	meta := a.BuildDefaultIndexMeta(schema)

	vectorParams := &qdrant.VectorParams{
		Size:     uint64(schema.Vector.Dimension),
		Distance: qdrantDistance(schema.Vector.Distance),
	}
	if meta.Kind == "hnsw" {
		vectorParams.HnswConfig = &qdrant.HnswConfigDiff{
			M:           qdrant.PtrOf(uint64(meta.M)),
			EfConstruct: qdrant.PtrOf(uint64(meta.EfConstruction)),
		}
	}

	req := &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			denseVectorName: vectorParams,
		}),
	}
	if schema.Vector.EnableSparse {
		req.SparseVectorsConfig = qdrant.NewSparseVectorsConfig(map[string]*qdrant.SparseVectorParams{
			sparseVectorName: {},
		})
	}
	if err := a.client.CreateCollection(ctx, req); err != nil {
		return fmt.Errorf("creating collection %q: %w", schema.Name, err)
	}

	// Payload indexes for the filterable scalar fields the backend accepts.
	for _, f := range a.SanitizeScalarIndexFields(schema.Scalars) {
		if !f.Indexed {
			continue
		}
		_, err := a.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: schema.Name,
			FieldName:      f.Name,
			FieldType:      qdrant.PtrOf(qdrantFieldType(f.Type)),
		})
		if err != nil {
			return fmt.Errorf("indexing field %q: %w", f.Name, err)
		}
	}
	return nil
}

// DropCollection deletes the remote collection. Qdrant treats deleting an
// absent collection as success, matching the no-op contract.
func (a *QdrantAdapter) DropCollection(ctx context.Context, name string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantAdapter.DropCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	err := a.retry(ctx, "drop collection", func() error {
		return a.client.DeleteCollection(ctx, name)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("dropping collection %q: %w", name, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (a *QdrantAdapter) Close() error {
	return a.client.Close()
}

// retry runs op with bounded exponential backoff on transient gRPC codes,
// respecting the circuit breaker and the context.
func (a *QdrantAdapter) retry(ctx context.Context, name string, op func() error) error {
	if a.breaker.open() {
		return fmt.Errorf("%s: circuit breaker open", name)
	}
	backoff := a.cfg.RetryBackoff
	var err error
	for attempt := 0; attempt <= a.cfg.MaxRetries; attempt++ {
		err = op()
		if err == nil {
			a.breaker.reset()
			return nil
		}
		if !isTransientGRPC(err) {
			a.breaker.record()
			return fmt.Errorf("%s: %w", name, err)
		}
		a.breaker.record()
		if attempt == a.cfg.MaxRetries {
			break
		}
		a.logger.Warn("transient backend error, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s: retries exhausted: %w", name, err)
}

// isTransientGRPC reports whether an error is worth retrying.
func isTransientGRPC(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// circuitBreaker opens after threshold consecutive failures and half-opens
// after the cooldown.
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	failures int
	lastFail time.Time
}

func (b *circuitBreaker) open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.threshold {
		return false
	}
	if time.Since(b.lastFail) > b.cooldown {
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) record() {
	b.mu.Lock()
	b.failures++
	b.lastFail = time.Now()
	b.mu.Unlock()
}

func (b *circuitBreaker) reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}

type qdrantCollection struct {
	adapter *QdrantAdapter
	schema  CollectionSchema
}

var _ Handle = (*qdrantCollection)(nil)

func (c *qdrantCollection) Name() string { return c.schema.Name }

func (c *qdrantCollection) Upsert(ctx context.Context, records []Record) (BatchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.schema.Name),
		attribute.Int("batch_size", len(records)))

	var res BatchResult
	points := make([]*qdrant.PointStruct, 0, len(records))
	pending := make([]string, 0, len(records))
	for _, rec := range records {
		point, err := c.toPoint(rec)
		if err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: rec.ID, Err: err})
			continue
		}
		points = append(points, point)
		pending = append(pending, rec.ID)
	}
	if len(points) == 0 {
		return res, nil
	}

	err := c.adapter.retry(ctx, "upsert", func() error {
		_, err := c.adapter.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: c.schema.Name,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		for _, id := range pending {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Err: err})
		}
		return res, nil
	}
	res.Succeeded = append(res.Succeeded, pending...)
	return res, nil
}

func (c *qdrantCollection) toPoint(rec Record) (*qdrant.PointStruct, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Dense) != c.schema.Vector.Dimension {
		return nil, fmt.Errorf("%w: got %d, collection %q expects %d",
			ErrDimensionMismatch, len(rec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}

	vectors := map[string]*qdrant.Vector{
		denseVectorName: qdrant.NewVector(rec.Dense...),
	}
	if c.schema.Vector.EnableSparse && len(rec.Sparse) > 0 {
		indices, values := hashSparseTerms(rec.Sparse)
		vectors[sparseVectorName] = qdrant.NewVectorSparse(indices, values)
	}

	payload := qdrantPayloadFrom(rec)
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(uuid.NewSHA1(qdrantPointNamespace, []byte(rec.ID)).String()),
		Vectors: qdrant.NewVectorsMap(vectors),
		Payload: payload,
	}, nil
}

func (c *qdrantCollection) Get(ctx context.Context, id string) (*Record, error) {
	points, err := c.adapter.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.schema.Name,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(uuid.NewSHA1(qdrantPointNamespace, []byte(id)).String())},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting %q: %w", id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	rec := recordFromPayload(points[0].Payload)
	return &rec, nil
}

func (c *qdrantCollection) Delete(ctx context.Context, spec DeleteSpec) (BatchResult, error) {
	var res BatchResult
	var selector *qdrant.PointsSelector
	if len(spec.IDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(spec.IDs))
		for _, id := range spec.IDs {
			ids = append(ids, qdrant.NewIDUUID(uuid.NewSHA1(qdrantPointNamespace, []byte(id)).String()))
		}
		selector = qdrant.NewPointsSelector(ids...)
	} else {
		qf, err := c.compile(spec.Filter)
		if err != nil {
			return res, err
		}
		selector = qdrant.NewPointsSelectorFilter(qf)
	}

	err := c.adapter.retry(ctx, "delete", func() error {
		_, err := c.adapter.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: c.schema.Name,
			Points:         selector,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		for _, id := range spec.IDs {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Err: err})
		}
		if len(spec.IDs) == 0 {
			return res, err
		}
		return res, nil
	}
	res.Succeeded = append(res.Succeeded, spec.IDs...)
	return res, nil
}

func (c *qdrantCollection) Count(ctx context.Context, f Filter) (int64, error) {
	qf, err := c.compile(f)
	if err != nil {
		return 0, err
	}
	var count uint64
	err = c.adapter.retry(ctx, "count", func() error {
		var opErr error
		count, opErr = c.adapter.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: c.schema.Name,
			Filter:         qf,
			Exact:          qdrant.PtrOf(true),
		})
		return opErr
	})
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

func (c *qdrantCollection) Query(ctx context.Context, spec QuerySpec) ([]Hit, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantCollection.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", c.schema.Name),
		attribute.String("kind", string(spec.Kind)),
		attribute.Int("top_k", spec.TopK))

	qf, err := c.compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	req := &qdrant.QueryPoints{
		CollectionName: c.schema.Name,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if spec.TopK > 0 {
		req.Limit = qdrant.PtrOf(uint64(spec.TopK))
	}
	switch spec.Kind {
	case KindSparse:
		if !c.schema.Vector.EnableSparse {
			return nil, fmt.Errorf("%w: sparse query on a dense-only collection", ErrInvalidRecord)
		}
		indices, values := hashSparseTerms(spec.Sparse)
		req.Query = qdrant.NewQuerySparse(indices, values)
		req.Using = qdrant.PtrOf(sparseVectorName)
	default:
		if len(spec.Dense) != c.schema.Vector.Dimension {
			return nil, fmt.Errorf("%w: query vector has %d dims, collection %q expects %d",
				ErrDimensionMismatch, len(spec.Dense), c.schema.Name, c.schema.Vector.Dimension)
		}
		req.Query = qdrant.NewQuery(spec.Dense...)
		req.Using = qdrant.PtrOf(denseVectorName)
	}

	var points []*qdrant.ScoredPoint
	err = c.adapter.retry(ctx, "query", func() error {
		var opErr error
		points, opErr = c.adapter.client.Query(ctx, req)
		return opErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		rec := recordFromPayload(p.Payload)
		hits = append(hits, Hit{
			ID:        rec.ID,
			Score:     p.Score,
			Content:   rec.Content,
			Fields:    rec.Fields,
			CreatedAt: rec.CreatedAt,
		})
	}
	sortHits(hits)
	return hits, nil
}

func (c *qdrantCollection) Aggregate(ctx context.Context, f Filter, spec AggregateSpec) (AggregateResult, error) {
	total, err := c.Count(ctx, f)
	if err != nil {
		return AggregateResult{}, err
	}
	res := AggregateResult{Total: total, Groups: make(map[string]int64)}
	if spec.GroupBy == "" {
		return res, nil
	}

	qf, err := c.compile(f)
	if err != nil {
		return AggregateResult{}, err
	}
	hits, err := c.adapter.client.Facet(ctx, &qdrant.FacetCounts{
		CollectionName: c.schema.Name,
		Key:            spec.GroupBy,
		Filter:         qf,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return AggregateResult{}, fmt.Errorf("facet on %q: %w", spec.GroupBy, err)
	}
	for _, h := range hits {
		res.Groups[h.GetValue().GetStringValue()] = int64(h.GetCount())
	}
	return res, nil
}

// compile walks the filter once through the qdrant visitor; Count, Query and
// Delete all consume the one compiled *qdrant.Filter.
func (c *qdrantCollection) compile(f Filter) (*qdrant.Filter, error) {
	f = filter.Normalize(f)
	if f == nil {
		return nil, nil
	}
	cond, err := filter.Compile[*qdrant.Condition](f, qdrantVisitor{})
	if err != nil {
		return nil, err
	}
	// A top-level and-filter unwraps to its clauses; anything else wraps.
	if nested := cond.GetFilter(); nested != nil && len(nested.Should) == 0 && len(nested.MustNot) == 0 {
		return nested, nil
	}
	return &qdrant.Filter{Must: []*qdrant.Condition{cond}}, nil
}

// qdrantVisitor compiles filter nodes to qdrant conditions. Every node type
// is expressible.
type qdrantVisitor struct{}

func (qdrantVisitor) And(conds []*qdrant.Condition) (*qdrant.Condition, error) {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{
		Filter: &qdrant.Filter{Must: conds},
	}}, nil
}

func (qdrantVisitor) Or(conds []*qdrant.Condition) (*qdrant.Condition, error) {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{
		Filter: &qdrant.Filter{Should: conds},
	}}, nil
}

func (qdrantVisitor) Not(cond *qdrant.Condition) (*qdrant.Condition, error) {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Filter{
		Filter: &qdrant.Filter{MustNot: []*qdrant.Condition{cond}},
	}}, nil
}

func (qdrantVisitor) None() (*qdrant.Condition, error) {
	// Membership in an empty id set is false for every point.
	return qdrant.NewHasID(), nil
}

func (qdrantVisitor) Eq(field string, value any) (*qdrant.Condition, error) {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatchKeyword(field, v), nil
	case bool:
		return qdrant.NewMatchBool(field, v), nil
	case int:
		return qdrant.NewMatchInt(field, int64(v)), nil
	case int64:
		return qdrant.NewMatchInt(field, v), nil
	default:
		return nil, fmt.Errorf("eq on %T value: %w", value, filter.ErrUnsupported)
	}
}

func (qdrantVisitor) In(field string, values []any) (*qdrant.Condition, error) {
	switch values[0].(type) {
	case string:
		keywords := make([]string, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("mixed-type in clause: %w", filter.ErrUnsupported)
			}
			keywords = append(keywords, s)
		}
		return qdrant.NewMatchKeywords(field, keywords...), nil
	case int, int64:
		ints := make([]int64, 0, len(values))
		for _, v := range values {
			switch n := v.(type) {
			case int:
				ints = append(ints, int64(n))
			case int64:
				ints = append(ints, n)
			default:
				return nil, fmt.Errorf("mixed-type in clause: %w", filter.ErrUnsupported)
			}
		}
		return qdrant.NewMatchInts(field, ints...), nil
	default:
		return nil, fmt.Errorf("in on %T values: %w", values[0], filter.ErrUnsupported)
	}
}

func (qdrantVisitor) Range(field string, b filter.Bounds) (*qdrant.Condition, error) {
	r := &qdrant.Range{}
	if v, ok := boundAsFloat(b.GTE); ok {
		r.Gte = qdrant.PtrOf(v)
	}
	if v, ok := boundAsFloat(b.GT); ok {
		r.Gt = qdrant.PtrOf(v)
	}
	if v, ok := boundAsFloat(b.LTE); ok {
		r.Lte = qdrant.PtrOf(v)
	}
	if v, ok := boundAsFloat(b.LT); ok {
		r.Lt = qdrant.PtrOf(v)
	}
	return qdrant.NewRange(field, r), nil
}

func (qdrantVisitor) Contains(field, substring string) (*qdrant.Condition, error) {
	return qdrant.NewMatchText(field, substring), nil
}

func boundAsFloat(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return asFloat(v)
}

// hashSparseTerms converts term weights to qdrant sparse indices with
// fnv32a, deterministically, in sorted term order.
func hashSparseTerms(sparse SparseVector) ([]uint32, []float32) {
	terms := make([]string, 0, len(sparse))
	for term := range sparse {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	indices := make([]uint32, 0, len(terms))
	values := make([]float32, 0, len(terms))
	for _, term := range terms {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		indices = append(indices, h.Sum32())
		values = append(values, sparse[term])
	}
	return indices, values
}

func qdrantDistance(d Distance) qdrant.Distance {
	switch d {
	case DistanceDot:
		return qdrant.Distance_Dot
	case DistanceEuclid:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func qdrantFieldType(t FieldType) qdrant.FieldType {
	switch t {
	case FieldInteger:
		return qdrant.FieldType_FieldTypeInteger
	case FieldDouble:
		return qdrant.FieldType_FieldTypeFloat
	case FieldBool:
		return qdrant.FieldType_FieldTypeBool
	default:
		return qdrant.FieldType_FieldTypeKeyword
	}
}

func qdrantPayloadFrom(rec Record) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(rec.Fields)+3)
	payload[qdrantPayloadID] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.ID}}
	payload[qdrantPayloadContent] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: rec.Content}}
	payload[qdrantPayloadCreatedAt] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: rec.CreatedAt.UnixNano()}}
	for k, v := range rec.Fields {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case float32:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: float64(val)}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprint(val)}}
		}
	}
	return payload
}

func recordFromPayload(payload map[string]*qdrant.Value) Record {
	rec := Record{Fields: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case qdrantPayloadID:
			rec.ID = v.GetStringValue()
		case qdrantPayloadContent:
			rec.Content = v.GetStringValue()
		case qdrantPayloadCreatedAt:
			rec.CreatedAt = time.Unix(0, v.GetIntegerValue())
		default:
			switch val := v.Kind.(type) {
			case *qdrant.Value_StringValue:
				rec.Fields[k] = val.StringValue
			case *qdrant.Value_IntegerValue:
				rec.Fields[k] = val.IntegerValue
			case *qdrant.Value_DoubleValue:
				rec.Fields[k] = val.DoubleValue
			case *qdrant.Value_BoolValue:
				rec.Fields[k] = val.BoolValue
			}
		}
	}
	return rec
}
