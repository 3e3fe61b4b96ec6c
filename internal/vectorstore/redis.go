package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

func init() {
	Register("redis", func(cfg BackendConfig, logger *zap.Logger) (Adapter, error) {
		return NewRedisAdapter(cfg, logger)
	})
}

// Hash field names reserved by the adapter.
const (
	redisFieldID        = "id"
	redisFieldContent   = "content"
	redisFieldCreatedAt = "created_at"
	redisFieldDense     = "dense"
	redisFieldKNNScore  = "knn_dist"
)

// redisEmptyTag stands in for the empty string in TAG fields. RediSearch
// neither indexes an empty tag value nor parses one inside {...} query
// syntax, so empty strings are mapped to the sentinel when writing hashes
// and when compiling filters, and mapped back when reading.
const redisEmptyTag = "__empty__"

// RedisAdapter stores records as hashes behind a RediSearch index. Dense
// queries run as KNN vector search; the sparse kind is served by BM25 text
// scoring over the content field, so a sparse-enabled schema needs no extra
// index structure here.
//
// RESP2 is forced because FT.SEARCH replies parse reliably only on RESP2.
type RedisAdapter struct {
	BaseHooks

	client rueidis.Client
	cfg    BackendConfig
	logger *zap.Logger
}

// NewRedisAdapter connects and pings the server.
func NewRedisAdapter(cfg BackendConfig, logger *zap.Logger) (*RedisAdapter, error) {
	if cfg.Endpoint == "" {
		return nil, NewConfigError("redis", "endpoint", "host:port required")
	}
	applyBackendDefaults(&cfg)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Endpoint},
		Password:     cfg.APIKey,
		AlwaysRESP2:  true,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Endpoint, err)
	}

	a := &RedisAdapter{
		client: client,
		cfg:    cfg,
		logger: logger.Named("vectorstore.redis"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return a, nil
}

var _ Adapter = (*RedisAdapter)(nil)

// SanitizeScalarIndexFields drops bool from indexing as a distinct type;
// bools are stored and filtered as tags.
func (a *RedisAdapter) SanitizeScalarIndexFields(fields []ScalarField) []ScalarField {
	return fields
}

// BuildDefaultIndexMeta selects HNSW for the dense vector field.
func (a *RedisAdapter) BuildDefaultIndexMeta(_ CollectionSchema) IndexMeta {
	return IndexMeta{Kind: "hnsw", M: 16, EfConstruction: 200}
}

// EnsureCollection probes FT.INFO; "unknown index name" means absent, and
// only then is FT.CREATE issued.
func (a *RedisAdapter) EnsureCollection(ctx context.Context, schema CollectionSchema) (Handle, error) {
	if err := ValidateCollectionName(schema.Name); err != nil {
		return nil, err
	}
	if schema.Vector.Dimension <= 0 {
		return nil, NewConfigError("redis", "dimension", "must be positive")
	}

	err := a.client.Do(ctx, a.client.B().Arbitrary("FT.INFO").Args(schema.Name).Build()).Error()
	switch {
	case err == nil:
		// Index exists; bind without recreating.
	case isRedisErr(err, "unknown index name"):
		if createErr := a.createIndex(ctx, schema); createErr != nil {
			return nil, createErr
		}
	default:
		return nil, fmt.Errorf("probing index %q: %w", schema.Name, err)
	}

	return &redisCollection{
		adapter:    a,
		schema:     schema,
		fieldTypes: fieldTypeMap(schema),
	}, nil
}

func (a *RedisAdapter) createIndex(ctx context.Context, schema CollectionSchema) error {
	meta := a.BuildDefaultIndexMeta(schema)

	args := []string{schema.Name, "ON", "HASH", "PREFIX", "1", schema.Name + ":", "SCHEMA"}
	args = append(args, redisFieldID, "TAG")
	args = append(args, redisFieldContent, "TEXT")
	args = append(args, redisFieldCreatedAt, "NUMERIC", "SORTABLE")
	for _, f := range a.SanitizeScalarIndexFields(schema.Scalars) {
		switch f.Type {
		case FieldInteger, FieldDouble:
			args = append(args, f.Name, "NUMERIC")
		default:
			args = append(args, f.Name, "TAG")
		}
	}
	args = append(args, redisFieldDense, "VECTOR", "HNSW", "10",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(schema.Vector.Dimension),
		"DISTANCE_METRIC", redisDistance(schema.Vector.Distance),
		"M", strconv.Itoa(meta.M),
		"EF_CONSTRUCTION", strconv.Itoa(meta.EfConstruction))

	cmd := a.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := a.client.Do(ctx, cmd).Error(); err != nil {
		// A concurrent creator winning the race is success for this caller.
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("creating index %q: %w", schema.Name, err)
	}
	return nil
}

// DropCollection drops the index and, via DD, the record hashes under it.
func (a *RedisAdapter) DropCollection(ctx context.Context, name string) error {
	cmd := a.client.B().Arbitrary("FT.DROPINDEX").Args(name, "DD").Build()
	if err := a.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "unknown index name") {
			return nil
		}
		return fmt.Errorf("dropping index %q: %w", name, err)
	}
	return nil
}

// Close closes the connection pool.
func (a *RedisAdapter) Close() error {
	a.client.Close()
	return nil
}

// redisDistance maps the schema distance to the RediSearch DISTANCE_METRIC
// value.
func redisDistance(d Distance) string {
	switch d {
	case DistanceDot:
		return "IP"
	case DistanceEuclid:
		return "L2"
	default:
		return "COSINE"
	}
}

func isRedisErr(err error, substr string) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), substr)
}

type redisCollection struct {
	adapter    *RedisAdapter
	schema     CollectionSchema
	fieldTypes map[string]FieldType
}

var _ Handle = (*redisCollection)(nil)

func (c *redisCollection) Name() string { return c.schema.Name }

func (c *redisCollection) key(id string) string {
	return c.schema.Name + ":" + id
}

func (c *redisCollection) Upsert(ctx context.Context, records []Record) (BatchResult, error) {
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

func (c *redisCollection) upsertOne(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if len(rec.Dense) != c.schema.Vector.Dimension {
		return fmt.Errorf("%w: got %d, collection %q expects %d",
			ErrDimensionMismatch, len(rec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}

	fields := map[string]string{
		redisFieldID:        rec.ID,
		redisFieldContent:   rec.Content,
		redisFieldCreatedAt: strconv.FormatInt(rec.CreatedAt.UnixNano(), 10),
		redisFieldDense:     rueidis.BinaryString(vectorToBytes(rec.Dense)),
	}
	for k, v := range rec.Fields {
		fields[k] = c.tagValue(k, stringifyScalar(v))
	}

	cmd := c.adapter.client.B().Hset().Key(c.key(rec.ID)).FieldValue()
	for k, v := range fields {
		cmd = cmd.FieldValue(k, v)
	}
	if err := c.adapter.client.Do(ctx, cmd.Build()).Error(); err != nil {
		return fmt.Errorf("writing %q: %w", rec.ID, err)
	}
	return nil
}

// tagValue substitutes the empty-string sentinel on TAG fields. Numeric
// fields pass through untouched.
func (c *redisCollection) tagValue(field, s string) string {
	if s == "" && !isNumericField(c.fieldTypes[field]) {
		return redisEmptyTag
	}
	return s
}

func (c *redisCollection) Get(ctx context.Context, id string) (*Record, error) {
	doc, err := c.adapter.client.Do(ctx, c.adapter.client.B().Hgetall().Key(c.key(id)).Build()).AsStrMap()
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", id, err)
	}
	if len(doc) == 0 {
		return nil, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	rec := c.recordFromHash(doc)
	return &rec, nil
}

func (c *redisCollection) Delete(ctx context.Context, spec DeleteSpec) (BatchResult, error) {
	var res BatchResult
	ids := spec.IDs
	if len(ids) == 0 {
		query, err := c.compile(spec.Filter)
		if err != nil {
			return res, err
		}
		hits, err := c.search(ctx, query, 0, nil)
		if err != nil {
			return res, err
		}
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
	}
	for _, id := range ids {
		if err := c.adapter.client.Do(ctx, c.adapter.client.B().Del().Key(c.key(id)).Build()).Error(); err != nil {
			res.Failed = append(res.Failed, BatchFailure{ID: id, Err: err})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res, nil
}

func (c *redisCollection) Count(ctx context.Context, f Filter) (int64, error) {
	query, err := c.compile(f)
	if err != nil {
		return 0, err
	}
	cmd := c.adapter.client.B().Arbitrary("FT.SEARCH").
		Args(c.schema.Name, query, "LIMIT", "0", "0", "DIALECT", "2").Build()
	total, _, err := c.adapter.client.Do(ctx, cmd).AsFtSearch()
	if err != nil {
		return 0, fmt.Errorf("counting in %q: %w", c.schema.Name, err)
	}
	return total, nil
}

func (c *redisCollection) Query(ctx context.Context, spec QuerySpec) ([]Hit, error) {
	query, err := c.compile(spec.Filter)
	if err != nil {
		return nil, err
	}

	switch spec.Kind {
	case KindSparse:
		return c.sparseQuery(ctx, query, spec)
	default:
		return c.denseQuery(ctx, query, spec)
	}
}

func (c *redisCollection) denseQuery(ctx context.Context, query string, spec QuerySpec) ([]Hit, error) {
	if len(spec.Dense) != c.schema.Vector.Dimension {
		return nil, fmt.Errorf("%w: query vector has %d dims, collection %q expects %d",
			ErrDimensionMismatch, len(spec.Dense), c.schema.Name, c.schema.Vector.Dimension)
	}
	k := spec.TopK
	if k <= 0 {
		k = 10
	}
	knn := fmt.Sprintf("(%s)=>[KNN %d @%s $vec AS %s]", query, k, redisFieldDense, redisFieldKNNScore)
	cmd := c.adapter.client.B().Arbitrary("FT.SEARCH").
		Args(c.schema.Name, knn,
			"PARAMS", "2", "vec", rueidis.BinaryString(vectorToBytes(spec.Dense)),
			"SORTBY", redisFieldKNNScore, "ASC",
			"LIMIT", "0", strconv.Itoa(k),
			"DIALECT", "2").Build()
	_, docs, err := c.adapter.client.Do(ctx, cmd).AsFtSearch()
	if err != nil {
		return nil, fmt.Errorf("dense search in %q: %w", c.schema.Name, err)
	}

	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		rec := c.recordFromHash(d.Doc)
		// RediSearch returns a distance; convert to a higher-is-better
		// similarity matching the other backends.
		dist, _ := strconv.ParseFloat(d.Doc[redisFieldKNNScore], 64)
		hits = append(hits, Hit{
			ID:        rec.ID,
			Score:     float32(1 - dist),
			Content:   rec.Content,
			Fields:    rec.Fields,
			CreatedAt: rec.CreatedAt,
		})
	}
	sortHits(hits)
	return hits, nil
}

func (c *redisCollection) sparseQuery(ctx context.Context, query string, spec QuerySpec) ([]Hit, error) {
	if spec.Text == "" {
		return nil, fmt.Errorf("%w: sparse query needs text on the redis backend", ErrInvalidRecord)
	}
	text := fmt.Sprintf("(%s) (@%s:(%s))", query, redisFieldContent, escapeRedisText(spec.Text))
	hits, err := c.search(ctx, text, spec.TopK, []string{"SCORER", "BM25", "WITHSCORES"})
	if err != nil {
		return nil, err
	}
	sortHits(hits)
	return hits, nil
}

func (c *redisCollection) search(ctx context.Context, query string, topK int, extra []string) ([]Hit, error) {
	args := []string{c.schema.Name, query}
	args = append(args, extra...)
	if topK > 0 {
		args = append(args, "LIMIT", "0", strconv.Itoa(topK))
	}
	args = append(args, "DIALECT", "2")
	cmd := c.adapter.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	_, docs, err := c.adapter.client.Do(ctx, cmd).AsFtSearch()
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", c.schema.Name, err)
	}
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		rec := c.recordFromHash(d.Doc)
		hits = append(hits, Hit{
			ID:        rec.ID,
			Score:     float32(d.Score),
			Content:   rec.Content,
			Fields:    rec.Fields,
			CreatedAt: rec.CreatedAt,
		})
	}
	return hits, nil
}

func (c *redisCollection) Aggregate(ctx context.Context, f Filter, spec AggregateSpec) (AggregateResult, error) {
	total, err := c.Count(ctx, f)
	if err != nil {
		return AggregateResult{}, err
	}
	res := AggregateResult{Total: total, Groups: make(map[string]int64)}
	if spec.GroupBy == "" {
		return res, nil
	}

	query, err := c.compile(f)
	if err != nil {
		return AggregateResult{}, err
	}
	cmd := c.adapter.client.B().Arbitrary("FT.AGGREGATE").
		Args(c.schema.Name, query,
			"GROUPBY", "1", "@"+spec.GroupBy,
			"REDUCE", "COUNT", "0", "AS", "group_count",
			"DIALECT", "2").Build()
	_, rows, err := c.adapter.client.Do(ctx, cmd).AsFtAggregate()
	if err != nil {
		return AggregateResult{}, fmt.Errorf("aggregating in %q: %w", c.schema.Name, err)
	}
	for _, row := range rows {
		count, _ := strconv.ParseInt(row["group_count"], 10, 64)
		res.Groups[row[spec.GroupBy]] = count
	}
	return res, nil
}

// compile walks the filter once through the redis visitor; every operation
// on the collection consumes the one compiled query string.
func (c *redisCollection) compile(f Filter) (string, error) {
	f = filter.Normalize(f)
	if f == nil {
		return "*", nil
	}
	return filter.Compile[string](f, redisVisitor{fieldTypes: c.fieldTypes})
}

func (c *redisCollection) recordFromHash(doc map[string]string) Record {
	rec := Record{
		ID:      doc[redisFieldID],
		Content: doc[redisFieldContent],
		Fields:  make(map[string]any),
	}
	if ns, err := strconv.ParseInt(doc[redisFieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.Unix(0, ns)
	}
	for k, v := range doc {
		switch k {
		case redisFieldID, redisFieldContent, redisFieldCreatedAt, redisFieldDense, redisFieldKNNScore:
			continue
		}
		switch c.fieldTypes[k] {
		case FieldInteger:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				rec.Fields[k] = n
				continue
			}
			rec.Fields[k] = v
		case FieldDouble:
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				rec.Fields[k] = n
				continue
			}
			rec.Fields[k] = v
		case FieldBool:
			rec.Fields[k] = v == "true"
		default:
			if v == redisEmptyTag {
				v = ""
			}
			rec.Fields[k] = v
		}
	}
	return rec
}

// redisVisitor compiles filter nodes to RediSearch query fragments. Field
// types come from the schema: keywords and bools are TAG fields, numbers
// NUMERIC.
type redisVisitor struct {
	fieldTypes map[string]FieldType
}

func (redisVisitor) And(conds []string) (string, error) {
	return "(" + strings.Join(conds, " ") + ")", nil
}

func (redisVisitor) Or(conds []string) (string, error) {
	return "(" + strings.Join(conds, " | ") + ")", nil
}

func (redisVisitor) Not(cond string) (string, error) {
	return "(-" + cond + ")", nil
}

func (redisVisitor) None() (string, error) {
	// An inverted numeric range no created_at can fall into.
	return "@" + redisFieldCreatedAt + ":[+inf -inf]", nil
}

func (v redisVisitor) Eq(field string, value any) (string, error) {
	if isNumericField(v.fieldTypes[field]) {
		n, ok := asFloat(value)
		if !ok {
			return "", fmt.Errorf("eq on numeric field %q with %T value: %w", field, value, filter.ErrUnsupported)
		}
		s := formatRedisNumber(n)
		return fmt.Sprintf("@%s:[%s %s]", field, s, s), nil
	}
	return fmt.Sprintf("@%s:{%s}", field, redisQueryTag(value)), nil
}

func (v redisVisitor) In(field string, values []any) (string, error) {
	if isNumericField(v.fieldTypes[field]) {
		parts := make([]string, 0, len(values))
		for _, val := range values {
			eq, err := v.Eq(field, val)
			if err != nil {
				return "", err
			}
			parts = append(parts, eq)
		}
		return "(" + strings.Join(parts, " | ") + ")", nil
	}
	tags := make([]string, 0, len(values))
	for _, val := range values {
		tags = append(tags, redisQueryTag(val))
	}
	return fmt.Sprintf("@%s:{%s}", field, strings.Join(tags, " | ")), nil
}

// redisQueryTag renders a filter value as an escaped tag, applying the
// empty-string sentinel so clauses like the shared-agent membership stay
// valid RediSearch syntax.
func redisQueryTag(value any) string {
	s := stringifyScalar(value)
	if s == "" {
		s = redisEmptyTag
	}
	return escapeRedisTag(s)
}

func (v redisVisitor) Range(field string, b filter.Bounds) (string, error) {
	lo, hi := "-inf", "+inf"
	if n, ok := boundAsFloat(b.GTE); ok {
		lo = formatRedisNumber(n)
	}
	if n, ok := boundAsFloat(b.GT); ok {
		lo = "(" + formatRedisNumber(n)
	}
	if n, ok := boundAsFloat(b.LTE); ok {
		hi = formatRedisNumber(n)
	}
	if n, ok := boundAsFloat(b.LT); ok {
		hi = "(" + formatRedisNumber(n)
	}
	return fmt.Sprintf("@%s:[%s %s]", field, lo, hi), nil
}

func (v redisVisitor) Contains(field, substring string) (string, error) {
	switch v.fieldTypes[field] {
	case FieldInteger, FieldDouble:
		return "", fmt.Errorf("contains on numeric field %q: %w", field, filter.ErrUnsupported)
	case FieldText:
		// TEXT columns match tokenized terms, not raw substrings.
		return fmt.Sprintf("@%s:(%s)", field, escapeRedisText(substring)), nil
	}
	// Wildcard tag match needs dialect 2, which every query here sets.
	return fmt.Sprintf("@%s:{*%s*}", field, escapeRedisTag(substring)), nil
}

func isNumericField(t FieldType) bool {
	return t == FieldInteger || t == FieldDouble
}

func formatRedisNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// escapeRedisTag escapes RediSearch tag syntax characters.
func escapeRedisTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case ',', '.', '<', '>', '{', '}', '[', ']', '"', '\'', ':', ';', '!', '@',
			'#', '$', '%', '^', '&', '*', '(', ')', '-', '+', '=', '~', '|', ' ', '/', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// escapeRedisText keeps word characters of a free-text query and drops
// query-syntax punctuation.
func escapeRedisText(s string) string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9')
	})
	return strings.Join(fields, " ")
}

func fieldTypeMap(schema CollectionSchema) map[string]FieldType {
	m := make(map[string]FieldType, len(schema.Scalars)+2)
	for _, f := range schema.Scalars {
		m[f.Name] = f.Type
	}
	m[redisFieldID] = FieldKeyword
	m[redisFieldContent] = FieldText
	m[redisFieldCreatedAt] = FieldInteger
	return m
}

func vectorToBytes(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
