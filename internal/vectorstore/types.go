package vectorstore

import (
	"time"

	"github.com/fyrsmithlabs/strata/internal/filter"
)

// Filter aliases the backend-neutral filter expression tree. Adapters
// receive already-normalized expressions; nil means match-all.
type Filter = filter.Expr

// Distance is the similarity metric bound to a collection's dense vectors.
type Distance string

// Supported distance metrics. Every record in a collection shares one metric.
const (
	DistanceCosine Distance = "cosine"
	DistanceDot    Distance = "dot"
	DistanceEuclid Distance = "euclid"
)

// FieldType is the scalar type of an indexed payload field.
type FieldType string

// Scalar field types understood by every backend.
const (
	FieldKeyword FieldType = "keyword"
	FieldInteger FieldType = "integer"
	FieldDouble  FieldType = "double"
	FieldBool    FieldType = "bool"

	// FieldText marks an adapter-reserved full-text column. It is not
	// valid in a schema's scalar fields; adapters use it internally to
	// route substring filters to text search.
	FieldText FieldType = "text"
)

// ScalarField declares one filterable payload field in a collection schema.
type ScalarField struct {
	Name    string
	Type    FieldType
	Indexed bool
}

// VectorSpec declares the vector side of a collection schema. Dimension and
// Distance apply to the dense vector; EnableSparse adds a sparse term-weight
// vector scored lexically by the backend.
type VectorSpec struct {
	Dimension    int
	Distance     Distance
	EnableSparse bool
}

// CollectionSchema binds a name to scalar fields and a vector spec. The
// registry derives Name from the tenant scope; adapters treat it as opaque.
type CollectionSchema struct {
	Name    string
	Scalars []ScalarField
	Vector  VectorSpec
}

// SparseVector maps terms to weights. Backends decide how terms are
// represented natively (hashed indices for qdrant, TEXT scoring for redis,
// direct dot product for memory).
type SparseVector map[string]float32

// Record is one stored unit: a layer of a resource, with its vectors and
// filterable payload fields.
type Record struct {
	ID        string
	Content   string
	Dense     []float32
	Sparse    SparseVector
	Fields    map[string]any
	CreatedAt time.Time
}

// QueryKind selects which vector of a record a query scores against.
type QueryKind string

// Query kinds.
const (
	KindDense  QueryKind = "dense"
	KindSparse QueryKind = "sparse"
)

// QuerySpec is one single-kind query. Hybrid retrieval issues one QuerySpec
// per kind and fuses above the adapter boundary.
type QuerySpec struct {
	Kind   QueryKind
	Dense  []float32
	Sparse SparseVector
	// Text is the raw query string, used by backends that score sparse
	// queries natively from text (redis BM25).
	Text   string
	Filter filter.Expr
	TopK   int
}

// Hit is one scored query result.
type Hit struct {
	ID        string
	Score     float32
	Content   string
	Fields    map[string]any
	CreatedAt time.Time
}

// DeleteSpec selects records to delete, by explicit ids or by filter.
// Exactly one selector must be set.
type DeleteSpec struct {
	IDs    []string
	Filter filter.Expr
}

// BatchResult reports per-id outcomes of a best-effort batch operation.
type BatchResult struct {
	Succeeded []string
	Failed    []BatchFailure
}

// Err returns nil for a fully successful batch, otherwise a *BatchError
// carrying the per-id failures.
func (r BatchResult) Err(op string) error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &BatchError{Op: op, Failures: r.Failed}
}

// AggregateSpec describes a grouped count over records matching a filter.
type AggregateSpec struct {
	// GroupBy is the scalar field to bucket by; empty means total-only.
	GroupBy string
}

// AggregateResult holds the total matching count and, when grouped, per-value
// counts.
type AggregateResult struct {
	Total  int64
	Groups map[string]int64
}

// IndexMeta carries backend index parameters produced by the
// BuildDefaultIndexMeta hook.
type IndexMeta struct {
	// Kind is "flat" or "hnsw".
	Kind           string
	M              int
	EfConstruction int
}
