package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// axisEmbedder maps a tiny vocabulary onto vector axes so tests control
// similarity exactly.
type axisEmbedder struct{}

var axisVocab = []string{"redis", "qdrant", "chunk", "layer"}

func (axisEmbedder) embed(text string) []float32 {
	v := make([]float32, len(axisVocab))
	lower := strings.ToLower(text)
	for i, word := range axisVocab {
		v[i] = float32(strings.Count(lower, word))
	}
	return v
}

func (e axisEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e axisEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (axisEmbedder) Dimension() int { return len(axisVocab) }
func (axisEmbedder) Close() error   { return nil }

type fixture struct {
	coord    *Coordinator
	registry *tenant.Registry
	sparse   *gateway.BM25Encoder
	scope    tenant.Scope
	ctx      context.Context
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	gw, err := gateway.New(gateway.Config{Dimension: len(axisVocab)}, axisEmbedder{}, nil, nil, zap.NewNop())
	require.NoError(t, err)

	adapter := vectorstore.NewMemoryAdapter(zap.NewNop())
	registry, err := tenant.NewRegistry(vectorstore.NewBinder(adapter), tenant.RegistryConfig{
		Dimension:    len(axisVocab),
		EnableSparse: true,
		Scalars: []vectorstore.ScalarField{
			{Name: "uri", Type: vectorstore.FieldKeyword, Indexed: true},
			{Name: "layer", Type: vectorstore.FieldKeyword, Indexed: true},
		},
	})
	require.NoError(t, err)

	sparse := gateway.NewBM25Encoder()
	coord, err := NewCoordinator(cfg, gw, sparse, registry, zap.NewNop())
	require.NoError(t, err)

	scope := tenant.Scope{Workspace: "acme", Agent: "planner"}
	ctx, err := tenant.ContextWithScope(context.Background(), scope)
	require.NoError(t, err)

	return &fixture{coord: coord, registry: registry, sparse: sparse, scope: scope, ctx: ctx}
}

func (f *fixture) ingest(t *testing.T, scope tenant.Scope, kind, id, content string, at time.Time) {
	t.Helper()
	handle, err := f.registry.Collection(context.Background(), scope, kind)
	require.NoError(t, err)

	f.sparse.Fit([]string{content})
	fields := scope.Fields()
	fields["uri"] = id

	res, err := handle.Upsert(context.Background(), []vectorstore.Record{{
		ID:        id,
		Content:   content,
		Dense:     axisEmbedder{}.embed(content),
		Sparse:    vectorstore.SparseVector(f.sparse.EncodeDocument(content)),
		Fields:    fields,
		CreatedAt: at,
	}})
	require.NoError(t, err)
	require.NoError(t, res.Err("upsert"))
}

func TestSearchRequiresScope(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.coord.Search(context.Background(), "redis", Options{Kinds: []string{"resource"}})
	require.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestSearchRejectsReservedFilterFields(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.coord.Search(f.ctx, "redis", Options{
		Kinds:  []string{"resource"},
		Filter: filter.Eq("workspace", "other"),
	})
	require.ErrorIs(t, err, ErrReservedField)
}

func TestSearchDenseRanking(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()
	f.ingest(t, f.scope, "resource", "a", "redis redis redis notes", now)
	f.ingest(t, f.scope, "resource", "b", "qdrant sharding notes", now)

	results, err := f.coord.Search(f.ctx, "redis", Options{Kinds: []string{"resource"}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
}

func TestSearchZeroSparseWeightMatchesDenseOnly(t *testing.T) {
	now := time.Now()
	seed := func(f *fixture) {
		f.ingest(t, f.scope, "resource", "a", "redis configuration layer", now)
		f.ingest(t, f.scope, "resource", "b", "qdrant chunk handling", now)
		f.ingest(t, f.scope, "resource", "c", "redis qdrant comparison", now)
	}

	zeroWeight := newFixture(t, Config{Strategy: StrategyLinear, SparseWeight: 0})
	seed(zeroWeight)
	denseOnly := newFixture(t, Config{Strategy: StrategyLinear, SparseWeight: 0.5})
	seed(denseOnly)
	// Same corpus, sparse disabled by removing the encoder entirely.
	denseOnly.coord.sparse = nil

	got, err := zeroWeight.coord.Search(zeroWeight.ctx, "redis layer", Options{Kinds: []string{"resource"}, TopK: 10})
	require.NoError(t, err)
	want, err := denseOnly.coord.Search(denseOnly.ctx, "redis layer", Options{Kinds: []string{"resource"}, TopK: 10})
	require.NoError(t, err)

	assert.Equal(t, want, got, "zero sparse weight must be identical to dense-only")
}

func TestSearchSparseWeightMonotonic(t *testing.T) {
	now := time.Now()
	// "fsync" is outside the dense vocabulary: only the sparse side sees it.
	seed := func(f *fixture) {
		f.ingest(t, f.scope, "resource", "dense-hit", "redis redis tuning", now)
		f.ingest(t, f.scope, "resource", "sparse-hit", "redis fsync durability fsync", now)
	}

	rank := func(weight float32) int {
		f := newFixture(t, Config{Strategy: StrategyLinear, SparseWeight: weight})
		seed(f)
		results, err := f.coord.Search(f.ctx, "redis fsync", Options{Kinds: []string{"resource"}, TopK: 10})
		require.NoError(t, err)
		for i, r := range results {
			if r.ID == "sparse-hit" {
				return i
			}
		}
		return len(results)
	}

	assert.LessOrEqual(t, rank(2.0), rank(0.0),
		"raising sparse weight must never lower a sparse match's rank")
}

func TestSearchRRFFusesBothSides(t *testing.T) {
	f := newFixture(t, Config{Strategy: StrategyRRF})
	now := time.Now()
	f.ingest(t, f.scope, "resource", "both", "redis fsync notes", now)
	f.ingest(t, f.scope, "resource", "dense-only", "redis redis redis", now)

	results, err := f.coord.Search(f.ctx, "redis fsync", Options{Kinds: []string{"resource"}, TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	// Appearing high in both lists beats topping only one.
	assert.Equal(t, "both", results[0].ID)
}

func TestSearchTenantIsolation(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()
	f.ingest(t, f.scope, "resource", "mine", "redis notes", now)

	other := tenant.Scope{Workspace: "other", Agent: "planner"}
	f.ingest(t, other, "resource", "theirs", "redis notes", now)

	// Same workspace, different agent: hidden unless shared.
	foreign := tenant.Scope{Workspace: "acme", Agent: "reviewer"}
	f.ingest(t, foreign, "resource", "foreign-agent", "redis notes", now)

	// Shared-agent record in the same workspace: visible.
	shared := tenant.Scope{Workspace: "acme", Agent: tenant.SharedAgent}
	f.ingest(t, shared, "resource", "shared", "redis notes", now)

	results, err := f.coord.Search(f.ctx, "redis", Options{Kinds: []string{"resource"}, TopK: 10})
	require.NoError(t, err)

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"mine", "shared"}, ids)
}

func TestSearchDeterministicTieBreak(t *testing.T) {
	f := newFixture(t, Config{})
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	f.ingest(t, f.scope, "resource", "old", "redis notes", older)
	f.ingest(t, f.scope, "resource", "new", "redis notes", newer)

	for i := 0; i < 5; i++ {
		results, err := f.coord.Search(f.ctx, "redis", Options{Kinds: []string{"resource"}, TopK: 10})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "new", results[0].ID, "equal scores break toward the newer record")
	}
}

func TestSearchAcrossKinds(t *testing.T) {
	f := newFixture(t, Config{})
	now := time.Now()
	f.ingest(t, f.scope, "resource", "doc", "redis overview", now)
	f.ingest(t, f.scope, "memory", "note", "redis lesson learned", now)

	results, err := f.coord.Search(f.ctx, "redis", Options{Kinds: []string{"resource", "memory"}, TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)

	kinds := map[string]bool{}
	for _, r := range results {
		kinds[r.Kind] = true
	}
	assert.True(t, kinds["resource"] && kinds["memory"])
}

func TestSearchRerankWindow(t *testing.T) {
	f := newFixture(t, Config{Rerank: true, RerankWindow: 2})
	now := time.Now()
	f.ingest(t, f.scope, "resource", "a", "redis redis redis redis", now)
	f.ingest(t, f.scope, "resource", "b", "redis layer handling", now)
	f.ingest(t, f.scope, "resource", "c", "redis chunk qdrant", now)

	results, err := f.coord.Search(f.ctx, "redis layer", Options{Kinds: []string{"resource"}, TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	// Only the top-2 window was reranked; the tail keeps a zero rerank score.
	assert.Zero(t, results[2].RerankScore)
}
