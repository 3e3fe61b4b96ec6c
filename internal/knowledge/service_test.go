package knowledge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/layer"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// hashEmbedder buckets words into a fixed number of dimensions. Similar
// texts share buckets, and the mapping is fully deterministic.
type hashEmbedder struct{ dim int }

func (e hashEmbedder) embed(text string) []float32 {
	v := make([]float32, e.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var h uint32
		for _, r := range w {
			h = h*31 + uint32(r)
		}
		v[h%uint32(e.dim)]++
	}
	return v
}

func (e hashEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e hashEmbedder) Dimension() int { return e.dim }
func (e hashEmbedder) Close() error   { return nil }

// mapFetcher serves canonical bytes from a map, standing in for external
// byte storage.
type mapFetcher map[string][]byte

func (m mapFetcher) FetchBytes(_ context.Context, uri string) ([]byte, error) {
	data, ok := m[uri]
	if !ok {
		return nil, fmt.Errorf("no bytes for %s", uri)
	}
	return data, nil
}

type env struct {
	svc     *Service
	adapter *vectorstore.MemoryAdapter
	fetcher mapFetcher
	ctx     context.Context
	scope   tenant.Scope
}

func newEnv(t *testing.T) *env {
	t.Helper()
	const dim = 32

	gw, err := gateway.New(gateway.Config{Dimension: dim}, hashEmbedder{dim: dim}, nil, nil, zap.NewNop())
	require.NoError(t, err)

	builder, err := layer.NewBuilder(layer.Config{}, gw, nil, zap.NewNop())
	require.NoError(t, err)

	adapter := vectorstore.NewMemoryAdapter(zap.NewNop())
	registry, err := tenant.NewRegistry(vectorstore.NewBinder(adapter), tenant.RegistryConfig{
		Dimension:    dim,
		EnableSparse: true,
		Scalars: []vectorstore.ScalarField{
			{Name: FieldURI, Type: vectorstore.FieldKeyword, Indexed: true},
			{Name: FieldKind, Type: vectorstore.FieldKeyword, Indexed: true},
			{Name: FieldLayer, Type: vectorstore.FieldKeyword, Indexed: true},
		},
	})
	require.NoError(t, err)

	sparse := gateway.NewBM25Encoder()
	coord, err := retrieval.NewCoordinator(retrieval.Config{SparseWeight: 0.3}, gw, sparse, registry, zap.NewNop())
	require.NoError(t, err)

	fetcher := mapFetcher{}
	svc, err := NewService(Config{EnableSparse: true}, Deps{
		Builder:     builder,
		Gateway:     gw,
		Registry:    registry,
		Coordinator: coord,
		Sparse:      sparse,
		Fetcher:     fetcher,
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)

	scope := tenant.Scope{Workspace: "acme", Agent: "planner"}
	ctx, err := tenant.ContextWithScope(context.Background(), scope)
	require.NoError(t, err)

	return &env{svc: svc, adapter: adapter, fetcher: fetcher, ctx: ctx, scope: scope}
}

// agentCtx builds a context scoped to another agent in the same workspace.
func (e *env) agentCtx(t *testing.T, agent string) context.Context {
	t.Helper()
	ctx, err := tenant.ContextWithScope(context.Background(), tenant.Scope{Workspace: e.scope.Workspace, Agent: agent})
	require.NoError(t, err)
	return ctx
}

func (e *env) count(t *testing.T, kind string) int64 {
	t.Helper()
	handle, err := e.adapter.EnsureCollection(context.Background(), vectorstore.CollectionSchema{
		Name:   "acme_" + kind,
		Vector: vectorstore.VectorSpec{Dimension: 32, EnableSparse: true},
	})
	require.NoError(t, err)
	n, err := handle.Count(context.Background(), nil)
	require.NoError(t, err)
	return n
}

func TestIngestThenSearch(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Ingest(e.ctx, Resource{
		URI:         "file:///redis.md",
		Kind:        KindResource,
		ContentType: "text/markdown",
		Data: []byte("Redis persistence uses append only files. " +
			"The fsync policy controls durability against crashes."),
	})
	require.NoError(t, err)

	_, err = e.svc.Ingest(e.ctx, Resource{
		URI:  "file:///gardening.md",
		Kind: KindResource,
		Data: []byte("Tomatoes prefer full sun and regular watering schedules."),
	})
	require.NoError(t, err)

	results, err := e.svc.Search(e.ctx, "Redis persistence fsync durability", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "file:///redis.md", results[0].Fields[FieldURI])
}

func TestIngestIdempotent(t *testing.T) {
	e := newEnv(t)

	res := Resource{
		URI:  "file:///doc.md",
		Kind: KindResource,
		Data: []byte("Layered storage keeps abstracts separate from full content."),
	}

	id1, err := e.svc.Ingest(e.ctx, res)
	require.NoError(t, err)
	id2, err := e.svc.Ingest(e.ctx, res)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, int64(2), e.count(t, KindResource), "re-ingest must update in place, not duplicate")
}

func TestIngestValidatesKind(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Ingest(e.ctx, Resource{URI: "u", Kind: "journal", Data: []byte("x")})
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestIngestRequiresScope(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Ingest(context.Background(), Resource{URI: "u", Kind: KindResource, Data: []byte("x")})
	require.ErrorIs(t, err, tenant.ErrMissingScope)
}

func TestIngestFetchesWhenNoInlineData(t *testing.T) {
	e := newEnv(t)
	e.fetcher["blob://doc"] = []byte("Fetched content about retrieval pipelines.")

	_, err := e.svc.Ingest(e.ctx, Resource{URI: "file:///doc.md", Kind: KindResource, FetchRef: "blob://doc"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.count(t, KindResource))
}

func TestGetLayer(t *testing.T) {
	e := newEnv(t)
	content := "Filter compilation happens once per backend visitor. " +
		"Count and query always share the same compiled form."
	e.fetcher["file:///doc.md"] = []byte(content)

	_, err := e.svc.Ingest(e.ctx, Resource{
		URI:  "file:///doc.md",
		Kind: KindMemory,
		Data: []byte(content),
	})
	require.NoError(t, err)

	l0, err := e.svc.GetLayer(e.ctx, "file:///doc.md", LayerAbstract)
	require.NoError(t, err)
	assert.Equal(t, LayerAbstract, l0.Layer)
	assert.NotEmpty(t, l0.Content)

	l1, err := e.svc.GetLayer(e.ctx, "file:///doc.md", LayerOverview)
	require.NoError(t, err)
	assert.NotEmpty(t, l1.Content)

	// L2 streams through the fetcher, not the index.
	l2, err := e.svc.GetLayer(e.ctx, "file:///doc.md", LayerContent)
	require.NoError(t, err)
	assert.Equal(t, content, l2.Content)

	_, err = e.svc.GetLayer(e.ctx, "file:///missing.md", LayerAbstract)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.svc.GetLayer(e.ctx, "file:///doc.md", "l9")
	require.ErrorIs(t, err, ErrUnknownLayer)
}

func TestRemoveDeletesAllLayers(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Ingest(e.ctx, Resource{
		URI:  "file:///doc.md",
		Kind: KindResource,
		Data: []byte("Content that will be removed shortly."),
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), e.count(t, KindResource))

	require.NoError(t, e.svc.Remove(e.ctx, "file:///doc.md"))
	assert.Equal(t, int64(0), e.count(t, KindResource))

	_, err = e.svc.GetLayer(e.ctx, "file:///doc.md", LayerAbstract)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRecordIDStable(t *testing.T) {
	planner := tenant.Scope{Workspace: "acme", Agent: "planner"}
	a := RecordID(planner, "file:///doc.md", LayerAbstract)
	b := RecordID(planner, "file:///doc.md", LayerAbstract)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, RecordID(planner, "file:///doc.md", LayerOverview))
	assert.NotEqual(t, a, RecordID(tenant.Scope{Workspace: "other", Agent: "planner"}, "file:///doc.md", LayerAbstract))
	assert.NotEqual(t, a, RecordID(tenant.Scope{Workspace: "acme", Agent: "reviewer"}, "file:///doc.md", LayerAbstract))
	assert.NotEqual(t, a, RecordID(tenant.Scope{Workspace: "acme", Agent: tenant.SharedAgent}, "file:///doc.md", LayerAbstract))
	assert.Len(t, a, 32)
}

// Two agents ingesting the same uri in one workspace own separate records:
// neither ingest overwrites the other, and each agent's search sees only
// its own document.
func TestIngestIsolatesAgentsOnSameURI(t *testing.T) {
	e := newEnv(t)
	const uri = "file:///notes.md"

	_, err := e.svc.Ingest(e.ctx, Resource{
		URI:  uri,
		Kind: KindResource,
		Data: []byte("Redis persistence uses append only files. " +
			"The fsync policy controls durability against crashes."),
	})
	require.NoError(t, err)

	reviewerCtx := e.agentCtx(t, "reviewer")
	_, err = e.svc.Ingest(reviewerCtx, Resource{
		URI:  uri,
		Kind: KindResource,
		Data: []byte("Tomatoes prefer full sun and regular watering schedules."),
	})
	require.NoError(t, err)

	// Both documents persist side by side, two layers each.
	require.Equal(t, int64(4), e.count(t, KindResource))

	results, err := e.svc.Search(e.ctx, "Redis persistence fsync durability", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "planner", r.Fields[tenant.FieldAgent])
	}

	results, err = e.svc.Search(reviewerCtx, "tomato watering sun", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "reviewer", r.Fields[tenant.FieldAgent])
	}
}

// Resource ids carry the agent, so the ingest return value differs per
// agent even for the same uri.
func TestIngestReturnsAgentScopedResourceID(t *testing.T) {
	e := newEnv(t)
	res := Resource{URI: "file:///doc.md", Kind: KindResource, Data: []byte("Shared wording either way.")}

	id1, err := e.svc.Ingest(e.ctx, res)
	require.NoError(t, err)
	id2, err := e.svc.Ingest(e.agentCtx(t, "reviewer"), res)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

// Remove only touches the calling agent's records for the uri.
func TestRemoveScopedToAgent(t *testing.T) {
	e := newEnv(t)
	const uri = "file:///shared-name.md"

	_, err := e.svc.Ingest(e.ctx, Resource{URI: uri, Kind: KindResource, Data: []byte("Planner notes on sharding.")})
	require.NoError(t, err)
	reviewerCtx := e.agentCtx(t, "reviewer")
	_, err = e.svc.Ingest(reviewerCtx, Resource{URI: uri, Kind: KindResource, Data: []byte("Reviewer notes on sharding.")})
	require.NoError(t, err)
	require.Equal(t, int64(4), e.count(t, KindResource))

	require.NoError(t, e.svc.Remove(e.ctx, uri))
	assert.Equal(t, int64(2), e.count(t, KindResource))

	_, err = e.svc.GetLayer(e.ctx, uri, LayerAbstract)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.svc.GetLayer(reviewerCtx, uri, LayerAbstract)
	require.NoError(t, err)
}

// A record ingested under the shared agent stays readable by every agent,
// matching search visibility.
func TestGetLayerFallsBackToSharedRecords(t *testing.T) {
	e := newEnv(t)
	const uri = "file:///handbook.md"

	sharedCtx := e.agentCtx(t, tenant.SharedAgent)
	_, err := e.svc.Ingest(sharedCtx, Resource{URI: uri, Kind: KindResource, Data: []byte("Team handbook everyone can read.")})
	require.NoError(t, err)

	l0, err := e.svc.GetLayer(e.ctx, uri, LayerAbstract)
	require.NoError(t, err)
	assert.NotEmpty(t, l0.Content)
}
