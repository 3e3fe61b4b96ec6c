package mcp

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKnowledge struct {
	lastScope  tenant.Scope
	lastIngest knowledge.Resource
	lastQuery  string
	lastTopK   int
	lastFilter filter.Expr

	searchErr error
	results   []retrieval.Result
}

func (f *fakeKnowledge) Ingest(ctx context.Context, res knowledge.Resource) (string, error) {
	f.lastScope, _ = tenant.ScopeFromContext(ctx)
	f.lastIngest = res
	return "rid-1", nil
}

func (f *fakeKnowledge) Search(ctx context.Context, query string, fl filter.Expr, topK int) ([]retrieval.Result, error) {
	f.lastScope, _ = tenant.ScopeFromContext(ctx)
	f.lastQuery = query
	f.lastFilter = fl
	f.lastTopK = topK
	return f.results, f.searchErr
}

func (f *fakeKnowledge) GetLayer(ctx context.Context, uri, layer string) (knowledge.Layer, error) {
	f.lastScope, _ = tenant.ScopeFromContext(ctx)
	return knowledge.Layer{URI: uri, Layer: layer, Content: "abstract text"}, nil
}

func newTestServer(t *testing.T, svc Knowledge) *Server {
	t.Helper()
	s, err := NewServer(Config{Workspace: "acme", Agent: "planner"}, svc)
	require.NoError(t, err)
	return s
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Workspace: "acme"}, nil)
	require.Error(t, err)

	_, err = NewServer(Config{}, &fakeKnowledge{})
	require.Error(t, err)
}

func TestIngestTool(t *testing.T) {
	svc := &fakeKnowledge{}
	s := newTestServer(t, svc)

	_, out, err := s.handleIngest(context.Background(), nil, ingestInput{
		URI:     "doc://redis",
		Content: "redis notes",
	})
	require.NoError(t, err)

	assert.Equal(t, "rid-1", out.ResourceID)
	assert.Equal(t, knowledge.KindResource, svc.lastIngest.Kind)
	assert.Equal(t, "text/plain", svc.lastIngest.ContentType)
	assert.Equal(t, []byte("redis notes"), svc.lastIngest.Data)
	assert.Equal(t, tenant.Scope{Workspace: "acme", Agent: "planner"}, svc.lastScope)
}

func TestIngestToolAgentOverride(t *testing.T) {
	svc := &fakeKnowledge{}
	s := newTestServer(t, svc)

	_, _, err := s.handleIngest(context.Background(), nil, ingestInput{
		URI:     "doc://redis",
		Content: "x",
		Agent:   "reviewer",
	})
	require.NoError(t, err)
	assert.Equal(t, "reviewer", svc.lastScope.Agent)
}

func TestSearchTool(t *testing.T) {
	svc := &fakeKnowledge{results: []retrieval.Result{
		{
			Hit: vectorstore.Hit{
				ID:      "h1",
				Score:   0.8,
				Content: "overview",
				Fields: map[string]any{
					knowledge.FieldURI:   "doc://redis",
					knowledge.FieldLayer: "l1",
				},
			},
			Kind: knowledge.KindResource,
		},
	}}
	s := newTestServer(t, svc)

	_, out, err := s.handleSearch(context.Background(), nil, searchInput{
		Query: "redis eviction",
		Kind:  knowledge.KindMemory,
	})
	require.NoError(t, err)

	assert.Equal(t, "redis eviction", svc.lastQuery)
	assert.Equal(t, 10, svc.lastTopK)
	require.NotNil(t, svc.lastFilter)

	require.Equal(t, 1, out.Count)
	assert.Equal(t, "doc://redis", out.Results[0].URI)
	assert.Equal(t, "l1", out.Results[0].Layer)
}

func TestGetLayerTool(t *testing.T) {
	svc := &fakeKnowledge{}
	s := newTestServer(t, svc)

	_, out, err := s.handleGetLayer(context.Background(), nil, getLayerInput{
		URI:   "doc://redis",
		Layer: "l0",
	})
	require.NoError(t, err)
	assert.Equal(t, "doc://redis", out.URI)
	assert.Equal(t, "l0", out.Layer)
	assert.Equal(t, "abstract text", out.Content)
}
