package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKnowledge struct {
	lastScope   tenant.Scope
	lastIngest  knowledge.Resource
	lastQuery   string
	lastTopK    int
	lastFilter  filter.Expr
	lastRemoved string

	ingestErr error
	layerErr  error
	results   []retrieval.Result
}

func (f *fakeKnowledge) Ingest(ctx context.Context, res knowledge.Resource) (string, error) {
	f.lastScope, _ = tenant.ScopeFromContext(ctx)
	f.lastIngest = res
	if f.ingestErr != nil {
		return "", f.ingestErr
	}
	return "abc123", nil
}

func (f *fakeKnowledge) Search(ctx context.Context, query string, fl filter.Expr, topK int) ([]retrieval.Result, error) {
	f.lastScope, _ = tenant.ScopeFromContext(ctx)
	f.lastQuery = query
	f.lastFilter = fl
	f.lastTopK = topK
	return f.results, nil
}

func (f *fakeKnowledge) GetLayer(ctx context.Context, uri, layer string) (knowledge.Layer, error) {
	if f.layerErr != nil {
		return knowledge.Layer{}, f.layerErr
	}
	return knowledge.Layer{URI: uri, Layer: layer, Content: "summary text"}, nil
}

func (f *fakeKnowledge) Remove(ctx context.Context, uri string) error {
	f.lastRemoved = uri
	return nil
}

func newTestServer(svc Knowledge) *Server {
	return NewServer(Config{}, svc, nil)
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func scopedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set(HeaderWorkspace, "acme")
	req.Header.Set(HeaderAgent, "planner")
	return req
}

func TestHealthz(t *testing.T) {
	rec := doRequest(newTestServer(&fakeKnowledge{}), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(newTestServer(&fakeKnowledge{}), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScopeHeaderRequired(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/search?q=redis", nil)
	rec := doRequest(newTestServer(&fakeKnowledge{}), req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), HeaderWorkspace)
}

func TestIngest(t *testing.T) {
	svc := &fakeKnowledge{}
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodPost, "/v1/resources",
		`{"uri":"doc://a","kind":"resource","content_type":"text/plain","data":"aGVsbG8="}`))

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "abc123")
	assert.Equal(t, "doc://a", svc.lastIngest.URI)
	assert.Equal(t, []byte("hello"), svc.lastIngest.Data)
	assert.Equal(t, tenant.Scope{Workspace: "acme", Agent: "planner"}, svc.lastScope)
}

func TestIngestErrorMapping(t *testing.T) {
	svc := &fakeKnowledge{ingestErr: knowledge.ErrInvalidKind}
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodPost, "/v1/resources",
		`{"uri":"doc://a","kind":"bogus"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	svc := &fakeKnowledge{results: []retrieval.Result{
		{
			Hit: vectorstore.Hit{
				ID:        "h1",
				Score:     0.92,
				Content:   "redis overview",
				CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
			},
			Kind: "resource",
		},
	}}
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodGet, "/v1/search?q=redis&top_k=5&kind=resource", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "redis", svc.lastQuery)
	assert.Equal(t, 5, svc.lastTopK)
	require.NotNil(t, svc.lastFilter)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "h1", resp.Results[0].ID)
	assert.Equal(t, "resource", resp.Results[0].Kind)
}

func TestSearchParamValidation(t *testing.T) {
	s := newTestServer(&fakeKnowledge{})

	rec := doRequest(s, scopedRequest(http.MethodGet, "/v1/search", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(s, scopedRequest(http.MethodGet, "/v1/search?q=x&top_k=-1", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetLayer(t *testing.T) {
	svc := &fakeKnowledge{}
	target := "/v1/resources/" + url.PathEscape("doc://guides/redis") + "/layers/l1"
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodGet, target, ""))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp layerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "doc://guides/redis", resp.URI)
	assert.Equal(t, "l1", resp.Layer)
	assert.Equal(t, "summary text", resp.Content)
}

func TestGetLayerNotFound(t *testing.T) {
	svc := &fakeKnowledge{layerErr: knowledge.ErrNotFound}
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodGet, "/v1/resources/doc/layers/l0", ""))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRemove(t *testing.T) {
	svc := &fakeKnowledge{}
	target := "/v1/resources/" + url.PathEscape("doc://a")
	rec := doRequest(newTestServer(svc), scopedRequest(http.MethodDelete, target, ""))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "doc://a", svc.lastRemoved)
}
