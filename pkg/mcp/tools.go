package mcp

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type ingestInput struct {
	URI         string `json:"uri" jsonschema:"required,Stable resource URI. Re-ingesting the same URI updates it in place."`
	Kind        string `json:"kind,omitempty" jsonschema:"Record kind: resource (default), memory, or skill"`
	Content     string `json:"content" jsonschema:"required,Raw content to ingest"`
	ContentType string `json:"content_type,omitempty" jsonschema:"MIME type of the content (default text/plain)"`
	Agent       string `json:"agent,omitempty" jsonschema:"Agent scope override; empty uses the server default"`
}

type ingestOutput struct {
	ResourceID string `json:"resource_id" jsonschema:"Content-derived resource id"`
}

type searchInput struct {
	Query string `json:"query" jsonschema:"required,Natural-language search query"`
	Kind  string `json:"kind,omitempty" jsonschema:"Restrict to one record kind (resource, memory, skill)"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"Maximum results (default 10)"`
	Agent string `json:"agent,omitempty" jsonschema:"Agent scope override; empty uses the server default"`
}

type searchResult struct {
	ID        string    `json:"id"`
	Score     float32   `json:"score"`
	Kind      string    `json:"kind"`
	URI       string    `json:"uri,omitempty"`
	Layer     string    `json:"layer,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type searchOutput struct {
	Results []searchResult `json:"results" jsonschema:"Ranked results, best first"`
	Count   int            `json:"count" jsonschema:"Number of results"`
}

type getLayerInput struct {
	URI   string `json:"uri" jsonschema:"required,Resource URI"`
	Layer string `json:"layer" jsonschema:"required,Layer to fetch: l0 (abstract), l1 (overview), or l2 (full content)"`
	Agent string `json:"agent,omitempty" jsonschema:"Agent scope override; empty uses the server default"`
}

type getLayerOutput struct {
	URI     string `json:"uri"`
	Layer   string `json:"layer"`
	Content string `json:"content"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "strata_ingest",
		Description: "Ingest content into the knowledge store. Derives abstract (l0) and overview (l1) layers and indexes them for semantic search. Idempotent per URI.",
	}, s.handleIngest)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "strata_search",
		Description: "Semantic search over the knowledge store. Returns ranked layer records; use strata_get_layer to pull deeper layers of a hit.",
	}, s.handleSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "strata_get_layer",
		Description: "Fetch one layer of a resource: l0 abstract, l1 overview, or l2 full content.",
	}, s.handleGetLayer)
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, args ingestInput) (*mcp.CallToolResult, ingestOutput, error) {
	ctx, err := s.scoped(ctx, args.Agent)
	if err != nil {
		return nil, ingestOutput{}, err
	}

	kind := args.Kind
	if kind == "" {
		kind = knowledge.KindResource
	}
	contentType := args.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	id, err := s.svc.Ingest(ctx, knowledge.Resource{
		URI:         args.URI,
		Kind:        kind,
		ContentType: contentType,
		Data:        []byte(args.Content),
	})
	if err != nil {
		return nil, ingestOutput{}, err
	}
	return nil, ingestOutput{ResourceID: id}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, searchOutput, error) {
	ctx, err := s.scoped(ctx, args.Agent)
	if err != nil {
		return nil, searchOutput{}, err
	}

	topK := args.TopK
	if topK <= 0 {
		topK = 10
	}
	var f filter.Expr
	if args.Kind != "" {
		f = filter.Eq(knowledge.FieldKind, args.Kind)
	}

	results, err := s.svc.Search(ctx, args.Query, f, topK)
	if err != nil {
		return nil, searchOutput{}, err
	}

	out := searchOutput{Results: make([]searchResult, len(results)), Count: len(results)}
	for i, r := range results {
		sr := searchResult{
			ID:        r.ID,
			Score:     r.Score,
			Kind:      r.Kind,
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
		if uri, ok := r.Fields[knowledge.FieldURI].(string); ok {
			sr.URI = uri
		}
		if l, ok := r.Fields[knowledge.FieldLayer].(string); ok {
			sr.Layer = l
		}
		out.Results[i] = sr
	}
	return nil, out, nil
}

func (s *Server) handleGetLayer(ctx context.Context, _ *mcp.CallToolRequest, args getLayerInput) (*mcp.CallToolResult, getLayerOutput, error) {
	ctx, err := s.scoped(ctx, args.Agent)
	if err != nil {
		return nil, getLayerOutput{}, err
	}

	l, err := s.svc.GetLayer(ctx, args.URI, args.Layer)
	if err != nil {
		return nil, getLayerOutput{}, err
	}
	return nil, getLayerOutput{URI: l.URI, Layer: l.Layer, Content: l.Content}, nil
}
