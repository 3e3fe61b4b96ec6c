package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type ingestRequest struct {
	URI         string `json:"uri"`
	Kind        string `json:"kind"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
	FetchRef    string `json:"fetch_ref"`
}

type ingestResponse struct {
	ResourceID string `json:"resource_id"`
}

type searchHit struct {
	ID        string         `json:"id"`
	Score     float32        `json:"score"`
	Kind      string         `json:"kind"`
	Content   string         `json:"content"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type searchResponse struct {
	Results []searchHit `json:"results"`
}

type layerResponse struct {
	URI         string `json:"uri"`
	Layer       string `json:"layer"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.svc.Ingest(c.Request().Context(), knowledge.Resource{
		URI:         req.URI,
		Kind:        req.Kind,
		ContentType: req.ContentType,
		Data:        req.Data,
		FetchRef:    req.FetchRef,
	})
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, ingestResponse{ResourceID: id})
}

func (s *Server) handleSearch(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter required")
	}

	topK := 10
	if raw := c.QueryParam("top_k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "top_k must be a positive integer")
		}
		topK = n
	}

	var f filter.Expr
	if kind := c.QueryParam("kind"); kind != "" {
		f = filter.Eq(knowledge.FieldKind, kind)
	}

	results, err := s.svc.Search(c.Request().Context(), query, f, topK)
	if err != nil {
		return s.mapError(c, err)
	}

	resp := searchResponse{Results: make([]searchHit, len(results))}
	for i, r := range results {
		resp.Results[i] = toSearchHit(r)
	}
	return c.JSON(http.StatusOK, resp)
}

func toSearchHit(r retrieval.Result) searchHit {
	return searchHit{
		ID:        r.ID,
		Score:     r.Score,
		Kind:      r.Kind,
		Content:   r.Content,
		Fields:    r.Fields,
		CreatedAt: r.CreatedAt,
	}
}

func (s *Server) handleGetLayer(c echo.Context) error {
	uri, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}

	l, err := s.svc.GetLayer(c.Request().Context(), uri, c.Param("layer"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, layerResponse{
		URI:         l.URI,
		Layer:       l.Layer,
		Content:     l.Content,
		ContentType: l.ContentType,
	})
}

func (s *Server) handleRemove(c echo.Context) error {
	uri, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid resource id")
	}

	if err := s.svc.Remove(c.Request().Context(), uri); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// mapError translates domain sentinels onto HTTP status codes.
func (s *Server) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, knowledge.ErrInvalidKind),
		errors.Is(err, knowledge.ErrUnknownLayer),
		errors.Is(err, knowledge.ErrNoContent),
		errors.Is(err, retrieval.ErrReservedField),
		errors.Is(err, tenant.ErrMissingScope),
		errors.Is(err, tenant.ErrInvalidScope):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, knowledge.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, gateway.ErrTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, gateway.ErrModelUnavailable):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("path", c.Path()), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
