// Package server exposes the knowledge service over HTTP. It is a thin
// shim: tenant scope comes from headers, the knowledge facade does the
// work, and errors map onto status codes by sentinel.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/strata/internal/filter"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/logging"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Tenant scope headers.
const (
	HeaderWorkspace = "X-Strata-Workspace"
	HeaderAgent     = "X-Strata-Agent"
)

// Config holds server settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":9180"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// Knowledge is the slice of the knowledge service the server exposes.
type Knowledge interface {
	Ingest(ctx context.Context, res knowledge.Resource) (string, error)
	Search(ctx context.Context, query string, f filter.Expr, topK int) ([]retrieval.Result, error)
	GetLayer(ctx context.Context, uri, layer string) (knowledge.Layer, error)
	Remove(ctx context.Context, uri string) error
}

// Server is the HTTP front of the knowledge service.
type Server struct {
	cfg    Config
	svc    Knowledge
	echo   *echo.Echo
	logger *logging.Logger
}

// NewServer builds the server and registers all routes.
func NewServer(cfg Config, svc Knowledge, logger *logging.Logger) *Server {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info(c.Request().Context(), "request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	s := &Server{cfg: cfg, svc: svc, echo: e, logger: logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1", s.scopeMiddleware)
	v1.POST("/resources", s.handleIngest)
	v1.GET("/search", s.handleSearch)
	v1.GET("/resources/:id/layers/:layer", s.handleGetLayer)
	v1.DELETE("/resources/:id", s.handleRemove)
}

// scopeMiddleware injects the tenant scope from headers into the request
// context. A missing workspace header fails closed with 400.
func (s *Server) scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspace := c.Request().Header.Get(HeaderWorkspace)
		if workspace == "" {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("%s header required", HeaderWorkspace))
		}
		scope := tenant.Scope{
			Workspace: workspace,
			Agent:     c.Request().Header.Get(HeaderAgent),
		}

		ctx, err := tenant.ContextWithScope(c.Request().Context(), scope)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		ctx = logging.WithScope(ctx, logging.Scope{Workspace: scope.Workspace, Agent: scope.Agent})
		if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
			ctx = logging.WithRequestID(ctx, rid)
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "strata",
	})
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// Returns http.ErrServerClosed on clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Echo returns the underlying router for registering additional routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
