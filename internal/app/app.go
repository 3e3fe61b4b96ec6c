// Package app assembles the strata stack from configuration. The daemon,
// the CLI and the stdio MCP mode all build through it so wiring decisions
// live in one place.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/config"
	"github.com/fyrsmithlabs/strata/internal/events"
	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/layer"
	"github.com/fyrsmithlabs/strata/internal/logging"
	"github.com/fyrsmithlabs/strata/internal/retrieval"
	"github.com/fyrsmithlabs/strata/internal/secrets"
	"github.com/fyrsmithlabs/strata/internal/telemetry"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"github.com/fyrsmithlabs/strata/internal/vectorstore"
	"github.com/fyrsmithlabs/strata/internal/watcher"
)

// App is the assembled process: every long-lived collaborator the commands
// need, plus ownership of their shutdown order.
type App struct {
	Config    *config.Config
	Logger    *logging.Logger
	Telemetry *telemetry.Telemetry

	Gateway  *gateway.Gateway
	Registry *tenant.Registry
	Service  *knowledge.Service

	// Watcher is nil unless the drop directory is enabled.
	Watcher *watcher.Watcher

	adapter vectorstore.Adapter
	binder  *vectorstore.Binder
	nc      *nats.Conn
}

// DropCollection administratively removes a collection from the backend.
// Nothing drops collections implicitly; this is the only path.
func (a *App) DropCollection(ctx context.Context, name string) error {
	return a.binder.Drop(ctx, name)
}

// New builds the full stack. On error everything already constructed is
// torn down before returning.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := newLogger(cfg, tel)
	if err != nil {
		shutdownQuiet(ctx, tel)
		return nil, fmt.Errorf("logging: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Telemetry: tel}
	if err := a.build(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	zl := a.Logger.Underlying()

	gw, err := newGateway(cfg, zl)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	a.Gateway = gw

	adapter, err := vectorstore.New(vectorstore.BackendConfig{
		Backend:      cfg.Store.Backend,
		Endpoint:     cfg.Store.Endpoint,
		APIKey:       cfg.Store.APIKey.Value(),
		Path:         cfg.Store.Path,
		Timeout:      cfg.Store.Timeout.Duration(),
		MaxRetries:   cfg.Store.MaxRetries,
		RetryBackoff: cfg.Store.RetryBackoff.Duration(),
		UseTLS:       cfg.Store.UseTLS,
	}, zl)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	a.adapter = adapter
	a.binder = vectorstore.NewBinder(adapter)

	registry, err := tenant.NewRegistry(a.binder, tenant.RegistryConfig{
		Dimension:    cfg.Gateway.Dimension,
		Distance:     vectorstore.Distance(cfg.Store.Distance),
		EnableSparse: cfg.Store.EnableSparse,
		Scalars: []vectorstore.ScalarField{
			{Name: knowledge.FieldURI, Type: vectorstore.FieldKeyword, Indexed: true},
			{Name: knowledge.FieldKind, Type: vectorstore.FieldKeyword, Indexed: true},
			{Name: knowledge.FieldLayer, Type: vectorstore.FieldKeyword, Indexed: true},
		},
	})
	if err != nil {
		return fmt.Errorf("tenant registry: %w", err)
	}
	a.Registry = registry

	scrubber, err := secrets.NewScrubber(secrets.Config{
		Disabled:      cfg.Secrets.Disabled,
		ProjectPath:   cfg.Secrets.ProjectPath,
		UserAllowlist: cfg.Secrets.UserAllowlist,
	})
	if err != nil {
		return fmt.Errorf("secret scrubber: %w", err)
	}

	builder, err := layer.NewBuilder(layer.Config{
		WindowTokens:   cfg.Layer.WindowTokens,
		ChunkSize:      cfg.Layer.ChunkSize,
		ChunkOverlap:   cfg.Layer.ChunkOverlap,
		AbstractTokens: cfg.Layer.AbstractTokens,
		OverviewTokens: cfg.Layer.OverviewTokens,
	}, gw, scrubber, zl)
	if err != nil {
		return fmt.Errorf("layer builder: %w", err)
	}

	var sparse *gateway.BM25Encoder
	if cfg.Store.EnableSparse {
		sparse = gateway.NewBM25Encoder()
	}

	coord, err := retrieval.NewCoordinator(retrieval.Config{
		Strategy:     cfg.Retrieval.Strategy,
		SparseWeight: float32(cfg.Retrieval.SparseWeight),
		RerankWindow: cfg.Retrieval.RerankWindow,
		Rerank:       cfg.Retrieval.Rerank,
	}, gw, sparse, registry, zl)
	if err != nil {
		return fmt.Errorf("retrieval coordinator: %w", err)
	}

	var publisher *events.Publisher
	if cfg.Events.URL != "" {
		nc, err := nats.Connect(cfg.Events.URL,
			nats.Name("strata"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		a.nc = nc
		publisher = events.NewPublisher(nc, zl)
	}

	svc, err := knowledge.NewService(knowledge.Config{EnableSparse: cfg.Store.EnableSparse}, knowledge.Deps{
		Builder:     builder,
		Gateway:     gw,
		Registry:    registry,
		Coordinator: coord,
		Sparse:      sparse,
		Fetcher:     knowledge.FileFetcher{Root: cfg.Watcher.Dir},
		Events:      publisher,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("knowledge service: %w", err)
	}
	a.Service = svc

	if cfg.Watcher.Enabled {
		w, err := watcher.New(watcher.Config{
			Dir:       cfg.Watcher.Dir,
			Debounce:  cfg.Watcher.Debounce.Duration(),
			Workspace: cfg.Watcher.Workspace,
			Agent:     cfg.Watcher.Agent,
		}, svc, zl)
		if err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		a.Watcher = w
	}

	return nil
}

// Close releases everything in reverse construction order. Safe to call on
// a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Watcher != nil {
		errs = append(errs, a.Watcher.Close())
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.adapter != nil {
		errs = append(errs, a.adapter.Close())
	}
	if a.Gateway != nil {
		errs = append(errs, a.Gateway.Close())
	}
	if a.Logger != nil {
		errs = append(errs, a.Logger.Sync())
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

func newGateway(cfg *config.Config, zl *zap.Logger) (*gateway.Gateway, error) {
	gwCfg := gateway.Config{
		Dimension: cfg.Gateway.Dimension,
		Limits: gateway.Limits{
			Embed:     int64(cfg.Gateway.Limits.Embed),
			Summarize: int64(cfg.Gateway.Limits.Summarize),
			Rerank:    int64(cfg.Gateway.Limits.Rerank),
		},
		Retry: gateway.Retry{
			MaxAttempts: cfg.Gateway.Retry.MaxAttempts,
			Backoff:     cfg.Gateway.Retry.Backoff.Duration(),
		},
		RatePerSecond: cfg.Gateway.RatePerSecond,
	}

	switch cfg.Gateway.Provider {
	case "openai":
		apiKey := cfg.Gateway.APIKey.Value()
		if apiKey == "" {
			// base_url-only setups point at local OpenAI-compatible
			// servers; the client still wants a bearer token.
			apiKey = "local"
		}
		oc := &gateway.OpenAIConfig{
			APIKey:     apiKey,
			BaseURL:    cfg.Gateway.BaseURL,
			EmbedModel: cfg.Gateway.EmbedModel,
			ChatModel:  cfg.Gateway.ChatModel,
			Dimension:  cfg.Gateway.Dimension,
			Logger:     zl,
		}
		embedder, err := gateway.NewOpenAIEmbedder(oc)
		if err != nil {
			return nil, err
		}
		summarizer, err := gateway.NewOpenAISummarizer(oc)
		if err != nil {
			return nil, err
		}
		reranker, err := gateway.NewOpenAIReranker(oc)
		if err != nil {
			return nil, err
		}
		return gateway.New(gwCfg, embedder, summarizer, reranker, zl)

	case "fastembed":
		embedder, err := gateway.NewFastEmbedProvider(gateway.FastEmbedConfig{
			Model: cfg.Gateway.EmbedModel,
		})
		if err != nil {
			return nil, err
		}
		// No local summarizer or reranker; the gateway degrades to its
		// deterministic fallbacks.
		return gateway.New(gwCfg, embedder, nil, nil, zl)

	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Gateway.Provider)
	}
}

func newLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc := logging.NewDefaultConfig()
	lc.Level = level
	if cfg.Logging.Format != "" {
		lc.Format = cfg.Logging.Format
	}
	lc.Output.Stderr = cfg.Logging.Stderr
	lc.Output.OTEL = cfg.Logging.OTEL && tel.IsEnabled()
	return logging.NewLogger(lc, tel.LoggerProvider())
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.ServiceName != "" {
		tc.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tc.Protocol = cfg.Telemetry.Protocol
	}
	tc.Insecure = cfg.Telemetry.Insecure
	return tc
}

func shutdownQuiet(ctx context.Context, tel *telemetry.Telemetry) {
	_ = tel.Shutdown(ctx)
}
