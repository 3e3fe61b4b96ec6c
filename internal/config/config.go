// Package config provides configuration loading for strata.
//
// Configuration is layered: hardcoded defaults, then a YAML file, then
// STRATA_-prefixed environment variables, highest last. Every section
// carries koanf tags; defaults are applied before validation so a zero
// config is always runnable against the in-memory backend.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete strata configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Layer     LayerConfig     `koanf:"layer"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Secrets   SecretsConfig   `koanf:"secrets"`
	Events    EventsConfig    `koanf:"events"`
	Watcher   WatcherConfig   `koanf:"watcher"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	// Backend is the adapter registry key: memory, chromem, qdrant, redis.
	Backend string `koanf:"backend"`

	// Endpoint is the backend address (host:port) for remote backends.
	Endpoint string `koanf:"endpoint"`

	// APIKey authenticates against backends that require it.
	APIKey Secret `koanf:"api_key"`

	// Path is the storage directory for embedded backends.
	Path string `koanf:"path"`

	Timeout      Duration `koanf:"timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
	UseTLS       bool     `koanf:"use_tls"`

	// Distance is the dense similarity metric: cosine, dot, euclid.
	Distance string `koanf:"distance"`

	// EnableSparse provisions a sparse term-weight vector per collection.
	EnableSparse bool `koanf:"enable_sparse"`
}

// GatewayConfig configures model providers and admission limits.
type GatewayConfig struct {
	// Provider selects the model stack: openai (embeddings, VLM summarize,
	// LLM rerank) or fastembed (local embeddings; summarize and rerank
	// degrade to the deterministic fallbacks).
	Provider string `koanf:"provider"`

	APIKey     Secret `koanf:"api_key"`
	BaseURL    string `koanf:"base_url"`
	EmbedModel string `koanf:"embed_model"`
	ChatModel  string `koanf:"chat_model"`

	// Dimension is the required embedding dimension for every provider.
	Dimension int `koanf:"dimension"`

	Limits GatewayLimits `koanf:"limits"`
	Retry  GatewayRetry  `koanf:"retry"`

	// RatePerSecond optionally rate-limits provider calls; zero disables.
	RatePerSecond float64 `koanf:"rate_per_second"`
}

// GatewayLimits caps concurrent in-flight calls per capability.
type GatewayLimits struct {
	Embed     int `koanf:"embed"`
	Summarize int `koanf:"summarize"`
	Rerank    int `koanf:"rerank"`
}

// GatewayRetry tunes transient-error retries against providers.
type GatewayRetry struct {
	MaxAttempts int      `koanf:"max_attempts"`
	Backoff     Duration `koanf:"backoff"`
}

// LayerConfig sets derivation window, chunking, and token targets.
type LayerConfig struct {
	WindowTokens   int `koanf:"window_tokens"`
	ChunkSize      int `koanf:"chunk_size"`
	ChunkOverlap   int `koanf:"chunk_overlap"`
	AbstractTokens int `koanf:"abstract_tokens"`
	OverviewTokens int `koanf:"overview_tokens"`
}

// RetrievalConfig tunes hybrid fusion and reranking.
type RetrievalConfig struct {
	// Strategy is the fusion strategy: linear or rrf.
	Strategy     string  `koanf:"strategy"`
	SparseWeight float64 `koanf:"sparse_weight"`
	Rerank       bool    `koanf:"rerank"`
	RerankWindow int     `koanf:"rerank_window"`
	TopK         int     `koanf:"top_k"`
}

// SecretsConfig controls the ingest scrubbing pass.
type SecretsConfig struct {
	Disabled      bool   `koanf:"disabled"`
	ProjectPath   string `koanf:"project_path"`
	UserAllowlist string `koanf:"user_allowlist"`
}

// EventsConfig configures the NATS lifecycle publisher. An empty URL
// disables publishing.
type EventsConfig struct {
	URL string `koanf:"url"`
}

// WatcherConfig configures the drop-directory watcher.
type WatcherConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Dir      string   `koanf:"dir"`
	Debounce Duration `koanf:"debounce"`

	// Workspace and Agent scope everything the watcher ingests.
	Workspace string `koanf:"workspace"`
	Agent     string `koanf:"agent"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the logger settings surfaced through config.
type LoggingConfig struct {
	// Level is a zap level name, plus "trace".
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
	// Stderr moves log output off stdout. Forced on in MCP stdio mode,
	// where stdout carries the protocol.
	Stderr bool `koanf:"stderr"`
	// OTEL mirrors log output to the OTel bridge when telemetry is up.
	OTEL bool `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	// Protocol is grpc or http.
	Protocol string `koanf:"protocol"`
	Insecure bool   `koanf:"insecure"`
}

// New returns a Config populated with defaults.
func New() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = Duration(10 * time.Second)
	}
	if cfg.Store.MaxRetries == 0 {
		cfg.Store.MaxRetries = 3
	}
	if cfg.Store.RetryBackoff == 0 {
		cfg.Store.RetryBackoff = Duration(200 * time.Millisecond)
	}
	if cfg.Store.Distance == "" {
		cfg.Store.Distance = "cosine"
	}

	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "fastembed"
	}
	if cfg.Gateway.Dimension == 0 {
		cfg.Gateway.Dimension = 384
	}
	if cfg.Gateway.EmbedModel == "" {
		if cfg.Gateway.Provider == "openai" {
			cfg.Gateway.EmbedModel = "text-embedding-3-small"
		} else {
			cfg.Gateway.EmbedModel = "BAAI/bge-small-en-v1.5"
		}
	}
	if cfg.Gateway.ChatModel == "" {
		cfg.Gateway.ChatModel = "gpt-4o-mini"
	}
	if cfg.Gateway.Limits.Embed == 0 {
		cfg.Gateway.Limits.Embed = 10
	}
	if cfg.Gateway.Limits.Summarize == 0 {
		cfg.Gateway.Limits.Summarize = 100
	}
	if cfg.Gateway.Limits.Rerank == 0 {
		cfg.Gateway.Limits.Rerank = 10
	}
	if cfg.Gateway.Retry.MaxAttempts == 0 {
		cfg.Gateway.Retry.MaxAttempts = 3
	}
	if cfg.Gateway.Retry.Backoff == 0 {
		cfg.Gateway.Retry.Backoff = Duration(500 * time.Millisecond)
	}

	if cfg.Layer.WindowTokens == 0 {
		cfg.Layer.WindowTokens = 6000
	}
	if cfg.Layer.ChunkSize == 0 {
		cfg.Layer.ChunkSize = 8000
	}
	if cfg.Layer.ChunkOverlap == 0 {
		cfg.Layer.ChunkOverlap = 400
	}
	if cfg.Layer.AbstractTokens == 0 {
		cfg.Layer.AbstractTokens = 100
	}
	if cfg.Layer.OverviewTokens == 0 {
		cfg.Layer.OverviewTokens = 2000
	}

	if cfg.Retrieval.Strategy == "" {
		cfg.Retrieval.Strategy = "linear"
	}
	if cfg.Retrieval.SparseWeight == 0 {
		cfg.Retrieval.SparseWeight = 0.3
	}
	if cfg.Retrieval.RerankWindow == 0 {
		cfg.Retrieval.RerankWindow = 50
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 10
	}

	if cfg.Watcher.Debounce == 0 {
		cfg.Watcher.Debounce = Duration(500 * time.Millisecond)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":9180"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "strata"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}

var knownBackends = map[string]bool{
	"memory": true, "chromem": true, "qdrant": true, "redis": true,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if !knownBackends[c.Store.Backend] {
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Store.Distance {
	case "cosine", "dot", "euclid":
	default:
		return fmt.Errorf("unknown distance metric %q", c.Store.Distance)
	}
	switch c.Store.Backend {
	case "qdrant", "redis":
		if c.Store.Endpoint == "" {
			return fmt.Errorf("store backend %q requires an endpoint", c.Store.Backend)
		}
	case "chromem":
		if c.Store.Path == "" {
			return errors.New("store backend chromem requires a path")
		}
	}

	switch c.Gateway.Provider {
	case "openai":
		if !c.Gateway.APIKey.IsSet() && c.Gateway.BaseURL == "" {
			return errors.New("gateway provider openai requires api_key or base_url")
		}
	case "fastembed":
	default:
		return fmt.Errorf("unknown gateway provider %q", c.Gateway.Provider)
	}
	if c.Gateway.Dimension <= 0 {
		return errors.New("gateway dimension must be positive")
	}
	if c.Gateway.RatePerSecond < 0 {
		return errors.New("gateway rate_per_second cannot be negative")
	}

	if c.Layer.ChunkOverlap >= c.Layer.ChunkSize {
		return fmt.Errorf("layer chunk_overlap %d must be smaller than chunk_size %d",
			c.Layer.ChunkOverlap, c.Layer.ChunkSize)
	}

	switch c.Retrieval.Strategy {
	case "linear", "rrf":
	default:
		return fmt.Errorf("unknown retrieval strategy %q", c.Retrieval.Strategy)
	}
	if c.Retrieval.SparseWeight < 0 {
		return errors.New("retrieval sparse_weight cannot be negative")
	}
	if c.Retrieval.TopK <= 0 {
		return errors.New("retrieval top_k must be positive")
	}

	if c.Watcher.Enabled {
		if c.Watcher.Dir == "" {
			return errors.New("watcher requires a dir when enabled")
		}
		if c.Watcher.Workspace == "" {
			return errors.New("watcher requires a workspace when enabled")
		}
	}

	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("server shutdown_timeout must be positive")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be json or console, got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service_name required when enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
	}

	return nil
}
