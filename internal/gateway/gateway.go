// Package gateway is the bounded-concurrency client abstraction over
// externally supplied model capabilities: embedding, summarization and
// reranking. Providers are pluggable; the gateway owns admission control,
// retries, rate limiting and dimension enforcement, so providers stay thin
// transport wrappers.
//
// Two differently configured gateways can coexist in one process: all state
// lives on the Gateway value, none in package globals.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Embedder produces dense vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector dimension this provider produces.
	Dimension() int
	Close() error
}

// SummarizeRequest carries the content a summarizer condenses.
type SummarizeRequest struct {
	// Content is the text to summarize.
	Content string
	// ContentType is the MIME type of the source ("text/plain",
	// "text/markdown", "image/png", ...).
	ContentType string
	// ImageData holds raw image bytes for vision-capable providers.
	ImageData []byte
	// AbstractTokens and OverviewTokens are the target lengths.
	AbstractTokens int
	OverviewTokens int
}

// Summary is the two derived fidelity tiers of one summarize call.
type Summary struct {
	// Abstract is the short tier (~100 tokens).
	Abstract string
	// Overview is the navigable tier (~2k tokens).
	Overview string
}

// Summarizer condenses content into an abstract and an overview.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (Summary, error)
}

// Candidate is one document offered to the reranker.
type Candidate struct {
	ID      string
	Content string
	Score   float32
}

// ScoredCandidate is a reranked candidate with the reranker's own score and
// its position in the original ranking.
type ScoredCandidate struct {
	Candidate
	RerankScore  float32
	OriginalRank int
}

// Reranker reorders candidates by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]ScoredCandidate, error)
}

// Limits are the per-capability admission gates. Excess callers queue on
// the gate rather than failing.
type Limits struct {
	Embed     int64
	Summarize int64
	Rerank    int64
}

// Retry bounds transient-error retries inside the gateway.
type Retry struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Config is the immutable gateway configuration.
type Config struct {
	// Dimension is the required embedding dimension. Provider output of any
	// other dimension fails with ErrDimensionMismatch.
	Dimension int

	Limits Limits
	Retry  Retry

	// RatePerSecond optionally rate-limits provider calls on top of the
	// concurrency gate; zero disables it.
	RatePerSecond float64
}

func (c *Config) applyDefaults() {
	if c.Limits.Embed <= 0 {
		c.Limits.Embed = 10
	}
	if c.Limits.Summarize <= 0 {
		c.Limits.Summarize = 100
	}
	if c.Limits.Rerank <= 0 {
		c.Limits.Rerank = 10
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.Backoff <= 0 {
		c.Retry.Backoff = 500 * time.Millisecond
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Gateway fronts the configured providers. A nil summarizer degrades to the
// deterministic extractive fallback; a nil reranker degrades to the
// term-overlap reranker. A nil embedder is an error: nothing can be indexed
// without vectors.
type Gateway struct {
	cfg      Config
	embedder Embedder

	summarizer Summarizer
	reranker   Reranker
	fallback   *ExtractiveSummarizer
	heuristic  *OverlapReranker

	embedSem     *semaphore.Weighted
	summarizeSem *semaphore.Weighted
	rerankSem    *semaphore.Weighted
	limiter      *rate.Limiter

	metrics *Metrics
	logger  *zap.Logger
}

// New builds a gateway. summarizer and reranker may be nil.
func New(cfg Config, embedder Embedder, summarizer Summarizer, reranker Reranker, logger *zap.Logger) (*Gateway, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if d := embedder.Dimension(); d != 0 && d != cfg.Dimension {
		return nil, fmt.Errorf("%w: provider reports %d, configured %d", ErrDimensionMismatch, d, cfg.Dimension)
	}

	g := &Gateway{
		cfg:          cfg,
		embedder:     embedder,
		summarizer:   summarizer,
		reranker:     reranker,
		fallback:     NewExtractiveSummarizer(),
		heuristic:    NewOverlapReranker(),
		embedSem:     semaphore.NewWeighted(cfg.Limits.Embed),
		summarizeSem: semaphore.NewWeighted(cfg.Limits.Summarize),
		rerankSem:    semaphore.NewWeighted(cfg.Limits.Rerank),
		metrics:      NewMetrics(logger),
		logger:       logger.Named("gateway"),
	}
	if cfg.RatePerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1)
	}
	return g, nil
}

// Dimension returns the configured embedding dimension.
func (g *Gateway) Dimension() int { return g.cfg.Dimension }

// HasSummarizer reports whether a real summarize capability is configured,
// as opposed to the extractive fallback.
func (g *Gateway) HasSummarizer() bool { return g.summarizer != nil }

// EmbedDocuments embeds a batch of texts behind the embed admission gate.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts", ErrEmptyInput)
	}
	start := time.Now()
	var vectors [][]float32
	err := g.admitted(ctx, "embed", g.embedSem, func(ctx context.Context) error {
		return g.withRetry(ctx, "embed_documents", func() error {
			var callErr error
			vectors, callErr = g.embedder.EmbedDocuments(ctx, texts)
			return callErr
		})
	})
	g.metrics.RecordCall(ctx, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if len(vec) != g.cfg.Dimension {
			return nil, fmt.Errorf("%w: vector %d has %d dims, configured %d",
				ErrDimensionMismatch, i, len(vec), g.cfg.Dimension)
		}
	}
	return vectors, nil
}

// EmbedQuery embeds one query string.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text", ErrEmptyInput)
	}
	start := time.Now()
	var vector []float32
	err := g.admitted(ctx, "embed", g.embedSem, func(ctx context.Context) error {
		return g.withRetry(ctx, "embed_query", func() error {
			var callErr error
			vector, callErr = g.embedder.EmbedQuery(ctx, text)
			return callErr
		})
	})
	g.metrics.RecordCall(ctx, "embed_query", time.Since(start), 1, err)
	if err != nil {
		return nil, err
	}
	if len(vector) != g.cfg.Dimension {
		return nil, fmt.Errorf("%w: got %d dims, configured %d", ErrDimensionMismatch, len(vector), g.cfg.Dimension)
	}
	return vector, nil
}

// Summarize derives the abstract and overview tiers for content. Without a
// configured summarizer it degrades to the deterministic extractive
// fallback; that path is a documented quality reduction, never an error.
func (g *Gateway) Summarize(ctx context.Context, req SummarizeRequest) (Summary, error) {
	if req.Content == "" && len(req.ImageData) == 0 {
		return Summary{}, fmt.Errorf("%w: content", ErrEmptyInput)
	}
	if g.summarizer == nil {
		if len(req.ImageData) > 0 && req.Content == "" {
			return Summary{}, fmt.Errorf("%w: image summarization needs a vision provider", ErrNoCapability)
		}
		return g.fallback.Summarize(ctx, req)
	}

	start := time.Now()
	var summary Summary
	err := g.admitted(ctx, "summarize", g.summarizeSem, func(ctx context.Context) error {
		return g.withRetry(ctx, "summarize", func() error {
			var callErr error
			summary, callErr = g.summarizer.Summarize(ctx, req)
			return callErr
		})
	})
	g.metrics.RecordCall(ctx, "summarize", time.Since(start), 1, err)
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// Rerank reorders candidates, via the configured provider or the built-in
// term-overlap heuristic.
func (g *Gateway) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]ScoredCandidate, error) {
	if g.reranker == nil {
		return g.heuristic.Rerank(ctx, query, candidates, topK)
	}
	start := time.Now()
	var out []ScoredCandidate
	err := g.admitted(ctx, "rerank", g.rerankSem, func(ctx context.Context) error {
		return g.withRetry(ctx, "rerank", func() error {
			var callErr error
			out, callErr = g.reranker.Rerank(ctx, query, candidates, topK)
			return callErr
		})
	})
	g.metrics.RecordCall(ctx, "rerank", time.Since(start), len(candidates), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases provider resources.
func (g *Gateway) Close() error {
	return g.embedder.Close()
}

// admitted runs op under a capability's concurrency gate. Queued callers
// block; a deadline elapsing while queued surfaces ErrTimeout, a plain
// cancellation propagates as-is.
func (g *Gateway) admitted(ctx context.Context, capability string, sem *semaphore.Weighted, op func(context.Context) error) error {
	queued := time.Now()
	if err := sem.Acquire(ctx, 1); err != nil {
		g.metrics.RecordQueueWait(ctx, capability, time.Since(queued))
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("queued for %s: %w", capability, ErrTimeout)
		}
		return err
	}
	g.metrics.RecordQueueWait(ctx, capability, time.Since(queued))
	defer sem.Release(1)

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("rate limited on %s: %w", capability, ErrTimeout)
			}
			return err
		}
	}
	err := op(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s in flight: %w", capability, ErrTimeout)
	}
	return err
}

// withRetry retries op with exponential backoff, surfacing
// ErrModelUnavailable once the budget is exhausted. Context errors are
// never retried.
func (g *Gateway) withRetry(ctx context.Context, name string, op func() error) error {
	backoff := g.cfg.Retry.Backoff
	var err error
	for attempt := 1; attempt <= g.cfg.Retry.MaxAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == g.cfg.Retry.MaxAttempts {
			break
		}
		g.logger.Warn("provider call failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w: %w", name, g.cfg.Retry.MaxAttempts, ErrModelUnavailable, err)
}
