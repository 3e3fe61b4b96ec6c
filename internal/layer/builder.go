// Package layer derives the layered representations of a resource: an
// abstract (L0) and a structured overview (L1), with canonical content (L2)
// kept by reference only.
package layer

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/gateway"
	"github.com/fyrsmithlabs/strata/internal/secrets"
)

// Source is the content a derivation starts from.
type Source struct {
	// URI identifies the canonical content; it becomes the L2 reference.
	URI string

	Content     string
	ContentType string

	// ImageData carries raw image bytes for vision summarization.
	ImageData []byte
}

// Derivation is the result of building layers for one source.
type Derivation struct {
	Abstract   string
	Overview   string
	ContentRef string

	// Chunked reports whether the source exceeded the model window and was
	// split before summarization.
	Chunked bool

	// Scrub is the secret scrub report for the source content.
	Scrub secrets.Report
}

// Config holds builder settings.
type Config struct {
	// WindowTokens is the largest content, in estimated tokens, summarized
	// in a single call. Anything larger is chunked first.
	WindowTokens int

	// ChunkSize and ChunkOverlap configure the recursive character
	// splitter, in characters.
	ChunkSize    int
	ChunkOverlap int

	// AbstractTokens and OverviewTokens are the layer token targets.
	AbstractTokens int
	OverviewTokens int
}

func (c *Config) applyDefaults() {
	if c.WindowTokens <= 0 {
		c.WindowTokens = 6000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 400
	}
	if c.AbstractTokens <= 0 {
		c.AbstractTokens = gateway.DefaultAbstractTokens
	}
	if c.OverviewTokens <= 0 {
		c.OverviewTokens = gateway.DefaultOverviewTokens
	}
}

// Builder derives layers through the model gateway, scrubbing secrets
// before any text leaves the process.
type Builder struct {
	cfg      Config
	gw       *gateway.Gateway
	scrubber *secrets.Scrubber
	splitter textsplitter.RecursiveCharacter
	logger   *zap.Logger
}

// NewBuilder creates a builder. scrubber may be nil to skip the scrub pass.
func NewBuilder(cfg Config, gw *gateway.Gateway, scrubber *secrets.Scrubber, logger *zap.Logger) (*Builder, error) {
	if gw == nil {
		return nil, fmt.Errorf("gateway required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		cfg:      cfg,
		gw:       gw,
		scrubber: scrubber,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		logger: logger.Named("layer"),
	}, nil
}

// Derive builds L0 and L1 for a source. Re-deriving the same source yields
// the same derivation; nothing here is randomized.
func (b *Builder) Derive(ctx context.Context, src Source) (Derivation, error) {
	d := Derivation{ContentRef: src.URI}

	content := src.Content
	if b.scrubber != nil && content != "" {
		scrubbed, report, err := b.scrubber.Scrub(content)
		if err != nil {
			return Derivation{}, fmt.Errorf("scrubbing %s: %w", src.URI, err)
		}
		if !report.Clean() {
			b.logger.Info("redacted secrets before derivation",
				zap.String("uri", src.URI),
				zap.Int("redactions", report.Total))
		}
		content = scrubbed
		d.Scrub = report
	}

	if estimateTokens(content) <= b.cfg.WindowTokens {
		summary, err := b.gw.Summarize(ctx, gateway.SummarizeRequest{
			Content:        content,
			ContentType:    src.ContentType,
			ImageData:      src.ImageData,
			AbstractTokens: b.cfg.AbstractTokens,
			OverviewTokens: b.cfg.OverviewTokens,
		})
		if err != nil {
			return Derivation{}, fmt.Errorf("summarizing %s: %w", src.URI, err)
		}
		d.Abstract = summary.Abstract
		d.Overview = summary.Overview
		return d, nil
	}

	abstract, overview, err := b.deriveChunked(ctx, src.URI, content)
	if err != nil {
		return Derivation{}, err
	}
	d.Abstract = abstract
	d.Overview = overview
	d.Chunked = true
	return d, nil
}

// deriveChunked splits oversized content, summarizes each chunk, then folds
// the chunk abstracts into one L0 and joins the chunk overviews into one L1
// under per-chunk anchor headings so chunk boundaries stay navigable.
func (b *Builder) deriveChunked(ctx context.Context, uri, content string) (string, string, error) {
	chunks, err := b.splitter.SplitText(content)
	if err != nil {
		return "", "", fmt.Errorf("splitting %s: %w", uri, err)
	}
	if len(chunks) == 0 {
		return "", "", nil
	}
	b.logger.Debug("chunking oversized content",
		zap.String("uri", uri),
		zap.Int("chunks", len(chunks)))

	// Per-chunk overview budget shrinks so the joined L1 stays near target.
	chunkOverview := b.cfg.OverviewTokens / len(chunks)
	if chunkOverview < b.cfg.AbstractTokens {
		chunkOverview = b.cfg.AbstractTokens
	}

	abstracts := make([]string, len(chunks))
	var l1 strings.Builder
	for i, chunk := range chunks {
		summary, err := b.gw.Summarize(ctx, gateway.SummarizeRequest{
			Content:        chunk,
			AbstractTokens: b.cfg.AbstractTokens,
			OverviewTokens: chunkOverview,
		})
		if err != nil {
			return "", "", fmt.Errorf("summarizing %s chunk %d/%d: %w", uri, i+1, len(chunks), err)
		}
		abstracts[i] = summary.Abstract

		fmt.Fprintf(&l1, "## [chunk %d] %s\n\n%s\n\n", i+1, anchorWords(chunk), summary.Overview)
	}

	folded, err := b.gw.Summarize(ctx, gateway.SummarizeRequest{
		Content:        strings.Join(abstracts, "\n\n"),
		AbstractTokens: b.cfg.AbstractTokens,
		OverviewTokens: b.cfg.AbstractTokens * 2,
	})
	if err != nil {
		return "", "", fmt.Errorf("folding %s chunk abstracts: %w", uri, err)
	}

	return folded.Abstract, strings.TrimRight(l1.String(), "\n"), nil
}

// anchorWords returns the first few words of a chunk for its heading.
func anchorWords(chunk string) string {
	words := strings.Fields(chunk)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:#")
}

// estimateTokens approximates model tokens as words * 4/3.
func estimateTokens(s string) int {
	return len(strings.Fields(s)) * 4 / 3
}
