package layer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/strata/internal/gateway"
)

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, f.dim), nil
}

func (f fixedEmbedder) Dimension() int { return f.dim }
func (f fixedEmbedder) Close() error   { return nil }

func newTestBuilder(t *testing.T, cfg Config) *Builder {
	t.Helper()
	gw, err := gateway.New(gateway.Config{Dimension: 4}, fixedEmbedder{dim: 4}, nil, nil, zap.NewNop())
	require.NoError(t, err)
	b, err := NewBuilder(cfg, gw, nil, zap.NewNop())
	require.NoError(t, err)
	return b
}

func TestDeriveSmallContentSingleCall(t *testing.T) {
	b := newTestBuilder(t, Config{})

	d, err := b.Derive(context.Background(), Source{
		URI:     "mem://notes/redis",
		Content: "Redis backs the sparse side of hybrid retrieval. The dense side lives in qdrant.",
	})
	require.NoError(t, err)
	assert.False(t, d.Chunked)
	assert.NotEmpty(t, d.Abstract)
	assert.Equal(t, "mem://notes/redis", d.ContentRef)
}

func TestDeriveOversizedContentChunks(t *testing.T) {
	b := newTestBuilder(t, Config{
		WindowTokens: 50,
		ChunkSize:    400,
		ChunkOverlap: 40,
	})

	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("Each section of this document describes a different retrieval concern in detail. ")
	}

	d, err := b.Derive(context.Background(), Source{URI: "file:///big.md", Content: sb.String()})
	require.NoError(t, err)
	assert.True(t, d.Chunked)
	assert.NotEmpty(t, d.Abstract)
	assert.Contains(t, d.Overview, "## [chunk 1]")
	assert.Contains(t, d.Overview, "## [chunk 2]")
}

func TestDeriveDeterministic(t *testing.T) {
	b := newTestBuilder(t, Config{WindowTokens: 50, ChunkSize: 300, ChunkOverlap: 30})

	content := strings.Repeat("Determinism means re-deriving unchanged content produces identical layers. ", 40)
	first, err := b.Derive(context.Background(), Source{URI: "u", Content: content})
	require.NoError(t, err)
	second, err := b.Derive(context.Background(), Source{URI: "u", Content: content})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDeriveImageWithoutVisionProvider(t *testing.T) {
	b := newTestBuilder(t, Config{})

	_, err := b.Derive(context.Background(), Source{
		URI:         "file:///diagram.png",
		ContentType: "image/png",
		ImageData:   []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.ErrorIs(t, err, gateway.ErrNoCapability)
}

func TestAnchorWords(t *testing.T) {
	assert.Equal(t, "one two three", anchorWords("one two three"))
	assert.Equal(t, "a b c d e f", anchorWords("a b c d e f g h"))
	assert.Equal(t, "heading", anchorWords("heading:"))
}
