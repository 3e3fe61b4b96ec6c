package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractiveSummarizeBudgets(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString("The collection adapter compiles filters once and reuses them for counting and querying. ")
	}

	s := NewExtractiveSummarizer()
	summary, err := s.Summarize(context.Background(), SummarizeRequest{
		Content:        sb.String(),
		AbstractTokens: 50,
		OverviewTokens: 300,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, tokenEstimate(summary.Abstract), 50)
	assert.LessOrEqual(t, tokenEstimate(summary.Overview), 300)
	assert.NotEmpty(t, summary.Abstract)
}

func TestExtractiveSummarizeShortContentPassesThrough(t *testing.T) {
	s := NewExtractiveSummarizer()
	summary, err := s.Summarize(context.Background(), SummarizeRequest{Content: "One short note."})
	require.NoError(t, err)
	assert.Equal(t, "One short note.", summary.Abstract)
}

func TestExtractiveSummarizePreservesSentenceOrder(t *testing.T) {
	content := "First the request arrives. Then filters are compiled. Finally hits are fused and returned. " +
		"Filler sentence one here. Filler sentence two here. Filler sentence three here."

	s := NewExtractiveSummarizer()
	summary, err := s.Summarize(context.Background(), SummarizeRequest{
		Content:        content,
		AbstractTokens: 30,
	})
	require.NoError(t, err)

	// Whatever sentences survive, they appear in original order.
	first := strings.Index(summary.Abstract, "First")
	last := strings.Index(summary.Abstract, "Finally")
	if first >= 0 && last >= 0 {
		assert.Less(t, first, last)
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("One. Two! Three? Four")
	require.Len(t, sentences, 4)
	assert.Equal(t, "One.", sentences[0])
	assert.Equal(t, "Four", sentences[3])
}

func TestTruncateTokens(t *testing.T) {
	text := strings.Repeat("word ", 100)
	out := truncateTokens(text, 10)
	assert.LessOrEqual(t, tokenEstimate(out), 10)

	assert.Equal(t, "short", truncateTokens("short", 100))
}
