package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBM25EncoderRareTermsWeighHigher(t *testing.T) {
	enc := NewBM25Encoder()
	enc.Fit([]string{
		"redis index configuration notes",
		"redis cluster failover notes",
		"redis memory tuning notes",
		"qdrant collection sharding",
	})

	weights := enc.EncodeQuery("redis qdrant")
	require.Contains(t, weights, "redis")
	require.Contains(t, weights, "qdrant")
	assert.Greater(t, weights["qdrant"], weights["redis"],
		"term in one of four docs must outweigh term in three")
}

func TestBM25EncodeDocumentSaturates(t *testing.T) {
	enc := NewBM25Encoder()
	enc.Fit([]string{"alpha beta", "gamma delta"})

	once := enc.EncodeDocument("alpha beta gamma")
	many := enc.EncodeDocument("alpha alpha alpha alpha alpha beta gamma")

	require.Contains(t, once, "alpha")
	require.Contains(t, many, "alpha")
	assert.Greater(t, many["alpha"], once["alpha"])
	// k1 saturation: five occurrences are worth less than five times one.
	assert.Less(t, many["alpha"], once["alpha"]*5)
}

func TestBM25ColdStartStillMatches(t *testing.T) {
	enc := NewBM25Encoder()
	weights := enc.EncodeQuery("never seen terms")
	for term, w := range weights {
		assert.Greater(t, w, float32(0), "term %q", term)
	}
	require.NotEmpty(t, weights)
}

func TestBM25EmptyInput(t *testing.T) {
	enc := NewBM25Encoder()
	assert.Nil(t, enc.EncodeDocument(""))
	assert.Nil(t, enc.EncodeQuery("   "))
}
