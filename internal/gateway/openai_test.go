package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRanking(t *testing.T) {
	tests := []struct {
		name    string
		content string
		n       int
		want    []int
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"ranking": [3, 1, 2]}`,
			n:       3,
			want:    []int{2, 0, 1},
		},
		{
			name:    "code fenced",
			content: "```json\n{\"ranking\": [2, 1]}\n```",
			n:       2,
			want:    []int{1, 0},
		},
		{
			name:    "partial answer keeps tail in original order",
			content: `{"ranking": [3]}`,
			n:       4,
			want:    []int{2, 0, 1, 3},
		},
		{
			name:    "out of range and duplicates ignored",
			content: `{"ranking": [9, 2, 2, 0]}`,
			n:       3,
			want:    []int{1, 0, 2},
		},
		{
			name:    "prose answer is an error",
			content: "the most relevant passage is the second one",
			n:       2,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRanking(tt.content, tt.n)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSummaryResponse(t *testing.T) {
	t.Run("json response", func(t *testing.T) {
		s := parseSummaryResponse(`{"abstract": "short", "overview": "longer text"}`, 100, 2000)
		assert.Equal(t, "short", s.Abstract)
		assert.Equal(t, "longer text", s.Overview)
	})

	t.Run("fenced json", func(t *testing.T) {
		s := parseSummaryResponse("```json\n{\"abstract\": \"a\", \"overview\": \"b\"}\n```", 100, 2000)
		assert.Equal(t, "a", s.Abstract)
	})

	t.Run("prose falls back to truncation", func(t *testing.T) {
		s := parseSummaryResponse("Just a plain prose answer.", 100, 2000)
		assert.Equal(t, "Just a plain prose answer.", s.Abstract)
		assert.Equal(t, "Just a plain prose answer.", s.Overview)
	})
}
