package gateway

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"
)

// Default layer token targets when a request does not set them.
const (
	DefaultAbstractTokens = 100
	DefaultOverviewTokens = 2000
)

// ExtractiveSummarizer is the deterministic fallback used when no
// vision/language summarize capability is configured. It scores sentences by
// position, length and inverse word frequency, then selects the best ones in
// original order until the token budget fills. Same input, same output,
// every time.
type ExtractiveSummarizer struct{}

// NewExtractiveSummarizer builds the fallback summarizer.
func NewExtractiveSummarizer() *ExtractiveSummarizer {
	return &ExtractiveSummarizer{}
}

var _ Summarizer = (*ExtractiveSummarizer)(nil)

// Summarize derives both tiers extractively.
func (s *ExtractiveSummarizer) Summarize(_ context.Context, req SummarizeRequest) (Summary, error) {
	abstractBudget := req.AbstractTokens
	if abstractBudget <= 0 {
		abstractBudget = DefaultAbstractTokens
	}
	overviewBudget := req.OverviewTokens
	if overviewBudget <= 0 {
		overviewBudget = DefaultOverviewTokens
	}

	sentences := splitSentences(req.Content)
	if len(sentences) == 0 {
		return Summary{Abstract: truncateTokens(req.Content, abstractBudget), Overview: truncateTokens(req.Content, overviewBudget)}, nil
	}

	scores := scoreSentences(sentences)
	return Summary{
		Abstract: selectToBudget(sentences, scores, abstractBudget),
		Overview: outlineToBudget(sentences, scores, overviewBudget),
	}, nil
}

// scoreSentences combines three signals: earlier sentences matter more,
// mid-length sentences read better than fragments or walls, and sentences
// carrying rarer words carry more information.
func scoreSentences(sentences []string) []float64 {
	freq := make(map[string]int)
	total := 0
	for _, s := range sentences {
		for _, w := range contentWords(s) {
			freq[w]++
			total++
		}
	}

	scores := make([]float64, len(sentences))
	for i, s := range sentences {
		position := 1.0 / (1.0 + float64(i)*0.1)

		words := contentWords(s)
		length := 0.0
		switch n := len(words); {
		case n >= 8 && n <= 30:
			length = 1.0
		case n > 0:
			length = 0.5
		}

		rarity := 0.0
		if total > 0 {
			for _, w := range words {
				rarity += math.Log(float64(total)/float64(freq[w])) / float64(len(words)+1)
			}
		}

		scores[i] = 0.4*position + 0.2*length + 0.4*rarity
	}
	return scores
}

// selectToBudget keeps the best sentences, re-emitted in original order so
// the summary still reads as prose.
func selectToBudget(sentences []string, scores []float64, budget int) string {
	type ranked struct {
		idx   int
		score float64
	}
	order := make([]ranked, len(sentences))
	for i, sc := range scores {
		order[i] = ranked{idx: i, score: sc}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].score > order[j].score })

	used := 0
	keep := make([]bool, len(sentences))
	for _, r := range order {
		tokens := tokenEstimate(sentences[r.idx])
		if used > 0 && used+tokens > budget {
			continue
		}
		keep[r.idx] = true
		used += tokens
		if used >= budget {
			break
		}
	}

	var out []string
	for i, k := range keep {
		if k {
			out = append(out, sentences[i])
		}
	}
	return strings.Join(out, " ")
}

// outlineToBudget produces the overview tier: selected sentences grouped
// into paragraph blocks, each block opened with a heading anchor built from
// its first words, so the overview stays navigable.
func outlineToBudget(sentences []string, scores []float64, budget int) string {
	// Heading anchors consume part of the budget too.
	body := selectToBudget(sentences, scores, budget-budget/10)
	if body == "" {
		return ""
	}

	kept := splitSentences(body)
	const blockSize = 6
	var b strings.Builder
	for start := 0; start < len(kept); start += blockSize {
		end := start + blockSize
		if end > len(kept) {
			end = len(kept)
		}
		b.WriteString("## ")
		b.WriteString(headingFrom(kept[start]))
		b.WriteString("\n\n")
		b.WriteString(strings.Join(kept[start:end], " "))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func headingFrom(sentence string) string {
	words := strings.Fields(sentence)
	if len(words) > 6 {
		words = words[:6]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,;:")
}

// splitSentences breaks text on terminal punctuation, keeping the
// terminator with the sentence. Blank-line paragraph breaks also split.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)
		switch r {
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		case '\n':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				flush()
			}
		}
	}
	flush()
	return sentences
}

func contentWords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, w := range fields {
		if len(w) > 2 && !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// tokenEstimate approximates model tokens as words * 4/3.
func tokenEstimate(s string) int {
	return len(strings.Fields(s)) * 4 / 3
}

func truncateTokens(s string, budget int) string {
	words := strings.Fields(s)
	limit := budget * 3 / 4
	if len(words) <= limit {
		return strings.TrimSpace(s)
	}
	return strings.Join(words[:limit], " ") + "..."
}
