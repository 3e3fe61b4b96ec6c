package gateway

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// OverlapReranker is the built-in heuristic used when no rerank provider is
// configured: it blends the candidate's original score with the fraction of
// query terms found in its content, half and half.
type OverlapReranker struct{}

// NewOverlapReranker builds the heuristic reranker.
func NewOverlapReranker() *OverlapReranker {
	return &OverlapReranker{}
}

var _ Reranker = (*OverlapReranker)(nil)

// Rerank reorders candidates by combined score, descending. Ties keep the
// original rank order, so reranking identical inputs is deterministic.
func (r *OverlapReranker) Rerank(_ context.Context, query string, candidates []Candidate, topK int) ([]ScoredCandidate, error) {
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	queryTerms := rerankTokens(query)

	type scored struct {
		cand     ScoredCandidate
		combined float32
	}
	all := make([]scored, len(candidates))
	for i, c := range candidates {
		overlap := termOverlap(queryTerms, rerankTokens(c.Content))
		all[i] = scored{
			cand: ScoredCandidate{
				Candidate:    c,
				RerankScore:  overlap,
				OriginalRank: i,
			},
			combined: 0.5*c.Score + 0.5*overlap,
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].combined > all[j].combined })

	out := make([]ScoredCandidate, 0, topK)
	for _, s := range all[:topK] {
		out = append(out, s.cand)
	}
	return out, nil
}

// termOverlap returns the fraction of distinct query terms present in the
// document terms.
func termOverlap(query, doc []string) float32 {
	if len(query) == 0 {
		return 0
	}
	docSet := make(map[string]bool, len(doc))
	for _, t := range doc {
		docSet[t] = true
	}
	matched := make(map[string]bool)
	for _, t := range query {
		if docSet[t] {
			matched[t] = true
		}
	}
	distinct := make(map[string]bool, len(query))
	for _, t := range query {
		distinct[t] = true
	}
	return float32(len(matched)) / float32(len(distinct))
}

func rerankTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '_'
	})
	var out []string
	for _, t := range fields {
		if len(t) > 2 && !stopwords[t] {
			out = append(out, t)
		}
	}
	return out
}

// stopwords shared by the fallback summarizer, the heuristic reranker and
// the sparse encoder.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "had": true,
	"has": true, "have": true, "was": true, "were": true, "that": true,
	"this": true, "these": true, "those": true, "with": true, "from": true,
	"they": true, "will": true, "would": true, "could": true, "should": true,
	"been": true, "being": true, "into": true, "about": true, "what": true,
	"which": true, "when": true, "where": true, "who": true, "how": true,
	"than": true, "then": true, "them": true, "its": true, "our": true,
}
