package gateway

import (
	"math"
	"sync"
)

// BM25 defaults (Robertson et al.): k1 saturates term frequency, b applies
// document length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// BM25Encoder produces sparse term-weight vectors for the lexical side of
// hybrid retrieval. Fit observes the corpus incrementally as documents are
// ingested; encoding uses the statistics seen so far. The encoder is safe
// for concurrent use.
type BM25Encoder struct {
	mu        sync.RWMutex
	docFreq   map[string]int
	totalDocs int
	totalLen  int
}

// NewBM25Encoder builds an empty encoder.
func NewBM25Encoder() *BM25Encoder {
	return &BM25Encoder{docFreq: make(map[string]int)}
}

// Fit folds documents into the corpus statistics.
func (e *BM25Encoder) Fit(documents []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, doc := range documents {
		terms := rerankTokens(doc)
		e.totalDocs++
		e.totalLen += len(terms)
		seen := make(map[string]bool, len(terms))
		for _, t := range terms {
			if !seen[t] {
				seen[t] = true
				e.docFreq[t]++
			}
		}
	}
}

// EncodeDocument produces BM25 term weights for one document.
func (e *BM25Encoder) EncodeDocument(text string) map[string]float32 {
	terms := rerankTokens(text)
	if len(terms) == 0 {
		return nil
	}

	tf := make(map[string]int, len(terms))
	for _, t := range terms {
		tf[t]++
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	avgLen := e.avgDocLenLocked()
	docLen := float64(len(terms))

	out := make(map[string]float32, len(tf))
	for term, freq := range tf {
		f := float64(freq)
		norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/avgLen))
		out[term] = float32(e.idfLocked(term) * norm)
	}
	return out
}

// EncodeQuery produces query-side weights: pure IDF, since query term
// frequency carries little signal.
func (e *BM25Encoder) EncodeQuery(text string) map[string]float32 {
	terms := rerankTokens(text)
	if len(terms) == 0 {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float32, len(terms))
	for _, t := range terms {
		out[t] = float32(e.idfLocked(t))
	}
	return out
}

// idfLocked computes smoothed inverse document frequency. Terms never seen
// during Fit still get a positive weight so cold-start queries match.
func (e *BM25Encoder) idfLocked(term string) float64 {
	n := float64(e.totalDocs)
	df := float64(e.docFreq[term])
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func (e *BM25Encoder) avgDocLenLocked() float64 {
	if e.totalDocs == 0 {
		return 1
	}
	avg := float64(e.totalLen) / float64(e.totalDocs)
	if avg < 1 {
		return 1
	}
	return avg
}
