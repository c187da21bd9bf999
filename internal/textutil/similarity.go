package textutil

import "math"

// TitleVector is a weighted token vector for one piece title.
type TitleVector struct {
	weights map[string]float64
	norm    float64
}

// TokenCount returns the number of distinct weighted tokens in the vector.
func (v *TitleVector) TokenCount() int {
	if v == nil {
		return 0
	}
	return len(v.weights)
}

// TitleIndex scores titles against a reference corpus of catalog piece
// titles. Token weights are smoothed inverse document frequency, so generic
// band-title vocabulary like "suite" or "march" counts for less than a
// distinctive name shared by only two titles.
type TitleIndex struct {
	docCount int
	docFreq  map[string]int
}

// NewTitleIndex returns an empty index.
func NewTitleIndex() *TitleIndex {
	return &TitleIndex{docFreq: make(map[string]int)}
}

// Add registers one catalog title in the corpus.
func (ix *TitleIndex) Add(title string) {
	tokens := TitleTokens(title)
	if len(tokens) == 0 {
		return
	}
	ix.docCount++
	seen := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		if seen[token] {
			continue
		}
		seen[token] = true
		ix.docFreq[token]++
	}
}

// Vector builds the weighted vector for a title under this index. Tokens the
// corpus has never seen keep their raw term frequency. Returns nil when the
// title has no usable tokens.
func (ix *TitleIndex) Vector(title string) *TitleVector {
	tokens := TitleTokens(title)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}

	weights := make(map[string]float64, len(counts))
	var norm float64
	n := float64(ix.docCount)
	for token, count := range counts {
		weight := count
		if df, ok := ix.docFreq[token]; ok && n > 0 {
			// The +1 keeps a token present in every title from zeroing
			// out, so identical titles still score 1.0.
			weight *= math.Log((n+1)/(1+float64(df))) + 1
		}
		weights[token] = weight
		norm += weight * weight
	}
	return &TitleVector{weights: weights, norm: math.Sqrt(norm)}
}

// TitleSimilarity computes the cosine similarity between two title vectors.
// Returns 0 when either vector is nil or empty.
func TitleSimilarity(a, b *TitleVector) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	var dot float64
	for token, weight := range a.weights {
		if other, ok := b.weights[token]; ok {
			dot += weight * other
		}
	}
	if dot == 0 {
		return 0
	}
	return dot / (a.norm * b.norm)
}
