package rag

import (
	"math"
	"sort"
)

// cosineDistance is 1 - cosine similarity. Zero vectors are maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// rankByDistance scores candidates against query and returns the k nearest.
// Equal distances keep candidate order, which is insertion order.
func rankByDistance(query []float32, candidates []HistoricalCase, k int) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Embedding) != len(query) {
			return nil, ErrDimensionMismatch
		}
		hit := c
		hit.Embedding = nil
		matches = append(matches, Match{Case: hit, Distance: cosineDistance(query, c.Embedding)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
