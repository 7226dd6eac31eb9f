// Package similarity provides the numeric similarity primitives used by
// the duplicate classifier.
package similarity

import "math"

// Cosine computes the cosine similarity of two embedding vectors.
// Returns 0 for mismatched lengths, empty vectors, or zero-norm inputs.
// Accumulation is done in float64 to avoid drift on long vectors.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Clip maps a raw cosine score into [0,1]. Negative scores carry no
// useful duplicate signal and are treated as zero.
func Clip(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
