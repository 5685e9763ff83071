// Package embedding maps text to fixed-length vectors and compares them.
package embedding

import (
	"context"
	"errors"
	"math"
)

// ErrEmbeddingUnavailable is returned for empty input and for upstream
// failures. Callers treat it as "no vector" and continue in degraded mode.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Provider turns text into a vector of a fixed dimensionality.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// when either vector is empty, zero-norm, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
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
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding drift.
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
