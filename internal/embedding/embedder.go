// Package embedding provides joint image/text embedders and vector checks.
package embedding

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/timmy/framescope/internal/domain"
)

// Embedder maps images and text into the same unit-normalized vector space.
type Embedder interface {
	EmbedImage(ctx context.Context, img image.Image) ([]float32, error)
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Model() string
}

// Normalize validates vec against the expected dimension and returns a
// unit-length copy. A dimension of 0 skips the length check.
// Every failure wraps domain.ErrEmbeddingFailure.
func Normalize(vec []float32, dimensions int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty vector", domain.ErrEmbeddingFailure)
	}
	if dimensions > 0 && len(vec) != dimensions {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", domain.ErrEmbeddingFailure, len(vec), dimensions)
	}

	var sum float64
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: component %d is not finite", domain.ErrEmbeddingFailure, i)
		}
		sum += f * f
	}

	norm := math.Sqrt(sum)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: vector norm is %v", domain.ErrEmbeddingFailure, norm)
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// CosineDistance returns 1 - cos(a, b). Mismatched or empty inputs yield 2,
// the largest possible distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
