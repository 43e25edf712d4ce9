// Package score turns raw cosine distances into calibrated confidence scores.
package score

import (
	"fmt"
	"math"
)

// Knot is a breakpoint of the piecewise-linear similarity→score curve.
type Knot struct {
	Similarity float64 `mapstructure:"similarity" json:"similarity"`
	Score      float64 `mapstructure:"score" json:"score"`
}

// DefaultKnots spreads the 0.20–0.40 similarity band over most of the score range.
// The breakpoints are empirical and tunable through configuration.
var DefaultKnots = []Knot{
	{Similarity: 0.20, Score: 0.20},
	{Similarity: 0.35, Score: 0.80},
	{Similarity: 0.40, Score: 1.00},
}

const knotEpsilon = 1e-9

// Calibrator maps similarity to a confidence score in [0,1].
// Below the first knot the score equals the similarity, between knots it is
// interpolated linearly, and from the last knot on it is 1.
type Calibrator struct {
	knots []Knot
}

// NewCalibrator validates knots and returns a calibrator. A nil or empty
// slice selects DefaultKnots.
func NewCalibrator(knots []Knot) (*Calibrator, error) {
	if len(knots) == 0 {
		knots = DefaultKnots
	}

	for i, k := range knots {
		if !finite(k.Similarity) || !finite(k.Score) {
			return nil, fmt.Errorf("knot %d is not finite", i)
		}
		if k.Similarity < -1 || k.Similarity > 1 || k.Score < 0 || k.Score > 1 {
			return nil, fmt.Errorf("knot %d (%.3f, %.3f) out of range", i, k.Similarity, k.Score)
		}
		if i == 0 {
			continue
		}
		prev := knots[i-1]
		if k.Similarity <= prev.Similarity {
			return nil, fmt.Errorf("knot %d similarity must be strictly increasing", i)
		}
		if k.Score < prev.Score {
			return nil, fmt.Errorf("knot %d score must be non-decreasing", i)
		}
	}

	first, last := knots[0], knots[len(knots)-1]
	if math.Abs(first.Score-first.Similarity) > knotEpsilon {
		return nil, fmt.Errorf("first knot must lie on the identity line, got (%.3f, %.3f)", first.Similarity, first.Score)
	}
	if math.Abs(last.Score-1) > knotEpsilon {
		return nil, fmt.Errorf("last knot must reach a score of 1, got %.3f", last.Score)
	}

	cp := make([]Knot, len(knots))
	copy(cp, knots)
	return &Calibrator{knots: cp}, nil
}

// Default returns a calibrator using DefaultKnots.
func Default() *Calibrator {
	c, _ := NewCalibrator(DefaultKnots)
	return c
}

// Knots returns a copy of the configured breakpoints.
func (c *Calibrator) Knots() []Knot {
	cp := make([]Knot, len(c.knots))
	copy(cp, c.knots)
	return cp
}

// Calibrate converts a cosine distance (1 - cosine similarity) into a score.
func (c *Calibrator) Calibrate(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return c.Score(1 - distance)
}

// Score converts a cosine similarity into a score.
func (c *Calibrator) Score(similarity float64) float64 {
	if math.IsNaN(similarity) {
		return 0
	}
	similarity = clamp(similarity, -1, 1)

	first := c.knots[0]
	if similarity < first.Similarity {
		return clamp(similarity, 0, 1)
	}

	for i := 1; i < len(c.knots); i++ {
		lo, hi := c.knots[i-1], c.knots[i]
		if similarity < hi.Similarity {
			slope := (hi.Score - lo.Score) / (hi.Similarity - lo.Similarity)
			return clamp(lo.Score+(similarity-lo.Similarity)*slope, 0, 1)
		}
	}

	return 1
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
