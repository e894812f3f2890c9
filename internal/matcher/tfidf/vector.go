package tfidf

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when vectors produced by different fits
// are combined.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Vector is a dense TF-IDF weight vector whose dimension equals the number of
// terms of the Model that produced it.
type Vector struct {
	weights []float64
}

// NewVector wraps weights as a Vector. The slice is not copied.
func NewVector(weights []float64) Vector {
	return Vector{weights: weights}
}

// Dim returns the vector dimension.
func (v Vector) Dim() int {
	return len(v.weights)
}

// At returns the weight of dimension i.
func (v Vector) At(i int) float64 {
	return v.weights[i]
}

// Weights returns a copy of the weights.
func (v Vector) Weights() []float64 {
	out := make([]float64, len(v.weights))
	copy(out, v.weights)
	return out
}

// Norm returns the Euclidean magnitude.
func (v Vector) Norm() float64 {
	var sum float64
	for _, w := range v.weights {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every weight is zero.
func (v Vector) IsZero() bool {
	for _, w := range v.weights {
		if w != 0 {
			return false
		}
	}
	return true
}

// Dot returns the inner product of v and o.
func (v Vector) Dot(o Vector) (float64, error) {
	if err := SameDim(v, o); err != nil {
		return 0, err
	}
	var sum float64
	for i, w := range v.weights {
		sum += w * o.weights[i]
	}
	return sum, nil
}

// SameDim returns ErrDimensionMismatch unless a and b share a dimension.
func SameDim(a, b Vector) error {
	if a.Dim() != b.Dim() {
		return fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, a.Dim(), b.Dim())
	}
	return nil
}
