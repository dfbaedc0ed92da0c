// Package metric implements the pair distance, the contrastive loss and the
// threshold accuracy used for training and evaluation.
package metric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// Epsilon floors the squared distance so sqrt stays differentiable at u == v.
	Epsilon = 1e-7
	// Threshold is the distance below which a pair is predicted similar. It is
	// independent of the loss margin.
	Threshold = 0.5
	// DefaultMargin is the contrastive margin used when none is configured.
	DefaultMargin = 1.0
)

// Distance returns sqrt(max(Σ(u−v)², Epsilon)).
func Distance(u, v []float64) float64 {
	d, _ := DistanceGrad(u, v)
	return d
}

// DistanceGrad returns the distance and its gradient with respect to u. The gradient
// with respect to v is the negation. Below the floor the gradient is zero.
func DistanceGrad(u, v []float64) (float64, []float64) {
	if len(u) != len(v) {
		panic(fmt.Sprintf("metric: dimension mismatch %d vs %d", len(u), len(v)))
	}
	diff := make([]float64, len(u))
	floats.SubTo(diff, u, v)
	sum := floats.Dot(diff, diff)
	if sum <= Epsilon {
		clear(diff)
		return math.Sqrt(Epsilon), diff
	}
	d := math.Sqrt(sum)
	floats.Scale(1/d, diff)
	return d, diff
}

// Contrastive returns y·d² + (1−y)·max(m−d, 0)².
func Contrastive(y, d, m float64) float64 {
	hinge := math.Max(m-d, 0)
	return y*d*d + (1-y)*hinge*hinge
}

// ContrastiveGrad returns dL/dd of Contrastive.
func ContrastiveGrad(y, d, m float64) float64 {
	hinge := math.Max(m-d, 0)
	return 2*y*d - 2*(1-y)*hinge
}

// MeanContrastive returns the batch mean of Contrastive.
func MeanContrastive(labels, distances []float64, m float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	var sum float64
	for i, y := range labels {
		sum += Contrastive(y, distances[i], m)
	}
	return sum / float64(len(labels))
}

// PredictSimilar reports whether distance d is classified as the same entity.
func PredictSimilar(d float64) bool {
	return d < Threshold
}

// Correct reports whether the thresholded prediction for d matches label y.
func Correct(y, d float64) bool {
	return PredictSimilar(d) == (y == 1)
}

// Accuracy returns the fraction of pairs whose thresholded prediction matches the
// label. It returns 0 for empty input.
func Accuracy(labels, distances []float64) float64 {
	var acc Accumulator
	acc.Update(labels, distances)
	return acc.Result()
}

// Accumulator aggregates accuracy across batches with the same predicate as Accuracy.
// The zero value is ready to use.
type Accumulator struct {
	correct int
	total   int
}

// Update adds one batch.
func (a *Accumulator) Update(labels, distances []float64) {
	for i, y := range labels {
		if Correct(y, distances[i]) {
			a.correct++
		}
		a.total++
	}
}

// Result returns correct/total, or 0 before any update.
func (a *Accumulator) Result() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.correct) / float64(a.total)
}

// Count returns the number of pairs seen.
func (a *Accumulator) Count() int {
	return a.total
}

// Reset clears the counters.
func (a *Accumulator) Reset() {
	a.correct, a.total = 0, 0
}
