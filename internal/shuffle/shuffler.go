// Package shuffle implements the weighted anti-repetition selector used for
// theme media and playback pools. Serving an item decreases its weight so it
// repeats less; items aging out of the recency window get their weight back.
package shuffle

import (
	"fmt"
	"math/rand/v2"
)

// minWeight is the floor for decreased weights. Weights never reach zero so
// every index stays selectable.
const minWeight = 0.01

// defaultWeight is the initial weight for every index.
const defaultWeight = 1.0

// Shuffler draws weighted-random indices over a fixed-size weight vector.
// Not safe for concurrent use; callers confine it to the tick thread.
type Shuffler struct {
	weights []float64
	total   float64
	rng     *rand.Rand
}

// New creates a Shuffler over n indices with all weights at 1.0.
func New(n int) *Shuffler {
	return NewWithSource(n, rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewWithSource creates a Shuffler with an explicit random source, for
// deterministic tests.
func NewWithSource(n int, src rand.Source) *Shuffler {
	if n < 0 {
		n = 0
	}
	s := &Shuffler{
		weights: make([]float64, n),
		rng:     rand.New(src),
	}
	s.Reset()
	return s
}

// Len returns the number of selectable indices.
func (s *Shuffler) Len() int {
	return len(s.weights)
}

// Next returns a weighted-random index in [0, Len()). Draws r uniform in
// [0, total) and scans cumulative weights; the first bucket whose cumulative
// sum exceeds r wins, which makes ties deterministic (first match).
// Next never mutates weights. Returns -1 when the shuffler is empty.
func (s *Shuffler) Next() int {
	if len(s.weights) == 0 {
		return -1
	}

	r := s.rng.Float64() * s.total
	cumulative := 0.0
	for i, w := range s.weights {
		cumulative += w
		if r < cumulative {
			return i
		}
	}
	// Float64 summation error can leave r marginally past the last bucket.
	return len(s.weights) - 1
}

// Decrease subtracts amount from the weight at index, floored at a small
// positive epsilon.
func (s *Shuffler) Decrease(index int, amount float64) {
	if index < 0 || index >= len(s.weights) {
		return
	}
	next := s.weights[index] - amount
	if next < minWeight {
		next = minWeight
	}
	s.total += next - s.weights[index]
	s.weights[index] = next
}

// Increase adds amount to the weight at index, unbounded above.
func (s *Shuffler) Increase(index int, amount float64) {
	if index < 0 || index >= len(s.weights) {
		return
	}
	s.weights[index] += amount
	s.total += amount
}

// Reset restores every weight to 1.0.
func (s *Shuffler) Reset() {
	for i := range s.weights {
		s.weights[i] = defaultWeight
	}
	s.total = defaultWeight * float64(len(s.weights))
}

// Weight returns the weight at index, for inspection.
func (s *Shuffler) Weight(index int) (float64, error) {
	if index < 0 || index >= len(s.weights) {
		return 0, fmt.Errorf("shuffle: index %d out of range [0,%d)", index, len(s.weights))
	}
	return s.weights[index], nil
}

// WeightedPick draws an index over an arbitrary weight slice using the same
// cumulative scan as Next. Used by the session runner for playback pools,
// where the weights come from the cue rather than shuffler state.
// Returns -1 when weights is empty or sums to zero.
func WeightedPick(rng *rand.Rand, weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if len(weights) == 0 || total <= 0 {
		return -1
	}

	r := rng.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		cumulative += w
		if r < cumulative {
			return i
		}
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}
