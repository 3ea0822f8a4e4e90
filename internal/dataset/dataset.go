// Package dataset holds labelled feature matrices and the batching used by the training
// loop.
package dataset

import (
	"fmt"
	"math/rand"

	"bayesnet/internal/model"

	"gonum.org/v1/gonum/mat"
)

// Set is a batch of flattened examples with integer labels in [0, Classes).
type Set struct {
	X       *mat.Dense
	Y       []int
	Classes int
}

func (s Set) Len() int { return len(s.Y) }

func (s Set) Features() int {
	if s.X == nil {
		return 0
	}
	_, c := s.X.Dims()
	return c
}

func (s Set) Validate() error {
	if s.X == nil {
		return fmt.Errorf("%w: dataset has no features", model.ErrShapeMismatch)
	}
	r, _ := s.X.Dims()
	if r != len(s.Y) {
		return fmt.Errorf("%w: %d rows with %d labels", model.ErrShapeMismatch, r, len(s.Y))
	}
	if s.Classes < 2 {
		return fmt.Errorf("dataset must have at least 2 classes, got %d", s.Classes)
	}
	for i, y := range s.Y {
		if y < 0 || y >= s.Classes {
			return fmt.Errorf("%w: label %d at row %d outside [0,%d)", model.ErrShapeMismatch, y, i, s.Classes)
		}
	}
	return nil
}

// Subset copies the given rows into a new set.
func (s Set) Subset(rows []int) Set {
	if len(rows) == 0 {
		return Set{Classes: s.Classes}
	}
	x := mat.NewDense(len(rows), s.Features(), nil)
	y := make([]int, len(rows))
	for i, r := range rows {
		x.SetRow(i, s.X.RawRowView(r))
		y[i] = s.Y[r]
	}
	return Set{X: x, Y: y, Classes: s.Classes}
}

// Split shuffles the rows with rng and cuts off the last fraction as a second set.
func (s Set) Split(fraction float64, rng *rand.Rand) (Set, Set, error) {
	if fraction <= 0 || fraction >= 1 {
		return Set{}, Set{}, fmt.Errorf("split fraction must be in (0, 1), got %f", fraction)
	}
	perm := rng.Perm(s.Len())
	cut := s.Len() - int(float64(s.Len())*fraction)
	if cut <= 0 || cut >= s.Len() {
		return Set{}, Set{}, fmt.Errorf("split of %d rows by %f leaves an empty side", s.Len(), fraction)
	}
	return s.Subset(perm[:cut]), s.Subset(perm[cut:]), nil
}

// Batches partitions the set into consecutive batches of at most size rows. When rng is
// non-nil the rows are shuffled first.
func (s Set) Batches(size int, rng *rand.Rand) ([]Set, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", size)
	}
	order := make([]int, s.Len())
	if rng != nil {
		order = rng.Perm(s.Len())
	} else {
		for i := range order {
			order[i] = i
		}
	}
	batches := make([]Set, 0, (s.Len()+size-1)/size)
	for start := 0; start < len(order); start += size {
		end := min(start+size, len(order))
		batches = append(batches, s.Subset(order[start:end]))
	}
	return batches, nil
}
