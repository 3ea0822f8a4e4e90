// Package dropout implements the stochastic masking used both while training and while
// drawing Monte-Carlo posterior samples.
//
// Scaling convention: masks do not rescale surviving units. Deterministic evaluation
// multiplies activations by the keep probability instead (see Expect), so a masked pass and
// an unmasked pass agree in expectation.
package dropout

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Validate checks that rate is a usable drop probability.
func Validate(rate float64) error {
	if rate < 0 || rate >= 1 {
		return fmt.Errorf("dropout rate must be in [0, 1), got %v", rate)
	}
	return nil
}

// Apply zeroes each element of x independently with probability rate when apply is set.
// It returns the masked activations and the binary mask that produced them. When apply is
// false, x is returned unchanged with a nil mask. x is never modified.
func Apply(x *mat.Dense, rate float64, apply bool, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	if !apply {
		return x, nil
	}
	r, c := x.Dims()
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float64() < rate {
				continue
			}
			mask.Set(i, j, 1)
			out.Set(i, j, x.At(i, j))
		}
	}
	return out, mask
}

// Expect returns x scaled by the keep probability 1-rate.
func Expect(x *mat.Dense, rate float64) *mat.Dense {
	var out mat.Dense
	out.Scale(1-rate, x)
	return &out
}
