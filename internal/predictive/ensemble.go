package predictive

import (
	"errors"
	"fmt"
	"math"

	"bayesnet/internal/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

var ErrNonFinite = errors.New("non-finite model output")

// Ensemble holds N per-sample outputs for a batch of B inputs over C classes.
// The backing tensor is laid out sample-major: [n][b][c].
type Ensemble struct {
	t       *tensor.Dense
	n, b, c int
}

func NewEnsemble(n, b, c int) (*Ensemble, error) {
	if n <= 0 || b <= 0 || c <= 0 {
		return nil, fmt.Errorf("%w: ensemble dims must be positive, got %dx%dx%d", model.ErrShapeMismatch, n, b, c)
	}
	backing := make([]float64, n*b*c)
	return &Ensemble{
		t: tensor.New(tensor.WithShape(n, b, c), tensor.WithBacking(backing)),
		n: n,
		b: b,
		c: c,
	}, nil
}

// Dims returns the sample, batch and class extents.
func (e *Ensemble) Dims() (n, b, c int) {
	return e.n, e.b, e.c
}

// Tensor exposes the underlying N x B x C tensor for downstream analysis.
func (e *Ensemble) Tensor() *tensor.Dense {
	return e.t
}

func (e *Ensemble) data() []float64 {
	return e.t.Data().([]float64)
}

func (e *Ensemble) slab(i int) []float64 {
	size := e.b * e.c
	return e.data()[i*size : (i+1)*size]
}

// Set stores the B x C output of pass i. Non-finite values are rejected.
func (e *Ensemble) Set(i int, out mat.Matrix) error {
	if i < 0 || i >= e.n {
		return fmt.Errorf("%w: sample index %d outside [0,%d)", model.ErrShapeMismatch, i, e.n)
	}
	r, c := out.Dims()
	if r != e.b || c != e.c {
		return fmt.Errorf("%w: sample %d is %dx%d, want %dx%d", model.ErrShapeMismatch, i, r, c, e.b, e.c)
	}
	dst := e.slab(i)
	for row := 0; row < r; row++ {
		for col := 0; col < c; col++ {
			v := out.At(row, col)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: sample %d at (%d,%d) = %v", ErrNonFinite, i, row, col, v)
			}
			dst[row*c+col] = v
		}
	}
	return nil
}

func (e *Ensemble) At(i, row, col int) float64 {
	return e.slab(i)[row*e.c+col]
}

// Sample returns a copy of pass i as a B x C matrix.
func (e *Ensemble) Sample(i int) *mat.Dense {
	return mat.NewDense(e.b, e.c, append([]float64(nil), e.slab(i)...))
}

// Softmax returns a new ensemble with a softmax applied to every per-sample row.
func (e *Ensemble) Softmax() *Ensemble {
	out, _ := NewEnsemble(e.n, e.b, e.c)
	src, dst := e.data(), out.data()
	for start := 0; start < len(src); start += e.c {
		softmaxInto(dst[start:start+e.c], src[start:start+e.c])
	}
	return out
}

// Mean averages over the sample axis.
func (e *Ensemble) Mean() *mat.Dense {
	size := e.b * e.c
	acc := make([]float64, size)
	for i := 0; i < e.n; i++ {
		floats.Add(acc, e.slab(i))
	}
	floats.Scale(1/float64(e.n), acc)
	return mat.NewDense(e.b, e.c, acc)
}
