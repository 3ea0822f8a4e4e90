package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrArchitectureDrift  = errors.New("architecture drift")
	ErrInvalidParamLayout = errors.New("invalid parameter layout")
)

// Param is one named dense array stored row-major.
type Param struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Size is the number of scalars implied by Shape.
func (p Param) Size() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

func (p Param) Clone() Param {
	return Param{
		Name:  p.Name,
		Shape: append([]int(nil), p.Shape...),
		Data:  append([]float64(nil), p.Data...),
	}
}

// ParameterVector is an ordered mapping from parameter name to array.
type ParameterVector []Param

func (pv ParameterVector) Clone() ParameterVector {
	if pv == nil {
		return nil
	}
	out := make(ParameterVector, len(pv))
	for i, p := range pv {
		out[i] = p.Clone()
	}
	return out
}

func (pv ParameterVector) Lookup(name string) (Param, bool) {
	for _, p := range pv {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (pv ParameterVector) Names() []string {
	names := make([]string, len(pv))
	for i, p := range pv {
		names[i] = p.Name
	}
	return names
}

// Count returns the total number of scalars across all parameters.
func (pv ParameterVector) Count() int {
	n := 0
	for _, p := range pv {
		n += len(p.Data)
	}
	return n
}

// Validate checks that every array holds exactly as many values as its shape implies.
func (pv ParameterVector) Validate() error {
	seen := make(map[string]struct{}, len(pv))
	for _, p := range pv {
		if p.Name == "" {
			return fmt.Errorf("%w: empty parameter name", ErrInvalidParamLayout)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: duplicate parameter %s", ErrInvalidParamLayout, p.Name)
		}
		seen[p.Name] = struct{}{}
		for _, d := range p.Shape {
			if d <= 0 {
				return fmt.Errorf("%w: %s has non-positive dimension in %v", ErrInvalidParamLayout, p.Name, p.Shape)
			}
		}
		if len(p.Data) != p.Size() {
			return fmt.Errorf("%w: %s has %d values for shape %v", ErrInvalidParamLayout, p.Name, len(p.Data), p.Shape)
		}
	}
	return nil
}

// CheckLayout reports ErrArchitectureDrift when other does not carry the same names,
// order and shapes as pv.
func (pv ParameterVector) CheckLayout(other ParameterVector) error {
	if len(pv) != len(other) {
		return fmt.Errorf("%w: %d parameters, got %d", ErrArchitectureDrift, len(pv), len(other))
	}
	for i := range pv {
		want, got := pv[i], other[i]
		if want.Name != got.Name {
			return fmt.Errorf("%w: parameter %d is %s, got %s", ErrArchitectureDrift, i, want.Name, got.Name)
		}
		if !sameShape(want.Shape, got.Shape) {
			return fmt.Errorf("%w: %s has shape %v, got %v", ErrArchitectureDrift, want.Name, want.Shape, got.Shape)
		}
		if len(got.Data) != want.Size() {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrArchitectureDrift, got.Name, len(got.Data), want.Size())
		}
	}
	return nil
}

// Equal reports bit-for-bit equality of names, shapes and values.
func (pv ParameterVector) Equal(other ParameterVector) bool {
	if len(pv) != len(other) {
		return false
	}
	for i := range pv {
		a, b := pv[i], other[i]
		if a.Name != b.Name || !sameShape(a.Shape, b.Shape) || len(a.Data) != len(b.Data) {
			return false
		}
		for j := range a.Data {
			if math.Float64bits(a.Data[j]) != math.Float64bits(b.Data[j]) {
				return false
			}
		}
	}
	return true
}

// Weights flattens every parameter whose name ends in ".weight", biases excluded.
func (pv ParameterVector) Weights() []float64 {
	out := make([]float64, 0, pv.Count())
	for _, p := range pv {
		if strings.HasSuffix(p.Name, ".weight") {
			out = append(out, p.Data...)
		}
	}
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
