// Package optim holds the update rules that move live model weights: momentum SGD for
// MC-Dropout training and Langevin dynamics for posterior sampling.
package optim

import (
	"errors"
	"fmt"

	"bayesnet/internal/model"
)

var ErrStateMismatch = errors.New("optimizer state mismatch")

// Optimizer applies gradients to parameters in place. params must alias the live model
// weights and grads must share its layout.
type Optimizer interface {
	Step(params, grads model.ParameterVector) error
	LR() float64
	SetLR(lr float64)
	// State returns the per-parameter buffers needed to resume training.
	State() model.ParameterVector
	LoadState(state model.ParameterVector) error
}

func checkStep(params, grads model.ParameterVector) error {
	if err := params.CheckLayout(grads); err != nil {
		return fmt.Errorf("gradient layout: %w", err)
	}
	return nil
}

// buffers keeps one accumulator per parameter, created lazily in parameter order.
type buffers struct {
	order []model.Param
	index map[string]int
}

func (b *buffers) get(p model.Param) ([]float64, error) {
	if i, ok := b.index[p.Name]; ok {
		buf := b.order[i].Data
		if len(buf) != len(p.Data) {
			return nil, fmt.Errorf("%w: %s has %d values, buffer has %d", ErrStateMismatch, p.Name, len(p.Data), len(buf))
		}
		return buf, nil
	}
	if b.index == nil {
		b.index = make(map[string]int)
	}
	b.index[p.Name] = len(b.order)
	b.order = append(b.order, model.Param{
		Name:  p.Name,
		Shape: append([]int(nil), p.Shape...),
		Data:  make([]float64, len(p.Data)),
	})
	return b.order[len(b.order)-1].Data, nil
}

func (b *buffers) export() model.ParameterVector {
	return model.ParameterVector(b.order).Clone()
}

func (b *buffers) load(state model.ParameterVector) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	b.order = state.Clone()
	b.index = make(map[string]int, len(state))
	for i, p := range b.order {
		b.index[p.Name] = i
	}
	return nil
}
