package optim

import (
	"errors"

	"bayesnet/internal/model"

	"gonum.org/v1/gonum/floats"
)

// SGD is stochastic gradient descent with a momentum buffer and L2 weight decay:
// v = momentum*v + (g + decay*θ); θ -= lr*v.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    buffers
}

func NewSGD(lr, momentum, weightDecay float64) (*SGD, error) {
	if lr <= 0 {
		return nil, errors.New("learning rate must be > 0")
	}
	if momentum < 0 || momentum >= 1 {
		return nil, errors.New("momentum must be in [0, 1)")
	}
	if weightDecay < 0 {
		return nil, errors.New("weight decay must be >= 0")
	}
	return &SGD{lr: lr, momentum: momentum, weightDecay: weightDecay}, nil
}

func (o *SGD) Step(params, grads model.ParameterVector) error {
	if err := checkStep(params, grads); err != nil {
		return err
	}
	for i, p := range params {
		d := append([]float64(nil), grads[i].Data...)
		if o.weightDecay != 0 {
			floats.AddScaled(d, o.weightDecay, p.Data)
		}
		if o.momentum != 0 {
			v, err := o.velocity.get(p)
			if err != nil {
				return err
			}
			floats.Scale(o.momentum, v)
			floats.Add(v, d)
			d = v
		}
		floats.AddScaled(p.Data, -o.lr, d)
	}
	return nil
}

func (o *SGD) LR() float64 { return o.lr }

func (o *SGD) SetLR(lr float64) { o.lr = lr }

func (o *SGD) State() model.ParameterVector { return o.velocity.export() }

func (o *SGD) LoadState(state model.ParameterVector) error { return o.velocity.load(state) }
