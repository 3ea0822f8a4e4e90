package bnn

import (
	"log/slog"

	"bayesnet/internal/model"
	"bayesnet/internal/nn"
	"bayesnet/internal/optim"
	"bayesnet/internal/predictive"

	"gonum.org/v1/gonum/mat"
)

const (
	DefaultDropRate        = 0.5
	DefaultDropoutMomentum = 0.5
	DefaultDropoutLR       = 1e-3
)

type DropoutConfig struct {
	Model       nn.Config
	LR          float64
	Momentum    float64
	WeightDecay float64
	Logger      *slog.Logger
}

// DropoutNet is an MC-Dropout classifier trained with momentum SGD on the summed
// cross-entropy.
type DropoutNet struct {
	base
	opt *optim.SGD
}

func NewDropoutNet(cfg DropoutConfig) (*DropoutNet, error) {
	if cfg.LR == 0 {
		cfg.LR = DefaultDropoutLR
	}
	b, err := newBase(cfg.Model, cfg.Logger)
	if err != nil {
		return nil, err
	}
	opt, err := optim.NewSGD(cfg.LR, cfg.Momentum, cfg.WeightDecay)
	if err != nil {
		return nil, err
	}
	return &DropoutNet{base: b, opt: opt}, nil
}

func (n *DropoutNet) Method() string { return MethodDropout }

func (n *DropoutNet) Fit(x *mat.Dense, y []int) (float64, int, error) {
	step, err := n.mlp.LossGrad(x, y, true, n.rng)
	if err != nil {
		return 0, 0, err
	}
	if err := n.opt.Step(n.mlp.Live(), step.Grads); err != nil {
		return 0, 0, err
	}
	return step.Loss, step.Errors, nil
}

// SampleEval draws n masked passes of the live network. Masks are always drawn, so train
// has no further effect on a dropout network.
func (n *DropoutNet) SampleEval(x *mat.Dense, y []int, count int, space predictive.Space, _ bool) (predictive.Result, error) {
	ens, err := n.mlp.SamplePredict(x, count, n.rng)
	if err != nil {
		return predictive.Result{}, err
	}
	return predictive.Aggregate(ens, y, space)
}

func (n *DropoutNet) AllSampleEval(x *mat.Dense, count int) (*predictive.Ensemble, error) {
	ens, err := n.mlp.SamplePredict(x, count, n.rng)
	if err != nil {
		return nil, err
	}
	return ens.Softmax(), nil
}

// WeightVector flattens every weight matrix of the live network, biases excluded.
func (n *DropoutNet) WeightVector() []float64 {
	return n.mlp.Parameters().Weights()
}

func (n *DropoutNet) LR() float64 { return n.opt.LR() }

func (n *DropoutNet) SetLR(lr float64) { n.opt.SetLR(lr) }

func (n *DropoutNet) OptimizerState() model.ParameterVector { return n.opt.State() }

func (n *DropoutNet) LoadOptimizerState(state model.ParameterVector) error {
	return n.opt.LoadState(state)
}
