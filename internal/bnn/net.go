// Package bnn wraps the point-estimate MLP into Bayesian classifiers. DropoutNet treats
// masked forward passes of one network as posterior samples; LangevinNet trains with
// Langevin dynamics and evaluates by reloading harvested weight samples.
package bnn

import (
	"io"
	"log/slog"
	"math/rand"

	"bayesnet/internal/model"
	"bayesnet/internal/nn"
	"bayesnet/internal/predictive"

	"gonum.org/v1/gonum/mat"
)

const (
	MethodDropout  = "dropout"
	MethodLangevin = "sgld"
)

// Net is the capability set the training loop and evaluation tools rely on.
type Net interface {
	Method() string
	Model() *nn.MLP
	// Fit runs one optimisation step on a batch and returns the summed loss and the
	// number of misclassified examples.
	Fit(x *mat.Dense, y []int) (float64, int, error)
	// Eval runs one deterministic pass.
	Eval(x *mat.Dense, y []int) (predictive.Result, error)
	// SampleEval aggregates n posterior samples in the given space.
	SampleEval(x *mat.Dense, y []int, n int, space predictive.Space, train bool) (predictive.Result, error)
	// AllSampleEval returns the per-sample softmax ensemble without aggregating it.
	AllSampleEval(x *mat.Dense, n int) (*predictive.Ensemble, error)
	Parameters() model.ParameterVector
	LoadParameters(pv model.ParameterVector) error
	NbParameters() int
	LR() float64
	SetLR(lr float64)
	OptimizerState() model.ParameterVector
	LoadOptimizerState(state model.ParameterVector) error
}

type base struct {
	mlp *nn.MLP
	rng *rand.Rand
	log *slog.Logger
}

func newBase(cfg nn.Config, logger *slog.Logger) (base, error) {
	mlp, err := nn.NewMLP(cfg)
	if err != nil {
		return base{}, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return base{
		mlp: mlp,
		rng: rand.New(rand.NewSource(mlp.Config().Seed)),
		log: logger,
	}, nil
}

func (b *base) Model() *nn.MLP { return b.mlp }

func (b *base) Parameters() model.ParameterVector { return b.mlp.Parameters() }

func (b *base) LoadParameters(pv model.ParameterVector) error { return b.mlp.LoadParameters(pv) }

func (b *base) NbParameters() int { return b.mlp.NbParameters() }

// Eval scales activations by the keep probability instead of drawing masks.
func (b *base) Eval(x *mat.Dense, y []int) (predictive.Result, error) {
	logits, err := b.mlp.Forward(x, false, false, nil)
	if err != nil {
		return predictive.Result{}, err
	}
	return aggregateOne(logits, y)
}

func aggregateOne(logits *mat.Dense, y []int) (predictive.Result, error) {
	rows, cols := logits.Dims()
	ens, err := predictive.NewEnsemble(1, rows, cols)
	if err != nil {
		return predictive.Result{}, err
	}
	if err := ens.Set(0, logits); err != nil {
		return predictive.Result{}, err
	}
	return predictive.Aggregate(ens, y, predictive.LogitSpace)
}
