package bnn

import (
	"errors"
	"fmt"
	"log/slog"

	"bayesnet/internal/model"
	"bayesnet/internal/nn"
	"bayesnet/internal/optim"
	"bayesnet/internal/posterior"
	"bayesnet/internal/predictive"

	"gonum.org/v1/gonum/mat"
)

const (
	DefaultLangevinLR = 1e-3
	DefaultPriorSigma = 0.1
)

type LangevinConfig struct {
	Model      nn.Config
	LR         float64
	PriorSigma float64
	// Precondition enables the RMSprop-style preconditioner.
	Precondition bool
	// TrainSize is the number of training examples; batch gradients are rescaled to the
	// full-data likelihood.
	TrainSize int
	Posterior posterior.Config
	Logger    *slog.Logger
}

// LangevinNet samples weights with SGLD and keeps harvested snapshots in a bounded store.
type LangevinNet struct {
	base
	opt       *optim.SGLD
	store     *posterior.Store
	trainSize int
}

func NewLangevinNet(cfg LangevinConfig) (*LangevinNet, error) {
	if cfg.TrainSize <= 0 {
		return nil, fmt.Errorf("train size must be > 0, got %d", cfg.TrainSize)
	}
	if cfg.LR == 0 {
		cfg.LR = DefaultLangevinLR
	}
	if cfg.PriorSigma == 0 {
		cfg.PriorSigma = DefaultPriorSigma
	}
	b, err := newBase(cfg.Model, cfg.Logger)
	if err != nil {
		return nil, err
	}
	opt, err := optim.NewSGLD(optim.SGLDConfig{
		LR:           cfg.LR,
		PriorSigma:   cfg.PriorSigma,
		Precondition: cfg.Precondition,
	}, b.rng)
	if err != nil {
		return nil, err
	}
	if cfg.Posterior.Logger == nil {
		cfg.Posterior.Logger = b.log
	}
	store, err := posterior.NewStore(cfg.Posterior)
	if err != nil {
		return nil, err
	}
	return &LangevinNet{base: b, opt: opt, store: store, trainSize: cfg.TrainSize}, nil
}

func (n *LangevinNet) Method() string { return MethodLangevin }

func (n *LangevinNet) Store() *posterior.Store { return n.store }

// Fit takes one Langevin step on the batch. The gradient is that of the mean batch loss
// times TrainSize; the returned loss is the plain batch sum.
func (n *LangevinNet) Fit(x *mat.Dense, y []int) (float64, int, error) {
	step, err := n.mlp.LossGrad(x, y, true, n.rng)
	if err != nil {
		return 0, 0, err
	}
	scale := float64(n.trainSize) / float64(len(y))
	for _, g := range step.Grads {
		for i := range g.Data {
			g.Data[i] *= scale
		}
	}
	if err := n.opt.Step(n.mlp.Live(), step.Grads); err != nil {
		return 0, 0, err
	}
	return step.Loss, step.Errors, nil
}

// HarvestEpoch stores the live weights when epoch is a harvesting epoch and reports the
// optimizer noise state at that point.
func (n *LangevinNet) HarvestEpoch(epoch int) (bool, model.NoiseState, error) {
	noise := n.opt.NoiseState()
	harvested, err := n.store.HarvestIfDue(n.mlp.Live(), epoch)
	if err != nil {
		return false, noise, err
	}
	if harvested {
		n.log.Info("harvested weight sample",
			"epoch", epoch,
			"retained", n.store.Len(),
			"noise_std", noise.NoiseStd,
			"preconditioner", noise.Preconditioner,
		)
	}
	return harvested, noise, nil
}

func (n *LangevinNet) NoiseState() model.NoiseState { return n.opt.NoiseState() }

// SampleEval evaluates the count oldest retained samples (all of them when count is 0)
// and aggregates the outputs. Masks are drawn only when train is set.
func (n *LangevinNet) SampleEval(x *mat.Dense, y []int, count int, space predictive.Space, train bool) (predictive.Result, error) {
	ens, err := n.reloadEnsemble(x, count, train)
	if err != nil {
		return predictive.Result{}, err
	}
	return predictive.Aggregate(ens, y, space)
}

func (n *LangevinNet) AllSampleEval(x *mat.Dense, count int) (*predictive.Ensemble, error) {
	ens, err := n.reloadEnsemble(x, count, false)
	if err != nil {
		return nil, err
	}
	return ens.Softmax(), nil
}

// reloadEnsemble swaps each selected sample into the model for one pass. The weights the
// model held before the call are restored on every return path.
func (n *LangevinNet) reloadEnsemble(x *mat.Dense, count int, train bool) (ens *predictive.Ensemble, err error) {
	if x == nil {
		return nil, fmt.Errorf("%w: nil input", model.ErrShapeMismatch)
	}
	b, c := x.Dims()
	if c != n.mlp.InputDim() {
		return nil, fmt.Errorf("%w: input has %d features, want %d", model.ErrShapeMismatch, c, n.mlp.InputDim())
	}
	stored := n.store.Len()
	if count < 0 {
		return nil, fmt.Errorf("sample count must be >= 0, got %d", count)
	}
	if count == 0 {
		count = stored
	}
	if stored == 0 || count > stored {
		return nil, fmt.Errorf("%w: requested %d, stored %d", posterior.ErrNoSamples, count, stored)
	}
	ens, err = predictive.NewEnsemble(count, b, n.mlp.Classes())
	if err != nil {
		return nil, err
	}

	saved := n.mlp.Parameters()
	defer func() {
		if restoreErr := n.mlp.LoadParameters(saved); restoreErr != nil {
			ens = nil
			err = errors.Join(err, fmt.Errorf("restore live weights: %w", restoreErr))
		}
	}()

	for i := 0; i < count; i++ {
		sample, err := n.store.At(i)
		if err != nil {
			return nil, err
		}
		if err := n.mlp.LoadParameters(sample.Params); err != nil {
			return nil, fmt.Errorf("load sample from epoch %d: %w", sample.Epoch, err)
		}
		logits, err := n.mlp.Forward(x, train, false, n.rng)
		if err != nil {
			return nil, err
		}
		if err := ens.Set(i, logits); err != nil {
			return nil, fmt.Errorf("sample from epoch %d: %w", sample.Epoch, err)
		}
	}
	return ens, nil
}

// WeightSamples flattens the weights of the count oldest retained samples.
func (n *LangevinNet) WeightSamples(count int) [][]float64 {
	return n.store.WeightVectors(count)
}

func (n *LangevinNet) LR() float64 { return n.opt.LR() }

func (n *LangevinNet) SetLR(lr float64) { n.opt.SetLR(lr) }

func (n *LangevinNet) OptimizerState() model.ParameterVector { return n.opt.State() }

func (n *LangevinNet) LoadOptimizerState(state model.ParameterVector) error {
	return n.opt.LoadState(state)
}
