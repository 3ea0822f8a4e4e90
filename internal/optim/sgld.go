package optim

import (
	"errors"
	"math"
	"math/rand"

	"bayesnet/internal/model"
)

const (
	DefaultAlpha = 0.99
	DefaultEps   = 1e-8
)

type SGLDConfig struct {
	LR float64
	// PriorSigma is the std of the isotropic Gaussian prior; it enters as weight decay 1/σ².
	PriorSigma float64
	// Precondition enables the RMSprop-style diagonal preconditioner.
	Precondition bool
	Alpha        float64
	Eps          float64
	// NoNoise turns the rule into plain (preconditioned) gradient descent.
	NoNoise bool
}

// SGLD performs Langevin updates:
//
//	d = g + θ/σ²
//	v = α·v + (1-α)·d²,  G = √v + eps   (G = 1 without preconditioning)
//	θ -= lr·d/(2G) + √(lr/G)·ξ,  ξ ~ N(0, 1)
//
// g is the gradient of the negative log-likelihood of the full dataset.
type SGLD struct {
	cfg       SGLDConfig
	rng       *rand.Rand
	squareAvg buffers
	noise     model.NoiseState
}

func NewSGLD(cfg SGLDConfig, rng *rand.Rand) (*SGLD, error) {
	if cfg.LR <= 0 {
		return nil, errors.New("learning rate must be > 0")
	}
	if cfg.PriorSigma <= 0 {
		return nil, errors.New("prior sigma must be > 0")
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = DefaultAlpha
	}
	if cfg.Alpha < 0 || cfg.Alpha >= 1 {
		return nil, errors.New("alpha must be in [0, 1)")
	}
	if cfg.Eps == 0 {
		cfg.Eps = DefaultEps
	}
	if rng == nil {
		return nil, errors.New("sgld requires a random source")
	}
	return &SGLD{cfg: cfg, rng: rng, noise: model.NoiseState{LR: cfg.LR, Preconditioner: 1}}, nil
}

func (o *SGLD) Step(params, grads model.ParameterVector) error {
	if err := checkStep(params, grads); err != nil {
		return err
	}
	decay := 1 / (o.cfg.PriorSigma * o.cfg.PriorSigma)
	lr := o.cfg.LR

	var stdSum, precondSum float64
	count := 0
	for i, p := range params {
		g := grads[i].Data
		var v []float64
		if o.cfg.Precondition {
			buf, err := o.squareAvg.get(p)
			if err != nil {
				return err
			}
			v = buf
		}
		for j := range p.Data {
			d := g[j] + decay*p.Data[j]
			precond := 1.0
			if v != nil {
				v[j] = o.cfg.Alpha*v[j] + (1-o.cfg.Alpha)*d*d
				precond = math.Sqrt(v[j]) + o.cfg.Eps
			}
			p.Data[j] -= lr * 0.5 * d / precond
			if !o.cfg.NoNoise {
				std := math.Sqrt(lr / precond)
				p.Data[j] -= std * o.rng.NormFloat64()
				stdSum += std
			}
			precondSum += precond
			count++
		}
	}

	o.noise.Steps++
	o.noise.LR = lr
	if count > 0 {
		o.noise.NoiseStd = stdSum / float64(count)
		o.noise.Preconditioner = precondSum / float64(count)
	}
	return nil
}

// NoiseState reports the schedule as of the last step.
func (o *SGLD) NoiseState() model.NoiseState { return o.noise }

func (o *SGLD) LR() float64 { return o.cfg.LR }

func (o *SGLD) SetLR(lr float64) { o.cfg.LR = lr }

func (o *SGLD) State() model.ParameterVector { return o.squareAvg.export() }

func (o *SGLD) LoadState(state model.ParameterVector) error { return o.squareAvg.load(state) }
