// Package trainer runs the epoch loop shared by both Bayesian nets: shuffled mini-batch
// fitting, the harvest schedule, dev evaluation and best-checkpoint tracking.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"bayesnet/internal/bnn"
	"bayesnet/internal/dataset"
	"bayesnet/internal/model"
	"bayesnet/internal/posterior"
	"bayesnet/internal/predictive"
	"bayesnet/internal/storage"
)

const DefaultBatchSize = 128

type Config struct {
	Epochs    int
	BatchSize int
	// Gamma multiplies the learning rate after every epoch; 0 and 1 leave it unchanged.
	Gamma float64
	// EvalEvery is the number of epochs between dev evaluations; zero means every epoch.
	EvalEvery int
	// Samples selects sampled dev evaluation with that many posterior samples. Zero uses
	// the deterministic pass.
	Samples int
	Space   predictive.Space
	Seed    int64
	RunID   string
	Logger  *slog.Logger
	// OnEpoch, when set, observes each epoch after it completes.
	OnEpoch func(model.EpochMetrics)
}

type Result struct {
	History    []model.EpochMetrics
	Best       model.Checkpoint
	BestDevErr float64
	// Improved is false when no dev evaluation ran.
	Improved bool
	Duration time.Duration
}

// harvester is implemented by nets that collect weight samples during training.
type harvester interface {
	HarvestEpoch(epoch int) (bool, model.NoiseState, error)
}

type Trainer struct {
	cfg Config
	log *slog.Logger
	rng *rand.Rand
}

func New(cfg Config) (*Trainer, error) {
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be >= 0, got %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Gamma < 0 {
		return nil, fmt.Errorf("lr decay gamma must be >= 0, got %f", cfg.Gamma)
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = 1
	}
	if cfg.EvalEvery < 0 {
		return nil, fmt.Errorf("eval interval must be >= 0, got %d", cfg.EvalEvery)
	}
	if cfg.EvalEvery == 0 {
		cfg.EvalEvery = 1
	}
	if cfg.Samples < 0 {
		return nil, fmt.Errorf("sample count must be >= 0, got %d", cfg.Samples)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Trainer{cfg: cfg, log: logger, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

func (t *Trainer) Config() Config { return t.cfg }

// Run trains net for the configured number of epochs. Costs and error rates in the history
// are per-example averages. dev may be empty, in which case no evaluation or checkpointing
// happens. Cancellation is checked between batches.
func (t *Trainer) Run(ctx context.Context, net bnn.Net, train, dev dataset.Set) (Result, error) {
	if err := train.Validate(); err != nil {
		return Result{}, fmt.Errorf("train set: %w", err)
	}
	hasDev := dev.Len() > 0
	if hasDev {
		if err := dev.Validate(); err != nil {
			return Result{}, fmt.Errorf("dev set: %w", err)
		}
	}

	start := time.Now()
	res := Result{
		History:    make([]model.EpochMetrics, 0, t.cfg.Epochs),
		BestDevErr: math.Inf(1),
	}
	sampler, _ := net.(harvester)

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		metrics := model.EpochMetrics{Epoch: epoch, LR: net.LR()}

		cost, errs, err := t.fitEpoch(ctx, net, train)
		if err != nil {
			return res, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		metrics.TrainCost = cost / float64(train.Len())
		metrics.TrainErr = float64(errs) / float64(train.Len())

		if sampler != nil {
			harvested, noise, err := sampler.HarvestEpoch(epoch)
			if err != nil {
				return res, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			metrics.Harvested = harvested
			metrics.Noise = &noise
		}

		if hasDev && epoch%t.cfg.EvalEvery == 0 {
			devRes, err := t.evaluate(net, dev)
			if err != nil {
				return res, fmt.Errorf("epoch %d dev eval: %w", epoch, err)
			}
			metrics.Evaluated = true
			metrics.DevCost = devRes.Loss / float64(dev.Len())
			metrics.DevErr = float64(devRes.Errors) / float64(dev.Len())
			if metrics.DevErr < res.BestDevErr {
				res.BestDevErr = metrics.DevErr
				res.Improved = true
				res.Best = model.Checkpoint{
					VersionedRecord: storage.Versioned(),
					RunID:           t.cfg.RunID,
					Epoch:           epoch,
					LR:              net.LR(),
					Params:          net.Parameters(),
					OptimizerState:  net.OptimizerState(),
				}
				t.log.Debug("best dev error", "epoch", epoch, "dev_err", metrics.DevErr)
			}
		}

		t.log.Info("epoch complete",
			"epoch", epoch,
			"train_cost", metrics.TrainCost,
			"train_err", metrics.TrainErr,
			"dev_cost", metrics.DevCost,
			"dev_err", metrics.DevErr,
			"harvested", metrics.Harvested,
		)
		res.History = append(res.History, metrics)
		if t.cfg.OnEpoch != nil {
			t.cfg.OnEpoch(metrics)
		}

		if t.cfg.Gamma != 1 {
			net.SetLR(net.LR() * t.cfg.Gamma)
		}
	}

	if !res.Improved {
		res.BestDevErr = 0
	}
	res.Duration = time.Since(start)
	return res, nil
}

func (t *Trainer) fitEpoch(ctx context.Context, net bnn.Net, train dataset.Set) (float64, int, error) {
	batches, err := train.Batches(t.cfg.BatchSize, t.rng)
	if err != nil {
		return 0, 0, err
	}
	cost, errs := 0.0, 0
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		loss, batchErrs, err := net.Fit(batch.X, batch.Y)
		if err != nil {
			return 0, 0, err
		}
		cost += loss
		errs += batchErrs
	}
	return cost, errs, nil
}

// evaluate uses sampled evaluation when configured. A Langevin net that has not
// harvested enough samples yet falls back to the deterministic pass.
func (t *Trainer) evaluate(net bnn.Net, dev dataset.Set) (predictive.Result, error) {
	if t.cfg.Samples == 0 {
		return net.Eval(dev.X, dev.Y)
	}
	res, err := net.SampleEval(dev.X, dev.Y, t.cfg.Samples, t.cfg.Space, false)
	if errors.Is(err, posterior.ErrNoSamples) {
		t.log.Debug("not enough weight samples, using deterministic eval", "requested", t.cfg.Samples)
		return net.Eval(dev.X, dev.Y)
	}
	return res, err
}
