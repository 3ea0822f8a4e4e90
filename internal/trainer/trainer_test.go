package trainer

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"bayesnet/internal/bnn"
	"bayesnet/internal/dataset"
	"bayesnet/internal/model"
	"bayesnet/internal/nn"
	"bayesnet/internal/posterior"
	"bayesnet/internal/predictive"
)

func blobSplit(t *testing.T) (dataset.Set, dataset.Set) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	all, err := dataset.GaussianBlobs(dataset.BlobsConfig{Classes: 3, PerClass: 40, Features: 2, Separation: 4, Noise: 0.5}, rng)
	if err != nil {
		t.Fatalf("blobs: %v", err)
	}
	train, dev, err := all.Split(0.25, rng)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	return train, dev
}

func newDropoutNet(t *testing.T) *bnn.DropoutNet {
	t.Helper()
	net, err := bnn.NewDropoutNet(bnn.DropoutConfig{
		Model:    nn.Config{InputDim: 2, Hidden: []int{16}, Classes: 3, DropRate: 0.2, Seed: 5},
		LR:       0.005,
		Momentum: bnn.DefaultDropoutMomentum,
	})
	if err != nil {
		t.Fatalf("new dropout net: %v", err)
	}
	return net
}

func newLangevinNet(t *testing.T, trainSize int, post posterior.Config) *bnn.LangevinNet {
	t.Helper()
	net, err := bnn.NewLangevinNet(bnn.LangevinConfig{
		Model:      nn.Config{InputDim: 2, Hidden: []int{16}, Classes: 3, Seed: 5},
		LR:         1e-4,
		PriorSigma: 1,
		TrainSize:  trainSize,
		Posterior:  post,
	})
	if err != nil {
		t.Fatalf("new langevin net: %v", err)
	}
	return net
}

func TestRunDropoutTracksBestCheckpoint(t *testing.T) {
	train, dev := blobSplit(t)
	net := newDropoutNet(t)
	tr, err := New(Config{Epochs: 5, BatchSize: 16, Seed: 1, RunID: "run-dropout"})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	res, err := tr.Run(context.Background(), net, train, dev)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.History) != 5 {
		t.Fatalf("unexpected history length: got=%d want=5", len(res.History))
	}
	if !res.Improved {
		t.Fatal("expected a best checkpoint")
	}

	best := math.Inf(1)
	for i, m := range res.History {
		if m.Epoch != i || !m.Evaluated || m.Harvested || m.Noise != nil {
			t.Fatalf("unexpected epoch metrics: %+v", m)
		}
		if m.TrainErr < 0 || m.TrainErr > 1 || m.DevErr < 0 || m.DevErr > 1 {
			t.Fatalf("error rate out of range: %+v", m)
		}
		best = math.Min(best, m.DevErr)
	}
	if res.BestDevErr != best {
		t.Fatalf("unexpected best dev error: got=%f want=%f", res.BestDevErr, best)
	}
	if res.History[res.Best.Epoch].DevErr != best {
		t.Fatalf("best checkpoint epoch %d does not hold the best dev error", res.Best.Epoch)
	}
	if res.Best.RunID != "run-dropout" || res.Best.SchemaVersion == 0 {
		t.Fatalf("unexpected checkpoint header: %+v", res.Best.VersionedRecord)
	}
	if err := net.Parameters().CheckLayout(res.Best.Params); err != nil {
		t.Fatalf("checkpoint layout: %v", err)
	}
	if err := net.Parameters().CheckLayout(res.Best.OptimizerState); err != nil {
		t.Fatalf("checkpoint optimizer state layout: %v", err)
	}
}

func TestRunDropoutLearnsSeparableBlobs(t *testing.T) {
	train, dev := blobSplit(t)
	net := newDropoutNet(t)
	tr, err := New(Config{Epochs: 40, BatchSize: 16, Seed: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	res, err := tr.Run(context.Background(), net, train, dev)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	first, last := res.History[0], res.History[len(res.History)-1]
	if last.TrainCost >= first.TrainCost {
		t.Fatalf("expected train cost to fall: first=%f last=%f", first.TrainCost, last.TrainCost)
	}
}

func TestRunLangevinHarvestsOnSchedule(t *testing.T) {
	train, dev := blobSplit(t)
	net := newLangevinNet(t, train.Len(), posterior.Config{WarmUp: 1, Interval: 2, Capacity: 3})
	tr, err := New(Config{Epochs: 6, BatchSize: 16, Samples: 2, Space: predictive.ProbabilitySpace, Seed: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	res, err := tr.Run(context.Background(), net, train, dev)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := map[int]bool{1: true, 3: true, 5: true}
	for _, m := range res.History {
		if m.Harvested != want[m.Epoch] {
			t.Fatalf("epoch %d harvested=%t want=%t", m.Epoch, m.Harvested, want[m.Epoch])
		}
		if m.Noise == nil || m.Noise.Steps == 0 {
			t.Fatalf("epoch %d is missing noise state: %+v", m.Epoch, m.Noise)
		}
		if !m.Evaluated {
			t.Fatalf("epoch %d was not evaluated", m.Epoch)
		}
	}
	if got := net.Store().Len(); got != 3 {
		t.Fatalf("unexpected retained samples: got=%d want=3", got)
	}
	if steps := res.History[5].Noise.Steps; steps <= res.History[0].Noise.Steps {
		t.Fatalf("expected noise steps to grow: first=%d last=%d", res.History[0].Noise.Steps, steps)
	}
}

func TestRunAppliesLRDecay(t *testing.T) {
	train, _ := blobSplit(t)
	net := newDropoutNet(t)
	tr, err := New(Config{Epochs: 3, BatchSize: 32, Gamma: 0.5})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	res, err := tr.Run(context.Background(), net, train, dataset.Set{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	wantLR := []float64{0.005, 0.0025, 0.00125}
	for i, m := range res.History {
		if math.Abs(m.LR-wantLR[i]) > 1e-12 {
			t.Fatalf("epoch %d lr got=%g want=%g", i, m.LR, wantLR[i])
		}
	}
	if math.Abs(net.LR()-0.000625) > 1e-12 {
		t.Fatalf("unexpected final lr: got=%g want=%g", net.LR(), 0.000625)
	}
}

func TestRunWithoutDevSkipsEvaluation(t *testing.T) {
	train, _ := blobSplit(t)
	tr, err := New(Config{Epochs: 2, BatchSize: 32})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	res, err := tr.Run(context.Background(), newDropoutNet(t), train, dataset.Set{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Improved || res.BestDevErr != 0 {
		t.Fatalf("expected no checkpoint without dev data: %+v", res)
	}
	for _, m := range res.History {
		if m.Evaluated {
			t.Fatalf("epoch %d evaluated without dev data", m.Epoch)
		}
	}
}

func TestRunEvalEveryAndHook(t *testing.T) {
	train, dev := blobSplit(t)
	var seen []model.EpochMetrics
	tr, err := New(Config{
		Epochs:    5,
		BatchSize: 32,
		EvalEvery: 2,
		OnEpoch:   func(m model.EpochMetrics) { seen = append(seen, m) },
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	res, err := tr.Run(context.Background(), newDropoutNet(t), train, dev)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != len(res.History) {
		t.Fatalf("hook saw %d epochs, history has %d", len(seen), len(res.History))
	}
	for _, m := range res.History {
		if m.Evaluated != (m.Epoch%2 == 0) {
			t.Fatalf("epoch %d evaluated=%t", m.Epoch, m.Evaluated)
		}
	}
}

func TestRunIsReproducible(t *testing.T) {
	train, dev := blobSplit(t)
	run := func() []model.EpochMetrics {
		tr, err := New(Config{Epochs: 3, BatchSize: 16, Seed: 9, Samples: 4})
		if err != nil {
			t.Fatalf("new trainer: %v", err)
		}
		res, err := tr.Run(context.Background(), newDropoutNet(t), train, dev)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		return res.History
	}
	a, b := run(), run()
	for i := range a {
		if a[i].TrainCost != b[i].TrainCost || a[i].DevCost != b[i].DevCost {
			t.Fatalf("epoch %d differs between identical runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	train, dev := blobSplit(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr, err := New(Config{Epochs: 3})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := tr.Run(ctx, newDropoutNet(t), train, dev); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestRunRejectsMismatchedData(t *testing.T) {
	train, dev := blobSplit(t)
	dev.Y = dev.Y[:1]
	tr, err := New(Config{Epochs: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if _, err := tr.Run(context.Background(), newDropoutNet(t), train, dev); !errors.Is(err, model.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "zero-epochs", cfg: Config{}},
		{name: "negative-batch", cfg: Config{Epochs: 1, BatchSize: -1}},
		{name: "negative-gamma", cfg: Config{Epochs: 1, Gamma: -0.1}},
		{name: "negative-eval-every", cfg: Config{Epochs: 1, EvalEvery: -1}},
		{name: "negative-samples", cfg: Config{Epochs: 1, Samples: -2}},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}

	tr, err := New(Config{Epochs: 1})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	cfg := tr.Config()
	if cfg.BatchSize != DefaultBatchSize || cfg.Gamma != 1 || cfg.EvalEvery != 1 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
