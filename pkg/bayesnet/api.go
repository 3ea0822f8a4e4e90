package bayesnet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"bayesnet/internal/bnn"
	"bayesnet/internal/dataset"
	"bayesnet/internal/model"
	"bayesnet/internal/nn"
	"bayesnet/internal/posterior"
	"bayesnet/internal/predictive"
	"bayesnet/internal/stats"
	"bayesnet/internal/storage"
	"bayesnet/internal/trainer"

	"github.com/google/uuid"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "bayesnet.db"

	DatasetBlobs = "blobs"

	checkpointFile = "checkpoint.json"
	samplesFile    = "samples.bin"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store       storage.Store
	initialized bool
	log         *slog.Logger

	runsDir    string
	exportsDir string
}

type TrainRequest struct {
	Method string
	// Dataset is DatasetBlobs or the path of a headed CSV file.
	Dataset     string
	LabelColumn string
	Classes     int
	Features    int
	PerClass    int
	DevFraction float64

	Hidden     []int
	Activation string
	DropRate   float64

	Epochs    int
	BatchSize int
	LR        float64
	Momentum  float64
	Gamma     float64

	PriorSigma          float64
	DisablePrecondition bool

	// WarmUp, Interval and Capacity fall back to the harvest defaults when nil. A
	// Capacity of 0 disables harvesting.
	WarmUp   *int
	Interval *int
	Capacity *int

	// Samples is the number of posterior samples for the final calibration report.
	Samples int
	// DevSamples switches dev evaluation during training to sampled evaluation.
	DevSamples      int
	Space           string
	Seed            int64
	Workers         int
	CalibrationBins int
}

type TrainSummary struct {
	RunID           string
	Method          string
	ArtifactsDir    string
	History         []model.EpochMetrics
	BestEpoch       int
	BestDevErr      float64
	NbParameters    int
	RetainedSamples int
	Calibration     *stats.CalibrationReport
	Duration        time.Duration
}

type EvalRequest struct {
	RunID  string
	Latest bool
	// Dataset overrides the run's dev split with a CSV file.
	Dataset         string
	LabelColumn     string
	Samples         int
	Space           string
	CalibrationBins int
}

type EvalSummary struct {
	RunID       string
	Method      string
	Examples    int
	Samples     int
	Space       string
	Cost        float64
	ErrorRate   float64
	Calibration stats.CalibrationReport
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Method       string
	Dataset      string
	Seed         int64
	Epochs       int
	Samples      int
	BestDevErr   float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type CompareRequest struct {
	RunIDs []string
	Metric string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureInit(ctx)
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	cfg, err := normalizeTrainRequest(req)
	if err != nil {
		return TrainSummary{}, err
	}
	space, err := predictive.ParseSpace(cfg.Space)
	if err != nil {
		return TrainSummary{}, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return TrainSummary{}, err
	}

	train, dev, err := loadData(cfg)
	if err != nil {
		return TrainSummary{}, err
	}
	cfg.InputDim = train.Features()
	cfg.Classes = train.Classes
	cfg.TrainSize = train.Len()

	net, err := buildNet(cfg, c.log)
	if err != nil {
		return TrainSummary{}, err
	}

	now := time.Now().UTC()
	cfg.RunID = uuid.NewString()
	log := c.log.With("run_id", cfg.RunID, "method", cfg.Method)
	log.Info("training started",
		"train", train.Len(),
		"dev", dev.Len(),
		"parameters", net.NbParameters(),
	)

	tr, err := trainer.New(trainer.Config{
		Epochs:    cfg.Epochs,
		BatchSize: cfg.BatchSize,
		Gamma:     cfg.Gamma,
		Samples:   req.DevSamples,
		Space:     space,
		Seed:      cfg.Seed,
		RunID:     cfg.RunID,
		Logger:    log,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	result, err := tr.Run(ctx, net, train, dev)
	if err != nil {
		return TrainSummary{}, err
	}

	checkpoint := result.Best
	if !result.Improved {
		checkpoint = model.Checkpoint{
			VersionedRecord: storage.Versioned(),
			RunID:           cfg.RunID,
			Epoch:           cfg.Epochs - 1,
			LR:              net.LR(),
			Params:          net.Parameters(),
			OptimizerState:  net.OptimizerState(),
		}
	}

	retained := 0
	var weights [][]float64
	if langevin, ok := net.(*bnn.LangevinNet); ok {
		retained = langevin.Store().Len()
		weights = langevin.WeightSamples(0)
	}
	if len(weights) == 0 {
		weights = [][]float64{checkpoint.Params.Weights()}
	}

	// Dropout predictions come from the best weights; Langevin ones from the samples.
	if err := net.LoadParameters(checkpoint.Params); err != nil {
		return TrainSummary{}, err
	}
	calData := dev
	if calData.Len() == 0 {
		calData = train
	}
	calSamples := cfg.Samples
	if cfg.Method == bnn.MethodLangevin {
		calSamples = 0
	}
	var calibration *stats.CalibrationReport
	if report, err := calibrate(net, calData, calSamples, cfg.CalibrationBins()); err == nil {
		calibration = &report
	} else if errors.Is(err, posterior.ErrNoSamples) {
		log.Warn("no weight samples harvested, skipping calibration")
	} else {
		return TrainSummary{}, err
	}

	var histogram *stats.Histogram
	if h, err := stats.WeightHistogram(weights, 50); err == nil {
		histogram = &h
	}

	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config:      cfg.RunConfig,
		History:     result.History,
		BestEpoch:   checkpoint.Epoch,
		BestDevErr:  result.BestDevErr,
		Calibration: calibration,
		Weights:     histogram,
	})
	if err != nil {
		return TrainSummary{}, err
	}
	if err := writeCheckpointFile(filepath.Join(runDir, checkpointFile), checkpoint); err != nil {
		return TrainSummary{}, err
	}

	record := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              cfg.RunID,
		Method:          cfg.Method,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
		InputDim:        cfg.InputDim,
		Hidden:          append([]int(nil), cfg.Hidden...),
		Classes:         cfg.Classes,
		DropRate:        cfg.DropRate,
		Activation:      cfg.Activation,
		Epochs:          cfg.Epochs,
		Seed:            cfg.Seed,
		BestEpoch:       checkpoint.Epoch,
		BestDevErr:      result.BestDevErr,
		Samples:         retained,
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return TrainSummary{}, err
	}
	if err := c.store.SaveTrainingHistory(ctx, cfg.RunID, result.History); err != nil {
		return TrainSummary{}, err
	}
	if langevin, ok := net.(*bnn.LangevinNet); ok {
		if err := langevin.Store().Persist(ctx, c.store, cfg.RunID); err != nil {
			return TrainSummary{}, err
		}
		if err := langevin.Store().SaveFile(filepath.Join(runDir, samplesFile)); err != nil {
			return TrainSummary{}, err
		}
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:        cfg.RunID,
		Method:       cfg.Method,
		Dataset:      cfg.Dataset,
		Epochs:       cfg.Epochs,
		Seed:         cfg.Seed,
		Samples:      retained,
		BestDevErr:   result.BestDevErr,
		CreatedAtUTC: record.CreatedAtUTC,
	}); err != nil {
		return TrainSummary{}, err
	}

	log.Info("training finished",
		"best_epoch", checkpoint.Epoch,
		"best_dev_err", result.BestDevErr,
		"retained_samples", retained,
		"duration", result.Duration,
	)

	return TrainSummary{
		RunID:           cfg.RunID,
		Method:          cfg.Method,
		ArtifactsDir:    filepath.Clean(runDir),
		History:         append([]model.EpochMetrics(nil), result.History...),
		BestEpoch:       checkpoint.Epoch,
		BestDevErr:      result.BestDevErr,
		NbParameters:    net.NbParameters(),
		RetainedSamples: retained,
		Calibration:     calibration,
		Duration:        result.Duration,
	}, nil
}

func (c *Client) Evaluate(ctx context.Context, req EvalRequest) (EvalSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest, "evaluate")
	if err != nil {
		return EvalSummary{}, err
	}
	if req.Samples < 0 {
		return EvalSummary{}, errors.New("samples must be >= 0")
	}
	runCfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return EvalSummary{}, err
	}
	if !ok {
		return EvalSummary{}, fmt.Errorf("run config not found for run id: %s", runID)
	}
	cfg := trainConfig{RunConfig: runCfg}
	if req.Space == "" {
		req.Space = cfg.Space
	}
	space, err := predictive.ParseSpace(req.Space)
	if err != nil {
		return EvalSummary{}, err
	}
	if req.CalibrationBins > 0 {
		cfg.bins = req.CalibrationBins
	}
	if err := c.ensureInit(ctx); err != nil {
		return EvalSummary{}, err
	}

	data, err := c.evalData(cfg, req)
	if err != nil {
		return EvalSummary{}, err
	}
	net, err := buildNet(cfg, c.log)
	if err != nil {
		return EvalSummary{}, err
	}
	checkpoint, err := c.loadCheckpoint(ctx, runID)
	if err != nil {
		return EvalSummary{}, err
	}
	if err := net.LoadParameters(checkpoint.Params); err != nil {
		return EvalSummary{}, err
	}
	if langevin, ok := net.(*bnn.LangevinNet); ok {
		if err := c.restoreSamples(ctx, langevin.Store(), runID); err != nil {
			return EvalSummary{}, err
		}
	}

	samples := req.Samples
	if samples == 0 && cfg.Method == bnn.MethodDropout {
		samples = cfg.Samples
	}
	res, err := net.SampleEval(data.X, data.Y, samples, space, false)
	if err != nil {
		return EvalSummary{}, err
	}
	report, err := calibrate(net, data, samples, cfg.CalibrationBins())
	if err != nil {
		return EvalSummary{}, err
	}

	return EvalSummary{
		RunID:       runID,
		Method:      cfg.Method,
		Examples:    data.Len(),
		Samples:     report.Samples,
		Space:       space.String(),
		Cost:        res.Loss / float64(data.Len()),
		ErrorRate:   float64(res.Errors) / float64(data.Len()),
		Calibration: report,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Method:       e.Method,
			Dataset:      e.Dataset,
			Seed:         e.Seed,
			Epochs:       e.Epochs,
			Samples:      e.Samples,
			BestDevErr:   e.BestDevErr,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) History(ctx context.Context, req HistoryRequest) ([]model.EpochMetrics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "history")
	if err != nil {
		return nil, err
	}
	if err := c.ensureInit(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetTrainingHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		history, ok, err = stats.ReadHistorySeries(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("training history not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]model.EpochMetrics(nil), history...), nil
}

func (c *Client) Compare(_ context.Context, req CompareRequest) ([]stats.CurvePoint, error) {
	metric := stats.Metric(req.Metric)
	if metric == "" {
		metric = stats.MetricDevErr
	}
	return stats.CompareRuns(c.runsDir, req.RunIDs, metric)
}

func (c *Client) ensureInit(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

func (c *Client) resolveRunID(runID string, latest bool, op string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", op)
	}
	return runID, nil
}

// loadCheckpoint prefers the configured store and falls back to the run directory, so
// runs trained with the in-memory store can be evaluated by a later process.
func (c *Client) loadCheckpoint(ctx context.Context, runID string) (model.Checkpoint, error) {
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if ok {
		return checkpoint, nil
	}
	checkpoint, ok, err = readCheckpointFile(filepath.Join(c.runsDir, runID, checkpointFile))
	if err != nil {
		return model.Checkpoint{}, err
	}
	if !ok {
		return model.Checkpoint{}, fmt.Errorf("checkpoint not found for run id: %s", runID)
	}
	return checkpoint, nil
}

func (c *Client) restoreSamples(ctx context.Context, store *posterior.Store, runID string) error {
	err := store.Restore(ctx, c.store, runID)
	if err == nil || !errors.Is(err, posterior.ErrNoSamples) {
		return err
	}
	path := filepath.Join(c.runsDir, runID, samplesFile)
	if _, statErr := os.Stat(path); statErr != nil {
		if os.IsNotExist(statErr) {
			return err
		}
		return statErr
	}
	return store.LoadFile(path)
}

func (c *Client) evalData(cfg trainConfig, req EvalRequest) (dataset.Set, error) {
	if req.Dataset != "" {
		label := req.LabelColumn
		if label == "" {
			label = cfg.LabelColumn
		}
		return dataset.LoadCSVFile(req.Dataset, dataset.CSVOptions{LabelColumn: label, Classes: cfg.Classes})
	}
	train, dev, err := loadData(cfg)
	if err != nil {
		return dataset.Set{}, err
	}
	if dev.Len() > 0 {
		return dev, nil
	}
	return train, nil
}

// trainConfig is a normalized request in its persisted form.
type trainConfig struct {
	stats.RunConfig
	bins int
}

func (c trainConfig) CalibrationBins() int { return c.bins }

func normalizeTrainRequest(req TrainRequest) (trainConfig, error) {
	if req.Method == "" {
		req.Method = bnn.MethodDropout
	}
	if req.Method != bnn.MethodDropout && req.Method != bnn.MethodLangevin {
		return trainConfig{}, fmt.Errorf("unsupported method: %s", req.Method)
	}
	if req.Dataset == "" {
		req.Dataset = DatasetBlobs
	}
	if req.Dataset == DatasetBlobs {
		if req.Classes == 0 {
			req.Classes = 3
		}
		if req.Features == 0 {
			req.Features = 2
		}
		if req.PerClass == 0 {
			req.PerClass = 100
		}
	}
	if req.DevFraction == 0 {
		req.DevFraction = 0.2
	}
	if req.DevFraction < 0 || req.DevFraction >= 1 {
		return trainConfig{}, fmt.Errorf("dev fraction must be in [0, 1), got %f", req.DevFraction)
	}
	if len(req.Hidden) == 0 {
		req.Hidden = []int{50}
	}
	if req.Activation == "" {
		req.Activation = nn.DefaultActivation
	}
	if req.DropRate == 0 && req.Method == bnn.MethodDropout {
		req.DropRate = bnn.DefaultDropRate
	}
	if req.Epochs <= 0 {
		req.Epochs = 20
	}
	if req.BatchSize <= 0 {
		req.BatchSize = trainer.DefaultBatchSize
	}
	if req.LR == 0 {
		req.LR = bnn.DefaultDropoutLR
		if req.Method == bnn.MethodLangevin {
			req.LR = bnn.DefaultLangevinLR
		}
	}
	if req.Momentum == 0 && req.Method == bnn.MethodDropout {
		req.Momentum = bnn.DefaultDropoutMomentum
	}
	if req.Gamma == 0 {
		req.Gamma = 1
	}
	var warmUp, interval, capacity int
	if req.Method == bnn.MethodLangevin {
		if req.PriorSigma == 0 {
			req.PriorSigma = bnn.DefaultPriorSigma
		}
		warmUp = intOrDefault(req.WarmUp, posterior.DefaultWarmUp)
		interval = intOrDefault(req.Interval, posterior.DefaultInterval)
		capacity = intOrDefault(req.Capacity, posterior.DefaultCapacity)
		if warmUp < 0 || interval < 0 || capacity < 0 {
			return trainConfig{}, errors.New("harvest warm-up, interval and capacity must be >= 0")
		}
	}
	if req.Samples < 0 || req.DevSamples < 0 {
		return trainConfig{}, errors.New("sample counts must be >= 0")
	}
	if req.Samples == 0 {
		req.Samples = 20
	}
	if req.Space == "" {
		req.Space = predictive.ProbabilitySpace.String()
	}
	if req.Seed == 0 {
		req.Seed = nn.DefaultSeed
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}

	return trainConfig{
		RunConfig: stats.RunConfig{
			Method:       req.Method,
			Dataset:      req.Dataset,
			LabelColumn:  req.LabelColumn,
			PerClass:     req.PerClass,
			DevFraction:  req.DevFraction,
			InputDim:     req.Features,
			Hidden:       append([]int(nil), req.Hidden...),
			Classes:      req.Classes,
			Activation:   req.Activation,
			DropRate:     req.DropRate,
			Epochs:       req.Epochs,
			BatchSize:    req.BatchSize,
			LR:           req.LR,
			Gamma:        req.Gamma,
			Momentum:     req.Momentum,
			PriorSigma:   req.PriorSigma,
			Precondition: req.Method == bnn.MethodLangevin && !req.DisablePrecondition,
			WarmUp:       warmUp,
			Interval:     interval,
			Capacity:     capacity,
			Samples:      req.Samples,
			Space:        req.Space,
			Seed:         req.Seed,
			Workers:      req.Workers,
		},
		bins: req.CalibrationBins,
	}, nil
}

// loadData builds the train and dev sets. Both the blobs and the split are drawn from
// the run seed, so the same config always yields the same dev set.
func loadData(cfg trainConfig) (dataset.Set, dataset.Set, error) {
	rng := rand.New(rand.NewSource(cfg.Seed))
	var all dataset.Set
	var err error
	if cfg.Dataset == DatasetBlobs {
		all, err = dataset.GaussianBlobs(dataset.BlobsConfig{
			Classes:  cfg.Classes,
			PerClass: cfg.PerClass,
			Features: cfg.InputDim,
		}, rng)
	} else {
		all, err = dataset.LoadCSVFile(cfg.Dataset, dataset.CSVOptions{LabelColumn: cfg.LabelColumn, Classes: cfg.Classes})
	}
	if err != nil {
		return dataset.Set{}, dataset.Set{}, err
	}
	if err := all.Validate(); err != nil {
		return dataset.Set{}, dataset.Set{}, err
	}
	if cfg.DevFraction == 0 {
		return all, dataset.Set{Classes: all.Classes}, nil
	}
	return all.Split(cfg.DevFraction, rng)
}

func buildNet(cfg trainConfig, logger *slog.Logger) (bnn.Net, error) {
	modelCfg := nn.Config{
		InputDim:   cfg.InputDim,
		Hidden:     append([]int(nil), cfg.Hidden...),
		Classes:    cfg.Classes,
		DropRate:   cfg.DropRate,
		Activation: cfg.Activation,
		Seed:       cfg.Seed,
		Workers:    cfg.Workers,
	}
	switch cfg.Method {
	case bnn.MethodDropout:
		return bnn.NewDropoutNet(bnn.DropoutConfig{
			Model:    modelCfg,
			LR:       cfg.LR,
			Momentum: cfg.Momentum,
			Logger:   logger,
		})
	case bnn.MethodLangevin:
		return bnn.NewLangevinNet(bnn.LangevinConfig{
			Model:        modelCfg,
			LR:           cfg.LR,
			PriorSigma:   cfg.PriorSigma,
			Precondition: cfg.Precondition,
			TrainSize:    cfg.TrainSize,
			Posterior: posterior.Config{
				WarmUp:   cfg.WarmUp,
				Interval: cfg.Interval,
				Capacity: cfg.Capacity,
				Logger:   logger,
			},
			Logger: logger,
		})
	default:
		return nil, fmt.Errorf("unsupported method: %s", cfg.Method)
	}
}

// calibrate draws the per-sample probabilities for data and summarizes them.
func calibrate(net bnn.Net, data dataset.Set, count, bins int) (stats.CalibrationReport, error) {
	ens, err := net.AllSampleEval(data.X, count)
	if err != nil {
		return stats.CalibrationReport{}, err
	}
	return stats.CalibrateEnsemble(ens, data.Y, bins)
}

func writeCheckpointFile(path string, checkpoint model.Checkpoint) error {
	data, err := storage.EncodeCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readCheckpointFile(path string) (model.Checkpoint, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	checkpoint, err := storage.DecodeCheckpoint(data)
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	return checkpoint, true, nil
}

func intOrDefault(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
