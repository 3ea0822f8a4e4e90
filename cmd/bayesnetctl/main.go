package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bayesnet/internal/model"
	"bayesnet/internal/posterior"
	"bayesnet/internal/storage"
	"bayesnet/pkg/bayesnet"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	dbPath     = "bayesnet.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "train":
		return runTrain(ctx, args[1:])
	case "eval":
		return runEval(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "history":
		return runHistory(ctx, args[1:])
	case "compare":
		return runCompare(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// clientFlags are shared by every subcommand that opens a client.
type clientFlags struct {
	storeKind  *string
	dbPath     *string
	runsDir    *string
	exportsDir *string
	verbose    *bool
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		storeKind:  fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath:     fs.String("db-path", dbPath, "sqlite database path"),
		runsDir:    fs.String("runs-dir", runsDir, "run artifacts directory"),
		exportsDir: fs.String("exports-dir", exportsDir, "export output directory"),
		verbose:    fs.Bool("v", false, "debug logging on stderr"),
	}
}

func (f clientFlags) open() (*bayesnet.Client, error) {
	level := slog.LevelWarn
	if *f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return bayesnet.New(bayesnet.Options{
		StoreKind:  *f.storeKind,
		DBPath:     *f.dbPath,
		RunsDir:    *f.runsDir,
		ExportsDir: *f.exportsDir,
		Logger:     logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	cf := addClientFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *cf.storeKind)
	return nil
}

func runTrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	cf := addClientFlags(fs)
	configPath := fs.String("config", "", "optional train config JSON path")
	method := fs.String("method", "dropout", "inference method: dropout|sgld")
	datasetName := fs.String("dataset", bayesnet.DatasetBlobs, "dataset: blobs or a headed CSV path")
	labelColumn := fs.String("label-column", "", "CSV label column (default last column)")
	classes := fs.Int("classes", 0, "class count (0 uses 3 for blobs and infers it for CSV)")
	features := fs.Int("features", 2, "blob feature count")
	perClass := fs.Int("per-class", 100, "blob points per class")
	devFraction := fs.Float64("dev-fraction", 0.2, "fraction of examples held out for dev evaluation")
	hidden := fs.String("hidden", "50", "comma-separated hidden layer widths")
	activation := fs.String("activation", "relu", "hidden activation: relu|tanh|sigmoid")
	dropRate := fs.Float64("drop-rate", 0, "dropout probability (dropout method, 0 uses default)")
	epochs := fs.Int("epochs", 20, "epoch count")
	batchSize := fs.Int("batch-size", 128, "mini-batch size")
	lr := fs.Float64("lr", 0, "learning rate (0 uses the method default)")
	momentum := fs.Float64("momentum", 0, "SGD momentum (dropout method, 0 uses default)")
	gamma := fs.Float64("gamma", 1, "per-epoch learning rate decay factor")
	priorSigma := fs.Float64("prior-sigma", 0, "gaussian prior std dev (sgld, 0 uses default)")
	noPrecondition := fs.Bool("no-precondition", false, "disable RMSprop preconditioning (sgld)")
	warmUp := fs.Int("warm-up", posterior.DefaultWarmUp, "epochs before the first harvest (sgld)")
	interval := fs.Int("interval", posterior.DefaultInterval, "epochs between harvests (sgld)")
	capacity := fs.Int("capacity", posterior.DefaultCapacity, "maximum retained weight samples (sgld, 0 disables harvesting)")
	samples := fs.Int("samples", 20, "posterior samples for the calibration report")
	devSamples := fs.Int("dev-samples", 0, "posterior samples for per-epoch dev evaluation (0 is deterministic)")
	space := fs.String("space", "probs", "aggregation space: logits|probs")
	seed := fs.Int64("seed", 42, "rng seed")
	workers := fs.Int("workers", 1, "worker count")
	bins := fs.Int("bins", 10, "calibration reliability bins")
	jsonOut := fs.Bool("json", false, "emit the run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	req, err := loadOrDefaultTrainRequest(*configPath)
	if err != nil {
		return err
	}
	if *configPath == "" {
		hiddenWidths, err := parseHidden(*hidden)
		if err != nil {
			return err
		}
		req = bayesnet.TrainRequest{
			Method:              *method,
			Dataset:             *datasetName,
			LabelColumn:         *labelColumn,
			Classes:             *classes,
			Features:            *features,
			PerClass:            *perClass,
			DevFraction:         *devFraction,
			Hidden:              hiddenWidths,
			Activation:          *activation,
			DropRate:            *dropRate,
			Epochs:              *epochs,
			BatchSize:           *batchSize,
			LR:                  *lr,
			Momentum:            *momentum,
			Gamma:               *gamma,
			PriorSigma:          *priorSigma,
			DisablePrecondition: *noPrecondition,
			WarmUp:              warmUp,
			Interval:            interval,
			Capacity:            capacity,
			Samples:             *samples,
			DevSamples:          *devSamples,
			Space:               *space,
			Seed:                *seed,
			Workers:             *workers,
			CalibrationBins:     *bins,
		}
	} else {
		if err := overrideFromFlags(&req, setFlags, map[string]any{
			"method":          *method,
			"dataset":         *datasetName,
			"label-column":    *labelColumn,
			"classes":         *classes,
			"features":        *features,
			"per-class":       *perClass,
			"dev-fraction":    *devFraction,
			"hidden":          *hidden,
			"activation":      *activation,
			"drop-rate":       *dropRate,
			"epochs":          *epochs,
			"batch-size":      *batchSize,
			"lr":              *lr,
			"momentum":        *momentum,
			"gamma":           *gamma,
			"prior-sigma":     *priorSigma,
			"no-precondition": *noPrecondition,
			"warm-up":         *warmUp,
			"interval":        *interval,
			"capacity":        *capacity,
			"samples":         *samples,
			"dev-samples":     *devSamples,
			"space":           *space,
			"seed":            *seed,
			"workers":         *workers,
			"bins":            *bins,
		}); err != nil {
			return err
		}
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Train(ctx, req)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(trainSummaryJSON(summary))
	}

	fmt.Printf("%s run_id=%s method=%s epochs=%d parameters=%s duration=%s\n",
		highlight("run completed"),
		summary.RunID,
		summary.Method,
		len(summary.History),
		humanize.Comma(int64(summary.NbParameters)),
		summary.Duration.Round(time.Millisecond),
	)
	for _, m := range summary.History {
		printEpoch(m)
	}
	fmt.Printf("best_epoch=%d best_dev_err=%.6f\n", summary.BestEpoch, summary.BestDevErr)
	if summary.RetainedSamples > 0 {
		line := fmt.Sprintf("retained_samples=%d", summary.RetainedSamples)
		if info, err := os.Stat(filepath.Join(summary.ArtifactsDir, "samples.bin")); err == nil {
			line += " samples_file=" + humanize.Bytes(uint64(info.Size()))
		}
		fmt.Println(line)
	}
	if summary.Calibration != nil {
		c := summary.Calibration
		fmt.Printf("calibration samples=%d examples=%d accuracy=%.6f mean_confidence=%.6f ece=%.6f mean_entropy=%.6f mutual_information=%.6f\n",
			c.Samples, c.Examples, c.Accuracy, c.MeanConfidence, c.ECE, c.MeanEntropy, c.MutualInformation)
	}
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runEval(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "evaluate the most recent run from run index")
	datasetPath := fs.String("dataset", "", "optional CSV to evaluate instead of the run's dev split")
	labelColumn := fs.String("label-column", "", "CSV label column (default last column)")
	samples := fs.Int("samples", 0, "posterior samples (0 uses the run default)")
	space := fs.String("space", "", "aggregation space: logits|probs (default from the run)")
	bins := fs.Int("bins", 0, "calibration reliability bins (0 uses the run default)")
	showBins := fs.Bool("show-bins", false, "print the reliability bins")
	jsonOut := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("eval requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, bayesnet.EvalRequest{
		RunID:           *runID,
		Latest:          *latest,
		Dataset:         *datasetPath,
		LabelColumn:     *labelColumn,
		Samples:         *samples,
		Space:           *space,
		CalibrationBins: *bins,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		type evalJSON struct {
			RunID       string  `json:"run_id"`
			Method      string  `json:"method"`
			Examples    int     `json:"examples"`
			Samples     int     `json:"samples"`
			Space       string  `json:"space"`
			Cost        float64 `json:"cost"`
			ErrorRate   float64 `json:"error_rate"`
			Calibration any     `json:"calibration"`
		}
		return writeJSON(evalJSON{
			RunID:       summary.RunID,
			Method:      summary.Method,
			Examples:    summary.Examples,
			Samples:     summary.Samples,
			Space:       summary.Space,
			Cost:        summary.Cost,
			ErrorRate:   summary.ErrorRate,
			Calibration: summary.Calibration,
		})
	}

	c := summary.Calibration
	fmt.Printf("%s run_id=%s method=%s examples=%d samples=%d space=%s cost=%.6f error_rate=%.6f\n",
		highlight("eval"),
		summary.RunID,
		summary.Method,
		summary.Examples,
		summary.Samples,
		summary.Space,
		summary.Cost,
		summary.ErrorRate,
	)
	fmt.Printf("calibration accuracy=%.6f mean_confidence=%.6f ece=%.6f mean_entropy=%.6f mutual_information=%.6f\n",
		c.Accuracy, c.MeanConfidence, c.ECE, c.MeanEntropy, c.MutualInformation)
	if *showBins {
		for _, b := range c.Bins {
			fmt.Printf("bin lower=%.2f upper=%.2f count=%d confidence=%.6f accuracy=%.6f\n",
				b.Lower, b.Upper, b.Count, b.Confidence, b.Accuracy)
		}
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	cf := addClientFlags(fs)
	limit := fs.Int("limit", 20, "maximum number of runs to list")
	jsonOut := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, bayesnet.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Method       string  `json:"method"`
			Dataset      string  `json:"dataset"`
			Seed         int64   `json:"seed"`
			Epochs       int     `json:"epochs"`
			Samples      int     `json:"samples"`
			BestDevErr   float64 `json:"best_dev_err"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem(item))
		}
		return writeJSON(out)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s method=%s dataset=%s seed=%d epochs=%d samples=%d best_dev_err=%.6f\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Method,
			item.Dataset,
			item.Seed,
			item.Epochs,
			item.Samples,
			item.BestDevErr,
		)
	}
	return nil
}

func runHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	limit := fs.Int("limit", 0, "maximum epochs to show (0 shows all)")
	jsonOut := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("history requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.History(ctx, bayesnet.HistoryRequest{RunID: *runID, Latest: *latest, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(history)
	}
	for _, m := range history {
		printEpoch(m)
	}
	return nil
}

func runCompare(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runIDs := fs.String("run-ids", "", "comma-separated run ids")
	metric := fs.String("metric", "dev_err", "metric: train_cost|train_err|dev_cost|dev_err")
	jsonOut := fs.Bool("json", false, "emit JSON output")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids := splitList(*runIDs)
	if len(ids) == 0 {
		return errors.New("compare requires --run-ids")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	points, err := client.Compare(ctx, bayesnet.CompareRequest{RunIDs: ids, Metric: *metric})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(points)
	}
	fmt.Printf("compare metric=%s runs=%d\n", *metric, len(ids))
	for _, p := range points {
		fmt.Printf("epoch=%d mean=%.6f std=%.6f runs=%d\n", p.Epoch, p.Mean, p.StdDev, p.Runs)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	cf := addClientFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (default --exports-dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := cf.open()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, bayesnet.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func printEpoch(m model.EpochMetrics) {
	devCost, devErr := "n/a", "n/a"
	if m.Evaluated {
		devCost = fmt.Sprintf("%.6f", m.DevCost)
		devErr = fmt.Sprintf("%.6f", m.DevErr)
	}
	line := fmt.Sprintf("epoch=%d train_cost=%.6f train_err=%.6f dev_cost=%s dev_err=%s lr=%g",
		m.Epoch, m.TrainCost, m.TrainErr, devCost, devErr, m.LR)
	if m.Noise != nil {
		line += fmt.Sprintf(" harvested=%t noise_steps=%d", m.Harvested, m.Noise.Steps)
	}
	fmt.Println(line)
}

type trainSummaryOut struct {
	RunID           string               `json:"run_id"`
	Method          string               `json:"method"`
	ArtifactsDir    string               `json:"artifacts_dir"`
	BestEpoch       int                  `json:"best_epoch"`
	BestDevErr      float64              `json:"best_dev_err"`
	NbParameters    int                  `json:"nb_parameters"`
	RetainedSamples int                  `json:"retained_samples"`
	DurationMS      int64                `json:"duration_ms"`
	History         []model.EpochMetrics `json:"history"`
	Calibration     any                  `json:"calibration,omitempty"`
}

func trainSummaryJSON(s bayesnet.TrainSummary) trainSummaryOut {
	out := trainSummaryOut{
		RunID:           s.RunID,
		Method:          s.Method,
		ArtifactsDir:    filepath.Clean(s.ArtifactsDir),
		BestEpoch:       s.BestEpoch,
		BestDevErr:      s.BestDevErr,
		NbParameters:    s.NbParameters,
		RetainedSamples: s.RetainedSamples,
		DurationMS:      s.Duration.Milliseconds(),
		History:         s.History,
	}
	if s.Calibration != nil {
		out.Calibration = s.Calibration
	}
	return out
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// highlight colors a headline when stdout is a terminal.
func highlight(s string) string {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return s
	}
	return "\x1b[1;32m" + s + "\x1b[0m"
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: bayesnetctl <init|train|eval|runs|history|compare|export> [flags]", msg)
}
