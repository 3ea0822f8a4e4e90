package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"bayesnet/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID        string  `json:"run_id"`
	Method       string  `json:"method"`
	Dataset      string  `json:"dataset"`
	LabelColumn  string  `json:"label_column,omitempty"`
	PerClass     int     `json:"per_class,omitempty"`
	DevFraction  float64 `json:"dev_fraction"`
	TrainSize    int     `json:"train_size"`
	InputDim     int     `json:"input_dim"`
	Hidden       []int   `json:"hidden"`
	Classes      int     `json:"classes"`
	Activation   string  `json:"activation"`
	DropRate     float64 `json:"drop_rate"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LR           float64 `json:"lr"`
	Gamma        float64 `json:"gamma"`
	Momentum     float64 `json:"momentum,omitempty"`
	PriorSigma   float64 `json:"prior_sigma,omitempty"`
	Precondition bool    `json:"precondition,omitempty"`
	WarmUp       int     `json:"warm_up,omitempty"`
	Interval     int     `json:"interval,omitempty"`
	Capacity     int     `json:"capacity,omitempty"`
	Samples      int     `json:"samples"`
	Space        string  `json:"space"`
	Seed         int64   `json:"seed"`
	Workers      int     `json:"workers"`
}

type RunArtifacts struct {
	Config      RunConfig            `json:"config"`
	History     []model.EpochMetrics `json:"history"`
	BestEpoch   int                  `json:"best_epoch"`
	BestDevErr  float64              `json:"best_dev_err"`
	Calibration *CalibrationReport   `json:"calibration,omitempty"`
	Weights     *Histogram           `json:"weights,omitempty"`
}

type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Method       string  `json:"method"`
	Dataset      string  `json:"dataset"`
	Epochs       int     `json:"epochs"`
	Seed         int64   `json:"seed"`
	Samples      int     `json:"samples"`
	BestDevErr   float64 `json:"best_dev_err"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "history.json"), map[string]any{
		"epochs":       artifacts.History,
		"best_epoch":   artifacts.BestEpoch,
		"best_dev_err": artifacts.BestDevErr,
	}); err != nil {
		return "", err
	}
	if err := WriteHistorySeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	if artifacts.Calibration != nil {
		if err := writeJSON(filepath.Join(runDir, "calibration.json"), artifacts.Calibration); err != nil {
			return "", err
		}
	}
	if artifacts.Weights != nil {
		if err := writeJSON(filepath.Join(runDir, "weights_histogram.json"), artifacts.Weights); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "history.json", "history.csv"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, optional := range []string{"calibration.json", "weights_histogram.json", "checkpoint.json", "samples.bin"} {
		path := filepath.Join(src, optional)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, optional)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, "config.json"), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadCalibration(baseDir, runID string) (CalibrationReport, bool, error) {
	var report CalibrationReport
	ok, err := readJSON(filepath.Join(baseDir, runID, "calibration.json"), &report)
	if err != nil || !ok {
		return CalibrationReport{}, ok, err
	}
	return report, true, nil
}

func WriteCalibration(runDir string, report CalibrationReport) error {
	return writeJSON(filepath.Join(runDir, "calibration.json"), report)
}

// WriteHistorySeries writes the per-epoch cost and error vectors as CSV. Epochs without a
// dev evaluation leave the dev columns empty.
func WriteHistorySeries(runDir string, history []model.EpochMetrics) error {
	path := filepath.Join(runDir, "history.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "train_cost", "train_err", "dev_cost", "dev_err", "lr"}); err != nil {
		return err
	}
	for _, m := range history {
		devCost, devErr := "", ""
		if m.Evaluated {
			devCost = strconv.FormatFloat(m.DevCost, 'f', -1, 64)
			devErr = strconv.FormatFloat(m.DevErr, 'f', -1, 64)
		}
		if err := writer.Write([]string{
			strconv.Itoa(m.Epoch),
			strconv.FormatFloat(m.TrainCost, 'f', -1, 64),
			strconv.FormatFloat(m.TrainErr, 'f', -1, 64),
			devCost,
			devErr,
			strconv.FormatFloat(m.LR, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadHistorySeries(baseDir, runID string) ([]model.EpochMetrics, bool, error) {
	path := filepath.Join(baseDir, runID, "history.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.EpochMetrics{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 6 {
		return nil, false, fmt.Errorf("history header must have 6 columns")
	}

	history := make([]model.EpochMetrics, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 6 {
			return nil, false, fmt.Errorf("history row must have 6 columns")
		}
		var m model.EpochMetrics
		if m.Epoch, err = strconv.Atoi(record[0]); err != nil {
			return nil, false, err
		}
		if m.TrainCost, err = strconv.ParseFloat(record[1], 64); err != nil {
			return nil, false, err
		}
		if m.TrainErr, err = strconv.ParseFloat(record[2], 64); err != nil {
			return nil, false, err
		}
		if record[3] != "" {
			m.Evaluated = true
			if m.DevCost, err = strconv.ParseFloat(record[3], 64); err != nil {
				return nil, false, err
			}
			if m.DevErr, err = strconv.ParseFloat(record[4], 64); err != nil {
				return nil, false, err
			}
		}
		if m.LR, err = strconv.ParseFloat(record[5], 64); err != nil {
			return nil, false, err
		}
		history = append(history, m)
	}
	return history, true, nil
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
