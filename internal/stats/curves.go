package stats

import (
	"fmt"

	"bayesnet/internal/model"

	"gonum.org/v1/gonum/stat"
)

type CurvePoint struct {
	Epoch  int     `json:"epoch"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Runs   int     `json:"runs"`
}

// AverageCurve averages ragged per-run series position by position. A series stops
// contributing once it runs out; the curve ends when every series has.
func AverageCurve(lists [][]float64, startEpoch, step int) []CurvePoint {
	if step <= 0 {
		step = 1
	}
	longest := 0
	for _, list := range lists {
		longest = max(longest, len(list))
	}
	points := make([]CurvePoint, 0, longest)
	values := make([]float64, 0, len(lists))
	for pos := 0; pos < longest; pos++ {
		values = values[:0]
		for _, list := range lists {
			if pos < len(list) {
				values = append(values, list[pos])
			}
		}
		point := CurvePoint{Epoch: startEpoch + pos*step, Runs: len(values)}
		if len(values) == 1 {
			point.Mean = values[0]
		} else {
			point.Mean, point.StdDev = stat.MeanStdDev(values, nil)
		}
		points = append(points, point)
	}
	return points
}

type Metric string

const (
	MetricTrainCost Metric = "train_cost"
	MetricTrainErr  Metric = "train_err"
	MetricDevCost   Metric = "dev_cost"
	MetricDevErr    Metric = "dev_err"
)

// Series extracts one metric from a history. Dev metrics only include evaluated epochs.
func Series(history []model.EpochMetrics, metric Metric) ([]float64, error) {
	switch metric {
	case MetricTrainCost, MetricTrainErr, MetricDevCost, MetricDevErr:
	default:
		return nil, fmt.Errorf("unsupported metric: %s", metric)
	}
	out := make([]float64, 0, len(history))
	for _, m := range history {
		switch metric {
		case MetricTrainCost:
			out = append(out, m.TrainCost)
		case MetricTrainErr:
			out = append(out, m.TrainErr)
		case MetricDevCost:
			if m.Evaluated {
				out = append(out, m.DevCost)
			}
		case MetricDevErr:
			if m.Evaluated {
				out = append(out, m.DevErr)
			}
		}
	}
	return out, nil
}

// CompareRuns averages a metric over the stored histories of several runs. Points are
// indexed by position in the series, which for dev metrics counts evaluations.
func CompareRuns(baseDir string, runIDs []string, metric Metric) ([]CurvePoint, error) {
	if len(runIDs) == 0 {
		return nil, fmt.Errorf("at least one run id is required")
	}
	lists := make([][]float64, 0, len(runIDs))
	for _, runID := range runIDs {
		history, ok, err := ReadHistorySeries(baseDir, runID)
		if err != nil {
			return nil, fmt.Errorf("read history for %s: %w", runID, err)
		}
		if !ok {
			return nil, fmt.Errorf("run history not found: %s", runID)
		}
		series, err := Series(history, metric)
		if err != nil {
			return nil, err
		}
		lists = append(lists, series)
	}
	return AverageCurve(lists, 0, 1), nil
}
