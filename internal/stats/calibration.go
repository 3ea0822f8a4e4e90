package stats

import (
	"fmt"
	"math"
	"sort"

	"bayesnet/internal/model"
	"bayesnet/internal/predictive"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const DefaultCalibrationBins = 10

// ReliabilityBin groups predictions whose top-class confidence falls in [Lower, Upper).
// The last bin is closed on the right.
type ReliabilityBin struct {
	Lower      float64 `json:"lower"`
	Upper      float64 `json:"upper"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
	Accuracy   float64 `json:"accuracy"`
}

type CalibrationReport struct {
	Samples        int     `json:"samples"`
	Examples       int     `json:"examples"`
	Accuracy       float64 `json:"accuracy"`
	MeanConfidence float64 `json:"mean_confidence"`
	ECE            float64 `json:"ece"`

	// MeanEntropy is the entropy of the averaged predictive distribution.
	MeanEntropy float64 `json:"mean_entropy"`

	// MutualInformation is MeanEntropy minus the mean per-sample entropy; zero for a
	// single sample.
	MutualInformation float64 `json:"mutual_information"`

	Bins []ReliabilityBin `json:"bins"`
}

// Calibrate builds a reliability report for B x C class probabilities.
func Calibrate(probs mat.Matrix, labels []int, bins int) (CalibrationReport, error) {
	if bins <= 0 {
		bins = DefaultCalibrationBins
	}
	b, c := probs.Dims()
	if b != len(labels) {
		return CalibrationReport{}, fmt.Errorf("%w: %d rows with %d labels", model.ErrShapeMismatch, b, len(labels))
	}
	if b == 0 {
		return CalibrationReport{}, fmt.Errorf("%w: calibration needs at least one example", model.ErrShapeMismatch)
	}

	report := CalibrationReport{Samples: 1, Examples: b, Bins: make([]ReliabilityBin, bins)}
	for i := range report.Bins {
		report.Bins[i].Lower = float64(i) / float64(bins)
		report.Bins[i].Upper = float64(i+1) / float64(bins)
	}

	confidences := make([]float64, b)
	entropies := make([]float64, b)
	row := make([]float64, c)
	correct := 0
	for i := 0; i < b; i++ {
		mat.Row(row, i, probs)
		if labels[i] < 0 || labels[i] >= c {
			return CalibrationReport{}, fmt.Errorf("%w: label %d outside [0,%d)", model.ErrShapeMismatch, labels[i], c)
		}
		pred := floats.MaxIdx(row)
		conf := row[pred]
		confidences[i] = conf
		entropies[i] = Entropy(row)

		bin := min(int(conf*float64(bins)), bins-1)
		if bin < 0 {
			bin = 0
		}
		report.Bins[bin].Count++
		report.Bins[bin].Confidence += conf
		if pred == labels[i] {
			report.Bins[bin].Accuracy++
			correct++
		}
	}

	for i := range report.Bins {
		bin := &report.Bins[i]
		if bin.Count == 0 {
			continue
		}
		bin.Confidence /= float64(bin.Count)
		bin.Accuracy /= float64(bin.Count)
		report.ECE += float64(bin.Count) / float64(b) * math.Abs(bin.Accuracy-bin.Confidence)
	}
	report.Accuracy = float64(correct) / float64(b)
	report.MeanConfidence = stat.Mean(confidences, nil)
	report.MeanEntropy = stat.Mean(entropies, nil)
	return report, nil
}

// CalibrateEnsemble calibrates the sample mean of an ensemble of probabilities and adds the
// mutual information between prediction and weights.
func CalibrateEnsemble(ens *predictive.Ensemble, labels []int, bins int) (CalibrationReport, error) {
	report, err := Calibrate(ens.Mean(), labels, bins)
	if err != nil {
		return CalibrationReport{}, err
	}
	n, b, c := ens.Dims()
	perSample := make([]float64, 0, n*b)
	row := make([]float64, c)
	for s := 0; s < n; s++ {
		for i := 0; i < b; i++ {
			for j := 0; j < c; j++ {
				row[j] = ens.At(s, i, j)
			}
			perSample = append(perSample, Entropy(row))
		}
	}
	report.Samples = n
	report.MutualInformation = math.Max(0, report.MeanEntropy-stat.Mean(perSample, nil))
	return report, nil
}

// Entropy is the Shannon entropy in nats; zero probabilities contribute nothing.
func Entropy(p []float64) float64 {
	h := 0.0
	for _, v := range p {
		if v > 0 {
			h -= v * math.Log(v)
		}
	}
	return h
}

type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []float64 `json:"counts"`
	Mean   float64   `json:"mean"`
	StdDev float64   `json:"std_dev"`
}

// WeightHistogram bins the pooled values of every vector into equal-width bins spanning
// their range.
func WeightHistogram(vectors [][]float64, bins int) (Histogram, error) {
	if bins <= 0 {
		return Histogram{}, fmt.Errorf("histogram bins must be > 0, got %d", bins)
	}
	total := 0
	for _, v := range vectors {
		total += len(v)
	}
	if total == 0 {
		return Histogram{}, fmt.Errorf("histogram needs at least one value")
	}
	pooled := make([]float64, 0, total)
	for _, v := range vectors {
		pooled = append(pooled, v...)
	}
	sort.Float64s(pooled)

	lo, hi := pooled[0], pooled[len(pooled)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	// stat.Histogram excludes the upper edge.
	edges[bins] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, edges, pooled, nil)

	mean, std := stat.MeanStdDev(pooled, nil)
	edges[bins] = hi
	return Histogram{Edges: edges, Counts: counts, Mean: mean, StdDev: std}, nil
}
