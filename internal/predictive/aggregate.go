// Package predictive turns an ensemble of per-sample model outputs into one predictive
// distribution plus a loss and error count.
package predictive

import (
	"fmt"
	"math"

	"bayesnet/internal/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Epsilon floors averaged probabilities before the log in probability-space loss.
const Epsilon = 1e-6

// Space selects where the N outputs are averaged.
type Space int

const (
	// LogitSpace averages raw scores, then applies one softmax.
	LogitSpace Space = iota
	// ProbabilitySpace applies a softmax per sample, then averages the distributions.
	ProbabilitySpace
)

func (s Space) String() string {
	switch s {
	case LogitSpace:
		return "logits"
	case ProbabilitySpace:
		return "probs"
	default:
		return fmt.Sprintf("space(%d)", int(s))
	}
}

// ParseSpace accepts "logits" or "probs".
func ParseSpace(name string) (Space, error) {
	switch name {
	case "logits", "logit":
		return LogitSpace, nil
	case "probs", "prob", "probability":
		return ProbabilitySpace, nil
	default:
		return 0, fmt.Errorf("unsupported aggregation space: %s", name)
	}
}

// Result is an aggregated prediction for one batch.
type Result struct {
	// Loss is summed over the batch, not averaged.
	Loss        float64
	Errors      int
	Probs       *mat.Dense
	Predictions []int
}

// Aggregate combines the ensemble in the requested space. The loss is computed in the
// same space: cross-entropy on mean logits, or NLL on mean probabilities.
func Aggregate(e *Ensemble, labels []int, space Space) (Result, error) {
	_, b, c := e.Dims()
	if err := checkLabels(labels, b, c); err != nil {
		return Result{}, err
	}

	var (
		probs *mat.Dense
		loss  float64
	)
	switch space {
	case LogitSpace:
		mean := e.Mean()
		probs = mat.NewDense(b, c, nil)
		for i := 0; i < b; i++ {
			row := mean.RawRowView(i)
			loss += floats.LogSumExp(row) - row[labels[i]]
			softmaxInto(probs.RawRowView(i), row)
		}
	case ProbabilitySpace:
		probs = e.Softmax().Mean()
		for i := 0; i < b; i++ {
			loss -= math.Log(math.Max(probs.At(i, labels[i]), Epsilon))
		}
	default:
		return Result{}, fmt.Errorf("unsupported aggregation space: %v", space)
	}

	preds, errs := argmaxErrors(probs, labels)
	return Result{
		Loss:        loss,
		Errors:      errs,
		Probs:       probs,
		Predictions: preds,
	}, nil
}

// Softmax applies a row-wise softmax to a B x C matrix of logits.
func Softmax(logits *mat.Dense) *mat.Dense {
	r, c := logits.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		mat.Row(row, i, logits)
		softmaxInto(out.RawRowView(i), row)
	}
	return out
}

func softmaxInto(dst, logits []float64) {
	lse := floats.LogSumExp(logits)
	for k, v := range logits {
		dst[k] = math.Exp(v - lse)
	}
}

func argmaxErrors(probs *mat.Dense, labels []int) ([]int, int) {
	r, _ := probs.Dims()
	preds := make([]int, r)
	errs := 0
	for i := 0; i < r; i++ {
		preds[i] = floats.MaxIdx(probs.RawRowView(i))
		if preds[i] != labels[i] {
			errs++
		}
	}
	return preds, errs
}

func checkLabels(labels []int, b, c int) error {
	if len(labels) != b {
		return fmt.Errorf("%w: %d labels for batch of %d", model.ErrShapeMismatch, len(labels), b)
	}
	for i, y := range labels {
		if y < 0 || y >= c {
			return fmt.Errorf("%w: label %d at %d outside [0,%d)", model.ErrShapeMismatch, y, i, c)
		}
	}
	return nil
}
