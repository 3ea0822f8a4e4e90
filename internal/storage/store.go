package storage

import (
	"context"

	"bayesnet/internal/model"
)

// Store defines transaction-like persistence operations for training runs and their
// posterior samples.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveWeightSamples(ctx context.Context, runID string, samples []model.WeightSample) error
	GetWeightSamples(ctx context.Context, runID string) ([]model.WeightSample, bool, error)
	SaveTrainingHistory(ctx context.Context, runID string, history []model.EpochMetrics) error
	GetTrainingHistory(ctx context.Context, runID string) ([]model.EpochMetrics, bool, error)
}
