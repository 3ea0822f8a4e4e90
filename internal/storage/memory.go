package storage

import (
	"context"
	"sort"
	"sync"

	"bayesnet/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	checkpoints map[string]model.Checkpoint
	samples     map[string][]model.WeightSample
	history     map[string][]model.EpochMetrics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.checkpoints = make(map[string]model.Checkpoint)
	s.samples = make(map[string][]model.WeightSample)
	s.history = make(map[string][]model.EpochMetrics)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.Hidden = append([]int(nil), run.Hidden...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	run.Hidden = append([]int(nil), run.Hidden...)
	return run, true, nil
}

// ListRuns returns runs oldest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		run.Hidden = append([]int(nil), run.Hidden...)
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, checkpoint model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[checkpoint.RunID] = cloneCheckpoint(checkpoint)
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, runID string) (model.Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	checkpoint, ok := s.checkpoints[runID]
	if !ok {
		return model.Checkpoint{}, false, nil
	}
	return cloneCheckpoint(checkpoint), true, nil
}

func (s *MemoryStore) SaveWeightSamples(_ context.Context, runID string, samples []model.WeightSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples[runID] = cloneSamples(samples)
	return nil
}

func (s *MemoryStore) GetWeightSamples(_ context.Context, runID string) ([]model.WeightSample, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	samples, ok := s.samples[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneSamples(samples), true, nil
}

func (s *MemoryStore) SaveTrainingHistory(_ context.Context, runID string, history []model.EpochMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[runID] = cloneHistory(history)
	return nil
}

func (s *MemoryStore) GetTrainingHistory(_ context.Context, runID string) ([]model.EpochMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return cloneHistory(history), true, nil
}

func cloneCheckpoint(c model.Checkpoint) model.Checkpoint {
	c.Params = c.Params.Clone()
	c.OptimizerState = c.OptimizerState.Clone()
	return c
}

func cloneSamples(samples []model.WeightSample) []model.WeightSample {
	copied := make([]model.WeightSample, len(samples))
	for i, sample := range samples {
		copied[i] = model.WeightSample{Epoch: sample.Epoch, Params: sample.Params.Clone()}
	}
	return copied
}

func cloneHistory(history []model.EpochMetrics) []model.EpochMetrics {
	copied := make([]model.EpochMetrics, len(history))
	copy(copied, history)
	for i := range copied {
		if copied[i].Noise != nil {
			noise := *copied[i].Noise
			copied[i].Noise = &noise
		}
	}
	return copied
}

func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}
