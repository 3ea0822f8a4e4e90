// Package posterior keeps the bounded collection of weight samples harvested during
// Langevin training. The retained window is first-in-first-out: once the store is full
// every new sample evicts the oldest one, so the samples always describe the most recent
// portion of the trajectory.
package posterior

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"bayesnet/internal/model"
	"bayesnet/internal/storage"
)

const (
	DefaultWarmUp   = 15
	DefaultInterval = 2
	DefaultCapacity = 100
)

var ErrNoSamples = errors.New("not enough weight samples")

type Config struct {
	// WarmUp is the first epoch eligible for harvesting.
	WarmUp int
	// Interval is the number of epochs between harvests; zero means every epoch.
	Interval int
	// Capacity bounds the number of retained samples; zero disables harvesting.
	Capacity int
	Logger   *slog.Logger
}

type Store struct {
	mu       sync.RWMutex
	cfg      Config
	log      *slog.Logger
	samples  []model.WeightSample
	harvests int
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.WarmUp < 0 {
		return nil, fmt.Errorf("warm-up must be >= 0, got %d", cfg.WarmUp)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("interval must be >= 0, got %d", cfg.Interval)
	}
	if cfg.Interval == 0 {
		cfg.Interval = 1
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("capacity must be >= 0, got %d", cfg.Capacity)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{cfg: cfg, log: logger}, nil
}

func (s *Store) Config() Config { return s.cfg }

// ShouldHarvest reports whether epoch is a harvesting epoch:
// epoch >= WarmUp and (epoch-WarmUp) is a multiple of Interval.
func (s *Store) ShouldHarvest(epoch int) bool {
	return s.cfg.Capacity > 0 && epoch >= s.cfg.WarmUp && (epoch-s.cfg.WarmUp)%s.cfg.Interval == 0
}

// HarvestIfDue harvests params when epoch satisfies ShouldHarvest.
func (s *Store) HarvestIfDue(params model.ParameterVector, epoch int) (bool, error) {
	if !s.ShouldHarvest(epoch) {
		return false, nil
	}
	if err := s.Harvest(params, epoch); err != nil {
		return false, err
	}
	return true, nil
}

// Harvest stores a deep copy of params. A full store evicts its oldest sample; a store
// with zero capacity ignores the call. params must share the layout of samples already
// held, otherwise model.ErrArchitectureDrift is returned and nothing is stored.
func (s *Store) Harvest(params model.ParameterVector, epoch int) error {
	if s.cfg.Capacity == 0 {
		return nil
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("harvest epoch %d: %w", epoch, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.samples) > 0 {
		if err := s.samples[0].Params.CheckLayout(params); err != nil {
			return fmt.Errorf("harvest epoch %d: %w", epoch, err)
		}
	}
	s.samples = append(s.samples, model.WeightSample{Epoch: epoch, Params: params.Clone()})
	s.harvests++
	s.log.Debug("weight sample harvested", "epoch", epoch, "retained", len(s.samples))
	s.enforceLocked(s.cfg.Capacity)
	return nil
}

// EnforceCapacity drops the oldest samples until at most max remain and returns how many
// were evicted.
func (s *Store) EnforceCapacity(max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enforceLocked(max)
}

func (s *Store) enforceLocked(max int) int {
	if max < 0 {
		max = 0
	}
	drop := len(s.samples) - max
	if drop <= 0 {
		return 0
	}
	for _, sample := range s.samples[:drop] {
		s.log.Debug("weight sample evicted", "epoch", sample.Epoch, "capacity", max)
	}
	n := copy(s.samples, s.samples[drop:])
	for i := n; i < len(s.samples); i++ {
		s.samples[i] = model.WeightSample{}
	}
	s.samples = s.samples[:n]
	return drop
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// Harvests counts every sample ever stored, including evicted ones.
func (s *Store) Harvests() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.harvests
}

// At returns the i-th retained sample, oldest first. The returned parameters are shared
// with the store and must be treated as read-only.
func (s *Store) At(i int) (model.WeightSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i < 0 || i >= len(s.samples) {
		return model.WeightSample{}, fmt.Errorf("%w: index %d with %d stored", ErrNoSamples, i, len(s.samples))
	}
	return s.samples[i], nil
}

// Samples returns deep copies of the retained samples, oldest first.
func (s *Store) Samples() []model.WeightSample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.WeightSample, len(s.samples))
	for i, sample := range s.samples {
		out[i] = model.WeightSample{Epoch: sample.Epoch, Params: sample.Params.Clone()}
	}
	return out
}

func (s *Store) Epochs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	epochs := make([]int, len(s.samples))
	for i, sample := range s.samples {
		epochs[i] = sample.Epoch
	}
	return epochs
}

// WeightVectors flattens the weight matrices (biases excluded) of the n oldest retained
// samples; n <= 0 selects all of them.
func (s *Store) WeightVectors(n int) [][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := len(s.samples)
	if n > 0 && n < end {
		end = n
	}
	out := make([][]float64, 0, end)
	for _, sample := range s.samples[:end] {
		out = append(out, sample.Params.Weights())
	}
	return out
}

// Load replaces the store contents with samples, keeping at most Capacity of the most
// recent ones. All samples must share one layout.
func (s *Store) Load(samples []model.WeightSample) error {
	loaded := make([]model.WeightSample, 0, len(samples))
	for i, sample := range samples {
		if err := sample.Params.Validate(); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if i > 0 {
			if err := samples[0].Params.CheckLayout(sample.Params); err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
		}
		loaded = append(loaded, model.WeightSample{Epoch: sample.Epoch, Params: sample.Params.Clone()})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = loaded
	s.harvests = len(loaded)
	s.enforceLocked(s.cfg.Capacity)
	return nil
}

func (s *Store) Persist(ctx context.Context, st storage.Store, runID string) error {
	if err := st.SaveWeightSamples(ctx, runID, s.Samples()); err != nil {
		return fmt.Errorf("persist weight samples for %s: %w", runID, err)
	}
	return nil
}

func (s *Store) Restore(ctx context.Context, st storage.Store, runID string) error {
	samples, ok, err := st.GetWeightSamples(ctx, runID)
	if err != nil {
		return fmt.Errorf("restore weight samples for %s: %w", runID, err)
	}
	if !ok {
		return fmt.Errorf("%w: run %s has no persisted samples", ErrNoSamples, runID)
	}
	return s.Load(samples)
}

// SaveFile and LoadFile persist the samples outside of a storage backend.
func (s *Store) SaveFile(path string) error {
	return storage.WriteSampleFile(path, s.Samples())
}

func (s *Store) LoadFile(path string) error {
	samples, err := storage.ReadSampleFile(path)
	if err != nil {
		return err
	}
	return s.Load(samples)
}
