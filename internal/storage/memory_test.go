package storage

import (
	"context"
	"testing"

	"bayesnet/internal/model"
)

func TestMemoryStoreRunsListedOldestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	for _, run := range []model.RunRecord{
		{VersionedRecord: Versioned(), ID: "b", CreatedAtUTC: "2026-02-10T11:00:00Z", Hidden: []int{8}},
		{VersionedRecord: Versioned(), ID: "a", CreatedAtUTC: "2026-02-10T10:00:00Z"},
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "a" || runs[1].ID != "b" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	runs[1].Hidden[0] = 99
	stored, ok, err := store.GetRun(ctx, "b")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if stored.Hidden[0] != 8 {
		t.Fatalf("listed run aliases stored run: %+v", stored)
	}
}

func TestMemoryStoreWeightSamplesAreCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := testSamples()
	if err := store.SaveWeightSamples(ctx, "run-1", input); err != nil {
		t.Fatalf("save samples: %v", err)
	}
	input[0].Params[0].Data[0] = 1000

	output, ok, err := store.GetWeightSamples(ctx, "run-1")
	if err != nil {
		t.Fatalf("get samples: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted samples")
	}
	if output[0].Params[0].Data[0] != 0.25 {
		t.Fatalf("stored sample aliases caller data: %+v", output[0].Params[0])
	}
	if _, ok, _ := store.GetWeightSamples(ctx, "missing"); ok {
		t.Fatal("expected no samples for unknown run")
	}
}

func TestMemoryStoreCheckpointAndHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	checkpoint := model.Checkpoint{
		VersionedRecord: Versioned(),
		RunID:           "run-1",
		Epoch:           4,
		LR:              0.01,
		Params:          testSamples()[0].Params,
	}
	if err := store.SaveCheckpoint(ctx, checkpoint); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	loaded, ok, err := store.GetCheckpoint(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get checkpoint: ok=%t err=%v", ok, err)
	}
	if loaded.Epoch != 4 || !loaded.Params.Equal(checkpoint.Params) {
		t.Fatalf("unexpected checkpoint: %+v", loaded)
	}

	history := []model.EpochMetrics{{Epoch: 0, TrainCost: 2, Noise: &model.NoiseState{Steps: 3}}}
	if err := store.SaveTrainingHistory(ctx, "run-1", history); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history[0].Noise.Steps = 100
	output, ok, err := store.GetTrainingHistory(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%t err=%v", ok, err)
	}
	if output[0].Noise.Steps != 3 {
		t.Fatalf("stored history aliases caller data: %+v", output[0].Noise)
	}
}
