package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"bayesnet/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("run_record_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-minimal-1" || run.Method != "sgld" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(run.Hidden) != 1 || run.Hidden[0] != 8 || run.Samples != 8 {
		t.Fatalf("unexpected run topology: %+v", run)
	}
}

func TestDecodeCheckpointFixture(t *testing.T) {
	data, err := os.ReadFile(fixturePath("checkpoint_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	checkpoint, err := DecodeCheckpoint(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if checkpoint.Epoch != 27 || len(checkpoint.Params) != 2 {
		t.Fatalf("unexpected checkpoint: %+v", checkpoint)
	}
	w, ok := checkpoint.Params.Lookup("fc1.weight")
	if !ok || w.Data[3] != 0.125 {
		t.Fatalf("unexpected weight param: %+v", w)
	}
}

func TestDecodeCheckpointRejectsVersionMismatch(t *testing.T) {
	data, err := os.ReadFile(fixturePath("checkpoint_v2.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got: %v", err)
	}
}

func TestDecodeCheckpointRejectsBadLayout(t *testing.T) {
	data, err := EncodeCheckpoint(model.Checkpoint{
		VersionedRecord: Versioned(),
		RunID:           "r",
		Params:          model.ParameterVector{{Name: "w", Shape: []int{2}, Data: []float64{1}}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeCheckpoint(data); !errors.Is(err, model.ErrInvalidParamLayout) {
		t.Fatalf("expected ErrInvalidParamLayout, got: %v", err)
	}
}

func TestTrainingHistoryRoundTrip(t *testing.T) {
	input := []model.EpochMetrics{
		{Epoch: 0, TrainCost: 1.5, TrainErr: 0.4, LR: 0.01},
		{Epoch: 1, TrainCost: 0.9, TrainErr: 0.2, DevCost: 1.1, DevErr: 0.3, Evaluated: true, Harvested: true,
			Noise: &model.NoiseState{Steps: 20, LR: 0.01, NoiseStd: 0.05, Preconditioner: 4}},
	}
	data, err := EncodeTrainingHistory(input)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	output, err := DecodeTrainingHistory(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(output) != 2 || output[0].Noise != nil || output[1].Noise == nil || *output[1].Noise != *input[1].Noise {
		t.Fatalf("unexpected history: %+v", output)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func testSamples() []model.WeightSample {
	layer := func(w0, b0 float64) model.ParameterVector {
		return model.ParameterVector{
			{Name: "fc1.weight", Shape: []int{2, 3}, Data: []float64{w0, -1.5, 2e-300, 0, -0.0, 7}},
			{Name: "fc1.bias", Shape: []int{3}, Data: []float64{b0, 0.1, 0.2}},
		}
	}
	return []model.WeightSample{
		{Epoch: 15, Params: layer(0.25, 1)},
		{Epoch: 17, Params: layer(-3.75, 2)},
	}
}
