package stats

import (
	"os"
	"path/filepath"
	"testing"

	"bayesnet/internal/model"
)

func testHistory() []model.EpochMetrics {
	return []model.EpochMetrics{
		{Epoch: 0, TrainCost: 12.5, TrainErr: 0.4, LR: 0.001},
		{Epoch: 1, TrainCost: 9.25, TrainErr: 0.3, DevCost: 4.5, DevErr: 0.25, Evaluated: true, LR: 0.00099},
		{Epoch: 2, TrainCost: 7, TrainErr: 0.2, DevCost: 3.75, DevErr: 0.125, Evaluated: true, Harvested: true, LR: 0.00098},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	artifacts := RunArtifacts{
		Config: RunConfig{
			RunID:     runID,
			Method:    "sgld",
			Dataset:   "blobs",
			InputDim:  2,
			Hidden:    []int{8},
			Classes:   3,
			Epochs:    3,
			BatchSize: 16,
			LR:        0.001,
			Samples:   10,
			Space:     "probability",
			Seed:      1,
		},
		History:    testHistory(),
		BestEpoch:  2,
		BestDevErr: 0.125,
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range []string{"config.json", "history.json", "history.csv"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "calibration.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no calibration report without one, err=%v", err)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range []string{"config.json", "history.json", "history.csv"} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	if err := WriteCalibration(runDir, CalibrationReport{Examples: 4, ECE: 0.1}); err != nil {
		t.Fatalf("write calibration: %v", err)
	}
	exportedDirWithCalibration, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts with calibration: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDirWithCalibration, "calibration.json")); err != nil {
		t.Fatalf("expected exported calibration report: %v", err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestRunConfigRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing config; ok=%t err=%v", ok, err)
	}

	want := RunConfig{Method: "dropout", Hidden: []int{16, 8}, DropRate: 0.5, Seed: 7}
	if err := WriteRunConfig(baseDir, "run-7", want); err != nil {
		t.Fatalf("write config: %v", err)
	}
	got, ok, err := ReadRunConfig(baseDir, "run-7")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if got.RunID != "run-7" || got.Method != "dropout" || len(got.Hidden) != 2 || got.DropRate != 0.5 {
		t.Fatalf("unexpected config: %+v", got)
	}

	if err := WriteRunConfig(baseDir, "run-7", RunConfig{RunID: "other"}); err == nil {
		t.Fatal("expected run id mismatch error")
	}
}

func TestHistorySeriesRoundTrip(t *testing.T) {
	baseDir := t.TempDir()
	runDir := filepath.Join(baseDir, "run-h")
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}
	want := testHistory()
	if err := WriteHistorySeries(runDir, want); err != nil {
		t.Fatalf("write history: %v", err)
	}

	got, ok, err := ReadHistorySeries(baseDir, "run-h")
	if err != nil || !ok {
		t.Fatalf("read history: ok=%t err=%v", ok, err)
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected history length: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.Epoch != w.Epoch || g.TrainCost != w.TrainCost || g.TrainErr != w.TrainErr ||
			g.Evaluated != w.Evaluated || g.DevCost != w.DevCost || g.DevErr != w.DevErr || g.LR != w.LR {
			t.Fatalf("history row %d mismatch: got=%+v want=%+v", i, g, w)
		}
	}

	if _, ok, err := ReadHistorySeries(baseDir, "missing"); err != nil || ok {
		t.Fatalf("expected missing history; ok=%t err=%v", ok, err)
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Method:       "dropout",
		Epochs:       3,
		Seed:         1,
		BestDevErr:   0.20,
		CreatedAtUTC: "2026-02-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-2",
		Method:       "sgld",
		Epochs:       3,
		Seed:         2,
		BestDevErr:   0.18,
		CreatedAtUTC: "2026-02-10T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:        "run-1",
		Method:       "dropout",
		Epochs:       3,
		Seed:         1,
		BestDevErr:   0.10,
		CreatedAtUTC: "2026-02-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].BestDevErr != 0.10 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-02-10T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestReadCalibration(t *testing.T) {
	baseDir := t.TempDir()
	runID := "run-calibration"
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		t.Fatalf("mkdir run dir: %v", err)
	}

	if _, ok, err := ReadCalibration(baseDir, runID); err != nil || ok {
		t.Fatalf("expected missing calibration report; ok=%t err=%v", ok, err)
	}

	want := CalibrationReport{Samples: 5, Examples: 10, Accuracy: 0.9, ECE: 0.05}
	if err := WriteCalibration(runDir, want); err != nil {
		t.Fatalf("write calibration report: %v", err)
	}

	got, ok, err := ReadCalibration(baseDir, runID)
	if err != nil {
		t.Fatalf("read calibration report: %v", err)
	}
	if !ok {
		t.Fatal("expected calibration report to exist")
	}
	if got.ECE != want.ECE || got.Samples != want.Samples {
		t.Fatalf("unexpected calibration report: got=%+v want=%+v", got, want)
	}
}
