package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bayesnet/internal/model"
	"bayesnet/internal/stats"
)

func trainArgs(runsDir string, seed string) []string {
	return []string{
		"train",
		"--store", "memory",
		"--runs-dir", runsDir,
		"--features", "2",
		"--per-class", "15",
		"--hidden", "6",
		"--epochs", "3",
		"--batch-size", "16",
		"--lr", "0.005",
		"--samples", "4",
		"--seed", seed,
	}
}

func TestTrainCommandWritesArtifactsAndSummary(t *testing.T) {
	runsDir := filepath.Join(t.TempDir(), "runs")
	output, err := captureStdout(func() error {
		return run(context.Background(), trainArgs(runsDir, "11"))
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one indexed run, got %d", len(entries))
	}
	runID := entries[0].RunID
	for _, want := range []string{
		"run completed run_id=" + runID,
		"method=dropout",
		"parameters=39",
		"epoch=2 ",
		"calibration samples=4",
		"artifacts_dir=",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("train output missing %q: %s", want, output)
		}
	}
	for _, file := range []string{"config.json", "history.json", "history.csv", "checkpoint.json"} {
		if _, err := os.Stat(filepath.Join(runsDir, runID, file)); err != nil {
			t.Fatalf("expected artifact %s: %v", file, err)
		}
	}
}

func TestTrainCommandConfigAllowsFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	runsDir := filepath.Join(dir, "runs")
	configPath := filepath.Join(dir, "train_config.json")
	data, err := json.Marshal(map[string]any{
		"method":     "sgld",
		"features":   2,
		"per_class":  15,
		"hidden":     []any{6},
		"epochs":     5,
		"batch_size": 16,
		"lr":         0.0001,
		"seed":       5,
		"sgld": map[string]any{
			"prior_sigma":  1.0,
			"precondition": false,
			"warm_up":      1,
			"interval":     1,
			"capacity":     2,
		},
	})
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"train",
			"--store", "memory",
			"--runs-dir", runsDir,
			"--config", configPath,
			"--epochs", "3",
		})
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}
	if !strings.Contains(output, "method=sgld epochs=3") {
		t.Fatalf("expected config method with overridden epochs: %s", output)
	}
	if !strings.Contains(output, "retained_samples=2") || !strings.Contains(output, "harvested=true") {
		t.Fatalf("expected langevin sample output: %s", output)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list run index: entries=%d err=%v", len(entries), err)
	}
	cfg, ok, err := stats.ReadRunConfig(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.Epochs != 3 || cfg.Seed != 5 || cfg.Capacity != 2 || cfg.Precondition {
		t.Fatalf("unexpected persisted config: %+v", cfg)
	}
}

func TestTrainCommandZeroCapacityDisablesHarvesting(t *testing.T) {
	runsDir := filepath.Join(t.TempDir(), "runs")
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"train",
			"--store", "memory",
			"--runs-dir", runsDir,
			"--method", "sgld",
			"--features", "2",
			"--per-class", "10",
			"--hidden", "4",
			"--epochs", "4",
			"--batch-size", "16",
			"--lr", "0.0001",
			"--warm-up", "0",
			"--interval", "1",
			"--capacity", "0",
		})
	})
	if err != nil {
		t.Fatalf("train command: %v", err)
	}
	if strings.Contains(output, "harvested=true") || strings.Contains(output, "retained_samples=") {
		t.Fatalf("expected no harvested samples: %s", output)
	}

	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("list run index: entries=%d err=%v", len(entries), err)
	}
	cfg, ok, err := stats.ReadRunConfig(runsDir, entries[0].RunID)
	if err != nil || !ok {
		t.Fatalf("read run config: ok=%t err=%v", ok, err)
	}
	if cfg.Capacity != 0 || cfg.WarmUp != 0 || entries[0].Samples != 0 {
		t.Fatalf("unexpected persisted harvest config: %+v samples=%d", cfg, entries[0].Samples)
	}
}

func TestEvalRunsHistoryAndExportCommands(t *testing.T) {
	dir := t.TempDir()
	runsDir := filepath.Join(dir, "runs")
	if _, err := captureStdout(func() error {
		return run(context.Background(), trainArgs(runsDir, "3"))
	}); err != nil {
		t.Fatalf("train command: %v", err)
	}
	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("list run index: entries=%d err=%v", len(entries), err)
	}
	runID := entries[0].RunID

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"eval",
			"--store", "memory",
			"--runs-dir", runsDir,
			"--latest",
			"--space", "logits",
			"--bins", "4",
			"--show-bins",
		})
	})
	if err != nil {
		t.Fatalf("eval command: %v", err)
	}
	if !strings.Contains(output, "eval run_id="+runID) || !strings.Contains(output, "space=logits") {
		t.Fatalf("unexpected eval output: %s", output)
	}
	if got := strings.Count(output, "bin lower="); got != 4 {
		t.Fatalf("unexpected reliability bin lines: got=%d want=4", got)
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{"runs", "--store", "memory", "--runs-dir", runsDir, "--limit", "1"})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(output, "run_id="+runID) {
		t.Fatalf("runs output missing run id %s: %s", runID, output)
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{"history", "--store", "memory", "--runs-dir", runsDir, "--run-id", runID, "--json"})
	})
	if err != nil {
		t.Fatalf("history command: %v", err)
	}
	var history []model.EpochMetrics
	if err := json.Unmarshal([]byte(output), &history); err != nil {
		t.Fatalf("decode history output: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("unexpected history length: got=%d want=3", len(history))
	}

	exportDir := filepath.Join(dir, "exports")
	output, err = captureStdout(func() error {
		return run(context.Background(), []string{"export", "--store", "memory", "--runs-dir", runsDir, "--latest", "--out", exportDir})
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(output, "exported run_id="+runID) {
		t.Fatalf("unexpected export output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(exportDir, runID, "config.json")); err != nil {
		t.Fatalf("expected exported config: %v", err)
	}
}

func TestCompareCommandAveragesRuns(t *testing.T) {
	runsDir := filepath.Join(t.TempDir(), "runs")
	for _, seed := range []string{"1", "2"} {
		if _, err := captureStdout(func() error {
			return run(context.Background(), trainArgs(runsDir, seed))
		}); err != nil {
			t.Fatalf("train seed %s: %v", seed, err)
		}
	}
	entries, err := stats.ListRunIndex(runsDir)
	if err != nil || len(entries) != 2 {
		t.Fatalf("list run index: entries=%d err=%v", len(entries), err)
	}

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"compare",
			"--runs-dir", runsDir,
			"--run-ids", entries[0].RunID + "," + entries[1].RunID,
			"--metric", "train_cost",
		})
	})
	if err != nil {
		t.Fatalf("compare command: %v", err)
	}
	if !strings.Contains(output, "compare metric=train_cost runs=2") {
		t.Fatalf("unexpected compare header: %s", output)
	}
	if got := strings.Count(output, "runs=2\n"); got != 4 {
		t.Fatalf("expected header plus three averaged epochs, got %d lines: %s", got, output)
	}
}

func TestRunsCommandWithoutRuns(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"runs", "--store", "memory", "--runs-dir", filepath.Join(t.TempDir(), "runs")})
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if strings.TrimSpace(output) != "no runs found" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func TestCommandValidation(t *testing.T) {
	runsDir := filepath.Join(t.TempDir(), "runs")
	cases := []struct {
		name string
		args []string
	}{
		{name: "missing-command", args: nil},
		{name: "unknown-command", args: []string{"bogus"}},
		{name: "eval-no-target", args: []string{"eval", "--store", "memory", "--runs-dir", runsDir}},
		{name: "eval-both-targets", args: []string{"eval", "--store", "memory", "--runs-dir", runsDir, "--run-id", "x", "--latest"}},
		{name: "export-no-target", args: []string{"export", "--store", "memory", "--runs-dir", runsDir}},
		{name: "history-no-target", args: []string{"history", "--store", "memory", "--runs-dir", runsDir}},
		{name: "compare-no-ids", args: []string{"compare", "--runs-dir", runsDir}},
		{name: "runs-bad-limit", args: []string{"runs", "--store", "memory", "--runs-dir", runsDir, "--limit", "0"}},
		{name: "train-bad-hidden", args: []string{"train", "--store", "memory", "--runs-dir", runsDir, "--hidden", "4,a"}},
		{name: "train-bad-method", args: []string{"train", "--store", "memory", "--runs-dir", runsDir, "--method", "bogus"}},
	}
	for _, tc := range cases {
		if _, err := captureStdout(func() error {
			return run(context.Background(), tc.args)
		}); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestInitCommand(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"init", "--store", "memory"})
	})
	if err != nil {
		t.Fatalf("init command: %v", err)
	}
	if strings.TrimSpace(output) != "initialized store=memory" {
		t.Fatalf("unexpected output: %q", output)
	}
}

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}
