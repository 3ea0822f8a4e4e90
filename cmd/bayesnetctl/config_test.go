package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"bayesnet/pkg/bayesnet"
)

func writeConfig(t *testing.T, payload map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train_config.json")
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadTrainRequestFromConfig(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"method":           "sgld",
		"dataset":          "points.csv",
		"label_column":     "y",
		"hidden":           []any{32, 16},
		"epochs":           12,
		"batch_size":       64,
		"lr":               0.002,
		"gamma":            0.9,
		"samples":          15,
		"space":            "logits",
		"seed":             77,
		"calibration_bins": 5,
		"sgld": map[string]any{
			"prior_sigma":  0.3,
			"precondition": false,
			"warm_up":      4,
			"interval":     3,
			"capacity":     25,
		},
	})

	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load train request: %v", err)
	}
	if req.Method != "sgld" || req.Dataset != "points.csv" || req.LabelColumn != "y" {
		t.Fatalf("unexpected data fields: %+v", req)
	}
	if !reflect.DeepEqual(req.Hidden, []int{32, 16}) {
		t.Fatalf("unexpected hidden widths: got=%v want=%v", req.Hidden, []int{32, 16})
	}
	if req.Epochs != 12 || req.BatchSize != 64 || req.LR != 0.002 || req.Gamma != 0.9 {
		t.Fatalf("unexpected optimizer fields: %+v", req)
	}
	if req.Samples != 15 || req.Space != "logits" || req.Seed != 77 || req.CalibrationBins != 5 {
		t.Fatalf("unexpected prediction fields: %+v", req)
	}
	if req.PriorSigma != 0.3 || !req.DisablePrecondition {
		t.Fatalf("unexpected langevin fields: %+v", req)
	}
	if req.WarmUp == nil || *req.WarmUp != 4 || req.Interval == nil || *req.Interval != 3 || req.Capacity == nil || *req.Capacity != 25 {
		t.Fatalf("unexpected harvest fields: %+v", req)
	}
}

func TestLoadTrainRequestFromConfigAcceptsFlatLangevinKeysAndHiddenString(t *testing.T) {
	path := writeConfig(t, map[string]any{
		"method":   "sgld",
		"hidden":   "8, 4",
		"capacity": 3,
	})
	req, err := loadTrainRequestFromConfig(path)
	if err != nil {
		t.Fatalf("load train request: %v", err)
	}
	if !reflect.DeepEqual(req.Hidden, []int{8, 4}) || req.Capacity == nil || *req.Capacity != 3 || req.DisablePrecondition {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.WarmUp != nil || req.Interval != nil {
		t.Fatalf("missing harvest keys must stay unset: %+v", req)
	}
}

func TestLoadOrDefaultTrainRequest(t *testing.T) {
	req, err := loadOrDefaultTrainRequest("")
	if err != nil {
		t.Fatalf("empty path: %v", err)
	}
	if !reflect.DeepEqual(req, bayesnet.TrainRequest{}) {
		t.Fatalf("expected zero request, got %+v", req)
	}
	if _, err := loadOrDefaultTrainRequest(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestOverrideFromFlagsOnlyAppliesSetFlags(t *testing.T) {
	req := bayesnet.TrainRequest{Method: "sgld", Epochs: 12, Seed: 77, Hidden: []int{32}}
	set := map[string]bool{"epochs": true, "hidden": true, "no-precondition": true}
	values := map[string]any{
		"method":          "dropout",
		"epochs":          3,
		"seed":            int64(1),
		"hidden":          "5,6",
		"no-precondition": true,
	}
	if err := overrideFromFlags(&req, set, values); err != nil {
		t.Fatalf("override: %v", err)
	}
	if req.Method != "sgld" || req.Seed != 77 {
		t.Fatalf("unset flags must not override config: %+v", req)
	}
	if req.Epochs != 3 || !reflect.DeepEqual(req.Hidden, []int{5, 6}) || !req.DisablePrecondition {
		t.Fatalf("set flags must override config: %+v", req)
	}

	if err := overrideFromFlags(&req, map[string]bool{"capacity": true}, map[string]any{"capacity": 0}); err != nil {
		t.Fatalf("override capacity: %v", err)
	}
	if req.Capacity == nil || *req.Capacity != 0 {
		t.Fatalf("explicit zero capacity must be kept: %+v", req.Capacity)
	}

	if err := overrideFromFlags(&req, map[string]bool{"hidden": true}, map[string]any{"hidden": "5,x"}); err == nil {
		t.Fatal("expected invalid hidden width error")
	}
}

func TestParseHidden(t *testing.T) {
	cases := []struct {
		in   string
		want []int
	}{
		{in: "", want: nil},
		{in: "50", want: []int{50}},
		{in: " 16 , 8 ", want: []int{16, 8}},
	}
	for _, tc := range cases {
		got, err := parseHidden(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("parse %q got=%v want=%v", tc.in, got, tc.want)
		}
	}
	if _, err := parseHidden("4,,2"); err == nil {
		t.Fatal("expected error for empty width")
	}
}
