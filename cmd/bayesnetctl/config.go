package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bayesnet/pkg/bayesnet"
)

func loadTrainRequestFromConfig(path string) (bayesnet.TrainRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return bayesnet.TrainRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return bayesnet.TrainRequest{}, err
	}

	var req bayesnet.TrainRequest
	if v, ok := asString(raw["method"]); ok {
		req.Method = v
	}
	if v, ok := asString(raw["dataset"]); ok {
		req.Dataset = v
	}
	if v, ok := asString(raw["label_column"]); ok {
		req.LabelColumn = v
	}
	if v, ok := asInt(raw["classes"]); ok {
		req.Classes = v
	}
	if v, ok := asInt(raw["features"]); ok {
		req.Features = v
	}
	if v, ok := asInt(raw["per_class"]); ok {
		req.PerClass = v
	}
	if v, ok := asFloat64(raw["dev_fraction"]); ok {
		req.DevFraction = v
	}
	if v, ok := asIntSlice(raw["hidden"]); ok {
		req.Hidden = v
	}
	if v, ok := asString(raw["activation"]); ok {
		req.Activation = v
	}
	if v, ok := asFloat64(raw["drop_rate"]); ok {
		req.DropRate = v
	}
	if v, ok := asInt(raw["epochs"]); ok {
		req.Epochs = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}
	if v, ok := asFloat64(raw["lr"]); ok {
		req.LR = v
	}
	if v, ok := asFloat64(raw["momentum"]); ok {
		req.Momentum = v
	}
	if v, ok := asFloat64(raw["gamma"]); ok {
		req.Gamma = v
	}
	if v, ok := asInt(raw["samples"]); ok {
		req.Samples = v
	}
	if v, ok := asInt(raw["dev_samples"]); ok {
		req.DevSamples = v
	}
	if v, ok := asString(raw["space"]); ok {
		req.Space = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt(raw["calibration_bins"]); ok {
		req.CalibrationBins = v
	}

	// Langevin settings may sit at the top level or under a "sgld" object.
	sgld, _ := raw["sgld"].(map[string]any)
	if sgld == nil {
		sgld = raw
	}
	if v, ok := asFloat64(sgld["prior_sigma"]); ok {
		req.PriorSigma = v
	}
	if v, ok := asBool(sgld["precondition"]); ok {
		req.DisablePrecondition = !v
	}
	if v, ok := asInt(sgld["warm_up"]); ok {
		req.WarmUp = &v
	}
	if v, ok := asInt(sgld["interval"]); ok {
		req.Interval = &v
	}
	if v, ok := asInt(sgld["capacity"]); ok {
		req.Capacity = &v
	}
	return req, nil
}

func loadOrDefaultTrainRequest(configPath string) (bayesnet.TrainRequest, error) {
	if configPath == "" {
		return bayesnet.TrainRequest{}, nil
	}
	req, err := loadTrainRequestFromConfig(configPath)
	if err != nil {
		return bayesnet.TrainRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// asIntSlice accepts a JSON array of numbers or a comma-separated string.
func asIntSlice(v any) ([]int, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]int, 0, len(x))
		for _, item := range x {
			n, ok := asInt(item)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	case string:
		out, err := parseHidden(x)
		return out, err == nil
	default:
		return nil, false
	}
}

func parseHidden(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid hidden layer width %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func overrideFromFlags(req *bayesnet.TrainRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "method":
			req.Method = v.(string)
		case "dataset":
			req.Dataset = v.(string)
		case "label-column":
			req.LabelColumn = v.(string)
		case "classes":
			req.Classes = v.(int)
		case "features":
			req.Features = v.(int)
		case "per-class":
			req.PerClass = v.(int)
		case "dev-fraction":
			req.DevFraction = v.(float64)
		case "hidden":
			hidden, err := parseHidden(v.(string))
			if err != nil {
				return err
			}
			req.Hidden = hidden
		case "activation":
			req.Activation = v.(string)
		case "drop-rate":
			req.DropRate = v.(float64)
		case "epochs":
			req.Epochs = v.(int)
		case "batch-size":
			req.BatchSize = v.(int)
		case "lr":
			req.LR = v.(float64)
		case "momentum":
			req.Momentum = v.(float64)
		case "gamma":
			req.Gamma = v.(float64)
		case "prior-sigma":
			req.PriorSigma = v.(float64)
		case "no-precondition":
			req.DisablePrecondition = v.(bool)
		case "warm-up":
			req.WarmUp = intPtr(v.(int))
		case "interval":
			req.Interval = intPtr(v.(int))
		case "capacity":
			req.Capacity = intPtr(v.(int))
		case "samples":
			req.Samples = v.(int)
		case "dev-samples":
			req.DevSamples = v.(int)
		case "space":
			req.Space = v.(string)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "bins":
			req.CalibrationBins = v.(int)
		}
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}
