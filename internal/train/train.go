// SPDX-License-Identifier: MPL-2.0

// Package train holds the model training wrappers. DLTrainer drives the
// transformer through an epoch loop with early stopping and checkpointing;
// MLTrainer fits the tabular baselines against an eval set. Both evaluate
// with the task's metric set and persist results as JSON under the run dir.
package train

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"icu-benchmarks/internal/data"
	"icu-benchmarks/internal/metrics"
)

// ScalarLogger receives per-step training scalars. The experiment package
// provides a CSV-backed implementation; tests use a recording stub.
type ScalarLogger interface {
	Log(tag string, step int, value float64) error
}

// NopScalars discards scalars.
type NopScalars struct{}

func (NopScalars) Log(string, int, float64) error { return nil }

// Result is the metric set computed on one split.
type Result struct {
	Loss    float64
	Metrics map[string]float64
	Curves  map[string]metrics.Curve
}

// flat merges loss, scalar metrics, and curves into one JSON object the
// shape downstream report tooling reads. Degenerate splits (a single-class
// validation set) yield NaN scalars, which encoding/json refuses; those
// become null so the run still persists its remaining metrics.
func (r *Result) flat() map[string]any {
	out := map[string]any{"loss": finiteOrNil(r.Loss)}
	for name, v := range r.Metrics {
		out[name] = finiteOrNil(v)
	}
	for name, c := range r.Curves {
		out[name] = c
	}
	return out
}

func finiteOrNil(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Evaluate computes the metric set for a task kind. probs holds one row per
// sample: class probabilities for classification, the predicted value in
// element 0 for regression. invert maps a scaled regression prediction back
// to its original unit and may be nil.
func Evaluate(kind data.TaskKind, labels []float64, probs [][]float64, invert func(float64) float64) (*Result, error) {
	if len(labels) != len(probs) {
		return nil, metrics.ErrLengthMismatch
	}
	if len(labels) == 0 {
		return nil, errors.New("empty evaluation set")
	}

	res := &Result{
		Metrics: map[string]float64{},
		Curves:  map[string]metrics.Curve{},
	}

	switch kind {
	case data.BinaryClassification:
		scores := make([]float64, len(probs))
		for i, p := range probs {
			scores[i] = p[len(p)-1]
		}
		auc, err := metrics.ROCAUC(labels, scores)
		if err != nil {
			return nil, err
		}
		pr, err := metrics.AveragePrecision(labels, scores)
		if err != nil {
			return nil, err
		}
		res.Metrics["AUC"] = auc
		res.Metrics["PR"] = pr
		if roc, err := metrics.ROCCurve(labels, scores); err == nil {
			res.Curves["ROC_Curve"] = roc
		}
		if prc, err := metrics.PRCurve(labels, scores); err == nil {
			res.Curves["PR_Curve"] = prc
		}
		if cal, err := metrics.Calibration(labels, scores, 10); err == nil {
			res.Curves["Calibration_Curve"] = cal
		}

	case data.MulticlassClassification:
		preds := metrics.Argmax(probs)
		acc, err := metrics.Accuracy(labels, preds)
		if err != nil {
			return nil, err
		}
		bacc, err := metrics.BalancedAccuracy(labels, preds)
		if err != nil {
			return nil, err
		}
		res.Metrics["Accuracy"] = acc
		res.Metrics["BalancedAccuracy"] = bacc

	case data.Regression:
		preds := make([]float64, len(probs))
		for i, p := range probs {
			preds[i] = p[0]
		}
		mae, err := metrics.MAE(labels, preds, invert)
		if err != nil {
			return nil, err
		}
		res.Metrics["MAE"] = mae

	default:
		return nil, fmt.Errorf("unsupported task kind %v", kind)
	}

	return res, nil
}

// WriteResult writes the metric set as pretty-printed JSON.
func WriteResult(path string, res *Result) error {
	buf, err := json.MarshalIndent(res.flat(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(buf, '\n'), 0o644)
}

// sharedMu serializes the read-modify-write on shared metric files.
// Seeds of one experiment train concurrently and all merge into the same
// val_metrics.json/test_metrics.json.
var sharedMu sync.Mutex

// AppendSharedResult merges this run's metric set into the shared per-seed
// file one directory above the run dir. The file maps run dir base names
// (seed_0, seed_1, ...) to metric objects so repeated seeds of one
// experiment accumulate in a single place.
func AppendSharedResult(runDir, fileName string, res *Result) error {
	sharedMu.Lock()
	defer sharedMu.Unlock()

	path := filepath.Join(filepath.Dir(runDir), fileName)

	merged := map[string]any{}
	if buf, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(buf, &merged); err != nil {
			return fmt.Errorf("parse existing %s: %w", fileName, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	merged[filepath.Base(runDir)] = res.flat()

	buf, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(buf, '\n'), 0o644)
}
