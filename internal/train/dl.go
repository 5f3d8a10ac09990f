// SPDX-License-Identifier: MPL-2.0

package train

import (
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"icu-benchmarks/internal/data"
	"icu-benchmarks/internal/models"
)

// DLConfig drives the deep-learning training loop. Zero values are
// replaced with defaults when Fit runs.
type DLConfig struct {
	Epochs       int     // default 100
	BatchSize    int     // default 32
	LearningRate float64 // default 1e-3
	Patience     int     // epochs without improvement before stopping, default 10
	MinDelta     float64 // minimum val-loss improvement, default 1e-4
	ClipNorm     float64 // gradient clipping threshold, default 1
	Seed         int64
	ClassWeights []float64
	Invert       func(float64) float64 // regression unscaling, may be nil
}

// DLTrainer trains the transformer with per-epoch validation, early
// stopping, and best-checkpoint restore. The best weights are kept in
// model.bin under the run dir; metric sets land next to it.
type DLTrainer struct {
	Model  *models.Transformer
	Config DLConfig
	Logger *log.Logger
}

func (c *DLConfig) applyDefaults() {
	if c.Epochs == 0 {
		c.Epochs = 100
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-3
	}
	if c.Patience == 0 {
		c.Patience = 10
	}
	if c.MinDelta == 0 {
		c.MinDelta = 1e-4
	}
	if c.ClipNorm == 0 {
		c.ClipNorm = 1
	}
}

// Fit runs the epoch loop on trainDS, validating against valDS each epoch.
// It writes model.bin and best_metrics.json into runDir and appends this
// run's metric set to the shared val_metrics.json one level up.
func (t *DLTrainer) Fit(trainDS, valDS *data.Dataset, runDir string, trainLog, valLog ScalarLogger) (*Result, error) {
	if t.Model == nil {
		return nil, errors.New("trainer has no model")
	}
	if trainDS == nil || valDS == nil || trainDS.NumStays() == 0 || valDS.NumStays() == 0 {
		return nil, errors.New("train and validation sets must be non-empty")
	}
	cfg := t.Config
	cfg.applyDefaults()

	logger := t.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	if trainLog == nil {
		trainLog = NopScalars{}
	}
	if valLog == nil {
		valLog = NopScalars{}
	}

	ckpt := filepath.Join(runDir, "model.bin")
	rng := rand.New(rand.NewSource(cfg.Seed))

	bestVal := math.Inf(1)
	wait := 0
	saved := false

	n := trainDS.NumStays()
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := rng.Perm(n)

		var trainLoss float64
		for start := 0; start < n; start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > n {
				end = n
			}
			for _, idx := range perm[start:end] {
				loss, err := t.Model.Accumulate(trainDS.Stays[idx].Features, trainDS.Labels[idx], cfg.ClassWeights)
				if err != nil {
					return nil, err
				}
				trainLoss += loss
			}
			t.Model.Step(cfg.LearningRate, end-start, cfg.ClipNorm)
		}
		trainLoss /= float64(n)

		valLoss, err := t.meanLoss(valDS, cfg.ClassWeights)
		if err != nil {
			return nil, err
		}

		if err := trainLog.Log("loss", epoch, trainLoss); err != nil {
			return nil, err
		}
		if err := valLog.Log("loss", epoch, valLoss); err != nil {
			return nil, err
		}
		logger.Debug("epoch done", "epoch", epoch, "train_loss", trainLoss, "val_loss", valLoss)

		if valLoss < bestVal-cfg.MinDelta {
			bestVal = valLoss
			wait = 0
			if err := t.Model.Save(ckpt); err != nil {
				return nil, err
			}
			saved = true
			continue
		}
		wait++
		if wait >= cfg.Patience {
			logger.Info("early stopping", "epoch", epoch, "best_val_loss", bestVal)
			break
		}
	}

	if saved {
		if err := t.Model.LoadWeights(ckpt); err != nil {
			return nil, err
		}
	}

	res, err := t.evaluate(valDS)
	if err != nil {
		return nil, err
	}
	res.Loss = bestVal

	if err := WriteResult(filepath.Join(runDir, "best_metrics.json"), res); err != nil {
		return nil, err
	}
	if err := AppendSharedResult(runDir, "val_metrics.json", res); err != nil {
		return nil, err
	}
	return res, nil
}

// Test evaluates the current weights on testDS, writing test_metrics.json
// into runDir and appending to the shared test_metrics.json.
func (t *DLTrainer) Test(testDS *data.Dataset, runDir string) (*Result, error) {
	if testDS == nil || testDS.NumStays() == 0 {
		return nil, errors.New("empty test set")
	}
	loss, err := t.meanLoss(testDS, t.Config.ClassWeights)
	if err != nil {
		return nil, err
	}
	res, err := t.evaluate(testDS)
	if err != nil {
		return nil, err
	}
	res.Loss = loss

	if err := WriteResult(filepath.Join(runDir, "test_metrics.json"), res); err != nil {
		return nil, err
	}
	if err := AppendSharedResult(runDir, "test_metrics.json", res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *DLTrainer) meanLoss(ds *data.Dataset, weights []float64) (float64, error) {
	var total float64
	for i, stay := range ds.Stays {
		loss, err := t.Model.Loss(stay.Features, ds.Labels[i], weights)
		if err != nil {
			return 0, err
		}
		total += loss
	}
	return total / float64(ds.NumStays()), nil
}

func (t *DLTrainer) evaluate(ds *data.Dataset) (*Result, error) {
	probs := make([][]float64, ds.NumStays())
	for i, stay := range ds.Stays {
		p, err := t.Model.Predict(stay.Features)
		if err != nil {
			return nil, err
		}
		probs[i] = p
	}
	return Evaluate(ds.Task.Kind, ds.Labels, probs, t.Config.Invert)
}
