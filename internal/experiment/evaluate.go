// SPDX-License-Identifier: MPL-2.0

package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"
	"icu-benchmarks/internal/models"
	"icu-benchmarks/internal/train"
)

// EvaluateRun re-runs the test split for a finished seed dir, rewriting
// test_metrics.json. Transformer runs restore their model.bin checkpoint;
// the tabular models carry no checkpoint and are refit deterministically
// from the recorded seed, which reproduces the original fit.
func EvaluateRun(ctx context.Context, runDir, dataDir string, logger *log.Logger) (*train.Result, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	manifest, err := ReadManifest(runDir)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("read run manifest").
			WithResource(runDir).
			WithSuggestion("point at a seed_N directory produced by 'icubench train'").
			Wrap(err).
			BuildError()
	}

	gin, err := ginconfig.Load(filepath.Join(runDir, "train_config.gin"))
	if err != nil {
		return nil, err
	}

	runner, err := NewRunner(Options{
		Gin:     gin,
		Task:    manifest.Task,
		DataDir: dataDir,
		Seeds:   []int64{manifest.Seed},
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if err := runner.loadData(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info("evaluating", "run", runDir, "model", manifest.Model, "seed", manifest.Seed)

	switch runner.modelRef {
	case "Transformer":
		model, err := models.LoadTransformer(filepath.Join(runDir, "model.bin"))
		if err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load checkpoint").
				WithResource(filepath.Join(runDir, "model.bin")).
				WithSuggestion("re-run training for this seed, the checkpoint is missing or corrupt").
				Wrap(err).
				BuildError()
		}
		trainer := &train.DLTrainer{
			Model:  model,
			Config: train.DLConfig{ClassWeights: runner.classWeights(), Seed: manifest.Seed},
			Logger: logger,
		}
		return trainer.Test(runner.testDS, runDir)

	case "GBT", "LogisticRegression":
		// Refit is cheap and, given the fixed seed and split, identical to
		// the recorded run.
		var model train.TabularModel
		if runner.modelRef == "GBT" {
			model = runner.newGBT(manifest.Seed)
		} else {
			model = train.LogRegModel{LogisticRegression: runner.newLogReg(manifest.Seed)}
		}
		x, y := runner.trainDS.TabularXY()
		xv, yv := runner.valDS.TabularXY()
		if err := model.Fit(x, y, xv, yv); err != nil {
			return nil, err
		}
		trainer := &train.MLTrainer{Model: model, Logger: logger}
		return trainer.Test(runner.testDS, runDir)

	default:
		return nil, fmt.Errorf("%w: @%s", ErrUnknownModel, runner.modelRef)
	}
}
