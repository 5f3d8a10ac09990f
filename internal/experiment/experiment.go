// SPDX-License-Identifier: MPL-2.0

// Package experiment orchestrates benchmark runs: it resolves the task and
// model from a gin config, loads and preprocesses the dataset once, then
// fans one training out per seed into its own log directory.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"icu-benchmarks/internal/data"
	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"
	"icu-benchmarks/internal/models"
	"icu-benchmarks/internal/recipes"
	"icu-benchmarks/internal/train"
)

// ErrDirNotEmpty is returned when a seed dir already holds results and the
// run was not started with overwrite.
var ErrDirNotEmpty = errors.New("log directory not empty")

// ErrUnknownModel is returned for a train.model reference with no backend.
var ErrUnknownModel = errors.New("unknown model")

// Options configures a Runner.
type Options struct {
	Gin        *ginconfig.Config
	ConfigPath string
	Task       string // overrides the config's data.task when set
	DataDir    string
	LogDir     string
	Seeds      []int64
	Overwrite  bool
	Workers    int // parallel seeds, 0 means one per CPU
	Scalars    bool
	FlushEvery int
	Overrides  []string // applied gin override lines, recorded in the manifest
	Version    string
	Logger     *log.Logger
}

// Runner executes one experiment (task + model + config) across seeds.
type Runner struct {
	opts     Options
	task     data.Task
	modelRef ginconfig.Reference

	trainDS, valDS, testDS *data.Dataset
	recipe                 *recipes.Recipe
}

// NewRunner resolves the task and model from the options and config.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Gin == nil {
		return nil, errors.New("experiment: no gin config")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr)
	}
	if opts.Workers == 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if len(opts.Seeds) == 0 {
		opts.Seeds = []int64{1111}
	}

	taskName := opts.Task
	if taskName == "" {
		taskName = opts.Gin.String("data.task", "")
	}
	task, err := data.LookupTask(taskName)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("resolve task").
			WithResource(taskName).
			WithSuggestion("pass -t with one of the registered tasks").
			WithSuggestion(fmt.Sprintf("known tasks: %v", data.TaskNames())).
			Wrap(err).
			BuildError()
	}

	ref, err := opts.Gin.RequireRef("train.model")
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("resolve model").
			WithResource(opts.ConfigPath).
			WithSuggestion("add a 'train.model = @Transformer' binding to the gin config").
			Wrap(err).
			BuildError()
	}

	return &Runner{opts: opts, task: task, modelRef: ref}, nil
}

// Task returns the resolved benchmark task.
func (r *Runner) Task() data.Task { return r.task }

// ModelName returns the resolved model reference.
func (r *Runner) ModelName() string { return string(r.modelRef) }

// Workers returns the resolved seed-training parallelism.
func (r *Runner) Workers() int { return r.opts.Workers }

// SeedDir returns the log directory for one seed.
func (r *Runner) SeedDir(seed int64) string {
	return filepath.Join(r.opts.LogDir, r.task.Name, string(r.modelRef), fmt.Sprintf("seed_%d", seed))
}

// loadData reads the task's CSV, splits it by stay, and applies the
// preprocessing recipe. The split seed is fixed by the config so every
// training seed sees identical partitions.
func (r *Runner) loadData() error {
	gin := r.opts.Gin
	source := gin.String("data.source", "ricu")
	path := filepath.Join(r.opts.DataDir, source, r.task.File)

	ds, err := data.LoadCSV(path, r.task)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load dataset").
			WithResource(path).
			WithSuggestion("check the --data-dir path").
			WithSuggestion("generate a demo dataset with 'icubench data synth'").
			Wrap(err).
			BuildError()
	}

	splitSeed := int64(gin.Int("data.split_seed", 42))
	trainFrac := gin.Float("data.train_frac", 0.7)
	valFrac := gin.Float("data.val_frac", 0.15)
	r.trainDS, r.valDS, r.testDS, err = ds.Split(splitSeed, trainFrac, valFrac)
	if err != nil {
		return err
	}

	steps, err := gin.Strings("preprocess.steps")
	if err != nil || len(steps) == 0 {
		steps = []string{"ffill", "impute_zero", "scale"}
	}
	recipe, err := recipes.FromNames(steps, gin.Int("preprocess.ffill_limit", 0))
	if err != nil {
		return err
	}
	r.recipe = recipe

	if err := recipe.Prep(r.trainDS); err != nil {
		return err
	}
	if err := recipe.Bake(r.valDS); err != nil {
		return err
	}
	if err := recipe.Bake(r.testDS); err != nil {
		return err
	}

	r.opts.Logger.Info("dataset ready",
		"task", r.task.Name,
		"stays", r.trainDS.NumStays()+r.valDS.NumStays()+r.testDS.NumStays(),
		"features", r.trainDS.NumFeatures(),
		"recipe", recipe.String())
	return nil
}

// Execute runs one training per seed with bounded parallelism. The first
// seed failure cancels the rest.
func (r *Runner) Execute(ctx context.Context) error {
	if err := r.loadData(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, seed := range r.opts.Seeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.runSeed(seed); err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// prepareRunDir creates the seed dir. A non-empty dir is refused unless
// overwrite, in which case it is cleared.
func (r *Runner) prepareRunDir(dir string) error {
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return err
	case len(entries) > 0 && !r.opts.Overwrite:
		return issue.NewErrorContext().
			WithOperation("prepare log directory").
			WithResource(dir).
			WithSuggestion("pass -o to overwrite previous results").
			WithSuggestion("or choose a fresh -l log directory").
			Wrap(ErrDirNotEmpty).
			BuildError()
	case len(entries) > 0:
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
	}
	return os.MkdirAll(dir, 0o755)
}

func (r *Runner) runSeed(seed int64) error {
	dir := r.SeedDir(seed)
	if err := r.prepareRunDir(dir); err != nil {
		return err
	}

	logger := r.opts.Logger.With("seed", seed)

	snapshot := filepath.Join(dir, "train_config.gin")
	if err := os.WriteFile(snapshot, []byte(r.opts.Gin.Operative()), 0o644); err != nil {
		return err
	}

	manifest := &Manifest{
		Task:      r.task.Name,
		Model:     string(r.modelRef),
		Config:    r.opts.ConfigPath,
		Seed:      seed,
		Overrides: r.opts.Overrides,
		Version:   r.opts.Version,
		Started:   time.Now().UTC(),
	}
	if err := manifest.Write(dir); err != nil {
		return err
	}

	logger.Info("training", "task", r.task.Name, "model", r.modelRef)
	res, err := r.trainSeed(seed, dir, logger)
	if err != nil {
		return err
	}

	manifest.Finished = time.Now().UTC()
	if err := manifest.Write(dir); err != nil {
		return err
	}

	logger.Info("seed done", "val_loss", res.Loss)
	return nil
}

// trainSeed builds the configured model and runs fit + test for one seed.
func (r *Runner) trainSeed(seed int64, dir string, logger *log.Logger) (*train.Result, error) {
	switch r.modelRef {
	case "Transformer":
		return r.trainTransformer(seed, dir, logger)
	case "GBT":
		return r.trainTabular(seed, dir, logger, r.newGBT(seed))
	case "LogisticRegression":
		return r.trainTabular(seed, dir, logger, train.LogRegModel{LogisticRegression: r.newLogReg(seed)})
	default:
		return nil, fmt.Errorf("%w: @%s", ErrUnknownModel, r.modelRef)
	}
}

func (r *Runner) classWeights() []float64 {
	if r.task.Kind == data.Regression {
		return nil
	}
	if !r.opts.Gin.Bool("train.weight_balance", false) {
		return nil
	}
	return r.trainDS.Balance()
}

func (r *Runner) trainTransformer(seed int64, dir string, logger *log.Logger) (*train.Result, error) {
	gin := r.opts.Gin

	classes := r.task.Classes
	if r.task.Kind == data.Regression {
		classes = 1
	}
	model, err := models.NewTransformer(models.TransformerConfig{
		Features: r.trainDS.NumFeatures(),
		Hidden:   gin.Int("Transformer.hidden", 64),
		Heads:    gin.Int("Transformer.heads", 2),
		Depth:    gin.Int("Transformer.depth", 1),
		Dropout:  gin.Float("Transformer.dropout", 0),
		Classes:  classes,
		Seed:     seed,
	})
	if err != nil {
		return nil, err
	}

	var trainLog, valLog train.ScalarLogger = train.NopScalars{}, train.NopScalars{}
	if r.opts.Scalars {
		tw, err := NewScalarWriter(filepath.Join(dir, "tensorboard", "train"), r.opts.FlushEvery)
		if err != nil {
			return nil, err
		}
		defer tw.Close()
		vw, err := NewScalarWriter(filepath.Join(dir, "tensorboard", "val"), r.opts.FlushEvery)
		if err != nil {
			return nil, err
		}
		defer vw.Close()
		trainLog, valLog = tw, vw
	}

	trainer := &train.DLTrainer{
		Model: model,
		Config: train.DLConfig{
			Epochs:       gin.Int("train.epochs", 100),
			BatchSize:    gin.Int("train.batch_size", 32),
			LearningRate: gin.Float("train.learning_rate", 1e-3),
			Patience:     gin.Int("train.patience", 10),
			MinDelta:     gin.Float("train.min_delta", 1e-4),
			ClipNorm:     gin.Float("train.clip_norm", 1),
			Seed:         seed,
			ClassWeights: r.classWeights(),
		},
		Logger: logger,
	}
	res, err := trainer.Fit(r.trainDS, r.valDS, dir, trainLog, valLog)
	if err != nil {
		return nil, err
	}
	if _, err := trainer.Test(r.testDS, dir); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Runner) newGBT(seed int64) *models.GBT {
	gin := r.opts.Gin
	objective := models.ObjectiveLogistic
	if r.task.Kind == data.Regression {
		objective = models.ObjectiveSquared
	}
	return models.NewGBT(models.GBTConfig{
		Trees:         gin.Int("GBT.trees", 200),
		Depth:         gin.Int("GBT.depth", 3),
		LearningRate:  gin.Float("GBT.learning_rate", 0.1),
		SubsampleData: gin.Float("GBT.subsample_data", 1),
		SubsampleFeat: gin.Float("GBT.subsample_feat", 1),
		MinLeaf:       gin.Int("GBT.min_leaf", 5),
		Patience:      gin.Int("GBT.patience", 10),
		Objective:     objective,
		Seed:          seed,
	})
}

func (r *Runner) newLogReg(seed int64) *models.LogisticRegression {
	gin := r.opts.Gin
	return models.NewLogisticRegression(models.LogisticRegressionConfig{
		Classes:      r.task.Classes,
		LearningRate: gin.Float("LogisticRegression.learning_rate", 0.1),
		Epochs:       gin.Int("LogisticRegression.epochs", 200),
		BatchSize:    gin.Int("LogisticRegression.batch_size", 32),
		L2:           gin.Float("LogisticRegression.l2", 0),
		ClassWeights: r.classWeights(),
		Seed:         seed,
	})
}

func (r *Runner) trainTabular(seed int64, dir string, logger *log.Logger, model train.TabularModel) (*train.Result, error) {
	trainer := &train.MLTrainer{Model: model, Logger: logger}
	res, err := trainer.Fit(r.trainDS, r.valDS, dir)
	if err != nil {
		return nil, err
	}
	if _, err := trainer.Test(r.testDS, dir); err != nil {
		return nil, err
	}
	return res, nil
}
