// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"icu-benchmarks/internal/experiment"
	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"

	"github.com/spf13/cobra"
)

var (
	trainGinConfig string
	trainLogDir    string
	trainTask      string
	trainOverwrite bool
	trainDataDir   string
	trainWorkers   int
	trainSeeds     []int64

	trainLR      float64
	trainHidden  int
	trainDropout float64
	trainDepth   int
	trainHeads   int
	trainSubFeat float64
	trainSubData float64

	trainCmd = &cobra.Command{
		Use:   "train",
		Short: "Train a model, once per seed",
		Long: `Train the model declared in a gin config, once per seed, each run in
its own <logdir>/<task>/<model>/seed_N directory.

Hyperparameter flags override the corresponding gin bindings before the
config is finalized; the effective bindings are snapshotted to
train_config.gin inside every run directory.`,
		Example: `  icubench train -c configs/ricu/Classification/Transformer.gin \
      -l logs -t mortality24 -s 1111 -s 2222 -s 3333 --hidden 64 --lr 1e-4
  icubench train -c configs/ricu/Classification/GBT.gin -l logs -t sepsis \
      --depth 4 --subsample-feat 0.66 -o`,
		RunE: runTrain,
	}
)

func init() {
	f := trainCmd.Flags()
	f.StringVarP(&trainGinConfig, "gin-config", "c", "", "path to the experiment gin config (required)")
	f.StringVarP(&trainLogDir, "logdir", "l", "", "log directory root (default from app config)")
	f.StringVarP(&trainTask, "task", "t", "", "benchmark task, overrides the config's data.task")
	f.BoolVarP(&trainOverwrite, "overwrite", "o", false, "overwrite existing non-empty seed directories")
	f.StringVar(&trainDataDir, "data-dir", "", "dataset directory root (default from app config)")
	f.IntVar(&trainWorkers, "workers", 0, "parallel seeds (default from app config)")
	f.Int64SliceVarP(&trainSeeds, "seeds", "s", nil, "random seeds, one training per seed")

	f.Float64Var(&trainLR, "lr", 0, "learning rate override")
	f.IntVar(&trainHidden, "hidden", 0, "transformer hidden width override")
	f.Float64Var(&trainDropout, "do", 0, "transformer dropout override")
	f.IntVar(&trainDepth, "depth", 0, "model depth override (encoder blocks / tree depth)")
	f.IntVar(&trainHeads, "heads", 0, "transformer attention heads override")
	f.Float64Var(&trainSubFeat, "subsample-feat", 0, "GBT feature subsample fraction override")
	f.Float64Var(&trainSubData, "subsample-data", 0, "GBT row subsample fraction override")

	_ = trainCmd.MarkFlagRequired("gin-config")
}

func runTrain(cmd *cobra.Command, args []string) error {
	gin, err := ginconfig.Load(trainGinConfig)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load gin config").
			WithResource(trainGinConfig).
			WithSuggestion("check the -c path, e.g. configs/ricu/Classification/Transformer.gin").
			Wrap(err).
			BuildError()
	}

	overrides, err := hyperOverrides(cmd, gin)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if err := gin.Apply(o); err != nil {
			return fmt.Errorf("apply override %q: %w", o, err)
		}
	}

	runner, err := experiment.NewRunner(experiment.Options{
		Gin:        gin,
		ConfigPath: trainGinConfig,
		Task:       trainTask,
		DataDir:    orDefault(trainDataDir, cfg.DataDir),
		LogDir:     orDefault(trainLogDir, cfg.LogDir),
		Seeds:      trainSeeds,
		Overwrite:  trainOverwrite,
		Workers:    orDefaultInt(trainWorkers, cfg.Workers),
		Scalars:    cfg.Tracking.Scalars,
		FlushEvery: cfg.Tracking.FlushEvery,
		Overrides:  overrides,
		Version:    getVersionString(),
		Logger:     newLogger("train"),
	})
	if err != nil {
		return err
	}
	return runner.Execute(cmd.Context())
}

// hyperOverrides maps set hyperparameter flags to gin binding overrides.
// Scope depends on the configured model: --depth targets the transformer's
// encoder depth or the GBT tree depth, --lr the respective learning rate.
func hyperOverrides(cmd *cobra.Command, gin *ginconfig.Config) ([]string, error) {
	model, err := gin.RequireRef("train.model")
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("resolve model").
			WithResource(trainGinConfig).
			WithSuggestion("add a 'train.model = @Transformer' binding to the gin config").
			Wrap(err).
			BuildError()
	}

	var overrides []string
	add := func(format string, args ...any) {
		overrides = append(overrides, fmt.Sprintf(format, args...))
	}

	if cmd.Flags().Changed("lr") {
		if model == "Transformer" {
			add("train.learning_rate = %g", trainLR)
		} else {
			add("%s.learning_rate = %g", model, trainLR)
		}
	}
	if cmd.Flags().Changed("hidden") {
		add("Transformer.hidden = %d", trainHidden)
	}
	if cmd.Flags().Changed("do") {
		add("Transformer.dropout = %g", trainDropout)
	}
	if cmd.Flags().Changed("depth") {
		if model == "GBT" {
			add("GBT.depth = %d", trainDepth)
		} else {
			add("Transformer.depth = %d", trainDepth)
		}
	}
	if cmd.Flags().Changed("heads") {
		add("Transformer.heads = %d", trainHeads)
	}
	if cmd.Flags().Changed("subsample-feat") {
		add("GBT.subsample_feat = %g", trainSubFeat)
	}
	if cmd.Flags().Changed("subsample-data") {
		add("GBT.subsample_data = %g", trainSubData)
	}
	return overrides, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
