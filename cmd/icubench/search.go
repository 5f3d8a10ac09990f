// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"icu-benchmarks/internal/experiment"
	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"

	"github.com/spf13/cobra"
)

var (
	searchGinConfig string
	searchLogDir    string
	searchTask      string
	searchDataDir   string
	searchWorkers   int
	searchSeeds     []int64
	searchTrials    int

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Random hyperparameter search",
		Long: `Sample trials from the candidate lists declared under search.space in
the gin config, run each trial as a full training, and rank trials by mean
validation loss. Results are written to <logdir>/search_results.toml.`,
		Example: `  # in the gin config:
  #   search.trials = 10
  #   search.space = ["Transformer.hidden = [32, 64, 128]",
  #                   "train.learning_rate = [0.0001, 0.001]"]
  icubench search -c configs/ricu/Classification/Transformer.gin -l runs/search -t mortality24`,
		RunE: runSearch,
	}
)

func init() {
	f := searchCmd.Flags()
	f.StringVarP(&searchGinConfig, "gin-config", "c", "", "path to the experiment gin config (required)")
	f.StringVarP(&searchLogDir, "logdir", "l", "", "log directory root (default from app config)")
	f.StringVarP(&searchTask, "task", "t", "", "benchmark task, overrides the config's data.task")
	f.StringVar(&searchDataDir, "data-dir", "", "dataset directory root (default from app config)")
	f.IntVar(&searchWorkers, "workers", 0, "parallel seeds per trial (default from app config)")
	f.Int64SliceVarP(&searchSeeds, "seeds", "s", nil, "random seeds per trial")
	f.IntVarP(&searchTrials, "trials", "n", 0, "number of trials (default from search.trials)")

	_ = searchCmd.MarkFlagRequired("gin-config")
}

func runSearch(cmd *cobra.Command, args []string) error {
	gin, err := ginconfig.Load(searchGinConfig)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("load gin config").
			WithResource(searchGinConfig).
			WithSuggestion("check the -c path").
			Wrap(err).
			BuildError()
	}

	trials, err := experiment.RunSearch(cmd.Context(), experiment.Options{
		Gin:        gin,
		ConfigPath: searchGinConfig,
		Task:       searchTask,
		DataDir:    orDefault(searchDataDir, cfg.DataDir),
		LogDir:     orDefault(searchLogDir, cfg.LogDir),
		Seeds:      searchSeeds,
		Overwrite:  true,
		Workers:    orDefaultInt(searchWorkers, cfg.Workers),
		Scalars:    cfg.Tracking.Scalars,
		FlushEvery: cfg.Tracking.FlushEvery,
		Version:    getVersionString(),
		Logger:     newLogger("search"),
	}, searchTrials)
	if err != nil {
		return err
	}

	fmt.Println(SuccessStyle.Render(fmt.Sprintf("Finished %d trials, best first:", len(trials))))
	for _, trial := range trials {
		fmt.Printf("  trial %02d  val_loss=%.4f  %s\n",
			trial.Index, trial.ValLoss, strings.Join(trial.Overrides, "; "))
	}
	return nil
}
