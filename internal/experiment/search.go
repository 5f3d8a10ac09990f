// SPDX-License-Identifier: MPL-2.0

package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"

	"icu-benchmarks/internal/ginconfig"
	"icu-benchmarks/internal/issue"
)

// ErrNoSearchSpace is returned when the config declares no search.space.
var ErrNoSearchSpace = errors.New("no search space")

// Trial is one sampled configuration and its validation outcome.
type Trial struct {
	Index     int      `toml:"index"`
	Overrides []string `toml:"overrides"`
	ValLoss   float64  `toml:"val_loss"`
	Dir       string   `toml:"dir"`
}

// searchResults is the shape of search_results.toml.
type searchResults struct {
	Task   string  `toml:"task"`
	Model  string  `toml:"model"`
	Trials []Trial `toml:"trials"`
}

// RunSearch performs random hyperparameter search. The gin config declares
// the space as candidate lists keyed by binding:
//
//	search.trials = 10
//	search.space = ["Transformer.hidden = [32, 64, 128]",
//	                "train.learning_rate = [0.0001, 0.001, 0.01]"]
//
// Each trial samples one candidate per binding, applies them as overrides,
// and runs a full training under <logdir>/trial_NN/. Trials run
// sequentially (seeds within a trial still fan out) and are ranked by mean
// validation loss, best first. Results land in <logdir>/search_results.toml.
func RunSearch(ctx context.Context, opts Options, trials int) ([]Trial, error) {
	if opts.Gin == nil {
		return nil, errors.New("experiment: no gin config")
	}
	if trials <= 0 {
		trials = opts.Gin.Int("search.trials", 10)
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr)
	}

	space, err := parseSearchSpace(opts.Gin)
	if err != nil {
		return nil, err
	}

	var seed int64 = 1111
	if len(opts.Seeds) > 0 {
		seed = opts.Seeds[0]
	}
	rng := rand.New(rand.NewSource(seed))

	var results []Trial
	var task, model string
	for i := 0; i < trials; i++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		overrides := make([]string, 0, len(space))
		for _, dim := range space {
			choice := dim.candidates[rng.Intn(len(dim.candidates))]
			overrides = append(overrides, fmt.Sprintf("%s = %s", dim.key, ginconfig.FormatValue(choice)))
		}

		trialOpts := opts
		trialOpts.LogDir = filepath.Join(opts.LogDir, fmt.Sprintf("trial_%02d", i))
		trialOpts.Overrides = append(append([]string(nil), opts.Overrides...), overrides...)

		gin, err := reloadWithOverrides(opts.ConfigPath, trialOpts.Overrides)
		if err != nil {
			return results, err
		}
		trialOpts.Gin = gin

		runner, err := NewRunner(trialOpts)
		if err != nil {
			return results, err
		}
		task, model = runner.task.Name, string(runner.modelRef)

		opts.Logger.Info("trial", "index", i, "overrides", strings.Join(overrides, "; "))
		if err := runner.Execute(ctx); err != nil {
			return results, fmt.Errorf("trial %d: %w", i, err)
		}

		sharedDir := filepath.Dir(runner.SeedDir(seed))
		loss, err := meanSharedLoss(filepath.Join(sharedDir, "val_metrics.json"))
		if err != nil {
			return results, err
		}
		results = append(results, Trial{Index: i, Overrides: overrides, ValLoss: loss, Dir: sharedDir})
	}

	sort.Slice(results, func(a, b int) bool { return results[a].ValLoss < results[b].ValLoss })

	out := searchResults{Task: task, Model: model, Trials: results}
	buf, err := toml.Marshal(out)
	if err != nil {
		return results, err
	}
	if err := os.WriteFile(filepath.Join(opts.LogDir, "search_results.toml"), buf, 0o644); err != nil {
		return results, err
	}
	return results, nil
}

type searchDim struct {
	key        string
	candidates []any
}

// parseSearchSpace reads search.space entries, each a "key = [candidates]"
// line in gin syntax.
func parseSearchSpace(gin *ginconfig.Config) ([]searchDim, error) {
	entries, err := gin.Strings("search.space")
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, issue.NewErrorContext().
			WithOperation("parse search space").
			WithSuggestion("declare candidates, e.g. search.space = [\"Transformer.hidden = [32, 64]\"]").
			Wrap(ErrNoSearchSpace).
			BuildError()
	}

	var space []searchDim
	for _, entry := range entries {
		cfg, err := ginconfig.Parse([]byte(entry), "search.space")
		if err != nil {
			return nil, fmt.Errorf("search space entry %q: %w", entry, err)
		}
		keys := cfg.Keys()
		if len(keys) != 1 {
			return nil, fmt.Errorf("search space entry %q: want exactly one binding", entry)
		}
		candidates, ok := cfg.List(keys[0])
		if !ok || len(candidates) == 0 {
			return nil, fmt.Errorf("search space entry %q: want a non-empty candidate list", entry)
		}
		space = append(space, searchDim{key: keys[0], candidates: candidates})
	}
	return space, nil
}

// reloadWithOverrides re-reads the config file and applies override lines,
// giving each trial an isolated binding set.
func reloadWithOverrides(path string, overrides []string) (*ginconfig.Config, error) {
	gin, err := ginconfig.Load(path)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := gin.Apply(o); err != nil {
			return nil, err
		}
	}
	return gin, nil
}

// meanSharedLoss averages the "loss" field across seed entries of a shared
// metrics file.
func meanSharedLoss(path string) (float64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var merged map[string]map[string]any
	if err := json.Unmarshal(buf, &merged); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}

	var sum float64
	var n int
	for _, entry := range merged {
		if loss, ok := entry["loss"].(float64); ok {
			sum += loss
			n++
		}
	}
	if n == 0 {
		return 0, fmt.Errorf("%s has no loss entries", path)
	}
	return sum / float64(n), nil
}
