// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"sort"

	"icu-benchmarks/internal/experiment"

	"github.com/spf13/cobra"
)

var (
	evaluateDataDir string

	evaluateCmd = &cobra.Command{
		Use:   "evaluate <run-dir>",
		Short: "Re-run the test split for a finished run",
		Long: `Re-evaluate a finished seed directory on the test split, rewriting its
test_metrics.json. Transformer runs restore the model.bin checkpoint; the
tabular models are refit deterministically from the recorded seed.`,
		Example: `  icubench evaluate logs/mortality24/Transformer/seed_1111`,
		Args:    cobra.ExactArgs(1),
		RunE:    runEvaluate,
	}
)

func init() {
	evaluateCmd.Flags().StringVar(&evaluateDataDir, "data-dir", "", "dataset directory root (default from app config)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	runDir := args[0]
	res, err := experiment.EvaluateRun(cmd.Context(), runDir, orDefault(evaluateDataDir, cfg.DataDir), newLogger("evaluate"))
	if err != nil {
		return err
	}

	fmt.Println(SuccessStyle.Render("Test metrics ") + PathStyle.Render(runDir))
	names := make([]string, 0, len(res.Metrics))
	for name := range res.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %.4f\n", name, res.Metrics[name])
	}
	fmt.Printf("  %-20s %.4f\n", "loss", res.Loss)
	return nil
}
