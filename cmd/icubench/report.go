// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"

	"icu-benchmarks/internal/experiment"
	"icu-benchmarks/internal/issue"

	"github.com/spf13/cobra"
)

var (
	reportLogDir string
	reportRaw    bool

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Aggregate per-seed metrics into mean and std",
		Long: `Walk a log directory tree and aggregate every experiment's shared
val_metrics.json / test_metrics.json into per-metric mean and standard
deviation across seeds, rendered as a markdown report.`,
		Example: `  icubench report -l logs
  icubench report -l logs --raw > results.md`,
		RunE: runReport,
	}
)

func init() {
	reportCmd.Flags().StringVarP(&reportLogDir, "logdir", "l", "", "log directory root (default from app config)")
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "emit plain markdown instead of rendering")
}

func runReport(cmd *cobra.Command, args []string) error {
	logDir := orDefault(reportLogDir, cfg.LogDir)
	summaries, err := experiment.Report(logDir)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("aggregate results").
			WithResource(logDir).
			WithSuggestion("point -l at a log directory produced by 'icubench train'").
			Wrap(err).
			BuildError()
	}
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("No finished experiments found under ")+PathStyle.Render(logDir))
		return nil
	}

	md := experiment.Markdown(summaries)
	if reportRaw {
		fmt.Print(md)
		return nil
	}
	return renderMarkdown(md)
}
