// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for icubench.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"icu-benchmarks/internal/config"
	"icu-benchmarks/internal/issue"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// verbose enables debug logging
	verbose bool
	// cfgFile allows specifying a custom config file
	cfgFile string

	// cfg is the loaded application config, available to all subcommands.
	cfg = config.DefaultConfig()

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "icubench",
		Short: "ICU time-series benchmarking",
		Long: TitleStyle.Render("icubench") + SubtitleStyle.Render(" - ICU time-series benchmarking") + `

icubench trains and evaluates clinical prediction models (transformer,
gradient-boosted trees, logistic regression) on ICU stay time series.
Experiments are described by .gin config files and run once per seed
into their own log directory.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Generate a demo dataset: icubench data synth -t mortality24
  2. Train: icubench train -c configs/ricu/Classification/GBT.gin -l logs -t mortality24
  3. Summarize: icubench report -l logs

` + SubtitleStyle.Render("Examples:") + `
  icubench train -c configs/ricu/Classification/Transformer.gin \
      -l logs -t mortality24 -s 1111 -s 2222 -s 3333
  icubench evaluate logs/mortality24/Transformer/seed_1111
  icubench configs list`,
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/icubench/config.cue)")

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(dataCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads in config file and ENV variables if set.
func initRootConfig() {
	if cfgFile != "" {
		config.SetConfigFilePathOverride(cfgFile)
	}

	loaded, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
	}
	if loaded != nil {
		cfg = loaded
		if !verbose {
			verbose = cfg.UI.Verbose
		}
	}
}

// newLogger builds the CLI logger, at debug level when verbose.
func newLogger(prefix string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
	})
	if verbose {
		logger.SetLevel(log.DebugLevel)
	}
	return logger
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
