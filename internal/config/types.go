// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"

	// maxWorkers bounds the seed-training worker pool.
	maxWorkers = 256
)

var (
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidWorkers is returned when the worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid worker count")
	// ErrInvalidFlushEvery is returned when tracking.flush_every is not positive.
	ErrInvalidFlushEvery = errors.New("invalid flush interval")
)

type (
	// ColorScheme selects the terminal color scheme for CLI output.
	ColorScheme string

	// InvalidColorSchemeError wraps ErrInvalidColorScheme with the offending value.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// TrackingConfig controls scalar logging inside run directories.
	TrackingConfig struct {
		// Scalars enables per-epoch scalar files under <run>/tensorboard/.
		Scalars bool `mapstructure:"scalars"`

		// FlushEvery flushes scalar writers every N epochs.
		FlushEvery int `mapstructure:"flush_every"`
	}

	// UIConfig holds terminal presentation settings.
	UIConfig struct {
		ColorScheme ColorScheme `mapstructure:"color_scheme"`
		Verbose     bool        `mapstructure:"verbose"`
	}

	// Config is the machine-local application configuration. Experiment
	// parameters live in .gin files; Config only covers paths, concurrency,
	// and presentation.
	Config struct {
		// DataDir is the root directory holding benchmark datasets,
		// one subdirectory per data source (e.g. "ricu").
		DataDir string `mapstructure:"data_dir"`

		// LogDir is the default root for run log directories.
		// The -l flag overrides it per invocation.
		LogDir string `mapstructure:"log_dir"`

		// Workers is the number of concurrent seed trainings.
		// 0 means one worker per CPU.
		Workers int `mapstructure:"workers"`

		Tracking TrackingConfig `mapstructure:"tracking"`
		UI       UIConfig       `mapstructure:"ui"`
	}
)

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Workers: 0,
		Tracking: TrackingConfig{
			Scalars:    true,
			FlushEvery: 1,
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
		},
	}
}

// Error implements the error interface.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("%v: %q (expected auto, dark, or light)", ErrInvalidColorScheme, e.Value)
}

// Unwrap returns the sentinel for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// Validate checks the ColorScheme against the known values.
func (s ColorScheme) Validate() error {
	switch s {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return &InvalidColorSchemeError{Value: s}
	}
}

// Validate checks constraints that CUE cannot enforce when the config comes
// from defaults or programmatic construction rather than a schema-checked file.
func (c *Config) Validate() error {
	if err := c.UI.ColorScheme.Validate(); err != nil {
		return err
	}
	if c.Workers < 0 || c.Workers > maxWorkers {
		return fmt.Errorf("%w: %d (expected 0..%d)", ErrInvalidWorkers, c.Workers, maxWorkers)
	}
	if c.Tracking.FlushEvery < 1 {
		return fmt.Errorf("%w: %d (expected >= 1)", ErrInvalidFlushEvery, c.Tracking.FlushEvery)
	}
	return nil
}
