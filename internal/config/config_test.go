// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "" {
		t.Errorf("expected default data dir to be empty, got %q", cfg.DataDir)
	}

	if cfg.Workers != 0 {
		t.Errorf("expected default workers to be 0 (one per CPU), got %d", cfg.Workers)
	}

	if !cfg.Tracking.Scalars {
		t.Error("expected scalar tracking to be enabled by default")
	}

	if cfg.Tracking.FlushEvery != 1 {
		t.Errorf("expected default flush interval to be 1, got %d", cfg.Tracking.FlushEvery)
	}

	if cfg.UI.ColorScheme != ColorSchemeAuto {
		t.Errorf("expected default color scheme to be auto, got %s", cfg.UI.ColorScheme)
	}

	if cfg.UI.Verbose {
		t.Error("expected default verbose to be false")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	t.Cleanup(Reset)
	SetConfigDirOverride(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	want := DefaultConfig()
	if cfg.Workers != want.Workers || cfg.UI.ColorScheme != want.UI.ColorScheme {
		t.Errorf("Load() without file = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadValidConfigFile(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()
	SetConfigDirOverride(dir)

	content := `
data_dir: "/data/icu"
workers:  4
tracking: flush_every: 5
ui: color_scheme: "dark"
`
	writeConfig(t, dir, content)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/data/icu" {
		t.Errorf("data_dir = %q, want /data/icu", cfg.DataDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Workers)
	}
	if cfg.Tracking.FlushEvery != 5 {
		t.Errorf("tracking.flush_every = %d, want 5", cfg.Tracking.FlushEvery)
	}
	if cfg.UI.ColorScheme != ColorSchemeDark {
		t.Errorf("ui.color_scheme = %s, want dark", cfg.UI.ColorScheme)
	}
	// Unset fields keep their defaults.
	if !cfg.Tracking.Scalars {
		t.Error("tracking.scalars should default to true when unset")
	}
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()
	SetConfigDirOverride(dir)

	writeConfig(t, dir, `ui: color_scheme: "solarized"`)

	_, err := Load()
	if err == nil {
		t.Fatal("expected schema violation error")
	}
	if !strings.Contains(err.Error(), "color_scheme") {
		t.Errorf("error should name the invalid field, got: %v", err)
	}
}

func TestLoadRejectsInvalidCUESyntax(t *testing.T) {
	t.Cleanup(Reset)
	dir := t.TempDir()
	SetConfigDirOverride(dir)

	writeConfig(t, dir, `workers: {{{`)

	if _, err := Load(); err == nil {
		t.Fatal("expected syntax error")
	}
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	t.Cleanup(Reset)
	SetConfigFilePathOverride(filepath.Join(t.TempDir(), "nope.cue"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestColorSchemeValidate(t *testing.T) {
	for _, valid := range []ColorScheme{ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight} {
		if err := valid.Validate(); err != nil {
			t.Errorf("%s should validate, got %v", valid, err)
		}
	}

	err := ColorScheme("sepia").Validate()
	if !errors.Is(err, ErrInvalidColorScheme) {
		t.Errorf("expected ErrInvalidColorScheme, got %v", err)
	}
}

func TestConfigValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = -1
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWorkers) {
		t.Errorf("expected ErrInvalidWorkers, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Tracking.FlushEvery = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidFlushEvery) {
		t.Errorf("expected ErrInvalidFlushEvery, got %v", err)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}
