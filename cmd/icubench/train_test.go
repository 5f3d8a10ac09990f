// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"slices"
	"testing"

	"icu-benchmarks/internal/ginconfig"
)

func mustGin(t *testing.T, text string) *ginconfig.Config {
	t.Helper()
	gin, err := ginconfig.Parse([]byte(text), "test.gin")
	if err != nil {
		t.Fatalf("parse gin: %v", err)
	}
	return gin
}

func TestHyperOverridesTransformer(t *testing.T) {
	gin := mustGin(t, "train.model = @Transformer")

	for flag, value := range map[string]string{
		"lr":     "0.0001",
		"hidden": "128",
		"do":     "0.2",
		"depth":  "3",
		"heads":  "4",
	} {
		if err := trainCmd.Flags().Set(flag, value); err != nil {
			t.Fatalf("set %s: %v", flag, err)
		}
	}

	overrides, err := hyperOverrides(trainCmd, gin)
	if err != nil {
		t.Fatalf("hyperOverrides: %v", err)
	}

	for _, want := range []string{
		"train.learning_rate = 0.0001",
		"Transformer.hidden = 128",
		"Transformer.dropout = 0.2",
		"Transformer.depth = 3",
		"Transformer.heads = 4",
	} {
		if !slices.Contains(overrides, want) {
			t.Errorf("missing override %q in %v", want, overrides)
		}
	}
}

func TestHyperOverridesGBT(t *testing.T) {
	gin := mustGin(t, "train.model = @GBT")

	for flag, value := range map[string]string{
		"lr":             "0.05",
		"depth":          "4",
		"subsample-feat": "0.66",
		"subsample-data": "0.8",
	} {
		if err := trainCmd.Flags().Set(flag, value); err != nil {
			t.Fatalf("set %s: %v", flag, err)
		}
	}

	overrides, err := hyperOverrides(trainCmd, gin)
	if err != nil {
		t.Fatalf("hyperOverrides: %v", err)
	}

	for _, want := range []string{
		"GBT.learning_rate = 0.05",
		"GBT.depth = 4",
		"GBT.subsample_feat = 0.66",
		"GBT.subsample_data = 0.8",
	} {
		if !slices.Contains(overrides, want) {
			t.Errorf("missing override %q in %v", want, overrides)
		}
	}
}

func TestHyperOverridesApply(t *testing.T) {
	gin := mustGin(t, "train.model = @Transformer\nTransformer.hidden = 64")

	if err := trainCmd.Flags().Set("hidden", "32"); err != nil {
		t.Fatal(err)
	}
	overrides, err := hyperOverrides(trainCmd, gin)
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range overrides {
		if err := gin.Apply(o); err != nil {
			t.Fatalf("apply %q: %v", o, err)
		}
	}
	if got := gin.Int("Transformer.hidden", 0); got != 32 {
		t.Errorf("Transformer.hidden = %d after override, want 32", got)
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault("", "fallback"); got != "fallback" {
		t.Errorf("orDefault empty = %q", got)
	}
	if got := orDefault("set", "fallback"); got != "set" {
		t.Errorf("orDefault set = %q", got)
	}
	if got := orDefaultInt(0, 4); got != 4 {
		t.Errorf("orDefaultInt zero = %d", got)
	}
	if got := orDefaultInt(2, 4); got != 2 {
		t.Errorf("orDefaultInt set = %d", got)
	}
}
