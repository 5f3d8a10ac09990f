// SPDX-License-Identifier: MPL-2.0

// Package recipes implements fit/transform preprocessing for clinical
// time-series datasets: imputation, scaling, and running historical
// aggregates. A Recipe is fitted on the training split only and then baked
// onto validation and test splits, so no statistics leak across partitions.
package recipes

import (
	"errors"
	"fmt"
	"strings"

	"icu-benchmarks/internal/data"
)

var (
	// ErrNotTrained is returned when Transform or Bake runs before Fit/Prep.
	ErrNotTrained = errors.New("step not trained")
	// ErrNoColumns is returned when a selector matches nothing at fit time.
	ErrNoColumns = errors.New("selector matched no columns")
)

// Step is one preprocessing stage. Fit learns statistics from a dataset;
// Transform applies them. Fitted state is written once by Fit and only read
// afterwards.
type Step interface {
	Fit(ds *data.Dataset) error
	Transform(ds *data.Dataset) error
	Desc() string
	Trained() bool
}

// Recipe is an ordered list of steps.
type Recipe struct {
	steps []Step
}

// NewRecipe builds a recipe from steps, applied in order.
func NewRecipe(steps ...Step) *Recipe {
	return &Recipe{steps: steps}
}

// Prep fits and applies every step, in order, on the training split.
func (r *Recipe) Prep(train *data.Dataset) error {
	for _, s := range r.steps {
		if err := s.Fit(train); err != nil {
			return fmt.Errorf("fit %s: %w", s.Desc(), err)
		}
		if err := s.Transform(train); err != nil {
			return fmt.Errorf("transform %s: %w", s.Desc(), err)
		}
	}
	return nil
}

// Bake applies the fitted steps to another split without refitting.
func (r *Recipe) Bake(ds *data.Dataset) error {
	for _, s := range r.steps {
		if !s.Trained() {
			return fmt.Errorf("%s: %w", s.Desc(), ErrNotTrained)
		}
		if err := s.Transform(ds); err != nil {
			return fmt.Errorf("transform %s: %w", s.Desc(), err)
		}
	}
	return nil
}

// String lists the steps, marking trained ones.
func (r *Recipe) String() string {
	var b strings.Builder
	b.WriteString("Recipe:")
	for _, s := range r.steps {
		b.WriteString("\n  ")
		b.WriteString(s.Desc())
		if s.Trained() {
			b.WriteString(" [trained]")
		}
	}
	return b.String()
}

// columnIndices resolves fitted column names against the dataset's current
// header, erroring on columns the dataset no longer has.
func columnIndices(ds *data.Dataset, cols []string) ([]int, error) {
	pos := map[string]int{}
	for i, n := range ds.FeatureNames {
		pos[n] = i
	}
	out := make([]int, len(cols))
	for i, c := range cols {
		j, ok := pos[c]
		if !ok {
			return nil, fmt.Errorf("dataset has no column %q", c)
		}
		out[i] = j
	}
	return out, nil
}
