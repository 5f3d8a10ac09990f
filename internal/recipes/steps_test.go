// SPDX-License-Identifier: MPL-2.0

package recipes

import (
	"errors"
	"math"
	"testing"

	"icu-benchmarks/internal/data"
)

func makeDataset(features []string, stays ...[][]float64) *data.Dataset {
	ds := &data.Dataset{FeatureNames: append([]string(nil), features...)}
	for i, rows := range stays {
		stay := data.Stay{ID: i + 1}
		for t, row := range rows {
			stay.Times = append(stay.Times, float64(t))
			stay.Features = append(stay.Features, append([]float64(nil), row...))
		}
		ds.Stays = append(ds.Stays, stay)
		ds.Labels = append(ds.Labels, 0)
	}
	return ds
}

var nan = math.NaN()

func TestImputeConstant(t *testing.T) {
	ds := makeDataset([]string{"hr"}, [][]float64{{nan}, {80}, {nan}})

	step := NewImputeFill(AllPredictors(), 0)
	if err := step.Fit(ds); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(ds); err != nil {
		t.Fatal(err)
	}

	want := []float64{0, 80, 0}
	for i, w := range want {
		if got := ds.Stays[0].Features[i][0]; got != w {
			t.Errorf("t=%d: got %g, want %g", i, got, w)
		}
	}
}

func TestForwardFillRespectsStayBoundariesAndLimit(t *testing.T) {
	ds := makeDataset([]string{"hr"},
		[][]float64{{80}, {nan}, {nan}, {nan}},
		[][]float64{{nan}, {60}},
	)

	step := NewForwardFill(AllPredictors(), 2)
	if err := step.Fit(ds); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(ds); err != nil {
		t.Fatal(err)
	}

	got := ds.Stays[0]
	if got.Features[1][0] != 80 || got.Features[2][0] != 80 {
		t.Errorf("fill within limit: got %g, %g, want 80, 80", got.Features[1][0], got.Features[2][0])
	}
	if !math.IsNaN(got.Features[3][0]) {
		t.Errorf("beyond limit should stay NaN, got %g", got.Features[3][0])
	}

	// The second stay must not inherit the first stay's last value.
	if !math.IsNaN(ds.Stays[1].Features[0][0]) {
		t.Errorf("leading NaN of next stay filled across boundary: %g", ds.Stays[1].Features[0][0])
	}
	if ds.Stays[1].Features[1][0] != 60 {
		t.Errorf("observed value clobbered: %g", ds.Stays[1].Features[1][0])
	}
}

func TestScaleUsesTrainStatistics(t *testing.T) {
	train := makeDataset([]string{"hr"}, [][]float64{{0}, {10}, {20}})
	val := makeDataset([]string{"hr"}, [][]float64{{10}, {30}})

	step := NewScale(AllPredictors())
	if err := step.Fit(train); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(train); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(val); err != nil {
		t.Fatal(err)
	}

	// Train mean 10, sample std 10.
	if got := train.Stays[0].Features[1][0]; math.Abs(got) > 1e-12 {
		t.Errorf("train center value = %g, want 0", got)
	}
	if got := val.Stays[0].Features[0][0]; math.Abs(got) > 1e-12 {
		t.Errorf("val 10 should scale to 0 with train stats, got %g", got)
	}
	if got := val.Stays[0].Features[1][0]; math.Abs(got-2) > 1e-12 {
		t.Errorf("val 30 should scale to 2 with train stats, got %g", got)
	}

	if m, ok := step.Mean("hr"); !ok || m != 10 {
		t.Errorf("Mean(hr) = %g, %t, want 10, true", m, ok)
	}
	if s, ok := step.Std("hr"); !ok || s != 10 {
		t.Errorf("Std(hr) = %g, %t, want 10, true", s, ok)
	}
}

func TestScaleIgnoresNaNAndConstantColumns(t *testing.T) {
	ds := makeDataset([]string{"hr", "flat"},
		[][]float64{{5, 1}, {nan, 1}, {15, 1}})

	step := NewScale(AllPredictors())
	if err := step.Fit(ds); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(ds); err != nil {
		t.Fatal(err)
	}

	if !math.IsNaN(ds.Stays[0].Features[1][0]) {
		t.Error("NaN should pass through scaling")
	}
	// Constant column: centered, std treated as 1.
	if got := ds.Stays[0].Features[0][1]; got != 0 {
		t.Errorf("constant column value = %g, want 0", got)
	}
}

func TestHistoricalMax(t *testing.T) {
	ds := makeDataset([]string{"hr"}, [][]float64{{80}, {nan}, {95}, {90}})

	step := NewHistorical(AllPredictors(), HistMax, "")
	if err := step.Fit(ds); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(ds); err != nil {
		t.Fatal(err)
	}

	if ds.FeatureNames[len(ds.FeatureNames)-1] != "hr_max" {
		t.Fatalf("appended column = %q, want hr_max", ds.FeatureNames[len(ds.FeatureNames)-1])
	}

	want := []float64{80, 80, 95, 95}
	for i, w := range want {
		if got := ds.Stays[0].Features[i][1]; got != w {
			t.Errorf("t=%d: hr_max = %g, want %g", i, got, w)
		}
	}
}

func TestHistoricalMeanSkipsNaN(t *testing.T) {
	ds := makeDataset([]string{"hr"}, [][]float64{{nan}, {10}, {20}})

	step := NewHistorical(AllPredictors(), HistMean, "")
	if err := step.Fit(ds); err != nil {
		t.Fatal(err)
	}
	if err := step.Transform(ds); err != nil {
		t.Fatal(err)
	}

	col := func(t int) float64 { return ds.Stays[0].Features[t][1] }
	if !math.IsNaN(col(0)) {
		t.Errorf("mean before first observation should be NaN, got %g", col(0))
	}
	if col(1) != 10 || col(2) != 15 {
		t.Errorf("running mean = %g, %g, want 10, 15", col(1), col(2))
	}
}

func TestTransformBeforeFit(t *testing.T) {
	ds := makeDataset([]string{"hr"}, [][]float64{{1}})

	steps := []Step{
		NewImputeFill(AllPredictors(), 0),
		NewScale(AllPredictors()),
		NewHistorical(AllPredictors(), HistMax, ""),
	}
	for _, s := range steps {
		if err := s.Transform(ds); !errors.Is(err, ErrNotTrained) {
			t.Errorf("%s: expected ErrNotTrained, got %v", s.Desc(), err)
		}
	}
}

func TestRecipePrepThenBake(t *testing.T) {
	train := makeDataset([]string{"hr"}, [][]float64{{80}, {nan}, {100}})
	val := makeDataset([]string{"hr"}, [][]float64{{nan}, {90}})

	r := NewRecipe(
		NewForwardFill(AllPredictors(), 0),
		NewScale(AllPredictors()),
		NewHistorical(AllPredictors(), HistMax, ""),
	)

	if err := r.Prep(train); err != nil {
		t.Fatalf("Prep: %v", err)
	}
	if err := r.Bake(val); err != nil {
		t.Fatalf("Bake: %v", err)
	}

	if train.NumFeatures() != 2 || val.NumFeatures() != 2 {
		t.Errorf("features after recipe: train=%d val=%d, want 2 each", train.NumFeatures(), val.NumFeatures())
	}
}

func TestBakeBeforePrep(t *testing.T) {
	val := makeDataset([]string{"hr"}, [][]float64{{1}})
	r := NewRecipe(NewScale(AllPredictors()))

	if err := r.Bake(val); !errors.Is(err, ErrNotTrained) {
		t.Errorf("expected ErrNotTrained, got %v", err)
	}
}

func TestSelectorNoMatch(t *testing.T) {
	ds := makeDataset([]string{"hr"}, [][]float64{{1}})
	step := NewScale(Columns("bp"))

	if err := step.Fit(ds); !errors.Is(err, ErrNoColumns) {
		t.Errorf("expected ErrNoColumns, got %v", err)
	}
}

func TestSelectors(t *testing.T) {
	names := []string{"hr", "hr_max", "bp"}

	if got := AllPredictors().Select(names); len(got) != 3 {
		t.Errorf("AllPredictors = %v", got)
	}
	if got := Prefix("hr").Select(names); len(got) != 2 {
		t.Errorf("Prefix(hr) = %v, want hr and hr_max", got)
	}
	if got := Columns("bp", "missing").Select(names); len(got) != 1 || got[0] != "bp" {
		t.Errorf("Columns = %v, want [bp]", got)
	}
}
