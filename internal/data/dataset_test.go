// SPDX-License-Identifier: MPL-2.0

package data

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCSVRoundTrip(t *testing.T) {
	task := mustTask(t, "mortality24")
	ds := Synthetic(7, 20, 6, 4, task)

	path := filepath.Join(t.TempDir(), "mortality24.csv")
	if err := ds.WriteCSV(path); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	loaded, err := LoadCSV(path, task)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}

	if loaded.NumStays() != ds.NumStays() {
		t.Fatalf("stays = %d, want %d", loaded.NumStays(), ds.NumStays())
	}
	if loaded.NumFeatures() != ds.NumFeatures() {
		t.Fatalf("features = %d, want %d", loaded.NumFeatures(), ds.NumFeatures())
	}

	for i := range ds.Stays {
		if loaded.Stays[i].ID != ds.Stays[i].ID {
			t.Fatalf("stay %d: ID = %d, want %d", i, loaded.Stays[i].ID, ds.Stays[i].ID)
		}
		if loaded.Labels[i] != ds.Labels[i] {
			t.Errorf("stay %d: label = %g, want %g", i, loaded.Labels[i], ds.Labels[i])
		}
		for tm := range ds.Stays[i].Features {
			for j := range ds.Stays[i].Features[tm] {
				got := loaded.Stays[i].Features[tm][j]
				want := ds.Stays[i].Features[tm][j]
				if math.IsNaN(want) != math.IsNaN(got) {
					t.Fatalf("stay %d t=%d f=%d: NaN mismatch", i, tm, j)
				}
				if !math.IsNaN(want) && got != want {
					t.Fatalf("stay %d t=%d f=%d: %g != %g", i, tm, j, got, want)
				}
			}
		}
	}
}

func TestLoadCSVRejectsBadHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("patient,hour,hr,label\n1,0,80,0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadCSV(path, mustTask(t, "mortality24"))
	if !errors.Is(err, ErrBadHeader) {
		t.Errorf("expected ErrBadHeader, got %v", err)
	}
}

func TestSplitIsDisjointAndSeeded(t *testing.T) {
	ds := Synthetic(3, 50, 5, 3, mustTask(t, "mortality24"))

	train, val, test, err := ds.Split(1111, 0.6, 0.2)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}

	if got := train.NumStays() + val.NumStays() + test.NumStays(); got != ds.NumStays() {
		t.Fatalf("partitions cover %d stays, want %d", got, ds.NumStays())
	}

	seen := map[int]string{}
	for name, part := range map[string]*Dataset{"train": train, "val": val, "test": test} {
		for _, stay := range part.Stays {
			if prev, dup := seen[stay.ID]; dup {
				t.Fatalf("stay %d appears in both %s and %s", stay.ID, prev, name)
			}
			seen[stay.ID] = name
		}
	}

	// Same seed gives the same partition.
	train2, _, _, err := ds.Split(1111, 0.6, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	for i := range train.Stays {
		if train.Stays[i].ID != train2.Stays[i].ID {
			t.Fatal("same seed should give identical splits")
		}
	}

	// A different seed should shuffle differently.
	train3, _, _, err := ds.Split(2222, 0.6, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range train.Stays {
		if train.Stays[i].ID != train3.Stays[i].ID {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical splits")
	}
}

func TestSplitRejectsBadFractions(t *testing.T) {
	ds := Synthetic(3, 10, 5, 3, mustTask(t, "mortality24"))

	for _, tc := range []struct{ train, val float64 }{
		{0, 0.2},
		{0.9, 0.2},
		{0.5, 0.5},
	} {
		if _, _, _, err := ds.Split(1, tc.train, tc.val); !errors.Is(err, ErrBadSplit) {
			t.Errorf("Split(%g, %g): expected ErrBadSplit, got %v", tc.train, tc.val, err)
		}
	}
}

func TestSplitCopiesStays(t *testing.T) {
	ds := Synthetic(5, 20, 4, 3, mustTask(t, "mortality24"))
	train, _, _, err := ds.Split(9, 0.6, 0.2)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating a split must not leak into the source dataset.
	train.Stays[0].Features[0][0] = 12345
	for _, stay := range ds.Stays {
		if stay.ID == train.Stays[0].ID && stay.Features[0][0] == 12345 {
			t.Fatal("split shares feature storage with source dataset")
		}
	}
}

func TestBalance(t *testing.T) {
	ds := &Dataset{
		Task:   mustTask(t, "mortality24"),
		Labels: []float64{0, 0, 0, 1},
		Stays:  make([]Stay, 4),
	}

	w := ds.Balance()
	if len(w) != 2 {
		t.Fatalf("weights = %v, want 2 classes", w)
	}
	// n/(k*count): 4/(2*3) and 4/(2*1).
	if math.Abs(w[0]-4.0/6.0) > 1e-12 || math.Abs(w[1]-2.0) > 1e-12 {
		t.Errorf("weights = %v, want [0.666... 2]", w)
	}
}

func TestTabularXYTakesLastRow(t *testing.T) {
	ds := &Dataset{
		Task:         mustTask(t, "mortality24"),
		FeatureNames: []string{"hr"},
		Stays: []Stay{
			{ID: 1, Times: []float64{0, 1}, Features: [][]float64{{80}, {95}}},
		},
		Labels: []float64{1},
	}

	x, y := ds.TabularXY()
	if x[0][0] != 95 {
		t.Errorf("tabular row = %v, want last timestep value 95", x[0])
	}
	if y[0] != 1 {
		t.Errorf("label = %g, want 1", y[0])
	}
}

func TestAppendFeature(t *testing.T) {
	ds := &Dataset{
		FeatureNames: []string{"hr"},
		Stays: []Stay{
			{ID: 1, Times: []float64{0, 1}, Features: [][]float64{{80}, {95}}},
		},
		Labels: []float64{0},
	}

	if err := ds.AppendFeature("hr_max", [][]float64{{80, 95}}); err != nil {
		t.Fatalf("AppendFeature: %v", err)
	}
	if ds.NumFeatures() != 2 {
		t.Fatalf("features = %d, want 2", ds.NumFeatures())
	}
	if ds.Stays[0].Features[1][1] != 95 {
		t.Errorf("appended value = %g, want 95", ds.Stays[0].Features[1][1])
	}

	if err := ds.AppendFeature("bad", [][]float64{{1}}); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestLookupTask(t *testing.T) {
	if _, err := LookupTask("mortality24"); err != nil {
		t.Errorf("mortality24 should be registered: %v", err)
	}
	if _, err := LookupTask("nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}

	names := TaskNames()
	if len(names) == 0 {
		t.Fatal("no registered tasks")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("task names not sorted: %v", names)
		}
	}
}

func mustTask(t *testing.T, name string) Task {
	t.Helper()
	task, err := LookupTask(name)
	if err != nil {
		t.Fatal(err)
	}
	return task
}
