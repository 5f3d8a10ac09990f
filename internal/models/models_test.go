// SPDX-License-Identifier: MPL-2.0

package models

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
)

func TestAdamMinimizesQuadratic(t *testing.T) {
	params := []float64{0}
	opt := NewAdam(0.1, 1)

	for i := 0; i < 500; i++ {
		grad := []float64{2 * (params[0] - 3)}
		opt.Update(params, grad)
	}

	if math.Abs(params[0]-3) > 0.01 {
		t.Errorf("expected convergence to 3, got %g", params[0])
	}
}

func TestAdamLengthMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on mismatched lengths")
		}
	}()
	NewAdam(0.1, 2).Update([]float64{0, 0}, []float64{0})
}

func separableData(rng *rand.Rand, n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		cls := float64(i % 2)
		shift := -2.0
		if cls == 1 {
			shift = 2.0
		}
		x[i] = []float64{shift + rng.NormFloat64()*0.5, rng.NormFloat64()}
		y[i] = cls
	}
	return x, y
}

func argmax(p []float64) int {
	best := 0
	for i := range p {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}

func TestLogisticRegressionSeparable(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x, y := separableData(rng, 200)

	model := NewLogisticRegression(LogisticRegressionConfig{Seed: 7})
	if err := model.Fit(x, y); err != nil {
		t.Fatalf("fit: %v", err)
	}

	correct := 0
	probs, err := model.PredictProba(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i, p := range probs {
		if float64(argmax(p)) == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(y)); acc < 0.95 {
		t.Errorf("accuracy %g below 0.95 on separable data", acc)
	}
}

func TestLogisticRegressionNotFitted(t *testing.T) {
	model := NewLogisticRegression(LogisticRegressionConfig{})
	if _, err := model.PredictProba([][]float64{{0, 0}}); err == nil {
		t.Error("expected error from unfitted model")
	}
}

func gbtData(rng *rand.Rand, n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		if x[i][0] > 0.5 {
			y[i] = 1
		}
	}
	return x, y
}

func TestGBTLearnsThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	x, y := gbtData(rng, 300)

	model := NewGBT(GBTConfig{Trees: 50, Depth: 3, Seed: 11})
	if err := model.Fit(x, y, nil, nil); err != nil {
		t.Fatalf("fit: %v", err)
	}

	probs, err := model.PredictProba(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	correct := 0
	for i, p := range probs {
		pred := 0.0
		if p[1] > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	if acc := float64(correct) / float64(len(y)); acc < 0.95 {
		t.Errorf("accuracy %g below 0.95 on threshold data", acc)
	}
}

func TestGBTEarlyStopping(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	x, y := gbtData(rng, 200)
	vx, vy := gbtData(rng, 100)

	model := NewGBT(GBTConfig{Trees: 500, Depth: 2, Patience: 5, Seed: 13})
	if err := model.Fit(x, y, vx, vy); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if model.BestIteration() >= 500 {
		t.Errorf("expected early stop before 500 trees, best iteration %d", model.BestIteration())
	}
}

func TestGBTSubsampling(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	x, y := gbtData(rng, 300)

	model := NewGBT(GBTConfig{Trees: 30, Depth: 3, SubsampleData: 0.7, SubsampleFeat: 0.66, Seed: 17})
	if err := model.Fit(x, y, nil, nil); err != nil {
		t.Fatalf("fit with subsampling: %v", err)
	}

	probs, err := model.PredictProba([][]float64{{0.9, 0.1, 0.1}, {0.1, 0.9, 0.9}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if probs[0][1] < probs[1][1] {
		t.Errorf("expected higher positive probability for x0 > 0.5: %g vs %g", probs[0][1], probs[1][1])
	}
}

func toySequences(rng *rand.Rand, n, steps, features int) ([][][]float64, []float64) {
	seqs := make([][][]float64, n)
	labels := make([]float64, n)
	for i := range seqs {
		cls := float64(i % 2)
		seq := make([][]float64, steps)
		for s := range seq {
			row := make([]float64, features)
			for f := range row {
				row[f] = rng.NormFloat64()*0.2 + cls
			}
			seq[s] = row
		}
		seqs[i] = seq
		labels[i] = cls
	}
	return seqs, labels
}

func TestTransformerLossDecreases(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	seqs, labels := toySequences(rng, 16, 5, 3)

	model, err := NewTransformer(TransformerConfig{
		Features: 3, Hidden: 8, Heads: 2, Depth: 1, Classes: 2, Seed: 3,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	epochLoss := func() float64 {
		var total float64
		for i, seq := range seqs {
			loss, err := model.Accumulate(seq, labels[i], nil)
			if err != nil {
				t.Fatalf("accumulate: %v", err)
			}
			total += loss
		}
		model.Step(0.01, len(seqs), 1.0)
		return total / float64(len(seqs))
	}

	first := epochLoss()
	var last float64
	for e := 0; e < 30; e++ {
		last = epochLoss()
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %g, last %g", first, last)
	}
}

func TestTransformerPredictShapes(t *testing.T) {
	model, err := NewTransformer(TransformerConfig{Features: 4, Hidden: 8, Heads: 2, Classes: 3, Seed: 1})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	seq := [][]float64{{1, 2, 3, 4}, {0, 0, 0, 0}}
	probs, err := model.Predict(seq)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(probs) != 3 {
		t.Fatalf("expected 3 probabilities, got %d", len(probs))
	}
	var sum float64
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("probabilities sum to %g, want 1", sum)
	}
}

func TestTransformerRegressionHead(t *testing.T) {
	model, err := NewTransformer(TransformerConfig{Features: 2, Hidden: 8, Heads: 2, Classes: 1, Seed: 5})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	out, err := model.Predict([][]float64{{0.5, 0.5}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected single regression output, got %d values", len(out))
	}
}

func TestTransformerInvalidConfig(t *testing.T) {
	if _, err := NewTransformer(TransformerConfig{Features: 3, Hidden: 10, Heads: 3, Classes: 2}); err == nil {
		t.Error("expected error for hidden not divisible by heads")
	}
	if _, err := NewTransformer(TransformerConfig{Classes: 2}); err == nil {
		t.Error("expected error for missing feature count")
	}
}

func TestTransformerSaveLoad(t *testing.T) {
	model, err := NewTransformer(TransformerConfig{Features: 3, Hidden: 8, Heads: 2, Classes: 2, Seed: 9})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	seq := [][]float64{{1, 0, -1}, {0.5, 0.5, 0.5}}
	want, err := model.Predict(seq)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	path := filepath.Join(t.TempDir(), "model.bin")
	if err := model.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadTransformer(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := loaded.Predict(seq)
	if err != nil {
		t.Fatalf("predict after load: %v", err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("prediction %d differs after reload: %g != %g", i, got[i], want[i])
		}
	}
}
