// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"math"
	"testing"
)

func almost(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestROCAUCPerfectRanking(t *testing.T) {
	yTrue := []float64{0, 0, 1, 1}
	yScore := []float64{0.1, 0.2, 0.8, 0.9}

	auc, err := ROCAUC(yTrue, yScore)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(auc, 1.0) {
		t.Errorf("AUC = %g, want 1.0 for perfect ranking", auc)
	}
}

func TestROCAUCInvertedRanking(t *testing.T) {
	yTrue := []float64{1, 1, 0, 0}
	yScore := []float64{0.1, 0.2, 0.8, 0.9}

	auc, err := ROCAUC(yTrue, yScore)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(auc, 0.0) {
		t.Errorf("AUC = %g, want 0.0 for inverted ranking", auc)
	}
}

func TestROCAUCKnownValue(t *testing.T) {
	// One discordant pair out of four: AUC = 0.75.
	yTrue := []float64{0, 1, 0, 1}
	yScore := []float64{0.1, 0.4, 0.6, 0.9}

	auc, err := ROCAUC(yTrue, yScore)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(auc, 0.75) {
		t.Errorf("AUC = %g, want 0.75", auc)
	}
}

func TestROCAUCSingleClass(t *testing.T) {
	auc, err := ROCAUC([]float64{1, 1}, []float64{0.2, 0.8})
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(auc) {
		t.Errorf("AUC = %g, want NaN for single-class labels", auc)
	}
}

func TestAveragePrecisionPerfect(t *testing.T) {
	ap, err := AveragePrecision([]float64{0, 1, 1}, []float64{0.1, 0.8, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if !almost(ap, 1.0) {
		t.Errorf("AP = %g, want 1.0", ap)
	}
}

func TestAveragePrecisionKnownValue(t *testing.T) {
	// Ranking: pos(0.9), neg(0.8), pos(0.7), neg(0.1).
	// AP = (1/1 + 2/3) / 2 = 5/6.
	yTrue := []float64{1, 0, 1, 0}
	yScore := []float64{0.9, 0.8, 0.7, 0.1}

	ap, err := AveragePrecision(yTrue, yScore)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(ap, 5.0/6.0) {
		t.Errorf("AP = %g, want %g", ap, 5.0/6.0)
	}
}

func TestPRCurveEndpoints(t *testing.T) {
	curve, err := PRCurve([]float64{0, 1, 1}, []float64{0.2, 0.7, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	if curve.X[0] != 0 || curve.Y[0] != 1 {
		t.Errorf("PR curve should start at recall 0, precision 1; got (%g, %g)", curve.X[0], curve.Y[0])
	}
	last := len(curve.X) - 1
	if curve.X[last] != 1 {
		t.Errorf("PR curve should end at recall 1, got %g", curve.X[last])
	}
}

func TestROCCurveMonotoneRecall(t *testing.T) {
	curve, err := ROCCurve([]float64{0, 1, 0, 1, 1}, []float64{0.1, 0.3, 0.5, 0.7, 0.9})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(curve.X); i++ {
		if curve.X[i] < curve.X[i-1] {
			t.Fatalf("FPR not non-decreasing at %d: %v", i, curve.X)
		}
		if curve.Y[i] < curve.Y[i-1] {
			t.Fatalf("TPR not non-decreasing at %d: %v", i, curve.Y)
		}
	}
}

func TestCalibrationWellCalibrated(t *testing.T) {
	// Scores equal to outcome frequencies per bin.
	yTrue := []float64{0, 0, 0, 0, 1, 1, 1, 1}
	yScore := []float64{0.05, 0.05, 0.05, 0.05, 0.95, 0.95, 0.95, 0.95}

	curve, err := Calibration(yTrue, yScore, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(curve.X) != 2 {
		t.Fatalf("expected 2 occupied bins, got %d", len(curve.X))
	}
	if curve.Y[0] != 0 || curve.Y[1] != 1 {
		t.Errorf("observed fractions = %v, want [0 1]", curve.Y)
	}
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]float64{0, 1, 2, 1}, []float64{0, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if !almost(acc, 0.75) {
		t.Errorf("accuracy = %g, want 0.75", acc)
	}
}

func TestBalancedAccuracy(t *testing.T) {
	// Class 0: 2/2 correct. Class 1: 1/2 correct. Balanced = 0.75.
	yTrue := []float64{0, 0, 1, 1}
	yPred := []float64{0, 0, 1, 0}

	bal, err := BalancedAccuracy(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(bal, 0.75) {
		t.Errorf("balanced accuracy = %g, want 0.75", bal)
	}
}

func TestBalancedAccuracyImbalance(t *testing.T) {
	// A majority-class predictor gets high accuracy but 0.5 balanced accuracy.
	yTrue := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	yPred := make([]float64, 10)

	acc, _ := Accuracy(yTrue, yPred)
	bal, _ := BalancedAccuracy(yTrue, yPred)
	if !almost(acc, 0.9) {
		t.Errorf("accuracy = %g, want 0.9", acc)
	}
	if !almost(bal, 0.5) {
		t.Errorf("balanced accuracy = %g, want 0.5", bal)
	}
}

func TestMAEWithInverse(t *testing.T) {
	yTrue := []float64{0, 1}
	yPred := []float64{0.5, 0.5}

	mae, err := MAE(yTrue, yPred, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !almost(mae, 0.5) {
		t.Errorf("MAE = %g, want 0.5", mae)
	}

	// Inverse transform scales both sides by 10.
	mae, err = MAE(yTrue, yPred, func(v float64) float64 { return 10 * v })
	if err != nil {
		t.Fatal(err)
	}
	if !almost(mae, 5) {
		t.Errorf("MAE with inverse = %g, want 5", mae)
	}
}

func TestArgmax(t *testing.T) {
	probs := [][]float64{
		{0.1, 0.7, 0.2},
		{0.5, 0.3, 0.2},
	}
	got := Argmax(probs)
	if got[0] != 1 || got[1] != 0 {
		t.Errorf("Argmax = %v, want [1 0]", got)
	}
}

func TestLengthMismatch(t *testing.T) {
	if _, err := ROCAUC([]float64{1}, []float64{0.5, 0.6}); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := Accuracy([]float64{1}, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := MAE([]float64{1}, nil, nil); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}
