// SPDX-License-Identifier: MPL-2.0

// Package metrics implements the evaluation metrics recorded per prediction
// task: AUROC, average precision and the associated curves for binary tasks,
// accuracy and balanced accuracy for multiclass tasks, and MAE for
// regression. All functions are pure over label/score slices.
package metrics

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ErrLengthMismatch is returned when labels and scores differ in length.
var ErrLengthMismatch = errors.New("labels and scores have different lengths")

// Curve holds the points of a ROC, precision-recall, or calibration curve.
type Curve struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// ROCAUC computes the area under the ROC curve for binary labels (0/1)
// against scores (higher means more positive). Degenerate inputs with a
// single class return NaN.
func ROCAUC(yTrue, yScore []float64) (float64, error) {
	if len(yTrue) != len(yScore) {
		return 0, ErrLengthMismatch
	}
	scores, classes := sortedByScore(yTrue, yScore)
	if singleClass(classes) {
		return math.NaN(), nil
	}

	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// ROCCurve returns the ROC curve points (X = FPR, Y = TPR).
func ROCCurve(yTrue, yScore []float64) (Curve, error) {
	if len(yTrue) != len(yScore) {
		return Curve{}, ErrLengthMismatch
	}
	scores, classes := sortedByScore(yTrue, yScore)
	tpr, fpr, _ := stat.ROC(nil, scores, classes, nil)
	return Curve{X: fpr, Y: tpr}, nil
}

// AveragePrecision computes AUPRC as the step integral of the
// precision-recall curve: sum over positives of precision at each recall step.
func AveragePrecision(yTrue, yScore []float64) (float64, error) {
	if len(yTrue) != len(yScore) {
		return 0, ErrLengthMismatch
	}

	order := descendingOrder(yScore)
	var totalPos float64
	for _, y := range yTrue {
		if y == 1 {
			totalPos++
		}
	}
	if totalPos == 0 || totalPos == float64(len(yTrue)) {
		return math.NaN(), nil
	}

	var tp, fp, ap float64
	for _, i := range order {
		if yTrue[i] == 1 {
			tp++
			precision := tp / (tp + fp)
			ap += precision / totalPos
		} else {
			fp++
		}
	}
	return ap, nil
}

// PRCurve returns the precision-recall curve points (X = recall, Y = precision).
func PRCurve(yTrue, yScore []float64) (Curve, error) {
	if len(yTrue) != len(yScore) {
		return Curve{}, ErrLengthMismatch
	}

	order := descendingOrder(yScore)
	var totalPos float64
	for _, y := range yTrue {
		if y == 1 {
			totalPos++
		}
	}

	curve := Curve{X: []float64{0}, Y: []float64{1}}
	var tp, fp float64
	for _, i := range order {
		if yTrue[i] == 1 {
			tp++
		} else {
			fp++
		}
		if totalPos > 0 {
			curve.X = append(curve.X, tp/totalPos)
			curve.Y = append(curve.Y, tp/(tp+fp))
		}
	}
	return curve, nil
}

// Calibration bins predictions into equal-width probability bins and returns
// mean predicted probability (X) against observed positive fraction (Y) per
// non-empty bin.
func Calibration(yTrue, yScore []float64, bins int) (Curve, error) {
	if len(yTrue) != len(yScore) {
		return Curve{}, ErrLengthMismatch
	}
	if bins < 1 {
		bins = 10
	}

	sumScore := make([]float64, bins)
	sumPos := make([]float64, bins)
	count := make([]float64, bins)
	for i, s := range yScore {
		b := int(s * float64(bins))
		if b >= bins {
			b = bins - 1
		}
		if b < 0 {
			b = 0
		}
		sumScore[b] += s
		sumPos[b] += yTrue[i]
		count[b]++
	}

	var curve Curve
	for b := 0; b < bins; b++ {
		if count[b] == 0 {
			continue
		}
		curve.X = append(curve.X, sumScore[b]/count[b])
		curve.Y = append(curve.Y, sumPos[b]/count[b])
	}
	return curve, nil
}

// Accuracy computes the fraction of exact label matches.
func Accuracy(yTrue, yPred []float64) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, ErrLengthMismatch
	}
	if len(yTrue) == 0 {
		return math.NaN(), nil
	}
	var correct float64
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return correct / float64(len(yTrue)), nil
}

// BalancedAccuracy computes the mean per-class recall, which compensates for
// class imbalance in the accuracy number.
func BalancedAccuracy(yTrue, yPred []float64) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, ErrLengthMismatch
	}

	total := map[float64]float64{}
	correct := map[float64]float64{}
	for i := range yTrue {
		total[yTrue[i]]++
		if yTrue[i] == yPred[i] {
			correct[yTrue[i]]++
		}
	}
	if len(total) == 0 {
		return math.NaN(), nil
	}

	var sum float64
	for class, n := range total {
		sum += correct[class] / n
	}
	return sum / float64(len(total)), nil
}

// MAE computes mean absolute error. invert, when non-nil, maps predictions
// and labels back to their original units (the label scaler's inverse).
func MAE(yTrue, yPred []float64, invert func(float64) float64) (float64, error) {
	if len(yTrue) != len(yPred) {
		return 0, ErrLengthMismatch
	}
	if len(yTrue) == 0 {
		return math.NaN(), nil
	}

	var sum float64
	for i := range yTrue {
		a, b := yTrue[i], yPred[i]
		if invert != nil {
			a, b = invert(a), invert(b)
		}
		sum += math.Abs(a - b)
	}
	return sum / float64(len(yTrue)), nil
}

// Argmax returns the index of the largest probability per row, as float64
// labels for the multiclass metrics.
func Argmax(probs [][]float64) []float64 {
	out := make([]float64, len(probs))
	for i, row := range probs {
		best := 0
		for j, p := range row {
			if p > row[best] {
				best = j
			}
		}
		out[i] = float64(best)
	}
	return out
}

// sortedByScore returns scores in ascending order with the matching class
// booleans, the layout stat.ROC requires.
func sortedByScore(yTrue, yScore []float64) ([]float64, []bool) {
	order := make([]int, len(yScore))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return yScore[order[a]] < yScore[order[b]] })

	scores := make([]float64, len(order))
	classes := make([]bool, len(order))
	for k, i := range order {
		scores[k] = yScore[i]
		classes[k] = yTrue[i] == 1
	}
	return scores, classes
}

func descendingOrder(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	return order
}

func singleClass(classes []bool) bool {
	if len(classes) == 0 {
		return true
	}
	first := classes[0]
	for _, c := range classes {
		if c != first {
			return false
		}
	}
	return true
}
