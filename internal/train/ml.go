// SPDX-License-Identifier: MPL-2.0

package train

import (
	"errors"
	"math"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"icu-benchmarks/internal/data"
	"icu-benchmarks/internal/models"
)

// TabularModel is the contract the non-sequence baselines implement. Fit
// may use the eval set for early stopping or ignore it.
type TabularModel interface {
	Fit(x [][]float64, y []float64, xVal [][]float64, yVal []float64) error
	PredictProba(x [][]float64) ([][]float64, error)
}

// rawPredictor is implemented by models with a direct-value head, used for
// regression tasks.
type rawPredictor interface {
	PredictRaw(x [][]float64) ([]float64, error)
}

// LogRegModel adapts LogisticRegression, which has no eval-set early
// stopping, to the TabularModel contract.
type LogRegModel struct {
	*models.LogisticRegression
}

// Fit trains on the training split only; the eval set is ignored.
func (m LogRegModel) Fit(x [][]float64, y []float64, _ [][]float64, _ []float64) error {
	return m.LogisticRegression.Fit(x, y)
}

// MLTrainer fits a tabular baseline on the flattened per-stay rows and
// evaluates it with the task's metric set.
type MLTrainer struct {
	Model  TabularModel
	Invert func(float64) float64 // regression unscaling, may be nil
	Logger *log.Logger
}

// Fit trains on trainDS with valDS as eval set, writes val_metrics.json
// into runDir, and appends to the shared val_metrics.json one level up.
func (t *MLTrainer) Fit(trainDS, valDS *data.Dataset, runDir string) (*Result, error) {
	if t.Model == nil {
		return nil, errors.New("trainer has no model")
	}
	if trainDS == nil || valDS == nil || trainDS.NumStays() == 0 || valDS.NumStays() == 0 {
		return nil, errors.New("train and validation sets must be non-empty")
	}

	logger := t.Logger
	if logger == nil {
		logger = log.New(os.Stderr)
	}

	x, y := trainDS.TabularXY()
	xv, yv := valDS.TabularXY()
	if err := t.Model.Fit(x, y, xv, yv); err != nil {
		return nil, err
	}
	if m, ok := t.Model.(interface{ BestIteration() int }); ok {
		logger.Debug("fit done", "best_iteration", m.BestIteration())
	}

	res, err := t.evaluate(valDS)
	if err != nil {
		return nil, err
	}

	if err := WriteResult(filepath.Join(runDir, "val_metrics.json"), res); err != nil {
		return nil, err
	}
	if err := AppendSharedResult(runDir, "val_metrics.json", res); err != nil {
		return nil, err
	}
	return res, nil
}

// Test evaluates the fitted model on testDS, writing test_metrics.json into
// runDir and appending to the shared test_metrics.json.
func (t *MLTrainer) Test(testDS *data.Dataset, runDir string) (*Result, error) {
	if testDS == nil || testDS.NumStays() == 0 {
		return nil, errors.New("empty test set")
	}
	res, err := t.evaluate(testDS)
	if err != nil {
		return nil, err
	}
	if err := WriteResult(filepath.Join(runDir, "test_metrics.json"), res); err != nil {
		return nil, err
	}
	if err := AppendSharedResult(runDir, "test_metrics.json", res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *MLTrainer) evaluate(ds *data.Dataset) (*Result, error) {
	x, labels := ds.TabularXY()

	var probs [][]float64
	if ds.Task.Kind == data.Regression {
		raw, ok := t.Model.(rawPredictor)
		if !ok {
			return nil, errors.New("model has no regression head")
		}
		preds, err := raw.PredictRaw(x)
		if err != nil {
			return nil, err
		}
		probs = make([][]float64, len(preds))
		for i, p := range preds {
			probs[i] = []float64{p}
		}
	} else {
		var err error
		probs, err = t.Model.PredictProba(x)
		if err != nil {
			return nil, err
		}
	}

	res, err := Evaluate(ds.Task.Kind, labels, probs, t.Invert)
	if err != nil {
		return nil, err
	}
	res.Loss = lossFromProbs(ds.Task.Kind, labels, probs)
	return res, nil
}

// lossFromProbs computes the validation objective the fitted model was
// optimizing: cross entropy for classification, half squared error for
// regression.
func lossFromProbs(kind data.TaskKind, labels []float64, probs [][]float64) float64 {
	var total float64
	for i, p := range probs {
		switch kind {
		case data.Regression:
			d := p[0] - labels[i]
			total += 0.5 * d * d
		default:
			c := int(labels[i])
			if c < 0 || c >= len(p) {
				continue
			}
			total += -math.Log(math.Max(p[c], 1e-12))
		}
	}
	return total / float64(len(labels))
}
