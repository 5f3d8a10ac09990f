// SPDX-License-Identifier: MPL-2.0

package models

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrNotFitted is returned when Predict runs before Fit.
var ErrNotFitted = errors.New("model not fitted")

// LogisticRegressionConfig configures the linear baseline.
// Zero values are replaced with defaults by NewLogisticRegression.
type LogisticRegressionConfig struct {
	Classes      int     // label cardinality; 2 for binary (default 2)
	LearningRate float64 // default 0.1
	Epochs       int     // default 200
	BatchSize    int     // default 32
	L2           float64 // weight decay, default 0
	ClassWeights []float64
	Seed         int64
}

// LogisticRegression is a multinomial logistic regression trained with
// minibatch Adam. It serves as the linear baseline for classification
// tasks.
type LogisticRegression struct {
	cfg LogisticRegressionConfig

	// w holds Classes rows of (features + 1) columns, bias last.
	w      [][]float64
	fitted bool
}

// NewLogisticRegression creates the model, applying config defaults.
func NewLogisticRegression(cfg LogisticRegressionConfig) *LogisticRegression {
	if cfg.Classes == 0 {
		cfg.Classes = 2
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 200
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 32
	}
	return &LogisticRegression{cfg: cfg}
}

// Fit trains on the tabular matrix x with integer-valued labels y.
func (m *LogisticRegression) Fit(x [][]float64, y []float64) error {
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	nFeat := len(x[0])
	k := m.cfg.Classes

	rng := rand.New(rand.NewSource(m.cfg.Seed))
	m.w = make([][]float64, k)
	for c := range m.w {
		m.w[c] = make([]float64, nFeat+1)
		for j := 0; j <= nFeat; j++ {
			m.w[c][j] = 0.01 * rng.NormFloat64()
		}
	}

	flat := make([]float64, 0, k*(nFeat+1))
	for _, row := range m.w {
		flat = append(flat, row...)
	}
	grads := make([]float64, len(flat))
	opt := NewAdam(m.cfg.LearningRate, len(flat))

	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}

	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		for start := 0; start < len(idx); start += m.cfg.BatchSize {
			end := start + m.cfg.BatchSize
			if end > len(idx) {
				end = len(idx)
			}
			batch := idx[start:end]

			for i := range grads {
				grads[i] = 0
			}

			for _, i := range batch {
				probs := softmaxLogits(m.logits(flat, x[i], nFeat, k))
				target := int(y[i])
				if target < 0 || target >= k {
					return fmt.Errorf("label %g out of range for %d classes", y[i], k)
				}

				weight := 1.0
				if len(m.cfg.ClassWeights) == k {
					weight = m.cfg.ClassWeights[target]
				}

				// dL/dlogit_c = p_c - 1{c==target}, scaled by class weight.
				for c := 0; c < k; c++ {
					d := probs[c]
					if c == target {
						d -= 1
					}
					d *= weight
					base := c * (nFeat + 1)
					for j := 0; j < nFeat; j++ {
						grads[base+j] += d * x[i][j]
					}
					grads[base+nFeat] += d
				}
			}

			scale := 1.0 / float64(len(batch))
			for i := range grads {
				grads[i] = grads[i]*scale + m.cfg.L2*flat[i]
			}
			opt.Update(flat, grads)
		}
	}

	for c := range m.w {
		copy(m.w[c], flat[c*(nFeat+1):(c+1)*(nFeat+1)])
	}
	m.fitted = true
	return nil
}

func (m *LogisticRegression) logits(flat []float64, row []float64, nFeat, k int) []float64 {
	out := make([]float64, k)
	for c := 0; c < k; c++ {
		base := c * (nFeat + 1)
		sum := flat[base+nFeat] // bias
		for j := 0; j < nFeat; j++ {
			sum += flat[base+j] * row[j]
		}
		out[c] = sum
	}
	return out
}

// PredictProba returns per-class probabilities for each row of x.
func (m *LogisticRegression) PredictProba(x [][]float64) ([][]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	nFeat := len(m.w[0]) - 1
	k := len(m.w)

	out := make([][]float64, len(x))
	for i, row := range x {
		logits := make([]float64, k)
		for c := 0; c < k; c++ {
			sum := m.w[c][nFeat]
			for j := 0; j < nFeat && j < len(row); j++ {
				sum += m.w[c][j] * row[j]
			}
			logits[c] = sum
		}
		out[i] = softmaxLogits(logits)
	}
	return out, nil
}

// softmaxLogits computes a numerically stable softmax.
func softmaxLogits(logits []float64) []float64 {
	maxV := logits[0]
	for _, v := range logits {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
