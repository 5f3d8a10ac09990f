// SPDX-License-Identifier: MPL-2.0

package models

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// GBTObjective selects the boosting loss.
type GBTObjective string

const (
	// ObjectiveLogistic trains on log loss for binary classification.
	ObjectiveLogistic GBTObjective = "logistic"
	// ObjectiveSquared trains on squared error for regression.
	ObjectiveSquared GBTObjective = "squared"
)

// GBTConfig configures the gradient-boosted trees backend. The subsample
// knobs correspond to the --subsample-data / --subsample-feat CLI flags.
// Zero values are replaced with defaults by NewGBT.
type GBTConfig struct {
	Trees         int          // boosting rounds, default 200
	Depth         int          // max tree depth, default 3
	LearningRate  float64      // shrinkage, default 0.1
	SubsampleData float64      // row fraction per tree, default 1.0
	SubsampleFeat float64      // feature fraction per tree, default 1.0
	MinLeaf       int          // minimum samples per leaf, default 5
	Patience      int          // early-stopping rounds on the eval set, default 10
	Objective     GBTObjective // default logistic
	Seed          int64
}

// GBT is a gradient-boosted ensemble of depth-limited regression trees.
// With the logistic objective, leaves carry Newton-step values; with the
// squared objective they carry residual means.
type GBT struct {
	cfg      GBTConfig
	base     float64
	trees    []*gbtNode
	bestIter int
	fitted   bool
}

type gbtNode struct {
	Leaf      bool
	Value     float64
	Feature   int
	Threshold float64
	Left      *gbtNode
	Right     *gbtNode
}

// NewGBT creates the model, applying config defaults.
func NewGBT(cfg GBTConfig) *GBT {
	if cfg.Trees == 0 {
		cfg.Trees = 200
	}
	if cfg.Depth == 0 {
		cfg.Depth = 3
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.1
	}
	if cfg.SubsampleData == 0 {
		cfg.SubsampleData = 1.0
	}
	if cfg.SubsampleFeat == 0 {
		cfg.SubsampleFeat = 1.0
	}
	if cfg.MinLeaf == 0 {
		cfg.MinLeaf = 5
	}
	if cfg.Patience == 0 {
		cfg.Patience = 10
	}
	if cfg.Objective == "" {
		cfg.Objective = ObjectiveLogistic
	}
	return &GBT{cfg: cfg}
}

// Fit trains the ensemble. When an eval set is given, training stops after
// cfg.Patience rounds without validation improvement and the ensemble is
// truncated to its best round.
func (m *GBT) Fit(x [][]float64, y []float64, xVal [][]float64, yVal []float64) error {
	if len(x) == 0 {
		return errors.New("empty training set")
	}
	if m.cfg.SubsampleData <= 0 || m.cfg.SubsampleData > 1 {
		return fmt.Errorf("subsample_data %g out of (0, 1]", m.cfg.SubsampleData)
	}
	if m.cfg.SubsampleFeat <= 0 || m.cfg.SubsampleFeat > 1 {
		return fmt.Errorf("subsample_feat %g out of (0, 1]", m.cfg.SubsampleFeat)
	}

	rng := rand.New(rand.NewSource(m.cfg.Seed))
	nFeat := len(x[0])

	m.base = m.baseScore(y)
	m.trees = nil

	pred := make([]float64, len(x))
	for i := range pred {
		pred[i] = m.base
	}
	var valPred []float64
	if len(xVal) > 0 {
		valPred = make([]float64, len(xVal))
		for i := range valPred {
			valPred[i] = m.base
		}
	}

	bestLoss := math.Inf(1)
	noImprove := 0
	m.bestIter = 0

	for iter := 0; iter < m.cfg.Trees; iter++ {
		grad, hess := m.gradients(y, pred)

		rows := sampleIndices(rng, len(x), m.cfg.SubsampleData)
		feats := sampleIndices(rng, nFeat, m.cfg.SubsampleFeat)

		tree := m.buildTree(x, grad, hess, rows, feats, m.cfg.Depth)
		m.trees = append(m.trees, tree)

		for i := range x {
			pred[i] += m.cfg.LearningRate * tree.eval(x[i])
		}

		if valPred == nil {
			m.bestIter = iter + 1
			continue
		}

		for i := range xVal {
			valPred[i] += m.cfg.LearningRate * tree.eval(xVal[i])
		}
		loss := m.loss(yVal, valPred)
		if loss < bestLoss-1e-12 {
			bestLoss = loss
			m.bestIter = iter + 1
			noImprove = 0
		} else {
			noImprove++
			if noImprove >= m.cfg.Patience {
				break
			}
		}
	}

	m.trees = m.trees[:m.bestIter]
	m.fitted = true
	return nil
}

// baseScore returns the constant initial prediction.
func (m *GBT) baseScore(y []float64) float64 {
	var sum float64
	for _, v := range y {
		sum += v
	}
	mean := sum / float64(len(y))

	if m.cfg.Objective == ObjectiveLogistic {
		// Clamp away from 0/1 so the log-odds stay finite.
		p := math.Min(math.Max(mean, 1e-6), 1-1e-6)
		return math.Log(p / (1 - p))
	}
	return mean
}

// gradients returns the negative gradient and hessian of the loss per sample.
func (m *GBT) gradients(y, pred []float64) (grad, hess []float64) {
	grad = make([]float64, len(y))
	hess = make([]float64, len(y))
	for i := range y {
		if m.cfg.Objective == ObjectiveLogistic {
			p := sigmoid(pred[i])
			grad[i] = y[i] - p
			hess[i] = math.Max(p*(1-p), 1e-12)
		} else {
			grad[i] = y[i] - pred[i]
			hess[i] = 1
		}
	}
	return grad, hess
}

// loss evaluates the objective on raw scores.
func (m *GBT) loss(y, pred []float64) float64 {
	var sum float64
	for i := range y {
		if m.cfg.Objective == ObjectiveLogistic {
			p := sigmoid(pred[i])
			p = math.Min(math.Max(p, 1e-12), 1-1e-12)
			if y[i] == 1 {
				sum -= math.Log(p)
			} else {
				sum -= math.Log(1 - p)
			}
		} else {
			d := y[i] - pred[i]
			sum += d * d
		}
	}
	return sum / float64(len(y))
}

// buildTree grows a depth-limited regression tree on the gradient targets
// using variance-reduction splits over the sampled rows and features.
func (m *GBT) buildTree(x [][]float64, grad, hess []float64, rows, feats []int, depth int) *gbtNode {
	if depth == 0 || len(rows) < 2*m.cfg.MinLeaf {
		return m.leaf(grad, hess, rows)
	}

	bestGain := 0.0
	bestFeat := -1
	bestThreshold := 0.0

	var gSum, hSum float64
	for _, i := range rows {
		gSum += grad[i]
		hSum += hess[i]
	}
	parentScore := gSum * gSum / (hSum + 1e-12)

	for _, f := range feats {
		sorted := append([]int(nil), rows...)
		sort.Slice(sorted, func(a, b int) bool { return x[sorted[a]][f] < x[sorted[b]][f] })

		var gLeft, hLeft float64
		for k := 0; k < len(sorted)-1; k++ {
			i := sorted[k]
			gLeft += grad[i]
			hLeft += hess[i]

			// No split between equal feature values.
			if x[sorted[k]][f] == x[sorted[k+1]][f] {
				continue
			}
			nLeft := k + 1
			nRight := len(sorted) - nLeft
			if nLeft < m.cfg.MinLeaf || nRight < m.cfg.MinLeaf {
				continue
			}

			gRight := gSum - gLeft
			hRight := hSum - hLeft
			gain := gLeft*gLeft/(hLeft+1e-12) + gRight*gRight/(hRight+1e-12) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeat = f
				bestThreshold = (x[sorted[k]][f] + x[sorted[k+1]][f]) / 2
			}
		}
	}

	if bestFeat < 0 {
		return m.leaf(grad, hess, rows)
	}

	var left, right []int
	for _, i := range rows {
		if x[i][bestFeat] < bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &gbtNode{
		Feature:   bestFeat,
		Threshold: bestThreshold,
		Left:      m.buildTree(x, grad, hess, left, feats, depth-1),
		Right:     m.buildTree(x, grad, hess, right, feats, depth-1),
	}
}

// leaf computes the Newton-step leaf value sum(g)/sum(h).
func (m *GBT) leaf(grad, hess []float64, rows []int) *gbtNode {
	var g, h float64
	for _, i := range rows {
		g += grad[i]
		h += hess[i]
	}
	return &gbtNode{Leaf: true, Value: g / (h + 1e-12)}
}

func (n *gbtNode) eval(row []float64) float64 {
	for !n.Leaf {
		if row[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Value
}

// BestIteration returns the boosting round the ensemble was truncated to.
func (m *GBT) BestIteration() int { return m.bestIter }

// PredictRaw returns raw scores: log-odds for logistic, values for squared.
func (m *GBT) PredictRaw(x [][]float64) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(x))
	for i, row := range x {
		score := m.base
		for _, tree := range m.trees {
			score += m.cfg.LearningRate * tree.eval(row)
		}
		out[i] = score
	}
	return out, nil
}

// PredictProba returns [P(0), P(1)] rows for the logistic objective.
func (m *GBT) PredictProba(x [][]float64) ([][]float64, error) {
	if m.cfg.Objective != ObjectiveLogistic {
		return nil, fmt.Errorf("PredictProba requires the logistic objective, have %s", m.cfg.Objective)
	}
	raw, err := m.PredictRaw(x)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(raw))
	for i, score := range raw {
		p := sigmoid(score)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// sampleIndices draws ceil(frac*n) indices without replacement; frac 1 keeps
// every index in order.
func sampleIndices(rng *rand.Rand, n int, frac float64) []int {
	if frac >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := int(math.Ceil(frac * float64(n)))
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)
	idx := append([]int(nil), perm[:k]...)
	sort.Ints(idx)
	return idx
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
