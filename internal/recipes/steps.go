// SPDX-License-Identifier: MPL-2.0

package recipes

import (
	"fmt"
	"math"

	"icu-benchmarks/internal/data"

	"gonum.org/v1/gonum/stat"
)

// FillMethod selects how ImputeFill replaces missing values.
type FillMethod string

const (
	// FillConstant replaces NaNs with a fixed value.
	FillConstant FillMethod = "constant"
	// FillForward carries the last observation forward within a stay.
	FillForward FillMethod = "ffill"
)

type (
	// ImputeFill replaces missing observations, either with a constant or by
	// forward-filling within each stay. Forward fill never crosses stay
	// boundaries. Limit caps how many consecutive NaNs a forward fill may
	// bridge (0 means unlimited).
	ImputeFill struct {
		Sel    Selector
		Method FillMethod
		Value  float64
		Limit  int

		cols    []string
		trained bool
	}

	// Scale standardizes columns to zero mean and unit variance using
	// statistics learned at fit time. WithMean and WithStd toggle each part.
	Scale struct {
		Sel      Selector
		WithMean bool
		WithStd  bool

		cols    []string
		means   map[string]float64
		stds    map[string]float64
		trained bool
	}

	// HistoricalFun is a running aggregate over a stay's observations so far.
	HistoricalFun string

	// Historical appends running-aggregate columns (<col>_<suffix>) per
	// stay: at each timestep the aggregate covers observations up to and
	// including that timestep. NaNs are skipped; the aggregate stays NaN
	// until the first observation.
	Historical struct {
		Sel    Selector
		Fun    HistoricalFun
		Suffix string

		cols    []string
		trained bool
	}
)

const (
	// HistMax tracks the running maximum.
	HistMax HistoricalFun = "max"
	// HistMin tracks the running minimum.
	HistMin HistoricalFun = "min"
	// HistMean tracks the running mean.
	HistMean HistoricalFun = "mean"
)

// NewImputeFill builds a constant-fill imputation step.
func NewImputeFill(sel Selector, value float64) *ImputeFill {
	return &ImputeFill{Sel: sel, Method: FillConstant, Value: value}
}

// NewForwardFill builds a forward-fill imputation step. limit caps how many
// consecutive missing steps get bridged; 0 means unlimited.
func NewForwardFill(sel Selector, limit int) *ImputeFill {
	return &ImputeFill{Sel: sel, Method: FillForward, Limit: limit}
}

// Fit records the selected columns.
func (s *ImputeFill) Fit(ds *data.Dataset) error {
	s.cols = s.Sel.Select(ds.FeatureNames)
	if len(s.cols) == 0 {
		return ErrNoColumns
	}
	s.trained = true
	return nil
}

// Transform fills missing values in place.
func (s *ImputeFill) Transform(ds *data.Dataset) error {
	if !s.trained {
		return ErrNotTrained
	}
	idx, err := columnIndices(ds, s.cols)
	if err != nil {
		return err
	}

	for si := range ds.Stays {
		stay := &ds.Stays[si]
		for _, j := range idx {
			last := math.NaN()
			gap := 0
			for t := range stay.Features {
				v := stay.Features[t][j]
				if !math.IsNaN(v) {
					last, gap = v, 0
					continue
				}
				switch s.Method {
				case FillConstant:
					stay.Features[t][j] = s.Value
				case FillForward:
					gap++
					if math.IsNaN(last) {
						continue // nothing observed yet
					}
					if s.Limit > 0 && gap > s.Limit {
						continue
					}
					stay.Features[t][j] = last
				}
			}
		}
	}
	return nil
}

// Desc describes the step.
func (s *ImputeFill) Desc() string {
	if s.Method == FillForward {
		return fmt.Sprintf("Impute with ffill for %s", s.Sel)
	}
	return fmt.Sprintf("Impute with %g for %s", s.Value, s.Sel)
}

// Trained reports whether Fit has run.
func (s *ImputeFill) Trained() bool { return s.trained }

// NewScale builds a standard scaler over the selected columns.
func NewScale(sel Selector) *Scale {
	return &Scale{Sel: sel, WithMean: true, WithStd: true}
}

// Fit learns per-column mean and standard deviation, ignoring NaNs.
func (s *Scale) Fit(ds *data.Dataset) error {
	s.cols = s.Sel.Select(ds.FeatureNames)
	if len(s.cols) == 0 {
		return ErrNoColumns
	}
	idx, err := columnIndices(ds, s.cols)
	if err != nil {
		return err
	}

	s.means = map[string]float64{}
	s.stds = map[string]float64{}
	for k, j := range idx {
		var values []float64
		for _, stay := range ds.Stays {
			for t := range stay.Features {
				if v := stay.Features[t][j]; !math.IsNaN(v) {
					values = append(values, v)
				}
			}
		}
		col := s.cols[k]
		if len(values) == 0 {
			s.means[col], s.stds[col] = 0, 1
			continue
		}
		mean, std := stat.MeanStdDev(values, nil)
		if math.IsNaN(std) || std == 0 {
			std = 1 // constant column: center only
		}
		s.means[col] = mean
		s.stds[col] = std
	}
	s.trained = true
	return nil
}

// Transform standardizes the selected columns in place. NaNs pass through
// untouched so scaling composes with later imputation either way around.
func (s *Scale) Transform(ds *data.Dataset) error {
	if !s.trained {
		return ErrNotTrained
	}
	idx, err := columnIndices(ds, s.cols)
	if err != nil {
		return err
	}

	for k, j := range idx {
		mean, std := 0.0, 1.0
		if s.WithMean {
			mean = s.means[s.cols[k]]
		}
		if s.WithStd {
			std = s.stds[s.cols[k]]
		}
		for si := range ds.Stays {
			stay := &ds.Stays[si]
			for t := range stay.Features {
				if v := stay.Features[t][j]; !math.IsNaN(v) {
					stay.Features[t][j] = (v - mean) / std
				}
			}
		}
	}
	return nil
}

// Desc describes the step.
func (s *Scale) Desc() string {
	return fmt.Sprintf("Scale with mean (%t) and std (%t) for %s", s.WithMean, s.WithStd, s.Sel)
}

// Trained reports whether Fit has run.
func (s *Scale) Trained() bool { return s.trained }

// Mean returns the fitted mean for col (for inverse transforms).
func (s *Scale) Mean(col string) (float64, bool) {
	v, ok := s.means[col]
	return v, ok
}

// Std returns the fitted standard deviation for col.
func (s *Scale) Std(col string) (float64, bool) {
	v, ok := s.stds[col]
	return v, ok
}

// NewHistorical builds a running-aggregate step. An empty suffix defaults to
// the function name, giving columns like hr_max.
func NewHistorical(sel Selector, fun HistoricalFun, suffix string) *Historical {
	if suffix == "" {
		suffix = string(fun)
	}
	return &Historical{Sel: sel, Fun: fun, Suffix: suffix}
}

// Fit records the selected columns.
func (s *Historical) Fit(ds *data.Dataset) error {
	s.cols = s.Sel.Select(ds.FeatureNames)
	if len(s.cols) == 0 {
		return ErrNoColumns
	}
	switch s.Fun {
	case HistMax, HistMin, HistMean:
	default:
		return fmt.Errorf("unsupported historical function %q", s.Fun)
	}
	s.trained = true
	return nil
}

// Transform appends one running-aggregate column per selected column.
func (s *Historical) Transform(ds *data.Dataset) error {
	if !s.trained {
		return ErrNotTrained
	}
	idx, err := columnIndices(ds, s.cols)
	if err != nil {
		return err
	}

	for k, j := range idx {
		values := make([][]float64, len(ds.Stays))
		for si, stay := range ds.Stays {
			col := make([]float64, len(stay.Features))
			acc := math.NaN()
			sum, count := 0.0, 0.0
			for t := range stay.Features {
				v := stay.Features[t][j]
				if !math.IsNaN(v) {
					switch s.Fun {
					case HistMax:
						if math.IsNaN(acc) || v > acc {
							acc = v
						}
					case HistMin:
						if math.IsNaN(acc) || v < acc {
							acc = v
						}
					case HistMean:
						sum += v
						count++
						acc = sum / count
					}
				}
				col[t] = acc
			}
			values[si] = col
		}
		name := s.cols[k] + "_" + s.Suffix
		if err := ds.AppendFeature(name, values); err != nil {
			return err
		}
	}
	return nil
}

// Desc describes the step.
func (s *Historical) Desc() string {
	return fmt.Sprintf("Create historical %s for %s", s.Fun, s.Sel)
}

// Trained reports whether Fit has run.
func (s *Historical) Trained() bool { return s.trained }
