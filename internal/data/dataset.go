// SPDX-License-Identifier: MPL-2.0

// Package data loads clinical time-series datasets and prepares stay-level
// splits for the benchmark tasks.
package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
)

var (
	// ErrEmptyDataset is returned when a dataset file contains no stays.
	ErrEmptyDataset = errors.New("dataset contains no stays")
	// ErrBadHeader is returned when the CSV header is not stay_id,time,...,label.
	ErrBadHeader = errors.New("malformed dataset header")
	// ErrBadSplit is returned for split fractions that do not leave room
	// for all three partitions.
	ErrBadSplit = errors.New("invalid split fractions")
)

type (
	// Stay is one ICU stay: a [T][F] matrix of observations at increasing
	// times. Missing observations are NaN until a recipe imputes them.
	Stay struct {
		ID       int
		Times    []float64
		Features [][]float64
	}

	// Dataset is a set of stays with one label per stay. Preprocessing
	// recipes mutate Features (and may append columns); splits share no
	// stays, never mere rows, so no patient leaks across partitions.
	Dataset struct {
		Task         Task
		FeatureNames []string
		Stays        []Stay
		Labels       []float64
	}
)

// LoadCSV reads a dataset in the benchmark layout:
//
//	stay_id,time,<feature...>,label
//
// Rows are grouped by stay_id (rows of one stay must be contiguous and
// time-ordered, which is how the extraction scripts emit them). Empty feature
// cells become NaN. The label is taken from the stay's last row.
func LoadCSV(path string, task Task) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 4 || header[0] != "stay_id" || header[1] != "time" || header[len(header)-1] != "label" {
		return nil, fmt.Errorf("%w: got %v", ErrBadHeader, header)
	}

	ds := &Dataset{
		Task:         task,
		FeatureNames: append([]string(nil), header[2:len(header)-1]...),
	}
	nFeat := len(ds.FeatureNames)

	var (
		cur      *Stay
		curLabel float64
	)
	flush := func() {
		if cur != nil {
			ds.Stays = append(ds.Stays, *cur)
			ds.Labels = append(ds.Labels, curLabel)
		}
	}

	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		stayID, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad stay_id %q", line, rec[0])
		}
		tm, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad time %q", line, rec[1])
		}

		row := make([]float64, nFeat)
		for j := 0; j < nFeat; j++ {
			cell := rec[2+j]
			if cell == "" {
				row[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad value %q for %s", line, cell, ds.FeatureNames[j])
			}
			row[j] = v
		}

		label, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad label %q", line, rec[len(rec)-1])
		}

		if cur == nil || cur.ID != stayID {
			flush()
			cur = &Stay{ID: stayID}
		}
		cur.Times = append(cur.Times, tm)
		cur.Features = append(cur.Features, row)
		curLabel = label
	}
	flush()

	if len(ds.Stays) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyDataset)
	}
	return ds, nil
}

// NumStays returns the number of stays.
func (d *Dataset) NumStays() int { return len(d.Stays) }

// NumFeatures returns the current feature column count.
func (d *Dataset) NumFeatures() int { return len(d.FeatureNames) }

// Split partitions the dataset by stay into train/val/test using the given
// fractions for train and val (test takes the remainder). The shuffle is
// seeded so every seed of a run sees the same partition.
func (d *Dataset) Split(seed int64, trainFrac, valFrac float64) (train, val, test *Dataset, err error) {
	if trainFrac <= 0 || valFrac <= 0 || trainFrac+valFrac >= 1 {
		return nil, nil, nil, fmt.Errorf("%w: train=%g val=%g", ErrBadSplit, trainFrac, valFrac)
	}

	n := len(d.Stays)
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	nTrain := int(math.Round(float64(n) * trainFrac))
	nVal := int(math.Round(float64(n) * valFrac))
	if nTrain == 0 || nVal == 0 || nTrain+nVal >= n {
		return nil, nil, nil, fmt.Errorf("%w: %d stays cannot fill all partitions", ErrBadSplit, n)
	}

	pick := func(idx []int) *Dataset {
		sub := &Dataset{
			Task:         d.Task,
			FeatureNames: append([]string(nil), d.FeatureNames...),
		}
		for _, i := range idx {
			sub.Stays = append(sub.Stays, d.Stays[i].clone())
			sub.Labels = append(sub.Labels, d.Labels[i])
		}
		return sub
	}

	train = pick(perm[:nTrain])
	val = pick(perm[nTrain : nTrain+nVal])
	test = pick(perm[nTrain+nVal:])
	return train, val, test, nil
}

func (s Stay) clone() Stay {
	out := Stay{
		ID:       s.ID,
		Times:    append([]float64(nil), s.Times...),
		Features: make([][]float64, len(s.Features)),
	}
	for i, row := range s.Features {
		out.Features[i] = append([]float64(nil), row...)
	}
	return out
}

// Balance returns per-class weights n/(k*count) for classification labels,
// the "balanced" weight mode of the trainers. Regression tasks get nil.
func (d *Dataset) Balance() []float64 {
	if d.Task.Kind == Regression {
		return nil
	}
	k := d.Task.Classes
	counts := make([]float64, k)
	for _, y := range d.Labels {
		c := int(y)
		if c >= 0 && c < k {
			counts[c]++
		}
	}
	n := float64(len(d.Labels))
	weights := make([]float64, k)
	for c, cnt := range counts {
		if cnt > 0 {
			weights[c] = n / (float64(k) * cnt)
		}
	}
	return weights
}

// TabularXY flattens the dataset for the tabular (non-sequence) models: one
// row per stay, taken from the stay's final timestep. Recipes that accumulate
// running statistics (historical min/max/mean) make that final row a summary
// of the whole stay, which is what the tree and linear models consume.
func (d *Dataset) TabularXY() (x [][]float64, y []float64) {
	x = make([][]float64, len(d.Stays))
	for i, stay := range d.Stays {
		last := stay.Features[len(stay.Features)-1]
		x[i] = append([]float64(nil), last...)
	}
	return x, append([]float64(nil), d.Labels...)
}

// AppendFeature adds a derived feature column. values holds one column per
// stay, aligned with Stays; each inner slice must match the stay length.
func (d *Dataset) AppendFeature(name string, values [][]float64) error {
	if len(values) != len(d.Stays) {
		return fmt.Errorf("append feature %s: %d column groups for %d stays", name, len(values), len(d.Stays))
	}
	for i := range d.Stays {
		if len(values[i]) != len(d.Stays[i].Features) {
			return fmt.Errorf("append feature %s: stay %d has %d rows, got %d values",
				name, d.Stays[i].ID, len(d.Stays[i].Features), len(values[i]))
		}
		for t := range d.Stays[i].Features {
			d.Stays[i].Features[t] = append(d.Stays[i].Features[t], values[i][t])
		}
	}
	d.FeatureNames = append(d.FeatureNames, name)
	return nil
}
