// SPDX-License-Identifier: MPL-2.0

package data

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
)

// Synthetic generates a dataset with a learnable signal, used by
// 'icubench data synth' to produce demo datasets and by tests. Each stay gets
// a latent severity score; features are noisy functions of it and the label
// is derived from it per task kind, so models have something real to fit.
// About 10% of feature cells are missing (NaN) to exercise imputation.
func Synthetic(seed int64, stays, steps, features int, task Task) *Dataset {
	rng := rand.New(rand.NewSource(seed))

	ds := &Dataset{Task: task}
	for j := 0; j < features; j++ {
		ds.FeatureNames = append(ds.FeatureNames, fmt.Sprintf("f%02d", j))
	}

	for i := 0; i < stays; i++ {
		severity := rng.NormFloat64()
		stay := Stay{ID: 1000 + i}

		for t := 0; t < steps; t++ {
			stay.Times = append(stay.Times, float64(t))
			row := make([]float64, features)
			for j := 0; j < features; j++ {
				// Odd columns carry the signal, even ones are noise.
				if j%2 == 1 {
					row[j] = severity + 0.5*rng.NormFloat64()
				} else {
					row[j] = rng.NormFloat64()
				}
				if rng.Float64() < 0.1 {
					row[j] = math.NaN()
				}
			}
			stay.Features = append(stay.Features, row)
		}

		var label float64
		switch task.Kind {
		case BinaryClassification:
			if severity > 0 {
				label = 1
			}
		case MulticlassClassification:
			switch {
			case severity < -0.5:
				label = 0
			case severity < 0.5:
				label = 1
			default:
				label = float64(task.Classes - 1)
			}
		case Regression:
			label = 3*severity + 0.2*rng.NormFloat64()
		}

		ds.Stays = append(ds.Stays, stay)
		ds.Labels = append(ds.Labels, label)
	}

	return ds
}

// WriteCSV writes the dataset in the benchmark CSV layout, the inverse of
// LoadCSV. NaN cells are written empty.
func (d *Dataset) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"stay_id", "time"}, d.FeatureNames...)
	header = append(header, "label")
	if err := w.Write(header); err != nil {
		return err
	}

	rec := make([]string, len(header))
	for i, stay := range d.Stays {
		for t, row := range stay.Features {
			rec[0] = strconv.Itoa(stay.ID)
			rec[1] = strconv.FormatFloat(stay.Times[t], 'g', -1, 64)
			for j, v := range row {
				if math.IsNaN(v) {
					rec[2+j] = ""
				} else {
					rec[2+j] = strconv.FormatFloat(v, 'g', -1, 64)
				}
			}
			rec[len(rec)-1] = strconv.FormatFloat(d.Labels[i], 'g', -1, 64)
			if err := w.Write(rec); err != nil {
				return err
			}
		}
	}

	w.Flush()
	return w.Error()
}
