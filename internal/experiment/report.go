// SPDX-License-Identifier: MPL-2.0

package experiment

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Aggregate is one metric summarized across seeds.
type Aggregate struct {
	Metric string
	Mean   float64
	Std    float64
	N      int
}

// RunSummary aggregates one <task>/<model> experiment directory.
type RunSummary struct {
	Task  string
	Model string
	Dir   string
	Val   []Aggregate
	Test  []Aggregate
}

// Report walks a log directory tree, aggregating every shared
// val_metrics.json / test_metrics.json it finds into per-metric mean and
// standard deviation across seeds.
func Report(logDir string) ([]RunSummary, error) {
	dirs := map[string]*RunSummary{}

	err := filepath.WalkDir(logDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if name != "val_metrics.json" && name != "test_metrics.json" {
			return nil
		}
		dir := filepath.Dir(path)
		// Shared files live in the model dir; per-seed copies inside
		// seed_N dirs are skipped to avoid double counting.
		if strings.HasPrefix(filepath.Base(dir), "seed_") {
			return nil
		}

		summary, ok := dirs[dir]
		if !ok {
			summary = &RunSummary{
				Task:  filepath.Base(filepath.Dir(dir)),
				Model: filepath.Base(dir),
				Dir:   dir,
			}
			dirs[dir] = summary
		}

		aggs, err := aggregateShared(path)
		if err != nil {
			return err
		}
		if name == "val_metrics.json" {
			summary.Val = aggs
		} else {
			summary.Test = aggs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]RunSummary, 0, len(dirs))
	for _, s := range dirs {
		out = append(out, *s)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Dir < out[b].Dir })
	return out, nil
}

// aggregateShared summarizes one shared per-seed metrics file. Curve
// entries (objects) are skipped; only scalar metrics aggregate.
func aggregateShared(path string) ([]Aggregate, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var merged map[string]map[string]any
	if err := json.Unmarshal(buf, &merged); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	values := map[string][]float64{}
	for _, seedEntry := range merged {
		for metric, v := range seedEntry {
			if f, ok := v.(float64); ok {
				values[metric] = append(values[metric], f)
			}
		}
	}

	metrics := make([]string, 0, len(values))
	for m := range values {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	aggs := make([]Aggregate, 0, len(metrics))
	for _, m := range metrics {
		vs := values[m]
		agg := Aggregate{Metric: m, Mean: stat.Mean(vs, nil), N: len(vs)}
		if len(vs) > 1 {
			agg.Std = stat.StdDev(vs, nil)
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

// Markdown renders the summaries as a markdown report, one table per
// experiment.
func Markdown(summaries []RunSummary) string {
	var b strings.Builder
	b.WriteString("# Benchmark results\n")

	for _, s := range summaries {
		fmt.Fprintf(&b, "\n## %s / %s\n\n", s.Task, s.Model)
		for _, split := range []struct {
			name string
			aggs []Aggregate
		}{{"validation", s.Val}, {"test", s.Test}} {
			if len(split.aggs) == 0 {
				continue
			}
			fmt.Fprintf(&b, "**%s** (%d seeds)\n\n", split.name, split.aggs[0].N)
			b.WriteString("| metric | mean | std |\n|---|---|---|\n")
			for _, a := range split.aggs {
				fmt.Fprintf(&b, "| %s | %.4f | %.4f |\n", a.Metric, a.Mean, a.Std)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
