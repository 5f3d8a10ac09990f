// SPDX-License-Identifier: MPL-2.0

package recipes

import (
	"fmt"
	"strings"
)

// Selector picks the feature columns a step operates on. Selection happens
// at fit time against the dataset's current column names, so steps that run
// after column-adding steps see the derived columns too.
type Selector struct {
	desc string
	fn   func(names []string) []string
}

// AllPredictors selects every feature column.
func AllPredictors() Selector {
	return Selector{
		desc: "all predictors",
		fn: func(names []string) []string {
			return append([]string(nil), names...)
		},
	}
}

// Columns selects explicitly named feature columns. Unknown names are
// silently ignored, matching how selectors behave on baked datasets whose
// derived columns differ.
func Columns(cols ...string) Selector {
	return Selector{
		desc: fmt.Sprintf("columns %v", cols),
		fn: func(names []string) []string {
			present := map[string]bool{}
			for _, n := range names {
				present[n] = true
			}
			var out []string
			for _, c := range cols {
				if present[c] {
					out = append(out, c)
				}
			}
			return out
		},
	}
}

// Prefix selects feature columns whose name starts with p.
func Prefix(p string) Selector {
	return Selector{
		desc: fmt.Sprintf("prefix %q", p),
		fn: func(names []string) []string {
			var out []string
			for _, n := range names {
				if strings.HasPrefix(n, p) {
					out = append(out, n)
				}
			}
			return out
		},
	}
}

// Select returns the matching column names.
func (s Selector) Select(names []string) []string {
	return s.fn(names)
}

// String describes the selector for step descriptions.
func (s Selector) String() string {
	return s.desc
}
