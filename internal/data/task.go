// SPDX-License-Identifier: MPL-2.0

package data

import (
	"errors"
	"fmt"
	"sort"
)

// TaskKind selects the prediction target type, which in turn selects the
// metric set and model head.
type TaskKind int

const (
	// BinaryClassification predicts a single probability per stay.
	BinaryClassification TaskKind = iota
	// MulticlassClassification predicts one of Task.Classes labels per stay.
	MulticlassClassification
	// Regression predicts a continuous value per stay.
	Regression
)

// ErrUnknownTask is returned when the -t flag names no registered task.
var ErrUnknownTask = errors.New("unknown task")

// Task describes a benchmark prediction target.
type Task struct {
	// Name is the identifier passed via the -t flag.
	Name string

	// Kind selects metrics and model head.
	Kind TaskKind

	// Classes is the label cardinality for multiclass tasks, 2 for binary,
	// 0 for regression.
	Classes int

	// File is the dataset file name under <data_dir>/<source>/.
	File string
}

// tasks is the benchmark task registry.
var tasks = map[string]Task{
	"mortality24": {Name: "mortality24", Kind: BinaryClassification, Classes: 2, File: "mortality24.csv"},
	"aki":         {Name: "aki", Kind: BinaryClassification, Classes: 2, File: "aki.csv"},
	"sepsis":      {Name: "sepsis", Kind: BinaryClassification, Classes: 2, File: "sepsis.csv"},
	"phenotyping": {Name: "phenotyping", Kind: MulticlassClassification, Classes: 3, File: "phenotyping.csv"},
	"los":         {Name: "los", Kind: Regression, File: "los.csv"},
}

// LookupTask resolves a task name from the registry.
func LookupTask(name string) (Task, error) {
	t, ok := tasks[name]
	if !ok {
		return Task{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownTask, name, TaskNames())
	}
	return t, nil
}

// TaskNames returns the registered task names, sorted.
func TaskNames() []string {
	names := make([]string, 0, len(tasks))
	for name := range tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns the task kind as a human-readable label.
func (k TaskKind) String() string {
	switch k {
	case BinaryClassification:
		return "binary"
	case MulticlassClassification:
		return "multiclass"
	case Regression:
		return "regression"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}
