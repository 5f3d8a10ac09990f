// SPDX-License-Identifier: MPL-2.0

package experiment

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ScalarWriter persists per-step training scalars as one append-only CSV per
// tag under a split directory (tensorboard/train, tensorboard/val). The
// layout mirrors an event-file tree without the binary format so runs stay
// greppable. Writes are buffered and flushed every FlushEvery records.
type ScalarWriter struct {
	dir        string
	flushEvery int

	mu      sync.Mutex
	files   map[string]*os.File
	pending int
}

// NewScalarWriter creates the split directory and returns a writer.
// flushEvery values below 1 flush on every record.
func NewScalarWriter(dir string, flushEvery int) (*ScalarWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &ScalarWriter{
		dir:        dir,
		flushEvery: flushEvery,
		files:      map[string]*os.File{},
	}, nil
}

// Log appends one (step, value) record to the tag's CSV, creating the file
// with a header on first use.
func (w *ScalarWriter) Log(tag string, step int, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.files[tag]
	if !ok {
		var err error
		f, err = os.OpenFile(filepath.Join(w.dir, tag+".csv"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		if info.Size() == 0 {
			if _, err := fmt.Fprintln(f, "step,value"); err != nil {
				f.Close()
				return err
			}
		}
		w.files[tag] = f
	}

	if _, err := fmt.Fprintf(f, "%d,%g\n", step, value); err != nil {
		return err
	}

	w.pending++
	if w.pending >= w.flushEvery {
		w.pending = 0
		return f.Sync()
	}
	return nil
}

// Close syncs and closes every open tag file.
func (w *ScalarWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var first error
	for _, f := range w.files {
		if err := f.Sync(); err != nil && first == nil {
			first = err
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.files = map[string]*os.File{}
	return first
}
