// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"strings"
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

func TestFormatErrorNil(t *testing.T) {
	if err := FormatError(nil, "config.cue"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestFormatErrorIncludesFileAndPath(t *testing.T) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(`#Config: { workers: int & >=1 }`)
	user := ctx.CompileString(`workers: "four"`)

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	verr := unified.Validate()
	if verr == nil {
		t.Fatal("expected validation error")
	}

	err := FormatError(verr, "config.cue")
	if err == nil {
		t.Fatal("expected formatted error")
	}
	if !strings.Contains(err.Error(), "config.cue") {
		t.Errorf("formatted error missing file path: %v", err)
	}
	if !strings.Contains(err.Error(), "workers") {
		t.Errorf("formatted error missing field path: %v", err)
	}
}

func TestCheckFileSize(t *testing.T) {
	data := make([]byte, 128)

	if err := CheckFileSize(data, 256, "small.cue"); err != nil {
		t.Errorf("expected no error for file under limit, got %v", err)
	}
	if err := CheckFileSize(data, 64, "big.cue"); err == nil {
		t.Error("expected error for file over limit")
	}
}

func TestFormatPath(t *testing.T) {
	tests := []struct {
		name string
		path []string
		want string
	}{
		{"empty", nil, ""},
		{"simple", []string{"workers"}, "workers"},
		{"nested", []string{"tracking", "scalars"}, "tracking.scalars"},
		{"index", []string{"seeds", "0"}, "seeds[0]"},
		{"index then field", []string{"tasks", "2", "name"}, "tasks[2].name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatPath(tt.path); got != tt.want {
				t.Errorf("formatPath(%v) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
