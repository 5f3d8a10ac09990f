// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
	"testing"
)

func TestActionableErrorMessage(t *testing.T) {
	cause := errors.New("no such file or directory")
	err := NewErrorContext().
		WithOperation("load gin config").
		WithResource("configs/missing.gin").
		Wrap(cause).
		Build()

	want := "failed to load gin config: configs/missing.gin: no such file or directory"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestFormatIncludesSuggestions(t *testing.T) {
	err := NewErrorContext().
		WithOperation("prepare log directory").
		WithResource("/logs/mortality24/seed_1111").
		WithSuggestion("Pass --overwrite to replace the existing run").
		WithSuggestion("Choose a different log directory with -l").
		Build()

	out := err.Format(false)
	if !strings.Contains(out, "Pass --overwrite") {
		t.Errorf("Format() missing first suggestion:\n%s", out)
	}
	if !strings.Contains(out, "different log directory") {
		t.Errorf("Format() missing second suggestion:\n%s", out)
	}
}

func TestFormatVerboseShowsChain(t *testing.T) {
	inner := errors.New("inner cause")
	middle := WrapWithOperation(inner, "parse binding")
	err := NewErrorContext().
		WithOperation("load gin config").
		Wrap(middle).
		Build()

	out := err.Format(true)
	if !strings.Contains(out, "Error chain:") {
		t.Errorf("verbose Format() missing error chain:\n%s", out)
	}
	if !strings.Contains(out, "inner cause") {
		t.Errorf("verbose Format() missing innermost error:\n%s", out)
	}
}

func TestBuildWithoutOperationReturnsNil(t *testing.T) {
	if err := NewErrorContext().WithResource("x").BuildError(); err != nil {
		t.Errorf("expected nil error without operation, got %v", err)
	}
}

func TestWrapWithOperationNil(t *testing.T) {
	if err := WrapWithOperation(nil, "anything"); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
