// SPDX-License-Identifier: MPL-2.0

package recipes

import (
	"errors"
	"fmt"
)

// ErrUnknownStep is returned when a gin config names a step this package
// does not implement.
var ErrUnknownStep = errors.New("unknown recipe step")

// FromNames builds a recipe from the step names used in gin configs
// (Recipe.steps). ffillLimit applies to the "ffill" step; 0 means unlimited.
func FromNames(names []string, ffillLimit int) (*Recipe, error) {
	var steps []Step
	for _, name := range names {
		switch name {
		case "ffill":
			steps = append(steps, NewForwardFill(AllPredictors(), ffillLimit))
		case "impute_zero":
			steps = append(steps, NewImputeFill(AllPredictors(), 0))
		case "scale":
			steps = append(steps, NewScale(AllPredictors()))
		case "historical_max":
			steps = append(steps, NewHistorical(AllPredictors(), HistMax, ""))
		case "historical_min":
			steps = append(steps, NewHistorical(AllPredictors(), HistMin, ""))
		case "historical_mean":
			steps = append(steps, NewHistorical(AllPredictors(), HistMean, ""))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownStep, name)
		}
	}
	return NewRecipe(steps...), nil
}
