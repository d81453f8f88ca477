// Package clinical implements the clinical derivations used as model
// features: body metrics, the Charlson Comorbidity Index, time intervals
// between care milestones and plausibility ranges for predicted outcomes.
package clinical

import (
	"fmt"
	"math"

	"detectpd/domain/core"
)

// BMI returns weight_kg / (height_cm/100)^2.
func BMI(weightKg, heightCm float64) (float64, error) {
	if heightCm <= 0 {
		return 0, core.NewInvalidInputError("height_cm", fmt.Sprintf("must be positive, got %g", heightCm))
	}
	m := heightCm / 100.0
	return weightKg / (m * m), nil
}

// BSADuBois returns the Du Bois body surface area in m².
func BSADuBois(weightKg, heightCm float64) (float64, error) {
	if weightKg <= 0 || heightCm <= 0 {
		return 0, core.NewInvalidInputError("weight_kg/height_cm", fmt.Sprintf("must be positive, got %g/%g", weightKg, heightCm))
	}
	return 0.007184 * math.Pow(weightKg, 0.425) * math.Pow(heightCm, 0.725), nil
}

// BSAFormulaDuBois names the Du Bois body surface area formula.
const BSAFormulaDuBois = "du_bois"

// BSA dispatches to the named formula.
func BSA(formula string, weightKg, heightCm float64) (float64, error) {
	switch formula {
	case "", BSAFormulaDuBois:
		return BSADuBois(weightKg, heightCm)
	default:
		return 0, core.NewInvalidInputError("bsa_formula", "unsupported formula "+formula)
	}
}

// Prediction range for a clinical target, inclusive on both ends.
type Range struct {
	Min float64
	Max float64
}

var predictionRanges = map[string]Range{
	"ktv": {Min: 0.5, Max: 4.0},
	"pet": {Min: 0.1, Max: 1.0},
}

// PredictionRange returns the plausible interval for target.
func PredictionRange(target string) (Range, error) {
	r, ok := predictionRanges[target]
	if !ok {
		return Range{}, core.NewUnknownTargetError(target)
	}
	return r, nil
}

// ValidatePredictionRanges reports whether every prediction lies in the
// plausible interval for target. NaN predictions are out of range.
func ValidatePredictionRanges(predictions []float64, target string) (bool, error) {
	r, err := PredictionRange(target)
	if err != nil {
		return false, err
	}
	for _, p := range predictions {
		if !(p >= r.Min && p <= r.Max) {
			return false, nil
		}
	}
	return true, nil
}
