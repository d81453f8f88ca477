package clinical

import "math"

// RenalDiseaseLabel is the comorbidity label whose weight is applied as a
// cohort-level adjustment when CharlsonOptions.IncludeRenalDisease is set.
const RenalDiseaseLabel = "moderate_or_severe_renal_disease"

// BaseCharlsonWeights returns a fresh copy of the standard 19-entry weight table.
func BaseCharlsonWeights() map[string]int {
	return map[string]int{
		"myocardial_infarction":            1,
		"congestive_heart_failure":         1,
		"peripheral_vascular_disease":      1,
		"cerebrovascular_disease":          1,
		"dementia":                         1,
		"chronic_pulmonary_disease":        1,
		"connective_tissue_disease":        1,
		"peptic_ulcer_disease":             1,
		"mild_liver_disease":               1,
		"diabetes":                         1,
		"diabetes_with_end_organ_damage":   2,
		"hemiplegia":                       2,
		RenalDiseaseLabel:                  2,
		"any_tumor":                        2,
		"leukemia":                         2,
		"lymphoma":                         2,
		"moderate_or_severe_liver_disease": 3,
		"metastatic_solid_tumor":           6,
		"aids_hiv":                         6,
	}
}

// CharlsonOptions controls the index computation.
type CharlsonOptions struct {
	// Weights maps comorbidity labels to points. Labels not present score 0.
	Weights map[string]int
	// IncludeAge adds the age-bracket addend when an age is known.
	IncludeAge bool
	// IncludeRenalDisease adds the renal-disease weight to every patient,
	// whether or not the flag is present, so a flagged renal patient
	// scores the weight twice.
	// TODO: confirm with the clinical owners whether flagged renal disease
	// should count twice when this is enabled.
	IncludeRenalDisease bool
}

// DefaultCharlsonOptions uses the base weights with age and renal adjustment on.
func DefaultCharlsonOptions() CharlsonOptions {
	return CharlsonOptions{
		Weights:             BaseCharlsonWeights(),
		IncludeAge:          true,
		IncludeRenalDisease: true,
	}
}

// WithOverrides returns options whose weight table is the base table with
// overrides applied on top.
func (o CharlsonOptions) WithOverrides(overrides map[string]int) CharlsonOptions {
	merged := BaseCharlsonWeights()
	for k, v := range o.Weights {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	o.Weights = merged
	return o
}

func (o CharlsonOptions) weight(label string) int {
	return o.Weights[label]
}

// AgeAdjustment returns the Charlson age-bracket addend.
func AgeAdjustment(age float64) int {
	switch {
	case age < 50:
		return 0
	case age < 60:
		return 1
	case age < 70:
		return 2
	case age < 80:
		return 3
	case age < 90:
		return 4
	default:
		return 5
	}
}

// CharlsonIndex scores a set of comorbidity labels. Repeated labels count
// once. age may be NaN when unknown, in which case no age addend is applied.
func CharlsonIndex(flags []string, age float64, opts CharlsonOptions) int {
	score := 0
	seen := make(map[string]bool, len(flags))
	for _, f := range flags {
		if seen[f] {
			continue
		}
		seen[f] = true
		score += opts.weight(f)
	}
	if opts.IncludeRenalDisease {
		score += opts.weight(RenalDiseaseLabel)
	}
	if opts.IncludeAge && !math.IsNaN(age) {
		score += AgeAdjustment(age)
	}
	return score
}
