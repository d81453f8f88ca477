// Package traininginput narrows the preprocessed feature matrix to the
// features any target selected.
package traininginput

import (
	"sort"

	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/preprocessing"
	"detectpd/internal/selection"
)

// Input is the payload handed to model training. Features, Targets and
// SelectedFeatureMap are copies owned by the Input.
type Input struct {
	Features           *dataset.Dataset
	Targets            *dataset.Dataset
	SelectedFeatureMap map[string][]string
	Artifacts          *preprocessing.Artifacts
}

// FeaturesFor returns the feature columns a target's models use: its
// selected features present in the matrix, or every column when the target
// has no entry.
func (in *Input) FeaturesFor(target string) []string {
	selected, ok := in.SelectedFeatureMap[target]
	if !ok || len(selected) == 0 {
		return in.Features.Columns()
	}
	var out []string
	for _, f := range selected {
		if in.Features.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Build filters the features to the sorted union of all selected features.
// sharedAllowed features are added to the union and to every target's list
// when present in the matrix. With nothing selected the full matrix is kept.
func Build(pre *preprocessing.Output, sel *selection.Output, sharedAllowed []string, logger *internal.Logger) (*Input, error) {
	log := logger.With("TrainingInput")

	selectedMap := make(map[string][]string)
	if sel != nil {
		selectedMap = sel.SelectedFeatureMap()
	}
	var shared []string
	for _, f := range sharedAllowed {
		if pre.Features.Has(f) {
			shared = append(shared, f)
		} else {
			log.Warn("Shared allowed feature %s not found in the feature matrix", f)
		}
	}
	if len(shared) > 0 {
		for target, features := range selectedMap {
			selectedMap[target] = appendMissing(features, shared)
		}
	}

	var features *dataset.Dataset
	var err error
	union := unionSorted(selectedMap, shared)
	if len(union) > 0 {
		var present, missing []string
		for _, f := range union {
			if pre.Features.Has(f) {
				present = append(present, f)
			} else {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			log.Warn("Some selected features were not found in the feature matrix: %v", missing)
		}
		features, err = pre.Features.Select(present)
	} else {
		log.Warn("No features were selected; falling back to entire feature matrix")
		features = pre.Features.Clone()
	}
	if err != nil {
		return nil, err
	}

	log.Info("Training input: %d rows, %d features for %d targets", features.NumRows(), features.NumColumns(), len(selectedMap))
	return &Input{
		Features:           features,
		Targets:            pre.Targets.Clone(),
		SelectedFeatureMap: selectedMap,
		Artifacts:          pre.Artifacts,
	}, nil
}

func unionSorted(selected map[string][]string, extra []string) []string {
	set := make(map[string]bool)
	for _, features := range selected {
		for _, f := range features {
			set[f] = true
		}
	}
	for _, f := range extra {
		set[f] = true
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func appendMissing(base, extra []string) []string {
	out := append([]string(nil), base...)
	have := make(map[string]bool, len(base))
	for _, f := range base {
		have[f] = true
	}
	for _, f := range extra {
		if !have[f] {
			out = append(out, f)
			have[f] = true
		}
	}
	return out
}
