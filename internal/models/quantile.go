package models

import (
	"fmt"
	"math"
	"sort"

	"detectpd/domain/core"
	"detectpd/internal/config"

	"gonum.org/v1/gonum/mat"
)

// DefaultQuantiles is used when a quantile model lists no levels.
var DefaultQuantiles = []float64{0.5}

// QuantileEnsemble holds one independently fitted estimator per quantile
// level. Point predictions come from the level closest to the median.
type QuantileEnsemble struct {
	quantiles []float64
	members   map[float64]Estimator
	fitted    bool
}

// NewQuantileEnsemble combines already built member estimators.
func NewQuantileEnsemble(quantiles []float64, members map[float64]Estimator) (*QuantileEnsemble, error) {
	if len(quantiles) == 0 {
		return nil, core.NewConfigurationError("quantiles", "at least one quantile is required")
	}
	for _, q := range quantiles {
		if members[q] == nil {
			return nil, core.NewConfigurationError("quantiles", fmt.Sprintf("no estimator for quantile %g", q))
		}
	}
	return &QuantileEnsemble{quantiles: append([]float64(nil), quantiles...), members: members}, nil
}

// NewFittedQuantileEnsemble combines members that were fitted separately,
// for example each after its own hyperparameter search.
func NewFittedQuantileEnsemble(quantiles []float64, members map[float64]Estimator) (*QuantileEnsemble, error) {
	e, err := NewQuantileEnsemble(quantiles, members)
	if err != nil {
		return nil, err
	}
	e.fitted = true
	return e, nil
}

// QuantileSpec returns the lightgbm spec fitted for level q.
func QuantileSpec(spec Spec, q float64) Spec {
	params := spec.Params.Clone()
	if params == nil {
		params = Params{}
	}
	params.SetDefault("n_estimators", 500)
	params["objective"] = "quantile"
	params["alpha"] = q
	return Spec{
		Kind:                config.ModelLightGBM,
		Params:              params,
		Seed:                spec.Seed,
		NJobs:               spec.NJobs,
		EarlyStoppingRounds: spec.EarlyStoppingRounds,
	}
}

func newQuantileEnsemble(spec Spec) (*QuantileEnsemble, error) {
	quantiles := spec.Quantiles
	if len(quantiles) == 0 {
		quantiles = DefaultQuantiles
	}
	members := make(map[float64]Estimator, len(quantiles))
	for _, q := range quantiles {
		est, err := New(QuantileSpec(spec, q))
		if err != nil {
			return nil, fmt.Errorf("quantile %g: %w", q, err)
		}
		members[q] = est
	}
	return NewQuantileEnsemble(quantiles, members)
}

// Quantiles returns the levels in configured order.
func (e *QuantileEnsemble) Quantiles() []float64 {
	return append([]float64(nil), e.quantiles...)
}

// Primary is the level closest to 0.5; ties go to the first listed.
func (e *QuantileEnsemble) Primary() float64 {
	best := e.quantiles[0]
	for _, q := range e.quantiles[1:] {
		if math.Abs(q-0.5) < math.Abs(best-0.5) {
			best = q
		}
	}
	return best
}

// Member returns the estimator for level q.
func (e *QuantileEnsemble) Member(q float64) Estimator { return e.members[q] }

// Fit fits every member on the same data.
func (e *QuantileEnsemble) Fit(X mat.Matrix, y []float64) error {
	for _, q := range e.quantiles {
		if err := e.members[q].Fit(X, y); err != nil {
			return fmt.Errorf("quantile %g: %w", q, err)
		}
	}
	e.fitted = true
	return nil
}

// Predict returns the primary level's predictions.
func (e *QuantileEnsemble) Predict(X mat.Matrix) ([]float64, error) {
	if !e.fitted {
		return nil, core.ErrNotFitted
	}
	return e.members[e.Primary()].Predict(X)
}

// PredictQuantiles predicts every level.
func (e *QuantileEnsemble) PredictQuantiles(X mat.Matrix) (map[float64][]float64, error) {
	if !e.fitted {
		return nil, core.ErrNotFitted
	}
	out := make(map[float64][]float64, len(e.quantiles))
	for _, q := range e.quantiles {
		pred, err := e.members[q].Predict(X)
		if err != nil {
			return nil, fmt.Errorf("quantile %g: %w", q, err)
		}
		out[q] = pred
	}
	return out, nil
}

// QuantileKey formats a level the way it is keyed in extras and reports.
func QuantileKey(q float64) string {
	return fmt.Sprintf("%g", q)
}

// SortedQuantileKeys returns the levels of m in ascending order.
func SortedQuantileKeys(m map[float64][]float64) []float64 {
	keys := make([]float64, 0, len(m))
	for q := range m {
		keys = append(keys, q)
	}
	sort.Float64s(keys)
	return keys
}
