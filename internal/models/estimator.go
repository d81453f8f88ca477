// Package models implements the regression model families behind one
// Estimator capability, and a factory resolving a model-type tag plus
// hyperparameters into an unfitted estimator.
package models

import (
	"fmt"

	"detectpd/domain/core"
	"detectpd/internal/config"

	"gonum.org/v1/gonum/mat"
)

// Estimator is a point regressor.
type Estimator interface {
	Fit(X mat.Matrix, y []float64) error
	Predict(X mat.Matrix) ([]float64, error)
}

// DistributionPredictor is implemented by estimators with a predictive
// distribution.
type DistributionPredictor interface {
	PredictStd(X mat.Matrix) ([]float64, error)
	DistributionName() string
}

// QuantilePredictor is implemented by quantile ensembles.
type QuantilePredictor interface {
	Quantiles() []float64
	PredictQuantiles(X mat.Matrix) (map[float64][]float64, error)
}

// Spec describes an estimator to build: the model-type tag, its
// hyperparameters and the run-level settings that are not hyperparameters.
type Spec struct {
	Kind                string
	Params              Params
	Seed                int64
	NJobs               int
	EarlyStoppingRounds int
	Distribution        string
	Quantiles           []float64
	Base                []Spec
}

// SpecFromDefinition converts a configured model definition. Monotone
// constraints are translated into each family's parameter form.
func SpecFromDefinition(def config.ModelDefinition, seed int64, nJobs int) Spec {
	params := Params(def.Hyperparameters).Clone()
	if len(def.MonotoneConstraints) > 0 {
		params = ApplyMonotoneConstraints(params, def.MonotoneConstraints, def.ModelType)
	}
	spec := Spec{
		Kind:         def.ModelType,
		Params:       params,
		Seed:         seed,
		NJobs:        nJobs,
		Distribution: def.Distribution,
		Quantiles:    append([]float64(nil), def.Quantiles...),
	}
	if def.EarlyStoppingRounds != nil {
		spec.EarlyStoppingRounds = *def.EarlyStoppingRounds
	}
	for _, base := range def.BaseModels {
		spec.Base = append(spec.Base, SpecFromDefinition(base, seed, nJobs))
	}
	return spec
}

// ApplyMonotoneConstraints stores constraints the way each boosted family
// expects them: a "(1,0,-1)" string for xgboost, a list for the others.
// Families without constraint support are returned unchanged.
func ApplyMonotoneConstraints(params Params, constraints []int, kind string) Params {
	out := params.Clone()
	switch kind {
	case config.ModelXGBoost:
		out["monotone_constraints"] = FormatMonotoneConstraints(constraints)
	case config.ModelLightGBM, config.ModelQuantileLightGBM, config.ModelCatBoost:
		out["monotone_constraints"] = append([]int(nil), constraints...)
	}
	return out
}

// WithParams returns a copy of s whose hyperparameters are overridden.
func (s Spec) WithParams(over Params) Spec {
	s.Params = s.Params.Merge(over)
	return s
}

// New builds an unfitted estimator. Quantile and stacked kinds build their
// members from the same factory.
func New(spec Spec) (Estimator, error) {
	params := spec.Params
	if params == nil {
		params = Params{}
	}
	switch spec.Kind {
	case config.ModelLinearRegression:
		return built(newOLS(params))
	case config.ModelRidge:
		return built(newRidge(params))
	case config.ModelElasticNet:
		return built(newElasticNet(params))
	case config.ModelRandomForest:
		return built(newRandomForest(params, spec.Seed, spec.NJobs))
	case config.ModelXGBoost, config.ModelLightGBM, config.ModelCatBoost:
		return built(newBoosting(spec.Kind, params, spec.Seed, spec.EarlyStoppingRounds))
	case config.ModelNGBoost:
		return built(newNGBoost(params, spec.Distribution, spec.Seed))
	case config.ModelQuantileLightGBM:
		return built(newQuantileEnsemble(spec))
	case config.ModelStacked:
		return built(newStacked(spec))
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownModelType, spec.Kind)
	}
}

// built drops the typed nil a failed constructor returns.
func built(e Estimator, err error) (Estimator, error) {
	if err != nil {
		return nil, err
	}
	return e, nil
}

// rowsOf copies X into row slices.
func rowsOf(X mat.Matrix) [][]float64 {
	r, c := X.Dims()
	out := make([][]float64, r)
	for i := range out {
		row := make([]float64, c)
		for j := range row {
			row[j] = X.At(i, j)
		}
		out[i] = row
	}
	return out
}

func checkFit(X mat.Matrix, y []float64) error {
	r, c := X.Dims()
	if r != len(y) {
		return core.NewDimensionError("target rows", r, len(y))
	}
	if r == 0 || c == 0 {
		return fmt.Errorf("%w: cannot fit on %d rows and %d features", core.ErrInsufficientData, r, c)
	}
	return nil
}

func checkPredict(X mat.Matrix, nFeatures int) error {
	if nFeatures < 0 {
		return core.ErrNotFitted
	}
	if _, c := X.Dims(); c != nFeatures {
		return core.NewDimensionError("feature columns", nFeatures, c)
	}
	return nil
}
