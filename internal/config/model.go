package config

import (
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Model family tags accepted in a ModelDefinition.
const (
	ModelElasticNet       = "elastic_net"
	ModelXGBoost          = "xgboost"
	ModelLightGBM         = "lightgbm"
	ModelCatBoost         = "catboost"
	ModelRandomForest     = "random_forest"
	ModelLinearRegression = "linear_regression"
	ModelRidge            = "ridge"
	ModelNGBoost          = "ngboost"
	ModelQuantileLightGBM = "quantile_lightgbm"
	ModelStacked          = "stacked"
)

var knownModelTypes = map[string]bool{
	ModelElasticNet: true, ModelXGBoost: true, ModelLightGBM: true, ModelCatBoost: true,
	ModelRandomForest: true, ModelLinearRegression: true, ModelRidge: true, ModelNGBoost: true,
	ModelQuantileLightGBM: true, ModelStacked: true,
}

// Scoring identifiers usable for search and eval_metric.
const (
	ScoringR2   = "r2"
	ScoringNMSE = "neg_mean_squared_error"
	ScoringNMAE = "neg_mean_absolute_error"
)

// ModelDefinition declares one estimator to train for a target.
type ModelDefinition struct {
	Name                 string                     `yaml:"name"`
	ModelType            string                     `yaml:"model_type"`
	Hyperparameters      map[string]interface{}     `yaml:"hyperparameters"`
	CrossValidationFolds int                        `yaml:"cross_validation_folds"`
	EarlyStoppingRounds  *int                       `yaml:"early_stopping_rounds"`
	EvalMetric           string                     `yaml:"eval_metric"`
	SearchSpace          map[string]SearchDimension `yaml:"search_space"`
	MonotoneConstraints  []int                      `yaml:"monotone_constraints"`
	Distribution         string                     `yaml:"distribution"`
	Quantiles            []float64                  `yaml:"quantiles"`
	BaseModels           []ModelDefinition          `yaml:"base_models"`
}

// UnmarshalYAML applies the fold default before decoding.
func (m *ModelDefinition) UnmarshalYAML(value *yaml.Node) error {
	type plain ModelDefinition
	out := plain{CrossValidationFolds: 5}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*m = ModelDefinition(out)
	return nil
}

// DisplayName is the configured name or the model type.
func (m ModelDefinition) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ModelType
}

// Validate checks one model definition, recursing into base models.
func (m ModelDefinition) Validate(field string) error {
	if !knownModelTypes[m.ModelType] {
		return invalid(field+".model_type", fmt.Sprintf("unsupported model type %q", m.ModelType))
	}
	if m.CrossValidationFolds != 0 && m.CrossValidationFolds < 2 {
		return invalid(field+".cross_validation_folds", "must be at least 2")
	}
	if m.EarlyStoppingRounds != nil {
		if m.ModelType != ModelXGBoost && m.ModelType != ModelLightGBM {
			return invalid(field+".early_stopping_rounds", "only supported for xgboost and lightgbm models")
		}
		if *m.EarlyStoppingRounds < 1 {
			return invalid(field+".early_stopping_rounds", "must be at least 1")
		}
	}
	if m.EvalMetric != "" {
		if err := oneOf(field+".eval_metric", m.EvalMetric, ScoringR2, ScoringNMSE, ScoringNMAE); err != nil {
			return err
		}
	}
	for _, c := range m.MonotoneConstraints {
		if c < -1 || c > 1 {
			return invalid(field+".monotone_constraints", "values must be -1, 0 or 1")
		}
	}
	for _, q := range m.Quantiles {
		if !(q > 0 && q < 1) {
			return invalid(field+".quantiles", fmt.Sprintf("quantile %g outside (0, 1)", q))
		}
	}
	for name, dim := range m.SearchSpace {
		if err := dim.Validate(); err != nil {
			return invalid(field+".search_space."+name, err.Error())
		}
	}
	if m.ModelType == ModelStacked && len(m.BaseModels) == 0 {
		return invalid(field+".base_models", "stacked models need at least one base model")
	}
	for i, base := range m.BaseModels {
		if err := base.Validate(fmt.Sprintf("%s.base_models[%d]", field, i)); err != nil {
			return err
		}
	}
	return nil
}

// TargetModelCollection lists candidate models for one target.
type TargetModelCollection struct {
	Target        string            `yaml:"target"`
	Models        []ModelDefinition `yaml:"models"`
	PrimaryMetric string            `yaml:"primary_metric"`
}

// ModelTrainingConfig is the top-level training configuration.
type ModelTrainingConfig struct {
	Targets                []TargetModelCollection `yaml:"targets"`
	NJobs                  int                     `yaml:"n_jobs"`
	PersistModels          bool                    `yaml:"persist_models"`
	RandomSearchIterations int                     `yaml:"random_search_iterations"`
	CVFolds                int                     `yaml:"cv_folds"`
	Scoring                string                  `yaml:"scoring"`
	RandomState            int64                   `yaml:"random_state"`
}

func DefaultModelTraining() ModelTrainingConfig {
	return ModelTrainingConfig{
		NJobs:                  1,
		PersistModels:          true,
		RandomSearchIterations: 20,
		CVFolds:                5,
		Scoring:                ScoringR2,
		RandomState:            42,
	}
}

// Validate checks the training settings.
func (c ModelTrainingConfig) Validate() error {
	if len(c.Targets) == 0 {
		return invalid("targets", "at least one target is required")
	}
	if c.NJobs < 1 {
		return invalid("n_jobs", "must be at least 1")
	}
	if c.RandomSearchIterations < 1 {
		return invalid("random_search_iterations", "must be at least 1")
	}
	if c.CVFolds < 2 {
		return invalid("cv_folds", "must be at least 2")
	}
	if err := oneOf("scoring", c.Scoring, ScoringR2, ScoringNMSE, ScoringNMAE); err != nil {
		return err
	}
	for i, t := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if t.Target == "" {
			return invalid(field+".target", "is required")
		}
		if len(t.Models) == 0 {
			return invalid(field+".models", "at least one model is required")
		}
		if t.PrimaryMetric != "" {
			if err := oneOf(field+".primary_metric", t.PrimaryMetric, "r2", "mae", "mse"); err != nil {
				return err
			}
		}
		for j, m := range t.Models {
			if err := m.Validate(fmt.Sprintf("%s.models[%d]", field, j)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Search distributions.
const (
	DistUniform    = "uniform"
	DistLogUniform = "loguniform"
	DistRandInt    = "randint"
)

// SearchDimension is one entry of a search space: either a list of choices
// or a continuous/integer distribution over [Low, High].
type SearchDimension struct {
	Values       []interface{}
	Distribution string
	Low          float64
	High         float64
}

// Choices builds a discrete dimension.
func Choices(values ...interface{}) SearchDimension {
	return SearchDimension{Values: values}
}

// Discrete reports whether the dimension is a finite list.
func (d SearchDimension) Discrete() bool { return d.Distribution == "" }

// UnmarshalYAML accepts a sequence of choices or a mapping
// {distribution, low, high}.
func (d *SearchDimension) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var values []interface{}
		if err := value.Decode(&values); err != nil {
			return err
		}
		*d = SearchDimension{Values: values}
		return nil
	case yaml.MappingNode:
		var spec struct {
			Distribution string  `yaml:"distribution"`
			Low          float64 `yaml:"low"`
			High         float64 `yaml:"high"`
		}
		if err := value.Decode(&spec); err != nil {
			return err
		}
		*d = SearchDimension{Distribution: spec.Distribution, Low: spec.Low, High: spec.High}
		return nil
	default:
		var single interface{}
		if err := value.Decode(&single); err != nil {
			return err
		}
		*d = SearchDimension{Values: []interface{}{single}}
		return nil
	}
}

// MarshalYAML writes the dimension in the form UnmarshalYAML reads.
func (d SearchDimension) MarshalYAML() (interface{}, error) {
	if d.Discrete() {
		return d.Values, nil
	}
	return map[string]interface{}{
		"distribution": d.Distribution,
		"low":          d.Low,
		"high":         d.High,
	}, nil
}

// Validate checks the dimension is sampleable.
func (d SearchDimension) Validate() error {
	if d.Discrete() {
		if len(d.Values) == 0 {
			return fmt.Errorf("choice list is empty")
		}
		return nil
	}
	switch d.Distribution {
	case DistUniform:
		if d.Low >= d.High {
			return fmt.Errorf("low %g must be below high %g", d.Low, d.High)
		}
	case DistRandInt:
		// Draws are integers in [low, high).
		if d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High) {
			return fmt.Errorf("randint bounds must be integers, got [%g, %g]", d.Low, d.High)
		}
		if int(d.High) <= int(d.Low) {
			return fmt.Errorf("low %g must be below high %g", d.Low, d.High)
		}
	case DistLogUniform:
		if d.Low <= 0 || d.Low >= d.High || math.IsInf(d.High, 0) {
			return fmt.Errorf("loguniform needs 0 < low < high, got [%g, %g]", d.Low, d.High)
		}
	default:
		return fmt.Errorf("unknown distribution %q", d.Distribution)
	}
	return nil
}

// SortedKeys returns the search space parameter names in sorted order.
func SortedKeys(space map[string]SearchDimension) []string {
	keys := make([]string, 0, len(space))
	for k := range space {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
