package config

import (
	"fmt"

	"detectpd/domain/clinical"
	"detectpd/domain/core"
	"detectpd/internal/errors"

	"gopkg.in/yaml.v3"
)

// PipelineConfig aggregates the configuration of every pipeline stage.
type PipelineConfig struct {
	LogLevel         string                 `yaml:"log_level"`
	OutputDir        string                 `yaml:"output_dir"`
	DataIngestion    IngestionConfig        `yaml:"data_ingestion"`
	Split            SplitConfig            `yaml:"split"`
	Preprocessing    PreprocessingConfig    `yaml:"preprocessing"`
	FeatureSelection FeatureSelectionConfig `yaml:"feature_engineering"`
	ModelTraining    ModelTrainingConfig    `yaml:"model_training"`
	Evaluation       EvaluationConfig       `yaml:"evaluation"`
	Tracking         TrackingConfig         `yaml:"tracking"`
}

// Bounds is an inclusive numeric interval.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// IngestionConfig describes how the CRF spreadsheet becomes a dataset.
type IngestionConfig struct {
	FilePath               string            `yaml:"file_path"`
	SheetName              string            `yaml:"sheet_name"`
	HeaderRows             []int             `yaml:"header_rows"`
	RequiredColumns        []string          `yaml:"required_columns"`
	DateColumns            []string          `yaml:"date_columns"`
	NumericValidationRules map[string]Bounds `yaml:"numeric_validation_rules"`
	ColumnRenames          map[string]string `yaml:"column_renames"`
	DropColumns            []string          `yaml:"drop_columns"`
	IndexColumn            string            `yaml:"index_column"`
	DropMissingOutcomes    bool              `yaml:"drop_missing_outcomes"`
}

// SplitConfig controls the train/test partition.
type SplitConfig struct {
	TestSize   float64 `yaml:"test_size"`
	Shuffle    bool    `yaml:"shuffle"`
	RandomSeed int64   `yaml:"random_seed"`
}

// PreprocessingConfig controls feature derivation, imputation, scaling and encoding.
type PreprocessingConfig struct {
	ScalingMethod        string            `yaml:"scaling_method"`
	MinMaxFeatureRange   Bounds            `yaml:"minmax_feature_range"`
	LogTransformFeatures []string          `yaml:"log_transform_features"`
	CategoricalEncoding  string            `yaml:"categorical_encoding"`
	ImputationStrategy   string            `yaml:"imputation_strategy"`
	IncludeAgeInCCI      bool              `yaml:"include_age_in_cci"`
	CCIWeights           map[string]int    `yaml:"cci_weights"`
	BSAFormula           string            `yaml:"bsa_formula"`
	WeightColumn         string            `yaml:"weight_column"`
	HeightColumn         string            `yaml:"height_column"`
	AgeColumn            string            `yaml:"age_column"`
	TimeColumnMap        map[string]string `yaml:"time_column_map"`
	ComorbidityColumns   map[string]string `yaml:"comorbidity_columns"`
	TargetColumns        []string          `yaml:"target_columns"`
	CategoricalFeatures  []string          `yaml:"categorical_features"`
	NumericFeatures      []string          `yaml:"numeric_features"`
}

// Scaling, encoding and imputation strategy names.
const (
	ScalingStandard = "standard"
	ScalingMinMax   = "minmax"

	EncodingOneHot = "one_hot"
	EncodingLabel  = "label"

	ImputeMean         = "mean"
	ImputeMedian       = "median"
	ImputeMostFrequent = "most_frequent"
	ImputeNone         = "none"
)

// Problem types for feature selection targets.
const (
	ProblemRegression = "regression"
	ProblemBinary     = "binary"
)

// SelectionTargetConfig configures lasso feature selection for one target.
type SelectionTargetConfig struct {
	TargetName  string   `yaml:"target_name"`
	ProblemType string   `yaml:"problem_type"`
	Threshold   *float64 `yaml:"threshold"`
	Alpha       float64  `yaml:"alpha"`
	MaxIter     int      `yaml:"max_iter"`
	MinFeatures int      `yaml:"min_features"`
}

// FeatureSelectionConfig maps target aliases to their selection settings.
type FeatureSelectionConfig struct {
	Targets               map[string]SelectionTargetConfig `yaml:"targets"`
	SharedAllowedFeatures []string                         `yaml:"shared_allowed_features"`
	CVFolds               int                              `yaml:"cv_folds"`
	NJobs                 int                              `yaml:"n_jobs"`
	Tolerance             float64                          `yaml:"tolerance"`
}

// DefaultSelectionTarget returns per-target defaults.
func DefaultSelectionTarget() SelectionTargetConfig {
	return SelectionTargetConfig{
		ProblemType: ProblemRegression,
		Alpha:       0.01,
		MaxIter:     1000,
		MinFeatures: 5,
	}
}

// UnmarshalYAML fills per-target defaults before decoding.
func (c *SelectionTargetConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain SelectionTargetConfig
	out := plain(DefaultSelectionTarget())
	if err := value.Decode(&out); err != nil {
		return err
	}
	*c = SelectionTargetConfig(out)
	return nil
}

// Column returns the target column, falling back to the alias.
func (c SelectionTargetConfig) Column(alias string) string {
	if c.TargetName != "" {
		return c.TargetName
	}
	return alias
}

// EvaluationThreshold is a named decision threshold applied to predictions.
type EvaluationThreshold struct {
	Name  string  `yaml:"name" json:"name"`
	Value float64 `yaml:"value" json:"value"`
}

// EvaluationConfig steers test-set metrics and diagnostics.
type EvaluationConfig struct {
	Metrics          []string                       `yaml:"metrics"`
	CalibrationBins  int                            `yaml:"calibration_bins"`
	Thresholds       map[string]EvaluationThreshold `yaml:"thresholds"`
	GeneratePlots    bool                           `yaml:"generate_plots"`
	ValidateRanges   bool                           `yaml:"validate_ranges"`
	OutputDir        string                         `yaml:"output_dir"`
	ComparisonMetric string                         `yaml:"comparison_metric"`
}

// TrackingConfig points run tracking at a store.
type TrackingConfig struct {
	TrackingURI     string `yaml:"tracking_uri"`
	ExperimentName  string `yaml:"experiment_name"`
	RunNameTemplate string `yaml:"run_name_template"`
	RegistryURI     string `yaml:"registry_uri"`
}

// Default returns a pipeline configuration with every stage default applied.
func Default() PipelineConfig {
	return PipelineConfig{
		LogLevel:         "INFO",
		OutputDir:        "artifacts",
		DataIngestion:    DefaultIngestion(),
		Split:            DefaultSplit(),
		Preprocessing:    DefaultPreprocessing(),
		FeatureSelection: DefaultFeatureSelection(),
		ModelTraining:    DefaultModelTraining(),
		Evaluation:       DefaultEvaluation(),
		Tracking:         DefaultTracking(),
	}
}

func DefaultIngestion() IngestionConfig {
	return IngestionConfig{
		SheetName:           "Sheet1",
		HeaderRows:          []int{0, 1},
		DropMissingOutcomes: true,
	}
}

func DefaultSplit() SplitConfig {
	return SplitConfig{TestSize: 0.2, Shuffle: true, RandomSeed: 42}
}

func DefaultPreprocessing() PreprocessingConfig {
	return PreprocessingConfig{
		ScalingMethod:       ScalingStandard,
		MinMaxFeatureRange:  Bounds{Min: 0, Max: 1},
		CategoricalEncoding: EncodingOneHot,
		ImputationStrategy:  ImputeNone,
		IncludeAgeInCCI:     true,
		BSAFormula:          clinical.BSAFormulaDuBois,
		WeightColumn:        "weight_kg",
		HeightColumn:        "height_cm",
		AgeColumn:           "age",
		TargetColumns:       []string{"ktv", "pet"},
	}
}

func DefaultFeatureSelection() FeatureSelectionConfig {
	return FeatureSelectionConfig{CVFolds: 5, NJobs: 1, Tolerance: 1e-4}
}

func DefaultEvaluation() EvaluationConfig {
	return EvaluationConfig{
		Metrics:          []string{"mae", "mse", "r2", "icc"},
		CalibrationBins:  10,
		GeneratePlots:    true,
		ValidateRanges:   true,
		OutputDir:        "artifacts/evaluation",
		ComparisonMetric: "r2",
	}
}

func DefaultTracking() TrackingConfig {
	return TrackingConfig{
		TrackingURI:     "artifacts/runs",
		ExperimentName:  "DETECT_PD_Pipeline",
		RunNameTemplate: "detect-pd-{timestamp}",
	}
}

// Validate checks every stage and returns the first problem found.
func (c PipelineConfig) Validate() error {
	checks := []struct {
		stage string
		fn    func() error
	}{
		{"data_ingestion", c.DataIngestion.Validate},
		{"split", c.Split.Validate},
		{"preprocessing", c.Preprocessing.Validate},
		{"feature_engineering", c.FeatureSelection.Validate},
		{"model_training", c.ModelTraining.Validate},
		{"evaluation", c.Evaluation.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return errors.Wrapf(err, "invalid %s configuration", check.stage)
		}
	}
	return nil
}

func invalid(field, reason string) error {
	return errors.ConfigInvalid(field+": "+reason, core.NewConfigurationError(field, reason))
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid(field, fmt.Sprintf("%q is not one of %v", value, allowed))
}

// Validate checks the ingestion settings.
func (c IngestionConfig) Validate() error {
	for col, b := range c.NumericValidationRules {
		if b.Min > b.Max {
			return invalid("numeric_validation_rules."+col, fmt.Sprintf("min %g > max %g", b.Min, b.Max))
		}
	}
	for _, r := range c.HeaderRows {
		if r < 0 {
			return invalid("header_rows", "row indices must be non-negative")
		}
	}
	return nil
}

// Validate checks the split settings.
func (c SplitConfig) Validate() error {
	if !(c.TestSize > 0 && c.TestSize < 1) {
		return invalid("test_size", fmt.Sprintf("must be strictly between 0 and 1, got %g", c.TestSize))
	}
	if c.TestSize < 0.05 || c.TestSize > 0.5 {
		return invalid("test_size", fmt.Sprintf("must be within [0.05, 0.5], got %g", c.TestSize))
	}
	return nil
}

// Validate checks the preprocessing settings.
func (c PreprocessingConfig) Validate() error {
	if err := oneOf("scaling_method", c.ScalingMethod, ScalingStandard, ScalingMinMax); err != nil {
		return err
	}
	if c.ScalingMethod == ScalingMinMax && c.MinMaxFeatureRange.Min >= c.MinMaxFeatureRange.Max {
		return invalid("minmax_feature_range", "min must be below max")
	}
	if err := oneOf("categorical_encoding", c.CategoricalEncoding, EncodingOneHot, EncodingLabel); err != nil {
		return err
	}
	if err := oneOf("imputation_strategy", c.ImputationStrategy, ImputeMean, ImputeMedian, ImputeMostFrequent, ImputeNone); err != nil {
		return err
	}
	if err := oneOf("bsa_formula", c.BSAFormula, clinical.BSAFormulaDuBois); err != nil {
		return err
	}
	if len(c.TimeColumnMap) > 0 {
		for _, key := range clinical.RequiredTimeKeys {
			if c.TimeColumnMap[key] == "" {
				return invalid("time_column_map", "missing required key "+key)
			}
		}
	}
	return nil
}

// Validate checks the feature selection settings.
func (c FeatureSelectionConfig) Validate() error {
	if len(c.Targets) == 0 {
		return invalid("targets", "at least one target is required")
	}
	if c.CVFolds < 2 {
		return invalid("cv_folds", "must be at least 2")
	}
	if c.NJobs < 1 {
		return invalid("n_jobs", "must be at least 1")
	}
	for alias, t := range c.Targets {
		field := "targets." + alias
		if err := oneOf(field+".problem_type", t.ProblemType, ProblemRegression, ProblemBinary); err != nil {
			return err
		}
		if t.Alpha <= 0 {
			return invalid(field+".alpha", "must be positive")
		}
		if t.MaxIter <= 0 {
			return invalid(field+".max_iter", "must be positive")
		}
		if t.MinFeatures < 1 {
			return invalid(field+".min_features", "must be at least 1")
		}
	}
	return nil
}

// Validate checks the evaluation settings.
func (c EvaluationConfig) Validate() error {
	for _, m := range c.Metrics {
		if err := oneOf("metrics", m, "mae", "mse", "rmse", "r2", "icc"); err != nil {
			return err
		}
	}
	if c.CalibrationBins < 2 {
		return invalid("calibration_bins", "must be at least 2")
	}
	if c.ComparisonMetric != "" {
		if err := oneOf("comparison_metric", c.ComparisonMetric, "mae", "mse", "rmse", "r2", "icc"); err != nil {
			return err
		}
	}
	return nil
}
