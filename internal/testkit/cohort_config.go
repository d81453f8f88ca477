package testkit

import (
	"detectpd/domain/clinical"
	"detectpd/internal/config"
)

// FlatHeader is the flattened header ingestion produces for a CRF column.
func FlatHeader(name string) string {
	group := ""
	for _, c := range crfColumns {
		if c.Group != "" {
			group = c.Group
		}
		if c.Name == name {
			return group + "::" + c.Field
		}
	}
	return ""
}

// ColumnNames lists the renamed columns of a generated table in order.
func ColumnNames() []string {
	names := make([]string, len(crfColumns))
	for i, c := range crfColumns {
		names[i] = c.Name
	}
	return names
}

// IngestionConfig reads a generated cohort table.
func IngestionConfig() config.IngestionConfig {
	cfg := config.DefaultIngestion()
	cfg.ColumnRenames = make(map[string]string, len(crfColumns))
	for _, c := range crfColumns {
		cfg.ColumnRenames[FlatHeader(c.Name)] = c.Name
	}
	cfg.RequiredColumns = []string{"ktv", "pet"}
	cfg.DateColumns = []string{"egfr_below_10_date", "tki_date", "pd_start_date", "assessment_date"}
	cfg.IndexColumn = "patient_id"
	cfg.NumericValidationRules = map[string]config.Bounds{
		"age":     {Min: 18, Max: 100},
		"albumin": {Min: 1, Max: 6},
		"ktv":     {Min: 0.5, Max: 4},
		"pet":     {Min: 0.1, Max: 1},
	}
	return cfg
}

// PreprocessingConfig derives every clinical feature the cohort supports.
func PreprocessingConfig() config.PreprocessingConfig {
	cfg := config.DefaultPreprocessing()
	cfg.ImputationStrategy = config.ImputeMedian
	cfg.CategoricalFeatures = []string{"sex"}
	cfg.ComorbidityColumns = map[string]string{
		"mi":    "myocardial_infarction",
		"chf":   "congestive_heart_failure",
		"dm":    "diabetes",
		"cvd":   "cerebrovascular_disease",
		"tumor": "any_tumor",
	}
	cfg.TimeColumnMap = map[string]string{
		clinical.KeyEGFRBelow10: "egfr_below_10_date",
		clinical.KeyTKI:         "tki_date",
		clinical.KeyPDStart:     "pd_start_date",
		clinical.KeyAssessment:  "assessment_date",
	}
	return cfg
}

// PipelineConfig is a complete, fast configuration for end-to-end runs on a
// generated cohort. Outputs go under outputDir.
func PipelineConfig(outputDir string) *config.PipelineConfig {
	cfg := config.Default()
	cfg.LogLevel = "ERROR"
	cfg.OutputDir = outputDir
	cfg.DataIngestion = IngestionConfig()
	cfg.Preprocessing = PreprocessingConfig()

	ktv := config.DefaultSelectionTarget()
	ktv.MinFeatures = 3
	pet := config.DefaultSelectionTarget()
	pet.MinFeatures = 3
	cfg.FeatureSelection.Targets = map[string]config.SelectionTargetConfig{"ktv": ktv, "pet": pet}
	cfg.FeatureSelection.CVFolds = 3
	cfg.FeatureSelection.SharedAllowedFeatures = []string{"age", "bmi"}

	cfg.ModelTraining.RandomSearchIterations = 2
	cfg.ModelTraining.CVFolds = 3
	cfg.ModelTraining.Targets = []config.TargetModelCollection{
		{
			Target: "ktv",
			Models: []config.ModelDefinition{
				{
					Name:                 "elastic_net",
					ModelType:            config.ModelElasticNet,
					CrossValidationFolds: 3,
					Hyperparameters:      map[string]interface{}{"alpha": 0.01},
					SearchSpace:          map[string]config.SearchDimension{"l1_ratio": config.Choices(0.2, 0.8)},
				},
				{
					Name:                 "random_forest",
					ModelType:            config.ModelRandomForest,
					CrossValidationFolds: 3,
					Hyperparameters:      map[string]interface{}{"n_estimators": 10, "max_depth": 4},
				},
			},
		},
		{
			Target: "pet",
			Models: []config.ModelDefinition{
				{Name: "linear_regression", ModelType: config.ModelLinearRegression, CrossValidationFolds: 3},
			},
		},
	}

	cfg.Evaluation.CalibrationBins = 5
	cfg.Evaluation.OutputDir = outputDir
	cfg.Tracking.TrackingURI = outputDir
	return &cfg
}
