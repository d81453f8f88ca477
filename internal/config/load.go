package config

import (
	"os"
	"strconv"

	"detectpd/internal/errors"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML pipeline configuration, applies environment
// overrides and validates the result.
func LoadFile(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults, applies environment overrides and validates.
func Parse(data []byte) (*PipelineConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.ConfigInvalid("failed to decode configuration", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments adjust a few knobs without
// editing the YAML file.
func applyEnvOverrides(cfg *PipelineConfig) {
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.OutputDir = getEnvOrDefault("DETECTPD_OUTPUT_DIR", cfg.OutputDir)
	cfg.DataIngestion.FilePath = getEnvOrDefault("DETECTPD_CRF_FILE", cfg.DataIngestion.FilePath)
	cfg.Evaluation.OutputDir = getEnvOrDefault("DETECTPD_EVALUATION_DIR", cfg.Evaluation.OutputDir)
	cfg.Evaluation.GeneratePlots = getEnvBoolOrDefault("DETECTPD_GENERATE_PLOTS", cfg.Evaluation.GeneratePlots)
	cfg.Tracking.TrackingURI = getEnvOrDefault("DATABASE_URL", cfg.Tracking.TrackingURI)

	nJobs := getEnvIntOrDefault("DETECTPD_N_JOBS", 0)
	if nJobs > 0 {
		cfg.ModelTraining.NJobs = nJobs
		cfg.FeatureSelection.NJobs = nJobs
	}
	if seed := os.Getenv("DETECTPD_RANDOM_SEED"); seed != "" {
		if v, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.Split.RandomSeed = v
			cfg.ModelTraining.RandomState = v
		}
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
