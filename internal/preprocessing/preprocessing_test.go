package preprocessing

import (
	"math"
	"testing"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cohort(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New([]string{"p1", "p2", "p3", "p4"})
	require.NoError(t, err)
	require.NoError(t, ds.SetNumeric("age", []float64{60, 45, 72, math.NaN()}))
	require.NoError(t, ds.SetNumeric("weight_kg", []float64{70, 82, 64, 90}))
	require.NoError(t, ds.SetNumeric("height_cm", []float64{175, 168, 160, 181}))
	require.NoError(t, ds.SetNumeric("albumin", []float64{3.9, math.NaN(), 3.1, 4.2}))
	require.NoError(t, ds.SetCategorical("sex", []string{"M", "F", "F", ""}))
	require.NoError(t, ds.SetNumeric("mi", []float64{1, 0, 0, math.NaN()}))
	require.NoError(t, ds.SetCategorical("dm", []string{"no", "Yes", "NO", "yes"}))
	require.NoError(t, ds.SetNumeric("ktv", []float64{1.8, 2.1, 1.5, 2.4}))
	require.NoError(t, ds.SetNumeric("pet", []float64{0.6, 0.7, 0.55, 0.8}))
	return ds
}

func testConfig() config.PreprocessingConfig {
	cfg := config.DefaultPreprocessing()
	cfg.ImputationStrategy = config.ImputeMedian
	cfg.CategoricalFeatures = []string{"sex"}
	cfg.ComorbidityColumns = map[string]string{
		"mi": "myocardial_infarction",
		"dm": "diabetes",
	}
	return cfg
}

func TestPreprocessDerivesClinicalFeatures(t *testing.T) {
	out, err := Preprocess(cohort(t), testConfig(), internal.NewDiscardLogger())
	require.NoError(t, err)

	art := out.Artifacts
	require.NotNil(t, art.Scaler)

	cci := unscale(t, out.Features, art.Scaler, ColumnCharlson)
	// p1: MI 1 + renal 2 + age 60 -> 2 = 5
	// p2: diabetes 1 + renal 2 + age 45 -> 0 = 3
	// p3: renal 2 + age 72 -> 3 = 5
	// p4: diabetes 1 + renal 2, unknown age = 3
	assert.InDeltaSlice(t, []float64{5, 3, 5, 3}, cci, 1e-9)

	bmi := unscale(t, out.Features, art.Scaler, ColumnBMI)
	assert.InDelta(t, 22.857, bmi[0], 0.001)
	assert.True(t, out.Features.Has(ColumnBSA))
}

func unscale(t *testing.T, ds *dataset.Dataset, s *Scaler, name string) []float64 {
	t.Helper()
	values, err := ds.Floats(name)
	require.NoError(t, err)
	for j, col := range s.Columns {
		if col != name {
			continue
		}
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = (v - s.Offset[j]) / s.Scale[j]
		}
		return out
	}
	t.Fatalf("column %s not scaled", name)
	return nil
}

func TestPreprocessSeparatesTargetsAndEncodes(t *testing.T) {
	out, err := Preprocess(cohort(t), testConfig(), internal.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"ktv", "pet"}, out.Targets.Columns())
	assert.False(t, out.Features.Has("ktv"))
	assert.False(t, out.Features.Has("pet"))
	assert.False(t, out.Features.Has("sex"))
	assert.False(t, out.Features.Has("dm"), "free-text comorbidity column should be dropped from features")

	art := out.Artifacts
	assert.Equal(t, []string{"sex_F", "sex_M", "sex_missing"}, art.EncodedCategoricalColumns)
	assert.Equal(t, []string{"sex"}, art.OriginalCategoricalColumns)
	assert.Equal(t, out.Features.Columns(), art.FeatureColumns)

	male, err := out.Features.Floats("sex_M")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0}, male)
}

func TestPreprocessStandardScalingAndImputation(t *testing.T) {
	out, err := Preprocess(cohort(t), testConfig(), internal.NewDiscardLogger())
	require.NoError(t, err)

	for _, name := range out.Artifacts.NumericColumns {
		values, err := out.Features.Floats(name)
		require.NoError(t, err)
		for _, v := range values {
			require.False(t, math.IsNaN(v), "column %s still has missing values", name)
		}
		mean, err := stats.Mean(values)
		require.NoError(t, err)
		assert.InDelta(t, 0, mean, 1e-9, "column %s", name)
	}
	assert.Contains(t, out.Artifacts.NumericColumns, "albumin")
	assert.NotContains(t, out.Artifacts.NumericColumns, "sex")
}

func TestApplyFittedReproducesTrainingFeatures(t *testing.T) {
	cfg := testConfig()
	logger := internal.NewDiscardLogger()
	out, err := Preprocess(cohort(t), cfg, logger)
	require.NoError(t, err)

	features, targets, err := ApplyFitted(cohort(t), cfg, out.Artifacts, logger)
	require.NoError(t, err)
	assert.Equal(t, out.Artifacts.FeatureColumns, features.Columns())
	assert.Equal(t, []string{"ktv", "pet"}, targets.Columns())

	for _, name := range out.Artifacts.FeatureColumns {
		want, _ := out.Features.Floats(name)
		got, err := features.Floats(name)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-12, "column %s", name)
	}
}

func TestApplyFittedHandlesUnseenAndAbsentColumns(t *testing.T) {
	cfg := testConfig()
	logger := internal.NewDiscardLogger()
	out, err := Preprocess(cohort(t), cfg, logger)
	require.NoError(t, err)

	fresh, err := dataset.New([]string{"q1"})
	require.NoError(t, err)
	require.NoError(t, fresh.SetNumeric("age", []float64{50}))
	require.NoError(t, fresh.SetNumeric("weight_kg", []float64{75}))
	require.NoError(t, fresh.SetNumeric("height_cm", []float64{170}))
	require.NoError(t, fresh.SetCategorical("sex", []string{"X"}))

	features, targets, err := ApplyFitted(fresh, cfg, out.Artifacts, logger)
	require.NoError(t, err)
	assert.Equal(t, out.Artifacts.FeatureColumns, features.Columns())
	assert.Equal(t, 0, targets.NumColumns())

	for _, name := range out.Artifacts.EncodedCategoricalColumns {
		v, err := features.Floats(name)
		require.NoError(t, err)
		assert.Equal(t, []float64{0}, v, "column %s", name)
	}

	// albumin is absent, so it takes the imputed median before scaling.
	albumin, err := features.Floats("albumin")
	require.NoError(t, err)
	assert.False(t, math.IsNaN(albumin[0]))
}

func TestLabelEncodingMarksUnseenCategories(t *testing.T) {
	cfg := testConfig()
	cfg.CategoricalEncoding = config.EncodingLabel
	logger := internal.NewDiscardLogger()

	out, err := Preprocess(cohort(t), cfg, logger)
	require.NoError(t, err)
	codes, err := out.Features.Floats("sex")
	require.NoError(t, err)
	// sorted classes: F, M, missing
	assert.Equal(t, []float64{1, 0, 0, 2}, codes)

	fresh := cohort(t)
	require.NoError(t, fresh.SetCategorical("sex", []string{"X", "F", "M", "F"}))
	features, _, err := ApplyFitted(fresh, cfg, out.Artifacts, logger)
	require.NoError(t, err)
	codes, err = features.Floats("sex")
	require.NoError(t, err)
	assert.Equal(t, []float64{UnseenLabel, 0, 1, 0}, codes)
}

func TestLogTransformRejectsValuesBelowMinusOne(t *testing.T) {
	cfg := testConfig()
	cfg.LogTransformFeatures = []string{"albumin", "not_present"}
	ds := cohort(t)
	require.NoError(t, ds.SetNumeric("albumin", []float64{1, -2, 3, 4}))

	_, err := Preprocess(ds, cfg, internal.NewDiscardLogger())
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestTimeFeaturesRequireMappedColumns(t *testing.T) {
	cfg := testConfig()
	cfg.TimeColumnMap = map[string]string{
		"egfr_below_10_date": "egfr_date",
		"pd_start_date":      "pd_date",
		"tki_date":           "tki",
		"assessment_date":    "assessment",
	}
	ds := cohort(t)

	_, err := Preprocess(ds, cfg, internal.NewDiscardLogger())
	assert.ErrorIs(t, err, core.ErrMissingColumn)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dates := func(offset int) []time.Time {
		out := make([]time.Time, 4)
		for i := range out {
			out[i] = base.AddDate(0, 0, offset+i)
		}
		return out
	}
	require.NoError(t, ds.SetDatetime("egfr_date", dates(0)))
	require.NoError(t, ds.SetDatetime("tki", dates(5)))
	require.NoError(t, ds.SetDatetime("pd_date", dates(10)))
	require.NoError(t, ds.SetDatetime("assessment", dates(40)))

	out, err := Preprocess(ds, cfg, internal.NewDiscardLogger())
	require.NoError(t, err)
	for _, name := range []string{"failure_period_days", "waiting_period_days", "pd_period_days"} {
		assert.True(t, out.Features.Has(name), name)
	}
	assert.False(t, out.Features.Has("pd_date"), "raw datetime columns are not features")
}

func TestMissingTargetsAreWarnedNotFatal(t *testing.T) {
	cfg := testConfig()
	cfg.TargetColumns = []string{"ktv", "creatinine_clearance"}
	out, err := Preprocess(cohort(t), cfg, internal.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"ktv"}, out.Targets.Columns())
	// pet is no longer a target, so it stays a numeric feature.
	assert.True(t, out.Features.Has("pet"))
}

func TestMinMaxScalingRange(t *testing.T) {
	cfg := testConfig()
	cfg.ScalingMethod = config.ScalingMinMax
	cfg.MinMaxFeatureRange = config.Bounds{Min: -1, Max: 1}
	out, err := Preprocess(cohort(t), cfg, internal.NewDiscardLogger())
	require.NoError(t, err)

	weights, err := out.Features.Floats("weight_kg")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1 + 2*6.0/26, -1 + 2*18.0/26, -1, 1}, weights, 1e-9)
}
