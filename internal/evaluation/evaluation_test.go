package evaluation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/preprocessing"
	"detectpd/internal/training"
	"detectpd/internal/traininginput"
	"detectpd/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cohort(t *testing.T, start, n int, withPET bool) *dataset.Dataset {
	t.Helper()
	ids := make([]string, n)
	age := make([]float64, n)
	albumin := make([]float64, n)
	ktv := make([]float64, n)
	pet := make([]float64, n)
	for k := 0; k < n; k++ {
		i := start + k
		ids[k] = fmt.Sprintf("p%02d", i)
		age[k] = float64(40 + i)
		albumin[k] = 3 + 0.1*float64((i*3)%7)
		ktv[k] = 0.5 + 0.02*age[k]
		pet[k] = 0.3 + 0.01*float64(i)
	}
	ds, err := dataset.New(ids)
	require.NoError(t, err)
	require.NoError(t, ds.SetNumeric("age", age))
	require.NoError(t, ds.SetNumeric("albumin", albumin))
	require.NoError(t, ds.SetNumeric("ktv", ktv))
	if withPET {
		require.NoError(t, ds.SetNumeric("pet", pet))
	}
	return ds
}

type recordingRenderer struct {
	discrimination map[string][]ports.Bar
	calibration    map[string][]ports.CalibrationSeries
	fail           bool
}

func (r *recordingRenderer) RenderLassoCurve(string, ports.LassoCurve) error { return nil }
func (r *recordingRenderer) RenderImportance(string, string, []ports.Bar) error { return nil }

func (r *recordingRenderer) RenderDiscrimination(_, target, _ string, bars []ports.Bar) error {
	if r.fail {
		return errors.New("no display")
	}
	r.discrimination[target] = bars
	return nil
}

func (r *recordingRenderer) RenderCalibration(_, target string, series []ports.CalibrationSeries) error {
	if r.fail {
		return errors.New("no display")
	}
	r.calibration[target] = series
	return nil
}

func newRenderer() *recordingRenderer {
	return &recordingRenderer{
		discrimination: map[string][]ports.Bar{},
		calibration:    map[string][]ports.CalibrationSeries{},
	}
}

type fitted struct {
	prepCfg config.PreprocessingConfig
	input   *traininginput.Input
	trained *training.Output
}

func fitModels(t *testing.T) fitted {
	t.Helper()
	logger := internal.NewDiscardLogger()
	prepCfg := config.DefaultPreprocessing()
	pre, err := preprocessing.Preprocess(cohort(t, 0, 20, true), prepCfg, logger)
	require.NoError(t, err)
	in, err := traininginput.Build(pre, nil, nil, logger)
	require.NoError(t, err)

	cfg := config.DefaultModelTraining()
	cfg.Targets = []config.TargetModelCollection{
		{Target: "ktv", Models: []config.ModelDefinition{
			{ModelType: config.ModelLinearRegression},
			{
				ModelType:       config.ModelQuantileLightGBM,
				Hyperparameters: map[string]interface{}{"n_estimators": 10, "min_child_samples": 3},
				Quantiles:       []float64{0.1, 0.5},
			},
			{ModelType: config.ModelNGBoost, Hyperparameters: map[string]interface{}{"n_estimators": 5}},
		}},
		{Target: "pet", Models: []config.ModelDefinition{{ModelType: config.ModelLinearRegression}}},
	}
	trained, err := training.NewTrainer(cfg, logger).Train(context.Background(), in)
	require.NoError(t, err)
	return fitted{prepCfg: prepCfg, input: in, trained: trained}
}

func evaluationConfig(dir string) config.EvaluationConfig {
	cfg := config.DefaultEvaluation()
	cfg.OutputDir = dir
	cfg.CalibrationBins = 3
	cfg.Thresholds = map[string]config.EvaluationThreshold{"ktv": {Name: "adequacy", Value: 1.75}}
	return cfg
}

func TestEvaluateScoresEveryModel(t *testing.T) {
	f := fitModels(t)
	dir := t.TempDir()
	renderer := newRenderer()
	ev := NewEvaluator(evaluationConfig(dir), f.prepCfg, renderer, internal.NewDiscardLogger())

	summary, err := ev.Evaluate(context.Background(), f.trained, f.input, cohort(t, 20, 6, true))
	require.NoError(t, err)
	require.Equal(t, []string{"ktv", "pet"}, summary.TargetNames())

	ktv := summary.Targets["ktv"]
	require.Len(t, ktv.Models, 3)
	linear := ktv.Models[0]
	assert.Equal(t, "linear_regression", linear.Name)
	assert.InDelta(t, 1, linear.Metrics["r2"], 1e-6)
	for _, name := range []string{"mae", "mse", "r2", "icc"} {
		assert.Contains(t, linear.Metrics, name)
	}
	require.NotNil(t, linear.WithinClinicalRange)
	assert.True(t, *linear.WithinClinicalRange)
	assert.Equal(t, map[string]float64{"adequacy": 1}, linear.Extras[ExtraThresholdAgreement])
	assert.Len(t, linear.Extras[ExtraYTrueTest], 6)
	assert.Len(t, linear.Extras[ExtraYPredTest], 6)
	assert.Contains(t, linear.Extras, training.ExtraTrainPredictions)

	bins := linear.Extras[ExtraCalibration].([]CalibrationBin)
	require.Len(t, bins, 3)
	for _, b := range bins {
		assert.Equal(t, 2, b.Count)
		assert.InDelta(t, b.MeanObserved, b.MeanPredicted, 1e-6)
	}

	quantile := ktv.Models[1]
	byLevel := quantile.Extras[ExtraQuantilePredictionsTest].(map[string][]float64)
	assert.Contains(t, byLevel, "0.1")
	assert.Equal(t, byLevel["0.5"], quantile.Extras[ExtraYPredTest])

	ngb := ktv.Models[2]
	assert.Len(t, ngb.Extras[ExtraPredictedStdTest], 6)

	assert.Equal(t, "linear_regression", ktv.BestModel)
	assert.Equal(t, "r2", summary.ComparisonMetric)

	assert.Equal(t, filepath.Join(dir, "discrimination_ktv.png"), summary.DiscriminationPlots["ktv"])
	assert.Equal(t, filepath.Join(dir, "calibration_pet.png"), summary.CalibrationPlots["pet"])
	require.Len(t, renderer.discrimination["ktv"], 3)
	assert.Equal(t, "linear_regression", renderer.discrimination["ktv"][0].Label)
	assert.Len(t, renderer.calibration["pet"], 1)
}

func TestEvaluateSkipsTargetsAbsentFromTestSplit(t *testing.T) {
	f := fitModels(t)
	cfg := evaluationConfig(t.TempDir())
	cfg.GeneratePlots = false
	ev := NewEvaluator(cfg, f.prepCfg, nil, internal.NewDiscardLogger())

	summary, err := ev.Evaluate(context.Background(), f.trained, f.input, cohort(t, 20, 4, false))
	require.NoError(t, err)
	assert.Equal(t, []string{"ktv"}, summary.TargetNames())
	assert.Empty(t, summary.DiscriminationPlots)
}

func TestEvaluateToleratesRendererFailures(t *testing.T) {
	f := fitModels(t)
	renderer := newRenderer()
	renderer.fail = true
	ev := NewEvaluator(evaluationConfig(t.TempDir()), f.prepCfg, renderer, internal.NewDiscardLogger())

	summary, err := ev.Evaluate(context.Background(), f.trained, f.input, cohort(t, 20, 6, true))
	require.NoError(t, err)
	assert.Len(t, summary.Targets, 2)
	assert.Empty(t, summary.DiscriminationPlots)
	assert.Empty(t, summary.CalibrationPlots)
}

func TestCalibrationTable(t *testing.T) {
	yTrue := []float64{1, 2, 3, 4, 5}
	yPred := []float64{5, 4, 3, 2, 1}
	bins := CalibrationTable(yTrue, yPred, 2)
	require.Len(t, bins, 2)
	assert.Equal(t, CalibrationBin{MeanPredicted: 2, MeanObserved: 4, Count: 3}, bins[0])
	assert.Equal(t, CalibrationBin{MeanPredicted: 4.5, MeanObserved: 1.5, Count: 2}, bins[1])
	assert.Len(t, CalibrationTable(yTrue, yPred, 10), 5)
	assert.Nil(t, CalibrationTable(nil, nil, 3))
}

func TestThresholdAgreement(t *testing.T) {
	assert.Equal(t, 0.75, ThresholdAgreement([]float64{1, 2, 3, 4}, []float64{1, 1, 3, 1}, 2.5))
	assert.Equal(t, 0.0, ThresholdAgreement(nil, nil, 1))
}

func TestBestModelHonoursMetricDirection(t *testing.T) {
	evals := []*ModelEvaluation{
		{Name: "a", Metrics: map[string]float64{"mae": 0.3, "r2": 0.8}},
		{Name: "b", Metrics: map[string]float64{"mae": 0.2, "r2": 0.6}},
	}
	assert.Equal(t, "a", bestModel(evals, "r2"))
	assert.Equal(t, "b", bestModel(evals, "mae"))
}
