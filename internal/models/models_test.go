package models

import (
	"math"
	"math/rand"
	"testing"

	"detectpd/domain/core"
	"detectpd/internal/config"
	"detectpd/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func column(values []float64) *mat.Dense {
	return mat.NewDense(len(values), 1, append([]float64(nil), values...))
}

func line(n int, f func(x float64) float64) (*mat.Dense, []float64) {
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = f(x[i])
	}
	return column(x), y
}

func fitPredict(t *testing.T, spec Spec, X mat.Matrix, y []float64) (Estimator, []float64) {
	t.Helper()
	est, err := New(spec)
	require.NoError(t, err)
	require.NoError(t, est.Fit(X, y))
	pred, err := est.Predict(X)
	require.NoError(t, err)
	return est, pred
}

func r2(t *testing.T, y, pred []float64) float64 {
	t.Helper()
	v, err := metrics.R2Score(y, pred)
	require.NoError(t, err)
	return v
}

func TestNewRejectsUnknownKinds(t *testing.T) {
	_, err := New(Spec{Kind: "svm"})
	assert.ErrorIs(t, err, core.ErrUnknownModelType)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestNewRejectsUnknownHyperparameters(t *testing.T) {
	_, err := New(Spec{Kind: config.ModelRidge, Params: Params{"alpha": 1.0, "bogus": 3}})
	require.ErrorIs(t, err, core.ErrInvalidConfiguration)
	assert.Contains(t, err.Error(), "bogus")

	_, err = New(Spec{Kind: config.ModelRidge, Params: Params{"alpha": "lots"}})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = New(Spec{Kind: config.ModelXGBoost, Params: Params{"n_jobs": -1, "verbosity": 0}})
	assert.NoError(t, err, "engine parameters are accepted everywhere")
}

func TestPredictBeforeFit(t *testing.T) {
	for _, kind := range []string{config.ModelLinearRegression, config.ModelRandomForest, config.ModelLightGBM, config.ModelNGBoost} {
		est, err := New(Spec{Kind: kind})
		require.NoError(t, err, kind)
		_, err = est.Predict(column([]float64{1}))
		assert.ErrorIs(t, err, core.ErrNotFitted, kind)
	}
}

func TestLinearRegressionRecoversLine(t *testing.T) {
	X := mat.NewDense(5, 2, []float64{
		1, 0,
		2, 1,
		3, 5,
		4, 2,
		5, 7,
	})
	y := make([]float64, 5)
	for i := range y {
		y[i] = 2*X.At(i, 0) - X.At(i, 1) + 3
	}
	est, pred := fitPredict(t, Spec{Kind: config.ModelLinearRegression}, X, y)
	assert.InDeltaSlice(t, y, pred, 1e-9)

	coef, intercept := est.(*LinearModel).Coefficients()
	assert.InDeltaSlice(t, []float64{2, -1}, coef, 1e-9)
	assert.InDelta(t, 3, intercept, 1e-9)
}

func TestRandomForestStepFunction(t *testing.T) {
	X, y := line(40, func(x float64) float64 {
		if x < 20 {
			return 0
		}
		return 10
	})
	spec := Spec{Kind: config.ModelRandomForest, Params: Params{"n_estimators": 25}, Seed: 7, NJobs: 1}
	est, pred := fitPredict(t, spec, X, y)
	assert.InDelta(t, 0, pred[5], 1e-9)
	assert.InDelta(t, 10, pred[35], 1e-9)

	parallelSpec := spec
	parallelSpec.NJobs = 4
	_, again := fitPredict(t, parallelSpec, X, y)
	assert.Equal(t, pred, again, "worker count must not change the fit")
	assert.Len(t, est.(*RandomForest).trees, 25)
}

func TestBoostingFamiliesFitLinearSignal(t *testing.T) {
	X, y := line(100, func(x float64) float64 { return 3*x + 1 })
	cases := []Spec{
		{Kind: config.ModelXGBoost, Params: Params{"n_estimators": 100}},
		{Kind: config.ModelLightGBM, Params: Params{"n_estimators": 200, "min_child_samples": 5}},
		{Kind: config.ModelCatBoost, Params: Params{"iterations": 200, "learning_rate": 0.1}},
		{Kind: config.ModelCatBoost, Params: Params{"iterations": 200, "learning_rate": 0.1, "grow_policy": "Depthwise"}},
	}
	for _, spec := range cases {
		spec.Seed = 42
		_, pred := fitPredict(t, spec, X, y)
		assert.Greater(t, r2(t, y, pred), 0.95, "%s %v", spec.Kind, spec.Params)
	}
}

func TestBoostingParsesFamilyObjectives(t *testing.T) {
	est, err := New(Spec{Kind: config.ModelCatBoost, Params: Params{"loss_function": "Quantile:alpha=0.8"}})
	require.NoError(t, err)
	b := est.(*Boosting)
	assert.Equal(t, lossQuantile, b.loss)
	assert.InDelta(t, 0.8, b.quantileAlpha, 1e-12)
	assert.True(t, b.oblivious)

	est, err = New(Spec{Kind: config.ModelXGBoost, Params: Params{"objective": "reg:absoluteerror"}})
	require.NoError(t, err)
	assert.Equal(t, lossAbsolute, est.(*Boosting).loss)

	_, err = New(Spec{Kind: config.ModelLightGBM, Params: Params{"objective": "poisson"}})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = New(Spec{Kind: config.ModelXGBoost, Params: Params{"subsample": 1.5}})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestBoostingMonotoneConstraint(t *testing.T) {
	X, y := line(60, func(x float64) float64 { return x + 8*math.Sin(x) })
	params := ApplyMonotoneConstraints(Params{"n_estimators": 50}, []int{1}, config.ModelXGBoost)
	assert.Equal(t, "(1)", params["monotone_constraints"])

	_, pred := fitPredict(t, Spec{Kind: config.ModelXGBoost, Params: params}, X, y)
	for i := 1; i < len(pred); i++ {
		assert.GreaterOrEqual(t, pred[i], pred[i-1]-1e-9, "prediction decreased at row %d", i)
	}

	listForm := ApplyMonotoneConstraints(Params{"n_estimators": 50, "min_child_samples": 2}, []int{-1}, config.ModelLightGBM)
	_, pred = fitPredict(t, Spec{Kind: config.ModelLightGBM, Params: listForm}, X, y)
	for i := 1; i < len(pred); i++ {
		assert.LessOrEqual(t, pred[i], pred[i-1]+1e-9, "prediction increased at row %d", i)
	}
}

func TestBoostingMonotoneLengthMustMatchFeatures(t *testing.T) {
	X, y := line(10, func(x float64) float64 { return x })
	est, err := New(Spec{Kind: config.ModelXGBoost, Params: Params{"monotone_constraints": "(1,0)"}})
	require.NoError(t, err)
	assert.ErrorIs(t, est.Fit(X, y), core.ErrInvalidConfiguration)
}

func TestBoostingEarlyStoppingKeepsBestPrefix(t *testing.T) {
	// The held-out tail contradicts the training trend, so every round
	// after the first makes the held-out loss worse.
	X, y := line(50, func(x float64) float64 {
		if x >= 45 {
			return -100
		}
		return x
	})
	est, err := New(Spec{Kind: config.ModelXGBoost, Params: Params{"n_estimators": 50}, EarlyStoppingRounds: 3})
	require.NoError(t, err)
	require.NoError(t, est.Fit(X, y))
	b := est.(*Boosting)
	assert.Equal(t, 1, b.BestIteration)
	assert.Len(t, b.ValidationLoss, 4)
}

func TestQuantileEnsembleOrdersLevels(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	X, y := line(300, func(x float64) float64 { return x/10 + rng.Float64()*10 })
	spec := Spec{
		Kind:      config.ModelQuantileLightGBM,
		Params:    Params{"n_estimators": 100, "min_child_samples": 10},
		Quantiles: []float64{0.1, 0.5, 0.9},
		Seed:      42,
	}
	est, err := New(spec)
	require.NoError(t, err)
	require.NoError(t, est.Fit(X, y))

	q := est.(*QuantileEnsemble)
	assert.Equal(t, 0.5, q.Primary())
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, q.Quantiles())

	preds, err := q.PredictQuantiles(X)
	require.NoError(t, err)
	mean := func(v []float64) float64 {
		var s float64
		for _, x := range v {
			s += x
		}
		return s / float64(len(v))
	}
	assert.Less(t, mean(preds[0.1]), mean(preds[0.5]))
	assert.Less(t, mean(preds[0.5]), mean(preds[0.9]))

	point, err := q.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, preds[0.5], point)
}

func TestQuantileEnsembleDefaultsAndPrimaryTies(t *testing.T) {
	est, err := New(Spec{Kind: config.ModelQuantileLightGBM})
	require.NoError(t, err)
	assert.Equal(t, DefaultQuantiles, est.(*QuantileEnsemble).Quantiles())

	members := map[float64]Estimator{0.4: &LinearModel{}, 0.6: &LinearModel{}}
	e, err := NewQuantileEnsemble([]float64{0.4, 0.6}, members)
	require.NoError(t, err)
	assert.Equal(t, 0.4, e.Primary())

	_, err = NewQuantileEnsemble([]float64{0.4, 0.7}, members)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestNGBoostNormalDistribution(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	X, y := line(200, func(float64) float64 { return 5 + rng.NormFloat64() })
	est, err := New(Spec{Kind: config.ModelNGBoost, Params: Params{"n_estimators": 100}, Distribution: "Normal"})
	require.NoError(t, err)
	require.NoError(t, est.Fit(X, y))

	dist := est.(DistributionPredictor)
	assert.Equal(t, DistributionNormal, dist.DistributionName())

	pred, err := est.Predict(X)
	require.NoError(t, err)
	std, err := dist.PredictStd(X)
	require.NoError(t, err)
	for i := range pred {
		assert.InDelta(t, 5, pred[i], 1)
		assert.Greater(t, std[i], 0.4)
		assert.Less(t, std[i], 1.6)
	}
}

func TestNGBoostLogNormalNeedsPositiveTargets(t *testing.T) {
	est, err := New(Spec{Kind: config.ModelNGBoost, Distribution: "weibull"})
	require.NoError(t, err)
	assert.Equal(t, DistributionLogNormal, est.(*NGBoost).DistributionName())

	X, y := line(10, func(x float64) float64 { return x - 3 })
	assert.ErrorIs(t, est.Fit(X, y), core.ErrInvalidInput)
}

func TestStackedCombinesBaseModels(t *testing.T) {
	X, y := line(40, func(x float64) float64 { return 2*x + 1 })
	spec := Spec{
		Kind:   config.ModelStacked,
		Params: Params{"meta": map[string]interface{}{"alpha": 0.1}},
		Base: []Spec{
			{Kind: config.ModelLinearRegression},
			{Kind: config.ModelRandomForest, Params: Params{"n_estimators": 10}, Seed: 1},
		},
		NJobs: 2,
	}
	est, pred := fitPredict(t, spec, X, y)
	assert.Greater(t, r2(t, y, pred), 0.95)

	s := est.(*Stacked)
	assert.Equal(t, []string{"linear_regression_0", "random_forest_1"}, s.MemberNames())
	coef, _ := s.MetaCoefficients()
	assert.Len(t, coef, 2)
}

func TestStackedValidatesMembersAndMeta(t *testing.T) {
	_, err := New(Spec{Kind: config.ModelStacked})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = New(Spec{Kind: config.ModelStacked, Params: Params{"bogus": 1}, Base: []Spec{{Kind: config.ModelRidge}}})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = New(Spec{Kind: config.ModelStacked, Base: []Spec{{Kind: "svm"}}})
	assert.ErrorIs(t, err, core.ErrUnknownModelType)
}

func TestStackedNeedsTwoRows(t *testing.T) {
	est, err := New(Spec{Kind: config.ModelStacked, Base: []Spec{{Kind: config.ModelLinearRegression}}})
	require.NoError(t, err)

	err = est.Fit(mat.NewDense(1, 1, []float64{1}), []float64{2})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
	assert.NotErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestParseMonotoneConstraints(t *testing.T) {
	c, err := ParseMonotoneConstraints("(1, 0,-1)")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0, -1}, c)

	c, err = ParseMonotoneConstraints([]interface{}{1, -1.0})
	require.NoError(t, err)
	assert.Equal(t, []int{1, -1}, c)

	_, err = ParseMonotoneConstraints("(2)")
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	_, err = ParseMonotoneConstraints([]int{0, 3})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	assert.Equal(t, "(1,0,-1)", FormatMonotoneConstraints([]int{1, 0, -1}))
}

func TestSpecFromDefinitionTranslatesConstraints(t *testing.T) {
	rounds := 10
	def := config.ModelDefinition{
		ModelType:           config.ModelStacked,
		Hyperparameters:     map[string]interface{}{"alpha": 2.0},
		MonotoneConstraints: []int{1},
		BaseModels: []config.ModelDefinition{
			{ModelType: config.ModelXGBoost, MonotoneConstraints: []int{1, -1}, EarlyStoppingRounds: &rounds},
			{ModelType: config.ModelLightGBM, MonotoneConstraints: []int{0, 1}},
		},
	}
	spec := SpecFromDefinition(def, 42, 2)
	assert.NotContains(t, spec.Params, "monotone_constraints")
	require.Len(t, spec.Base, 2)
	assert.Equal(t, "(1,-1)", spec.Base[0].Params["monotone_constraints"])
	assert.Equal(t, 10, spec.Base[0].EarlyStoppingRounds)
	assert.Equal(t, []int{0, 1}, spec.Base[1].Params["monotone_constraints"])
	assert.Equal(t, int64(42), spec.Base[1].Seed)
}
