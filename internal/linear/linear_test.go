package linear

import (
	"math"
	"math/rand"
	"testing"

	"detectpd/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func syntheticProblem(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		a, b, c := rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()
		X.SetRow(i, []float64{a, b, c})
		y[i] = 3*a - 2*b + 0.5 + 0.1*rng.NormFloat64()
	}
	return X, y
}

func TestFitOLSRecoversCoefficients(t *testing.T) {
	X, y := syntheticProblem(200, 1)
	m, err := FitOLS(X, y, true)
	require.NoError(t, err)
	assert.InDelta(t, 3, m.Coef[0], 0.05)
	assert.InDelta(t, -2, m.Coef[1], 0.05)
	assert.InDelta(t, 0, m.Coef[2], 0.05)
	assert.InDelta(t, 0.5, m.Intercept, 0.05)
}

func TestFitOLSRankDeficient(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{1, 2, 2, 4, 3, 6, 4, 8})
	y := []float64{1, 2, 3, 4}
	m, err := FitOLS(X, y, true)
	require.NoError(t, err)
	pred := m.Predict(X)
	assert.InDeltaSlice(t, y, pred, 1e-9)
}

func TestFitRidgeShrinksTowardZero(t *testing.T) {
	X, y := syntheticProblem(100, 2)
	small, err := FitRidge(X, y, 1e-6, true)
	require.NoError(t, err)
	large, err := FitRidge(X, y, 1e4, true)
	require.NoError(t, err)
	assert.InDelta(t, 3, small.Coef[0], 0.05)
	assert.Less(t, math.Abs(large.Coef[0]), math.Abs(small.Coef[0]))
	assert.Less(t, math.Abs(large.Coef[0]), 0.5)
}

func TestFitElasticNetLassoSparsity(t *testing.T) {
	X, y := syntheticProblem(150, 3)
	m, err := FitElasticNet(X, y, ElasticNetParams{Alpha: 0.1, L1Ratio: 1, MaxIter: 1000, Tol: 1e-6, FitIntercept: true})
	require.NoError(t, err)
	assert.True(t, m.Converged)
	assert.InDelta(t, 2.9, m.Coef[0], 0.1)
	assert.InDelta(t, -1.9, m.Coef[1], 0.1)
	assert.InDelta(t, 0, m.Coef[2], 0.05)

	huge, err := FitElasticNet(X, y, ElasticNetParams{Alpha: 100, L1Ratio: 1, MaxIter: 100, Tol: 1e-4, FitIntercept: true})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, huge.Coef)
}

func TestFitElasticNetRejectsBadParams(t *testing.T) {
	X, y := syntheticProblem(10, 4)
	_, err := FitElasticNet(X, y, ElasticNetParams{Alpha: 1, L1Ratio: 2, MaxIter: 10})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	_, err = FitElasticNet(X, y[:5], DefaultElasticNetParams())
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestLassoPathIsMonotoneInSparsity(t *testing.T) {
	X, y := syntheticProblem(120, 5)
	alphas := LogSpace(1, -3, 20)
	path, err := LassoPath(X, y, alphas, 1000, 1e-4)
	require.NoError(t, err)
	require.Len(t, path, 20)

	first := path[0]
	last := path[len(path)-1]
	assert.LessOrEqual(t, nonZero(first.Coef), nonZero(last.Coef))
	assert.InDelta(t, 3, last.Coef[0], 0.05)
}

func nonZero(coef []float64) int {
	n := 0
	for _, c := range coef {
		if c != 0 {
			n++
		}
	}
	return n
}

func TestLogSpace(t *testing.T) {
	v := LogSpace(-4, 2, 80)
	require.Len(t, v, 80)
	assert.InDelta(t, 1e-4, v[0], 1e-12)
	assert.InDelta(t, 100, v[79], 1e-9)
	for i := 1; i < len(v); i++ {
		assert.Greater(t, v[i], v[i-1])
	}
}

func TestKFold(t *testing.T) {
	folds, err := KFold(11, 5)
	require.NoError(t, err)
	require.Len(t, folds, 5)
	assert.Equal(t, []int{0, 1, 2}, folds[0].Test)
	assert.Equal(t, []int{9, 10}, folds[4].Test)

	seen := make(map[int]int)
	for _, f := range folds {
		assert.Len(t, f.Train, 11-len(f.Test))
		for _, i := range f.Test {
			seen[i]++
		}
	}
	assert.Len(t, seen, 11)

	_, err = KFold(3, 5)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
	_, err = KFold(10, 1)
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}
