package models

import (
	"detectpd/internal/config"
	"detectpd/internal/linear"

	"gonum.org/v1/gonum/mat"
)

// LinearModel wraps the closed-form and coordinate-descent linear solvers.
type LinearModel struct {
	kind         string
	alpha        float64
	l1Ratio      float64
	maxIter      int
	tol          float64
	fitIntercept bool

	fitted *linear.Model
}

func newOLS(params Params) (*LinearModel, error) {
	r := newReader(params)
	m := &LinearModel{kind: config.ModelLinearRegression, fitIntercept: r.Bool(true, "fit_intercept")}
	r.Raw("copy_X", "positive")
	return m, r.done(m.kind)
}

func newRidge(params Params) (*LinearModel, error) {
	r := newReader(params)
	m := &LinearModel{
		kind:         config.ModelRidge,
		alpha:        r.Float(1.0, "alpha"),
		fitIntercept: r.Bool(true, "fit_intercept"),
	}
	r.Raw("copy_X", "solver", "random_state", "max_iter", "tol")
	if m.alpha < 0 {
		r.fail("alpha", "must be >= 0")
	}
	return m, r.done(m.kind)
}

func newElasticNet(params Params) (*LinearModel, error) {
	r := newReader(params)
	m := &LinearModel{
		kind:         config.ModelElasticNet,
		alpha:        r.Float(1.0, "alpha"),
		l1Ratio:      r.Float(0.5, "l1_ratio"),
		maxIter:      r.Int(1000, "max_iter"),
		tol:          r.Float(1e-4, "tol"),
		fitIntercept: r.Bool(true, "fit_intercept"),
	}
	r.Raw("copy_X", "random_state", "selection", "warm_start", "precompute")
	return m, r.done(m.kind)
}

// Fit solves for the coefficients.
func (m *LinearModel) Fit(X mat.Matrix, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	var fitted *linear.Model
	var err error
	switch m.kind {
	case config.ModelLinearRegression:
		fitted, err = linear.FitOLS(X, y, m.fitIntercept)
	case config.ModelRidge:
		fitted, err = linear.FitRidge(X, y, m.alpha, m.fitIntercept)
	default:
		fitted, err = linear.FitElasticNet(X, y, linear.ElasticNetParams{
			Alpha: m.alpha, L1Ratio: m.l1Ratio, MaxIter: m.maxIter, Tol: m.tol, FitIntercept: m.fitIntercept,
		})
	}
	if err != nil {
		return err
	}
	m.fitted = fitted
	return nil
}

// Predict evaluates the fitted linear function.
func (m *LinearModel) Predict(X mat.Matrix) ([]float64, error) {
	n := -1
	if m.fitted != nil {
		n = len(m.fitted.Coef)
	}
	if err := checkPredict(X, n); err != nil {
		return nil, err
	}
	return m.fitted.Predict(X), nil
}

// Coefficients returns the fitted coefficients and intercept.
func (m *LinearModel) Coefficients() ([]float64, float64) {
	if m.fitted == nil {
		return nil, 0
	}
	return append([]float64(nil), m.fitted.Coef...), m.fitted.Intercept
}
