// Package linear provides the linear solvers shared by feature selection and
// the linear model families: coordinate-descent elastic net and lasso paths,
// ridge and ordinary least squares, plus a k-fold splitter.
package linear

import (
	"fmt"
	"math"

	"detectpd/domain/core"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model is a fitted linear predictor y = X·Coef + Intercept.
type Model struct {
	Coef      []float64
	Intercept float64
	// NIter is the number of coordinate-descent sweeps, 0 for closed-form fits.
	NIter     int
	Converged bool
}

// Predict evaluates the model on every row of X.
func (m *Model) Predict(X mat.Matrix) []float64 {
	r, c := X.Dims()
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		s := m.Intercept
		for j := 0; j < c; j++ {
			s += X.At(i, j) * m.Coef[j]
		}
		out[i] = s
	}
	return out
}

// design is a column-major copy of X with the targets, optionally centered.
type design struct {
	cols  [][]float64
	y     []float64
	xMean []float64
	yMean float64
	n     int
}

func newDesign(X mat.Matrix, y []float64, center bool) (*design, error) {
	n, p := X.Dims()
	if n != len(y) {
		return nil, core.NewDimensionError("target rows", n, len(y))
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no rows to fit", core.ErrInsufficientData)
	}
	d := &design{cols: make([][]float64, p), y: append([]float64(nil), y...), xMean: make([]float64, p), n: n}
	for j := 0; j < p; j++ {
		col := make([]float64, n)
		mat.Col(col, j, X)
		d.cols[j] = col
	}
	if center {
		for j, col := range d.cols {
			mean := floats.Sum(col) / float64(n)
			d.xMean[j] = mean
			floats.AddConst(-mean, col)
		}
		d.yMean = floats.Sum(d.y) / float64(n)
		floats.AddConst(-d.yMean, d.y)
	}
	return d, nil
}

func (d *design) intercept(coef []float64) float64 {
	return d.yMean - floats.Dot(d.xMean, coef)
}

// ElasticNetParams configures an elastic-net fit minimizing
//
//	1/(2n)·‖y − Xw − b‖² + Alpha·L1Ratio·‖w‖₁ + Alpha·(1 − L1Ratio)/2·‖w‖²
type ElasticNetParams struct {
	Alpha        float64
	L1Ratio      float64
	MaxIter      int
	Tol          float64
	FitIntercept bool
}

// DefaultElasticNetParams returns alpha 1, l1 ratio 0.5, 1000 sweeps, tol 1e-4 with intercept.
func DefaultElasticNetParams() ElasticNetParams {
	return ElasticNetParams{Alpha: 1, L1Ratio: 0.5, MaxIter: 1000, Tol: 1e-4, FitIntercept: true}
}

func (p ElasticNetParams) validate() error {
	switch {
	case p.Alpha < 0:
		return core.NewConfigurationError("alpha", "must be >= 0")
	case p.L1Ratio < 0 || p.L1Ratio > 1:
		return core.NewConfigurationError("l1_ratio", "must lie in [0, 1]")
	case p.MaxIter < 1:
		return core.NewConfigurationError("max_iter", "must be >= 1")
	}
	return nil
}

// FitElasticNet fits an elastic net by cyclic coordinate descent.
func FitElasticNet(X mat.Matrix, y []float64, p ElasticNetParams) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	d, err := newDesign(X, y, p.FitIntercept)
	if err != nil {
		return nil, err
	}
	coef := make([]float64, len(d.cols))
	iters, converged := d.coordinateDescent(coef, p.Alpha, p.L1Ratio, p.MaxIter, p.Tol)
	return &Model{Coef: coef, Intercept: d.intercept(coef), NIter: iters, Converged: converged}, nil
}

// coordinateDescent updates coef in place, starting from its current value.
// The stopping rule is a duality-gap check once the largest coefficient
// update falls under tol relative to the largest coefficient.
func (d *design) coordinateDescent(coef []float64, alpha, l1Ratio float64, maxIter int, tol float64) (int, bool) {
	n := float64(d.n)
	l1 := alpha * l1Ratio * n
	l2 := alpha * (1 - l1Ratio) * n

	norms := make([]float64, len(d.cols))
	for j, col := range d.cols {
		norms[j] = floats.Dot(col, col)
	}

	resid := append([]float64(nil), d.y...)
	for j, col := range d.cols {
		if coef[j] != 0 {
			floats.AddScaled(resid, -coef[j], col)
		}
	}
	dwTol := tol
	tol *= floats.Dot(d.y, d.y)

	for iter := 1; iter <= maxIter; iter++ {
		var wMax, dwMax float64
		for j, col := range d.cols {
			if norms[j] == 0 {
				continue
			}
			old := coef[j]
			if old != 0 {
				floats.AddScaled(resid, old, col)
			}
			rho := floats.Dot(col, resid)
			coef[j] = softThreshold(rho, l1) / (norms[j] + l2)
			if coef[j] != 0 {
				floats.AddScaled(resid, -coef[j], col)
			}
			dwMax = math.Max(dwMax, math.Abs(coef[j]-old))
			wMax = math.Max(wMax, math.Abs(coef[j]))
		}
		if wMax == 0 || dwMax/wMax < dwTol || iter == maxIter {
			if d.dualityGap(coef, resid, l1, l2) < tol {
				return iter, true
			}
		}
	}
	return maxIter, false
}

func (d *design) dualityGap(coef, resid []float64, l1, l2 float64) float64 {
	var dualNorm float64
	for j, col := range d.cols {
		v := floats.Dot(col, resid) - l2*coef[j]
		dualNorm = math.Max(dualNorm, math.Abs(v))
	}
	rNorm2 := floats.Dot(resid, resid)
	wNorm2 := floats.Dot(coef, coef)

	scale := 1.0
	var gap float64
	if dualNorm > l1 {
		scale = l1 / dualNorm
		gap = 0.5 * (rNorm2 + rNorm2*scale*scale)
	} else {
		gap = rNorm2
	}
	gap += l1*floats.Norm(coef, 1) - scale*floats.Dot(resid, d.y) + 0.5*l2*(1+scale*scale)*wNorm2
	return gap
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	default:
		return 0
	}
}

// LassoPath fits a lasso at every alpha in order, warm-starting each fit from
// the previous solution. Callers pass alphas in descending order.
func LassoPath(X mat.Matrix, y []float64, alphas []float64, maxIter int, tol float64) ([]*Model, error) {
	d, err := newDesign(X, y, true)
	if err != nil {
		return nil, err
	}
	coef := make([]float64, len(d.cols))
	path := make([]*Model, len(alphas))
	for k, alpha := range alphas {
		iters, converged := d.coordinateDescent(coef, alpha, 1, maxIter, tol)
		c := append([]float64(nil), coef...)
		path[k] = &Model{Coef: c, Intercept: d.intercept(c), NIter: iters, Converged: converged}
	}
	return path, nil
}

// FitRidge solves (XᵀX + αI)w = Xᵀy on centered data when fitIntercept is set.
func FitRidge(X mat.Matrix, y []float64, alpha float64, fitIntercept bool) (*Model, error) {
	if alpha < 0 {
		return nil, core.NewConfigurationError("alpha", "must be >= 0")
	}
	if alpha == 0 {
		return FitOLS(X, y, fitIntercept)
	}
	d, err := newDesign(X, y, fitIntercept)
	if err != nil {
		return nil, err
	}
	p := len(d.cols)
	if p == 0 {
		return &Model{Intercept: d.yMean}, nil
	}
	gram := mat.NewSymDense(p, nil)
	xty := mat.NewVecDense(p, nil)
	for a := 0; a < p; a++ {
		xty.SetVec(a, floats.Dot(d.cols[a], d.y))
		for b := a; b < p; b++ {
			v := floats.Dot(d.cols[a], d.cols[b])
			if a == b {
				v += alpha
			}
			gram.SetSym(a, b, v)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return nil, fmt.Errorf("%w: ridge system is not positive definite", core.ErrInvalidInput)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, xty); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}
	coef := make([]float64, p)
	for j := range coef {
		coef[j] = w.AtVec(j)
	}
	return &Model{Coef: coef, Intercept: d.intercept(coef)}, nil
}

// FitOLS solves least squares through a thin SVD, so rank-deficient designs
// get the minimum-norm solution.
func FitOLS(X mat.Matrix, y []float64, fitIntercept bool) (*Model, error) {
	d, err := newDesign(X, y, fitIntercept)
	if err != nil {
		return nil, err
	}
	p := len(d.cols)
	coef := make([]float64, p)
	if p == 0 {
		return &Model{Coef: coef, Intercept: d.intercept(coef)}, nil
	}
	a := mat.NewDense(d.n, p, nil)
	for j, col := range d.cols {
		a.SetCol(j, col)
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("%w: SVD did not converge", core.ErrInvalidInput)
	}
	rank := svd.Rank(1e-12)
	if rank == 0 {
		return &Model{Coef: coef, Intercept: d.intercept(coef)}, nil
	}
	var w mat.Dense
	svd.SolveTo(&w, mat.NewDense(d.n, 1, append([]float64(nil), d.y...)), rank)
	for j := range coef {
		coef[j] = w.At(j, 0)
	}
	return &Model{Coef: coef, Intercept: d.intercept(coef)}, nil
}

// LogSpace returns n values 10^start … 10^stop spaced evenly in log10.
func LogSpace(start, stop float64, n int) []float64 {
	exps := make([]float64, n)
	if n == 1 {
		exps[0] = start
	} else {
		floats.Span(exps, start, stop)
	}
	for i, e := range exps {
		exps[i] = math.Pow(10, e)
	}
	return exps
}
