package models

import (
	"math"
	"math/rand"
	"strings"

	"detectpd/domain/core"
	"detectpd/internal/config"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Predictive distributions for NGBoost.
const (
	DistributionNormal    = "normal"
	DistributionLogNormal = "lognormal"
)

const minLogScale = -20

// NGBoost boosts the location and log-scale of a Normal distribution with
// natural gradients. The LogNormal case fits the Normal to log(y).
type NGBoost struct {
	distribution string
	nEstimators  int
	learningRate float64
	minibatch    float64
	colSample    float64
	maxDepth     int
	tol          float64
	seed         int64

	init      [2]float64
	stages    []ngbStage
	nFeatures int
}

type ngbStage struct {
	loc, scale *tree
	step       float64
}

func newNGBoost(params Params, distribution string, seed int64) (*NGBoost, error) {
	r := newReader(params)
	m := &NGBoost{
		distribution: resolveDistribution(distribution),
		nEstimators:  r.Int(500, "n_estimators"),
		learningRate: r.Float(0.01, "learning_rate"),
		minibatch:    r.Float(1, "minibatch_frac"),
		colSample:    r.Float(1, "col_sample"),
		maxDepth:     r.Int(3, "max_depth"),
		tol:          r.Float(1e-4, "tol"),
		seed:         int64(r.Int(int(seed), "random_state")),
		nFeatures:    -1,
	}
	r.Raw("natural_gradient", "validation_fraction", "early_stopping_rounds")
	switch {
	case m.nEstimators < 1:
		r.fail("n_estimators", "must be >= 1")
	case m.learningRate <= 0:
		r.fail("learning_rate", "must be > 0")
	case m.minibatch <= 0 || m.minibatch > 1:
		r.fail("minibatch_frac", "must lie in (0, 1]")
	case m.colSample <= 0 || m.colSample > 1:
		r.fail("col_sample", "must lie in (0, 1]")
	}
	return m, r.done(config.ModelNGBoost)
}

// resolveDistribution maps a configured name onto a supported distribution.
// Unknown names fall back to lognormal.
func resolveDistribution(name string) string {
	if strings.ToLower(name) == DistributionNormal {
		return DistributionNormal
	}
	return DistributionLogNormal
}

// DistributionName reports the fitted distribution.
func (m *NGBoost) DistributionName() string { return m.distribution }

func (m *NGBoost) transform(y []float64) ([]float64, error) {
	if m.distribution == DistributionNormal {
		return y, nil
	}
	z := make([]float64, len(y))
	for i, v := range y {
		if v <= 0 {
			return nil, core.NewInvalidInputError("target", "lognormal distribution needs positive targets")
		}
		z[i] = math.Log(v)
	}
	return z, nil
}

func normalNLL(z, loc, logScale []float64, rows []int) float64 {
	var s float64
	for _, r := range rows {
		d := distuv.Normal{Mu: loc[r], Sigma: math.Exp(logScale[r])}
		s -= d.LogProb(z[r])
	}
	return s / float64(len(rows))
}

// Fit runs natural-gradient boosting with a halving line search per stage.
func (m *NGBoost) Fit(X mat.Matrix, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	z, err := m.transform(y)
	if err != nil {
		return err
	}
	x := rowsOf(X)
	n, p := len(x), len(x[0])

	mean, std := stat.PopMeanStdDev(z, nil)
	m.init = [2]float64{mean, math.Max(math.Log(std), minLogScale)}
	loc := make([]float64, n)
	logScale := make([]float64, n)
	floats.AddConst(m.init[0], loc)
	floats.AddConst(m.init[1], logScale)

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	gLoc := make([]float64, n)
	gScale := make([]float64, n)
	hess := make([]float64, n)
	for i := range hess {
		hess[i] = 1
	}
	rng := rand.New(rand.NewSource(m.seed))
	cfg := treeConfig{maxDepth: m.maxDepth, minSamplesSplit: 2, minSamplesLeaf: 1}

	m.stages = m.stages[:0]
	for it := 0; it < m.nEstimators; it++ {
		rows := sampleWithoutReplacement(all, m.minibatch, rng)
		for _, r := range rows {
			sigma2 := math.Exp(2 * logScale[r])
			d := z[r] - loc[r]
			// Fisher-preconditioned gradient of the negative log likelihood.
			gLoc[r] = -(loc[r] - z[r])
			gScale[r] = -(1 - d*d/sigma2) / 2
		}
		features := sampleFeatures(p, m.colSample, rng)
		locTree := (&treeGrower{cfg: cfg, x: x, g: gLoc, h: hess, features: features, rng: rng}).grow(rows)
		scaleTree := (&treeGrower{cfg: cfg, x: x, g: gScale, h: hess, features: features, rng: rng}).grow(rows)

		dLoc := make([]float64, n)
		dScale := make([]float64, n)
		for r := range x {
			dLoc[r] = locTree.predictRow(x[r])
			dScale[r] = scaleTree.predictRow(x[r])
		}

		before := normalNLL(z, loc, logScale, rows)
		scale := 1.0
		var norm float64
		for {
			var nextLoc, nextScale []float64
			nextLoc, nextScale, norm = stepParams(loc, logScale, dLoc, dScale, scale, rows)
			after := normalNLL(z, nextLoc, nextScale, rows)
			if (!math.IsInf(after, 0) && !math.IsNaN(after) && after <= before && norm <= 5) || scale < 1.0/1024 {
				break
			}
			scale /= 2
		}
		if norm*m.learningRate < m.tol {
			break
		}
		step := m.learningRate * scale
		for r := range x {
			loc[r] -= step * dLoc[r]
			logScale[r] = math.Max(logScale[r]-step*dScale[r], minLogScale)
		}
		m.stages = append(m.stages, ngbStage{loc: locTree, scale: scaleTree, step: step})
	}
	m.nFeatures = p
	return nil
}

// stepParams applies a candidate step to the rows under consideration and
// returns the mean norm of the scaled update.
func stepParams(loc, logScale, dLoc, dScale []float64, scale float64, rows []int) ([]float64, []float64, float64) {
	nextLoc := append([]float64(nil), loc...)
	nextScale := append([]float64(nil), logScale...)
	var norm float64
	for _, r := range rows {
		a, b := scale*dLoc[r], scale*dScale[r]
		nextLoc[r] -= a
		nextScale[r] = math.Max(nextScale[r]-b, minLogScale)
		norm += math.Hypot(a, b)
	}
	return nextLoc, nextScale, norm / float64(len(rows))
}

func (m *NGBoost) params(X mat.Matrix) ([]float64, []float64, error) {
	if err := checkPredict(X, m.nFeatures); err != nil {
		return nil, nil, err
	}
	x := rowsOf(X)
	loc := make([]float64, len(x))
	logScale := make([]float64, len(x))
	for i, row := range x {
		l, s := m.init[0], m.init[1]
		for _, st := range m.stages {
			l -= st.step * st.loc.predictRow(row)
			s = math.Max(s-st.step*st.scale.predictRow(row), minLogScale)
		}
		loc[i], logScale[i] = l, s
	}
	return loc, logScale, nil
}

func (m *NGBoost) dist(loc, logScale float64) interface {
	Mean() float64
	StdDev() float64
} {
	if m.distribution == DistributionNormal {
		return distuv.Normal{Mu: loc, Sigma: math.Exp(logScale)}
	}
	return distuv.LogNormal{Mu: loc, Sigma: math.Exp(logScale)}
}

// Predict returns the mean of the predictive distribution per row.
func (m *NGBoost) Predict(X mat.Matrix) ([]float64, error) {
	loc, logScale, err := m.params(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(loc))
	for i := range loc {
		out[i] = m.dist(loc[i], logScale[i]).Mean()
	}
	return out, nil
}

// PredictStd returns the standard deviation of the predictive distribution
// per row.
func (m *NGBoost) PredictStd(X mat.Matrix) ([]float64, error) {
	loc, logScale, err := m.params(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(loc))
	for i := range loc {
		out[i] = m.dist(loc[i], logScale[i]).StdDev()
	}
	return out, nil
}
