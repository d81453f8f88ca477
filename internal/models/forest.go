package models

import (
	"context"
	"math"
	"math/rand"

	"detectpd/internal/config"
	"detectpd/internal/parallel"

	"gonum.org/v1/gonum/mat"
)

// RandomForest averages least-squares trees grown on bootstrap samples with
// per-split feature subsampling.
type RandomForest struct {
	nEstimators     int
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     interface{}
	bootstrap       bool
	seed            int64
	nJobs           int

	trees     []*tree
	nFeatures int
}

func newRandomForest(params Params, seed int64, nJobs int) (*RandomForest, error) {
	r := newReader(params)
	f := &RandomForest{
		nEstimators:     r.Int(100, "n_estimators"),
		maxDepth:        r.Int(0, "max_depth"),
		minSamplesSplit: r.Int(2, "min_samples_split"),
		minSamplesLeaf:  r.Int(1, "min_samples_leaf"),
		bootstrap:       r.Bool(true, "bootstrap"),
		seed:            int64(r.Int(int(seed), "random_state")),
		nJobs:           nJobs,
		nFeatures:       -1,
	}
	if v, ok := r.Raw("max_features"); ok {
		f.maxFeatures = v
	} else {
		f.maxFeatures = 1.0
	}
	r.Raw("criterion", "oob_score", "warm_start", "max_samples", "ccp_alpha", "min_weight_fraction_leaf", "max_leaf_nodes", "min_impurity_decrease")
	if f.nEstimators < 1 {
		r.fail("n_estimators", "must be >= 1")
	}
	if f.maxDepth < 0 {
		f.maxDepth = 0
	}
	return f, r.done(config.ModelRandomForest)
}

// resolveMaxFeatures maps the sklearn-style setting onto a feature count.
func resolveMaxFeatures(v interface{}, p int) int {
	switch m := v.(type) {
	case string:
		switch m {
		case "sqrt", "auto":
			return max(1, int(math.Sqrt(float64(p))))
		case "log2":
			return max(1, int(math.Log2(float64(p))))
		}
	case int:
		return min(max(1, m), p)
	case float64:
		if m == math.Trunc(m) && m > 1 {
			return min(int(m), p)
		}
		return max(1, int(m*float64(p)))
	}
	return p
}

// Fit grows the trees in parallel. Tree i draws from its own source seeded
// with seed+i, so the fit does not depend on the worker count.
func (f *RandomForest) Fit(X mat.Matrix, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	x := rowsOf(X)
	n, p := len(x), len(x[0])
	g := make([]float64, n)
	h := make([]float64, n)
	for i, v := range y {
		g[i], h[i] = -v, 1
	}
	features := make([]int, p)
	for j := range features {
		features[j] = j
	}
	cfg := treeConfig{
		maxDepth:        f.maxDepth,
		minSamplesSplit: f.minSamplesSplit,
		minSamplesLeaf:  f.minSamplesLeaf,
		maxFeatures:     resolveMaxFeatures(f.maxFeatures, p),
	}

	trees, err := parallel.Map(context.Background(), f.nEstimators, f.nJobs, func(_ context.Context, i int) (*tree, error) {
		rng := rand.New(rand.NewSource(f.seed + int64(i)))
		rows := make([]int, n)
		if f.bootstrap {
			for k := range rows {
				rows[k] = rng.Intn(n)
			}
		} else {
			for k := range rows {
				rows[k] = k
			}
		}
		tg := &treeGrower{cfg: cfg, x: x, g: g, h: h, features: features, rng: rng}
		return tg.grow(rows), nil
	})
	if err != nil {
		return err
	}
	f.trees = trees
	f.nFeatures = p
	return nil
}

// Predict averages the trees.
func (f *RandomForest) Predict(X mat.Matrix) ([]float64, error) {
	if err := checkPredict(X, f.nFeatures); err != nil {
		return nil, err
	}
	x := rowsOf(X)
	out := make([]float64, len(x))
	for i, row := range x {
		var s float64
		for _, t := range f.trees {
			s += t.predictRow(row)
		}
		out[i] = s / float64(len(f.trees))
	}
	return out, nil
}
