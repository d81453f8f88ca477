package models

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"detectpd/domain/core"
	"detectpd/internal/config"
	"detectpd/internal/linear"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Losses supported by the boosting engine.
const (
	lossSquared  = "squared"
	lossAbsolute = "absolute"
	lossQuantile = "quantile"
)

// Boosting is a second-order gradient-boosted regression tree ensemble.
// The xgboost, lightgbm and catboost families share it and differ in
// parameter names, defaults and tree growth: xgboost grows depth-limited
// trees, lightgbm grows leaf-limited trees best-first, catboost grows
// symmetric trees.
type Boosting struct {
	family        string
	nEstimators   int
	learningRate  float64
	tree          treeConfig
	subsample     float64
	colsample     float64
	loss          string
	quantileAlpha float64
	seed          int64
	earlyStopping int
	oblivious     bool
	depth         int
	borderCount   int
	baseScore     *float64

	trees     []*tree
	init      float64
	nFeatures int

	// BestIteration is the number of trees kept after early stopping.
	BestIteration int
	// ValidationLoss holds the held-out loss per round when early stopping ran.
	ValidationLoss []float64
}

func newBoosting(family string, params Params, seed int64, earlyStopping int) (*Boosting, error) {
	r := newReader(params)
	b := &Boosting{family: family, subsample: 1, colsample: 1, nFeatures: -1}
	switch family {
	case config.ModelXGBoost:
		b.parseXGBoost(r, seed)
	case config.ModelLightGBM:
		b.parseLightGBM(r, seed)
	case config.ModelCatBoost:
		b.parseCatBoost(r, seed)
	}
	if rounds := r.Int(0, "early_stopping_rounds"); rounds > 0 {
		earlyStopping = rounds
	}
	b.earlyStopping = earlyStopping

	if raw, ok := r.Raw("monotone_constraints"); ok {
		c, err := ParseMonotoneConstraints(raw)
		if err != nil {
			return nil, err
		}
		b.tree.monotone = c
		if b.oblivious && hasConstraint(c) {
			// Symmetric trees cannot bound sibling leaves independently.
			b.oblivious = false
			b.tree.maxDepth = b.depth
		}
	}
	r.Raw("eval_metric")

	switch {
	case b.nEstimators < 1:
		r.fail("n_estimators", "must be >= 1")
	case b.learningRate <= 0:
		r.fail("learning_rate", "must be > 0")
	case b.subsample <= 0 || b.subsample > 1:
		r.fail("subsample", "must lie in (0, 1]")
	case b.colsample <= 0 || b.colsample > 1:
		r.fail("colsample_bytree", "must lie in (0, 1]")
	case b.loss == lossQuantile && !(b.quantileAlpha > 0 && b.quantileAlpha < 1):
		r.fail("alpha", "quantile level must lie in (0, 1)")
	}
	return b, r.done(family)
}

func hasConstraint(c []int) bool {
	for _, v := range c {
		if v != 0 {
			return true
		}
	}
	return false
}

func (b *Boosting) parseXGBoost(r *reader, seed int64) {
	b.nEstimators = r.Int(500, "n_estimators")
	b.learningRate = r.Float(0.3, "learning_rate", "eta")
	b.tree = treeConfig{
		maxDepth:        r.Int(6, "max_depth"),
		maxLeaves:       r.Int(0, "max_leaves"),
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		minChildWeight:  r.Float(1, "min_child_weight"),
		lambda:          r.Float(1, "reg_lambda", "lambda"),
		alpha:           r.Float(0, "reg_alpha"),
		gamma:           r.Float(0, "gamma", "min_split_loss"),
	}
	b.subsample = r.Float(1, "subsample")
	b.colsample = r.Float(1, "colsample_bytree")
	b.seed = int64(r.Int(int(seed), "random_state", "seed"))
	if v, ok := r.Raw("base_score"); ok {
		if f, ok := toFloat(v); ok {
			b.baseScore = &f
		} else {
			r.fail("base_score", "expected a number")
		}
	}
	switch obj := r.String("reg:squarederror", "objective"); obj {
	case "reg:squarederror", "reg:linear":
		b.loss = lossSquared
	case "reg:absoluteerror":
		b.loss = lossAbsolute
	case "reg:quantileerror":
		b.loss = lossQuantile
		b.quantileAlpha = r.Float(0.5, "quantile_alpha")
	default:
		r.fail("objective", "unsupported xgboost objective "+obj)
	}
}

func (b *Boosting) parseLightGBM(r *reader, seed int64) {
	b.nEstimators = r.Int(500, "n_estimators", "num_iterations", "num_boost_round")
	b.learningRate = r.Float(0.1, "learning_rate")
	b.tree = treeConfig{
		maxDepth:        max(0, r.Int(-1, "max_depth")),
		maxLeaves:       r.Int(31, "num_leaves"),
		minSamplesSplit: 2,
		minSamplesLeaf:  r.Int(20, "min_child_samples", "min_data_in_leaf"),
		minChildWeight:  r.Float(1e-3, "min_child_weight", "min_sum_hessian_in_leaf"),
		lambda:          r.Float(0, "reg_lambda", "lambda_l2"),
		alpha:           r.Float(0, "reg_alpha", "lambda_l1"),
		gamma:           r.Float(0, "min_split_gain"),
	}
	b.subsample = r.Float(1, "subsample", "bagging_fraction")
	b.colsample = r.Float(1, "colsample_bytree", "feature_fraction")
	b.seed = int64(r.Int(int(seed), "random_state", "seed"))
	r.Raw("subsample_freq", "bagging_freq", "boosting_type", "max_bin")
	switch obj := r.String("regression", "objective"); obj {
	case "regression", "regression_l2", "l2", "mse", "mean_squared_error", "rmse":
		b.loss = lossSquared
		r.Raw("alpha")
	case "regression_l1", "l1", "mae":
		b.loss = lossAbsolute
		r.Raw("alpha")
	case "quantile":
		b.loss = lossQuantile
		b.quantileAlpha = r.Float(0.9, "alpha")
	default:
		r.fail("objective", "unsupported lightgbm objective "+obj)
	}
}

func (b *Boosting) parseCatBoost(r *reader, seed int64) {
	b.nEstimators = r.Int(1000, "iterations", "n_estimators", "num_boost_round")
	b.learningRate = r.Float(0.03, "learning_rate", "eta")
	b.depth = r.Int(6, "depth", "max_depth")
	b.tree = treeConfig{
		minSamplesSplit: 2,
		minSamplesLeaf:  r.Int(1, "min_data_in_leaf", "min_child_samples"),
		lambda:          r.Float(3, "l2_leaf_reg", "reg_lambda"),
	}
	b.colsample = r.Float(1, "rsm", "colsample_bylevel")
	b.subsample = r.Float(1, "subsample")
	b.borderCount = r.Int(254, "border_count", "max_bin")
	b.seed = int64(r.Int(int(seed), "random_seed", "random_state"))
	switch policy := r.String("SymmetricTree", "grow_policy"); policy {
	case "SymmetricTree":
		b.oblivious = true
	case "Depthwise":
		b.tree.maxDepth = b.depth
	case "Lossguide":
		b.tree.maxLeaves = r.Int(31, "max_leaves")
	default:
		r.fail("grow_policy", "unsupported grow policy "+policy)
	}
	loss := r.String("RMSE", "loss_function")
	name, opts, _ := strings.Cut(loss, ":")
	switch name {
	case "RMSE":
		b.loss = lossSquared
	case "MAE":
		b.loss = lossAbsolute
	case "Quantile":
		b.loss = lossQuantile
		b.quantileAlpha = 0.5
		if v, ok := strings.CutPrefix(opts, "alpha="); ok {
			a, err := strconv.ParseFloat(v, 64)
			if err != nil {
				r.fail("loss_function", "cannot parse quantile level in "+loss)
			}
			b.quantileAlpha = a
		}
	default:
		r.fail("loss_function", "unsupported catboost loss "+loss)
	}
}

func (b *Boosting) level() float64 {
	switch b.loss {
	case lossAbsolute:
		return 0.5
	case lossQuantile:
		return b.quantileAlpha
	}
	return 0
}

func (b *Boosting) gradient(pred, y float64) (float64, float64) {
	switch b.loss {
	case lossSquared:
		return pred - y, 1
	default:
		a := b.level()
		if y > pred {
			return -a, 1
		}
		return 1 - a, 1
	}
}

func (b *Boosting) lossValue(pred, y []float64) float64 {
	var s float64
	for i := range y {
		d := y[i] - pred[i]
		switch b.loss {
		case lossSquared:
			s += d * d
		default:
			a := b.level()
			if d >= 0 {
				s += a * d
			} else {
				s += (a - 1) * d
			}
		}
	}
	return s / float64(len(y))
}

func quantileOf(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

func (b *Boosting) initialScore(y []float64) float64 {
	if b.baseScore != nil {
		return *b.baseScore
	}
	if b.loss == lossSquared {
		return floats.Sum(y) / float64(len(y))
	}
	return quantileOf(y, b.level())
}

// Fit boosts trees on the training rows. With early stopping the last tenth
// of the rows is held out and boosting stops once the held-out loss has not
// improved for the configured number of rounds; the best prefix is kept.
func (b *Boosting) Fit(X mat.Matrix, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	x := rowsOf(X)
	n, p := len(x), len(x[0])
	if len(b.tree.monotone) > 0 && len(b.tree.monotone) != p {
		return core.NewConfigurationError("monotone_constraints", fmt.Sprintf("%d constraints for %d features", len(b.tree.monotone), p))
	}

	train := make([]int, n)
	for i := range train {
		train[i] = i
	}
	var valid []int
	if b.earlyStopping > 0 {
		hold := int(math.Ceil(float64(n) / 10))
		if n-hold >= 2 {
			train, valid = train[:n-hold], train[n-hold:]
		}
	}

	b.init = b.initialScore(linear.Pick(y, train))
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = b.init
	}
	g := make([]float64, n)
	h := make([]float64, n)
	rng := rand.New(rand.NewSource(b.seed))
	renew := b.loss != lossSquared && !hasConstraint(b.tree.monotone)

	b.trees = b.trees[:0]
	b.ValidationLoss = nil
	bestLoss, bestIter := math.Inf(1), 0
	for it := 0; it < b.nEstimators; it++ {
		for _, r := range train {
			g[r], h[r] = b.gradient(pred[r], y[r])
		}
		rows := sampleWithoutReplacement(train, b.subsample, rng)
		tg := &treeGrower{cfg: b.tree, x: x, g: g, h: h, features: sampleFeatures(p, b.colsample, rng), rng: rng}
		var t *tree
		if b.oblivious {
			t = tg.growOblivious(rows, b.depth, b.borderCount)
		} else {
			t = tg.grow(rows)
		}
		if renew {
			b.renewLeaves(t, x, y, pred, rows)
		}
		for i := range t.Nodes {
			if t.Nodes[i].Leaf {
				t.Nodes[i].Value *= b.learningRate
			}
		}
		b.trees = append(b.trees, t)
		for r := range pred {
			pred[r] += t.predictRow(x[r])
		}

		if valid != nil {
			loss := b.lossValue(linear.Pick(pred, valid), linear.Pick(y, valid))
			b.ValidationLoss = append(b.ValidationLoss, loss)
			if loss < bestLoss-1e-12 {
				bestLoss, bestIter = loss, it
			} else if it-bestIter >= b.earlyStopping {
				break
			}
		}
	}
	if valid != nil {
		b.trees = b.trees[:bestIter+1]
	}
	b.BestIteration = len(b.trees)
	b.nFeatures = p
	return nil
}

// renewLeaves sets each leaf to the loss-specific quantile of the residuals
// of the rows it holds, the exact line search for absolute and quantile loss.
func (b *Boosting) renewLeaves(t *tree, x [][]float64, y, pred []float64, rows []int) {
	resid := make(map[int][]float64)
	for _, r := range rows {
		leaf := t.leafOf(x[r])
		resid[leaf] = append(resid[leaf], y[r]-pred[r])
	}
	for leaf, values := range resid {
		t.Nodes[leaf].Value = quantileOf(values, b.level())
	}
}

// Predict sums the initial score and every tree.
func (b *Boosting) Predict(X mat.Matrix) ([]float64, error) {
	if err := checkPredict(X, b.nFeatures); err != nil {
		return nil, err
	}
	x := rowsOf(X)
	out := make([]float64, len(x))
	for i, row := range x {
		s := b.init
		for _, t := range b.trees {
			s += t.predictRow(row)
		}
		out[i] = s
	}
	return out, nil
}

// Family returns the parameter family the engine was configured with.
func (b *Boosting) Family() string { return b.family }

func sampleWithoutReplacement(rows []int, frac float64, rng *rand.Rand) []int {
	if frac >= 1 {
		return rows
	}
	k := max(1, int(math.Round(frac*float64(len(rows)))))
	perm := rng.Perm(len(rows))[:k]
	sort.Ints(perm)
	out := make([]int, k)
	for i, p := range perm {
		out[i] = rows[p]
	}
	return out
}

func sampleFeatures(p int, frac float64, rng *rand.Rand) []int {
	all := make([]int, p)
	for j := range all {
		all[j] = j
	}
	return sampleWithoutReplacement(all, frac, rng)
}
