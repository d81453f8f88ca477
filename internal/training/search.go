package training

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"detectpd/domain/core"
	"detectpd/internal/config"
	"detectpd/internal/linear"
	"detectpd/internal/metrics"
	"detectpd/internal/models"
	"detectpd/internal/parallel"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Candidate is one sampled parameter set and its cross-validated score.
type Candidate struct {
	Params     models.Params `json:"params"`
	FoldScores []float64     `json:"split_test_scores"`
	MeanScore  float64       `json:"mean_test_score"`
	StdScore   float64       `json:"std_test_score"`
	Rank       int           `json:"rank_test_score"`
}

// SearchOptions configures a randomized search.
type SearchOptions struct {
	Iterations int
	Folds      int
	Scoring    string
	Seed       int64
	NJobs      int
}

// SearchResult is the refitted best estimator with the search record.
type SearchResult struct {
	Estimator  models.Estimator
	BestParams models.Params
	BestScore  float64
	Candidates []Candidate
}

// SampleCandidates draws parameter sets from a search space. When every
// dimension is a finite list the grid is sampled without replacement, up to
// its size; otherwise n independent draws are made.
func SampleCandidates(space map[string]config.SearchDimension, n int, seed int64) []models.Params {
	keys := config.SortedKeys(space)
	src := rand.NewPCG(uint64(seed), 0)
	rng := rand.New(src)

	discrete, size := true, 1
	for _, k := range keys {
		d := space[k]
		if !d.Discrete() {
			discrete = false
			break
		}
		size *= len(d.Values)
	}

	if discrete {
		count := min(n, size)
		out := make([]models.Params, 0, count)
		for _, idx := range rng.Perm(size)[:count] {
			p := models.Params{}
			// Mixed-radix decode with the last key varying fastest.
			for i := len(keys) - 1; i >= 0; i-- {
				values := space[keys[i]].Values
				p[keys[i]] = values[idx%len(values)]
				idx /= len(values)
			}
			out = append(out, p)
		}
		return out
	}

	out := make([]models.Params, n)
	for i := range out {
		p := models.Params{}
		for _, k := range keys {
			d := space[k]
			switch d.Distribution {
			case "":
				p[k] = d.Values[rng.IntN(len(d.Values))]
			case config.DistUniform:
				p[k] = distuv.Uniform{Min: d.Low, Max: d.High, Src: src}.Rand()
			case config.DistLogUniform:
				p[k] = math.Exp(distuv.Uniform{Min: math.Log(d.Low), Max: math.Log(d.High), Src: src}.Rand())
			case config.DistRandInt:
				lo := int(math.Ceil(d.Low))
				if span := int(math.Ceil(d.High)) - lo; span > 0 {
					p[k] = lo + rng.IntN(span)
				} else {
					p[k] = lo
				}
			}
		}
		out[i] = p
	}
	return out
}

// scorer returns a higher-is-better score for a named scoring rule.
func scorer(name string) (func(y, pred []float64) (float64, error), error) {
	switch name {
	case config.ScoringR2, "":
		return metrics.R2Score, nil
	case config.ScoringNMSE:
		return func(y, pred []float64) (float64, error) {
			v, err := metrics.MeanSquaredError(y, pred)
			return -v, err
		}, nil
	case config.ScoringNMAE:
		return func(y, pred []float64) (float64, error) {
			v, err := metrics.MeanAbsoluteError(y, pred)
			return -v, err
		}, nil
	}
	return nil, core.NewConfigurationError("scoring", fmt.Sprintf("unsupported scoring %q", name))
}

// RandomizedSearch scores sampled parameter sets with unshuffled k-fold
// cross-validation, then refits the best one on all rows. Candidates are
// evaluated in parallel; ties keep the earliest candidate.
func RandomizedSearch(ctx context.Context, spec models.Spec, space map[string]config.SearchDimension, X *mat.Dense, y []float64, opts SearchOptions) (*SearchResult, error) {
	score, err := scorer(opts.Scoring)
	if err != nil {
		return nil, err
	}
	folds, err := linear.KFold(len(y), opts.Folds)
	if err != nil {
		return nil, err
	}
	candidates := SampleCandidates(space, opts.Iterations, opts.Seed)
	x := rowsOf(X)

	scored, err := parallel.Map(ctx, len(candidates), opts.NJobs, func(ctx context.Context, i int) (Candidate, error) {
		c := Candidate{Params: candidates[i], FoldScores: make([]float64, len(folds))}
		for f, fold := range folds {
			if err := ctx.Err(); err != nil {
				return c, err
			}
			est, err := models.New(spec.WithParams(c.Params))
			if err != nil {
				return c, fmt.Errorf("candidate %v: %w", c.Params, err)
			}
			if err := est.Fit(denseOf(linear.Rows(x, fold.Train)), linear.Pick(y, fold.Train)); err != nil {
				return c, fmt.Errorf("candidate %v: %w", c.Params, err)
			}
			pred, err := est.Predict(denseOf(linear.Rows(x, fold.Test)))
			if err != nil {
				return c, err
			}
			s, err := score(linear.Pick(y, fold.Test), pred)
			if err != nil {
				return c, err
			}
			if math.IsNaN(s) {
				s = math.Inf(-1)
			}
			c.FoldScores[f] = s
		}
		c.MeanScore, c.StdScore = stat.PopMeanStdDev(c.FoldScores, nil)
		return c, nil
	})
	if err != nil {
		return nil, err
	}

	best := 0
	for i := 1; i < len(scored); i++ {
		if scored[i].MeanScore > scored[best].MeanScore {
			best = i
		}
	}
	rankCandidates(scored)

	est, err := models.New(spec.WithParams(scored[best].Params))
	if err != nil {
		return nil, err
	}
	if err := est.Fit(X, y); err != nil {
		return nil, err
	}
	return &SearchResult{
		Estimator:  est,
		BestParams: scored[best].Params.Clone(),
		BestScore:  scored[best].MeanScore,
		Candidates: scored,
	}, nil
}

// rankCandidates assigns 1 to the best mean score; equal scores share the
// lower rank.
func rankCandidates(cs []Candidate) {
	order := make([]int, len(cs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return cs[order[a]].MeanScore > cs[order[b]].MeanScore })
	for pos, i := range order {
		if pos > 0 && cs[i].MeanScore == cs[order[pos-1]].MeanScore {
			cs[i].Rank = cs[order[pos-1]].Rank
			continue
		}
		cs[i].Rank = pos + 1
	}
}

func rowsOf(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = m.RawRowView(i)
	}
	return out
}

func denseOf(rows [][]float64) *mat.Dense {
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out
}
