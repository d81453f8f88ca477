// Package selection picks features per target with a cross-validated lasso
// path over standardized features.
package selection

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/linear"
	"detectpd/internal/parallel"
	"detectpd/ports"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Result is the selection outcome for one target.
type Result struct {
	Target           string             `json:"target"`
	SelectedFeatures []string           `json:"selected_features"`
	Coefficients     map[string]float64 `json:"coefficients"`
	OptimalAlpha     float64            `json:"optimal_alpha"`
	AlphaGrid        []float64          `json:"alpha_grid"`
	MeanCVError      []float64          `json:"mean_cv_error"`
	AllCoefficients  map[string]float64 `json:"all_coefficients"`
	UsedFallback     bool               `json:"used_fallback"`
	CVPlotPath       string             `json:"cv_plot_path,omitempty"`
	ImportancePlot   string             `json:"importance_plot_path,omitempty"`
}

// Output holds one Result per target column.
type Output struct {
	Results map[string]*Result
}

// Targets returns the target columns in sorted order.
func (o *Output) Targets() []string {
	out := make([]string, 0, len(o.Results))
	for t := range o.Results {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// SelectedFeatureMap returns target -> selected features.
func (o *Output) SelectedFeatureMap() map[string][]string {
	out := make(map[string][]string, len(o.Results))
	for t, r := range o.Results {
		out[t] = append([]string(nil), r.SelectedFeatures...)
	}
	return out
}

// Options carries the optional side outputs of a selection run.
type Options struct {
	// OutputDir receives plots when Renderer is set.
	OutputDir string
	Renderer  ports.PlotRendererPort
}

// Run selects features for every configured target. Targets are processed
// in sorted alias order; the fold fits of each target run in parallel.
func Run(ctx context.Context, features, targets *dataset.Dataset, cfg config.FeatureSelectionConfig, opts Options, logger *internal.Logger) (*Output, error) {
	log := logger.With("FeatureSelector")

	names := features.Columns()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: feature matrix has no columns", core.ErrInsufficientData)
	}
	scaled, err := scaleWithoutCentering(features, names)
	if err != nil {
		return nil, err
	}

	aliases := make([]string, 0, len(cfg.Targets))
	for alias := range cfg.Targets {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	out := &Output{Results: make(map[string]*Result, len(aliases))}
	for _, alias := range aliases {
		tcfg := cfg.Targets[alias]
		column := tcfg.Column(alias)
		log.Info("Running feature selection for target '%s'", column)

		y, rows, err := targetSeries(targets, column, tcfg)
		if err != nil {
			return nil, err
		}
		X := denseRows(scaled, rows, len(names))

		res, err := selectForTarget(ctx, X, y, names, tcfg, cfg, log)
		if err != nil {
			return nil, fmt.Errorf("feature selection for %s: %w", column, err)
		}
		res.Target = column

		if opts.Renderer != nil && opts.OutputDir != "" {
			renderPlots(res, X, names, opts, log)
		}

		out.Results[column] = res
		log.Info("Target '%s': selected %d features (alpha=%.4f)", column, len(res.SelectedFeatures), res.OptimalAlpha)
	}
	return out, nil
}

// scaleWithoutCentering divides every column by its population standard
// deviation over observed values. Zero deviation leaves the column as is;
// missing values become 0.
func scaleWithoutCentering(ds *dataset.Dataset, names []string) ([][]float64, error) {
	n := ds.NumRows()
	x := make([][]float64, n)
	for i := range x {
		x[i] = make([]float64, len(names))
	}
	for j, name := range names {
		values, err := ds.Floats(name)
		if err != nil {
			return nil, err
		}
		observed := make([]float64, 0, n)
		for _, v := range values {
			if !math.IsNaN(v) {
				observed = append(observed, v)
			}
		}
		scale := 1.0
		if len(observed) > 0 {
			if sd, _ := stats.StandardDeviationPopulation(observed); sd > 0 {
				scale = sd
			}
		}
		for i, v := range values {
			if math.IsNaN(v) {
				v = 0
			}
			x[i][j] = v / scale
		}
	}
	return x, nil
}

// targetSeries extracts the observed values of a target, binarized when the
// target is a thresholded binary problem, with their row positions.
func targetSeries(targets *dataset.Dataset, column string, tcfg config.SelectionTargetConfig) ([]float64, []int, error) {
	if !targets.Has(column) {
		return nil, nil, core.NewMissingTargetError(column)
	}
	values, err := targets.Floats(column)
	if err != nil {
		return nil, nil, err
	}
	var y []float64
	var rows []int
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if tcfg.ProblemType == config.ProblemBinary && tcfg.Threshold != nil {
			if v >= *tcfg.Threshold {
				v = 1
			} else {
				v = 0
			}
		}
		y = append(y, v)
		rows = append(rows, i)
	}
	if len(y) == 0 {
		return nil, nil, core.NewEmptyTargetError(column)
	}
	return y, rows, nil
}

func denseRows(x [][]float64, rows []int, p int) *mat.Dense {
	m := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		m.SetRow(i, x[r])
	}
	return m
}

// AlphaGrid returns 80 log-spaced strengths from 1e-4·alpha to 1e2·alpha in
// descending order.
func AlphaGrid(alpha float64) []float64 {
	grid := linear.LogSpace(2, -4, 80)
	floats.Scale(alpha, grid)
	return grid
}

func selectForTarget(ctx context.Context, X *mat.Dense, y []float64, names []string, tcfg config.SelectionTargetConfig, cfg config.FeatureSelectionConfig, log *internal.Logger) (*Result, error) {
	alphas := AlphaGrid(tcfg.Alpha)
	meanMSE, err := crossValidatePath(ctx, X, y, alphas, tcfg.MaxIter, cfg)
	if err != nil {
		return nil, err
	}
	best := floats.MinIdx(meanMSE)

	model, err := linear.FitElasticNet(X, y, linear.ElasticNetParams{
		Alpha:        alphas[best],
		L1Ratio:      1,
		MaxIter:      tcfg.MaxIter,
		Tol:          cfg.Tolerance,
		FitIntercept: true,
	})
	if err != nil {
		return nil, err
	}
	if !model.Converged {
		log.Warn("Lasso did not converge within %d iterations at alpha=%g", tcfg.MaxIter, alphas[best])
	}

	selected, fallback := chooseFeatures(names, model.Coef, tcfg.MinFeatures)
	if fallback {
		log.Debug("Only %d non-zero coefficients; keeping top %d by magnitude", countNonZero(model.Coef), len(selected))
	}

	all := make(map[string]float64, len(names))
	for j, name := range names {
		all[name] = model.Coef[j]
	}
	coefs := make(map[string]float64, len(selected))
	for _, name := range selected {
		coefs[name] = all[name]
	}

	return &Result{
		SelectedFeatures: selected,
		Coefficients:     coefs,
		OptimalAlpha:     alphas[best],
		AlphaGrid:        alphas,
		MeanCVError:      meanMSE,
		AllCoefficients:  all,
		UsedFallback:     fallback,
	}, nil
}

// crossValidatePath computes the mean held-out MSE of the lasso path per
// alpha over unshuffled k folds.
func crossValidatePath(ctx context.Context, X *mat.Dense, y []float64, alphas []float64, maxIter int, cfg config.FeatureSelectionConfig) ([]float64, error) {
	n, p := X.Dims()
	folds, err := linear.KFold(n, cfg.CVFolds)
	if err != nil {
		return nil, err
	}
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = mat.Row(nil, i, X)
	}

	foldMSE, err := parallel.Map(ctx, len(folds), cfg.NJobs, func(_ context.Context, f int) ([]float64, error) {
		fold := folds[f]
		Xtr := denseRows(rows, fold.Train, p)
		Xte := denseRows(rows, fold.Test, p)
		yte := linear.Pick(y, fold.Test)
		path, err := linear.LassoPath(Xtr, linear.Pick(y, fold.Train), alphas, maxIter, cfg.Tolerance)
		if err != nil {
			return nil, err
		}
		mse := make([]float64, len(alphas))
		for k, m := range path {
			pred := m.Predict(Xte)
			var s float64
			for i, v := range pred {
				d := v - yte[i]
				s += d * d
			}
			mse[k] = s / float64(len(yte))
		}
		return mse, nil
	})
	if err != nil {
		return nil, err
	}

	mean := make([]float64, len(alphas))
	for _, mse := range foldMSE {
		floats.Add(mean, mse)
	}
	floats.Scale(1/float64(len(folds)), mean)
	return mean, nil
}

// chooseFeatures keeps the non-zero coefficients in column order. When fewer
// than minFeatures survive it returns the top minFeatures by magnitude.
func chooseFeatures(names []string, coef []float64, minFeatures int) ([]string, bool) {
	var selected []string
	for j, c := range coef {
		if c != 0 {
			selected = append(selected, names[j])
		}
	}
	if len(selected) >= minFeatures {
		return selected, false
	}

	order := make([]int, len(names))
	for j := range order {
		order[j] = j
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(coef[order[a]]) > math.Abs(coef[order[b]])
	})
	k := minFeatures
	if k > len(order) {
		k = len(order)
	}
	top := make([]string, k)
	for i := 0; i < k; i++ {
		top[i] = names[order[i]]
	}
	return top, true
}

func countNonZero(coef []float64) int {
	n := 0
	for _, c := range coef {
		if c != 0 {
			n++
		}
	}
	return n
}

// Importance returns mean |coef·(x − mean x)| per selected feature, the
// average magnitude of each feature's additive contribution.
func Importance(X *mat.Dense, names []string, res *Result) []ports.Bar {
	n, _ := X.Dims()
	index := make(map[string]int, len(names))
	for j, name := range names {
		index[name] = j
	}
	bars := make([]ports.Bar, 0, len(res.SelectedFeatures))
	for _, name := range res.SelectedFeatures {
		j := index[name]
		col := mat.Col(nil, j, X)
		mean := floats.Sum(col) / float64(n)
		coef := res.AllCoefficients[name]
		var s float64
		for _, v := range col {
			s += math.Abs(coef * (v - mean))
		}
		bars = append(bars, ports.Bar{Label: name, Value: s / float64(n)})
	}
	sort.SliceStable(bars, func(a, b int) bool { return bars[a].Value > bars[b].Value })
	return bars
}

// renderPlots writes the CV curve and the importance chart. Rendering
// failures are logged and leave the path empty.
func renderPlots(res *Result, X *mat.Dense, names []string, opts Options, log *internal.Logger) {
	curvePath := filepath.Join(opts.OutputDir, fmt.Sprintf("lasso_path_%s.png", res.Target))
	curve := ports.LassoCurve{Target: res.Target, Alphas: res.AlphaGrid, MeanMSE: res.MeanCVError, OptimalAlpha: res.OptimalAlpha}
	if err := opts.Renderer.RenderLassoCurve(curvePath, curve); err != nil {
		log.Warn("Failed to render lasso curve for %s: %v", res.Target, err)
	} else {
		res.CVPlotPath = curvePath
	}

	impPath := filepath.Join(opts.OutputDir, fmt.Sprintf("importance_%s.png", res.Target))
	title := fmt.Sprintf("Mean |contribution| for %s", res.Target)
	if err := opts.Renderer.RenderImportance(impPath, title, Importance(X, names, res)); err != nil {
		log.Warn("Failed to render importance plot for %s: %v", res.Target, err)
	} else {
		res.ImportancePlot = impPath
	}
}
