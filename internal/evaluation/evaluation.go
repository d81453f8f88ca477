// Package evaluation scores trained models on the held-out split after
// replaying the fitted preprocessing on it.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"detectpd/domain/clinical"
	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/metrics"
	"detectpd/internal/models"
	"detectpd/internal/preprocessing"
	"detectpd/internal/training"
	"detectpd/internal/traininginput"
	"detectpd/ports"

	"gonum.org/v1/gonum/mat"
)

// Extras keys added at evaluation time.
const (
	ExtraYTrueTest               = "y_true_test"
	ExtraYPredTest               = "y_pred_test"
	ExtraQuantilePredictionsTest = "quantile_predictions_test"
	ExtraPredictedStdTest        = "predicted_std_test"
	ExtraCalibration             = "calibration_bins"
	ExtraThresholdAgreement      = "threshold_agreement"
)

// ModelEvaluation is one model's test-set performance.
type ModelEvaluation struct {
	Name                string                 `json:"name"`
	Kind                string                 `json:"model_type"`
	Metrics             map[string]float64     `json:"metrics"`
	WithinClinicalRange *bool                  `json:"within_clinical_range,omitempty"`
	Extras              map[string]interface{} `json:"extras"`
}

// TargetEvaluation groups the evaluations of one target.
type TargetEvaluation struct {
	Target    string             `json:"target"`
	Models    []*ModelEvaluation `json:"models"`
	BestModel string             `json:"best_model"`
}

// Summary is the evaluation output. Plot maps are keyed by target.
type Summary struct {
	Targets             map[string]*TargetEvaluation `json:"targets"`
	ComparisonMetric    string                       `json:"comparison_metric"`
	DiscriminationPlots map[string]string            `json:"discrimination_plots"`
	CalibrationPlots    map[string]string            `json:"calibration_plots"`
}

// TargetNames returns the evaluated targets in sorted order.
func (s *Summary) TargetNames() []string {
	out := make([]string, 0, len(s.Targets))
	for t := range s.Targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Evaluator scores models on a test split.
type Evaluator struct {
	cfg      config.EvaluationConfig
	prepCfg  config.PreprocessingConfig
	renderer ports.PlotRendererPort
	logger   *internal.Logger
}

// NewEvaluator builds an evaluator. A nil renderer disables plots.
func NewEvaluator(cfg config.EvaluationConfig, prepCfg config.PreprocessingConfig, renderer ports.PlotRendererPort, logger *internal.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, prepCfg: prepCfg, renderer: renderer, logger: logger.With("Evaluator")}
}

func (e *Evaluator) comparisonMetric() string {
	if e.cfg.ComparisonMetric != "" {
		return e.cfg.ComparisonMetric
	}
	return metrics.R2
}

func (e *Evaluator) metricNames() []string {
	names := e.cfg.Metrics
	if len(names) == 0 {
		names = []string{metrics.MAE, metrics.MSE, metrics.R2, metrics.ICC}
	}
	cmp := e.comparisonMetric()
	for _, n := range names {
		if n == cmp {
			return names
		}
	}
	return append(append([]string(nil), names...), cmp)
}

// Evaluate replays the fitted preprocessing on test and scores every
// trained model of every target present in both. Targets missing from the
// test split or without observations are skipped with a warning.
func (e *Evaluator) Evaluate(ctx context.Context, trained *training.Output, in *traininginput.Input, test *dataset.Dataset) (*Summary, error) {
	features, targets, err := preprocessing.ApplyFitted(test, e.prepCfg, in.Artifacts, e.logger)
	if err != nil {
		return nil, fmt.Errorf("replaying preprocessing on the test split: %w", err)
	}

	summary := &Summary{
		Targets:             make(map[string]*TargetEvaluation),
		ComparisonMetric:    e.comparisonMetric(),
		DiscriminationPlots: make(map[string]string),
		CalibrationPlots:    make(map[string]string),
	}
	for _, target := range trained.TargetNames() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !targets.Has(target) {
			e.logger.Warn("Target '%s' missing from test set; skipping.", target)
			continue
		}
		values, err := targets.Floats(target)
		if err != nil {
			return nil, err
		}
		var yTrue []float64
		var rows []int
		for i, v := range values {
			if !math.IsNaN(v) {
				yTrue = append(yTrue, v)
				rows = append(rows, i)
			}
		}
		if len(yTrue) == 0 {
			e.logger.Warn("Target '%s' has no observations in test set; skipping.", target)
			continue
		}

		testFeatures := features.Take(rows)
		te := &TargetEvaluation{Target: target}
		for _, m := range trained.Targets[target].Models {
			names := m.FeatureNames
			if len(names) == 0 {
				names = in.FeaturesFor(target)
			}
			X, err := testFeatures.MatrixFillMissing(names, 0)
			if err != nil {
				return nil, fmt.Errorf("test features for %s/%s: %w", target, m.Name, err)
			}
			ev, err := e.evaluateModel(target, m, X, yTrue)
			if err != nil {
				return nil, fmt.Errorf("evaluating %s for %s: %w", m.Name, target, err)
			}
			te.Models = append(te.Models, ev)
			e.logger.Info("Evaluated %s on '%s' (R²=%.3f, MAE=%.3f)", m.Name, target, ev.Metrics[metrics.R2], ev.Metrics[metrics.MAE])
		}
		if len(te.Models) == 0 {
			continue
		}
		te.BestModel = bestModel(te.Models, summary.ComparisonMetric)
		summary.Targets[target] = te

		if e.cfg.GeneratePlots && e.renderer != nil {
			e.renderPlots(summary, te)
		}
	}
	return summary, nil
}

func (e *Evaluator) evaluateModel(target string, m *training.TrainedModel, X *mat.Dense, yTrue []float64) (*ModelEvaluation, error) {
	extras := make(map[string]interface{}, len(m.Extras)+6)
	for k, v := range m.Extras {
		extras[k] = v
	}

	var yPred []float64
	var err error
	if qp, ok := m.Estimator.(models.QuantilePredictor); ok {
		byLevel, err := qp.PredictQuantiles(X)
		if err != nil {
			return nil, err
		}
		keyed := make(map[string][]float64, len(byLevel))
		for q, pred := range byLevel {
			keyed[models.QuantileKey(q)] = pred
		}
		extras[ExtraQuantilePredictionsTest] = keyed
		yPred = byLevel[primaryQuantile(qp.Quantiles())]
	} else if yPred, err = m.Estimator.Predict(X); err != nil {
		return nil, err
	}
	if dp, ok := m.Estimator.(models.DistributionPredictor); ok {
		if std, err := dp.PredictStd(X); err == nil {
			extras[ExtraPredictedStdTest] = std
		} else {
			e.logger.Debug("No predictive std for %s: %v", m.Name, err)
		}
	}

	scores, err := metrics.Compute(e.metricNames(), yTrue, yPred)
	if err != nil {
		return nil, err
	}
	ev := &ModelEvaluation{Name: m.Name, Kind: m.Kind, Metrics: scores, Extras: extras}

	if e.cfg.ValidateRanges {
		ok, err := clinical.ValidatePredictionRanges(yPred, target)
		switch {
		case err == nil:
			ev.WithinClinicalRange = &ok
			if !ok {
				e.logger.Warn("Predictions of %s for '%s' fall outside the clinical range", m.Name, target)
			}
		case errors.Is(err, core.ErrUnknownTarget):
		default:
			return nil, err
		}
	}
	if th, ok := e.cfg.Thresholds[target]; ok {
		extras[ExtraThresholdAgreement] = map[string]float64{th.Name: ThresholdAgreement(yTrue, yPred, th.Value)}
	}
	if e.cfg.CalibrationBins > 0 {
		extras[ExtraCalibration] = CalibrationTable(yTrue, yPred, e.cfg.CalibrationBins)
	}
	extras[ExtraYTrueTest] = yTrue
	extras[ExtraYPredTest] = yPred
	return ev, nil
}

// primaryQuantile is the level closest to 0.5, ties to the first listed.
func primaryQuantile(levels []float64) float64 {
	best := levels[0]
	for _, q := range levels[1:] {
		if math.Abs(q-0.5) < math.Abs(best-0.5) {
			best = q
		}
	}
	return best
}

// bestModel names the model with the best value of metric; ties keep the
// first model.
func bestModel(evals []*ModelEvaluation, metric string) string {
	best := ""
	var bestValue float64
	higher := metrics.HigherIsBetter(metric)
	for _, ev := range evals {
		v, ok := ev.Metrics[metric]
		if !ok || math.IsNaN(v) {
			continue
		}
		if best == "" || (higher && v > bestValue) || (!higher && v < bestValue) {
			best, bestValue = ev.Name, v
		}
	}
	return best
}

func (e *Evaluator) renderPlots(summary *Summary, te *TargetEvaluation) {
	metric := summary.ComparisonMetric
	bars := make([]ports.Bar, len(te.Models))
	series := make([]ports.CalibrationSeries, len(te.Models))
	for i, ev := range te.Models {
		bars[i] = ports.Bar{Label: ev.Name, Value: ev.Metrics[metric]}
		series[i] = ports.CalibrationSeries{
			Model:     ev.Name,
			Observed:  ev.Extras[ExtraYTrueTest].([]float64),
			Predicted: ev.Extras[ExtraYPredTest].([]float64),
		}
	}

	path := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("discrimination_%s.png", te.Target))
	if err := e.renderer.RenderDiscrimination(path, te.Target, metric, bars); err != nil {
		e.logger.Warn("Discrimination plot for '%s' failed: %v", te.Target, err)
	} else {
		summary.DiscriminationPlots[te.Target] = path
	}

	path = filepath.Join(e.cfg.OutputDir, fmt.Sprintf("calibration_%s.png", te.Target))
	if err := e.renderer.RenderCalibration(path, te.Target, series); err != nil {
		e.logger.Warn("Calibration plot for '%s' failed: %v", te.Target, err)
	} else {
		summary.CalibrationPlots[te.Target] = path
	}
}
