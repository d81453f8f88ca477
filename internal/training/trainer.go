// Package training fits every configured model for every target on the
// training split, with optional randomized hyperparameter search.
package training

import (
	"context"
	"fmt"
	"math"
	"sort"

	"detectpd/internal"
	"detectpd/internal/config"
	"detectpd/internal/metrics"
	"detectpd/internal/models"
	"detectpd/internal/traininginput"

	"gonum.org/v1/gonum/mat"
)

// Extras keys recorded on trained models.
const (
	ExtraTrainPredictions         = "train_predictions"
	ExtraBestParams               = "best_params"
	ExtraBestScore                = "best_score"
	ExtraCVResults                = "cv_results"
	ExtraQuantiles                = "quantiles"
	ExtraTrainQuantilePredictions = "train_quantile_predictions"
	ExtraBaseModels               = "base_models"
	ExtraPredictedStd             = "predicted_std"
	ExtraDistribution             = "distribution"
)

// TrainedModel is one fitted estimator with its train-set metrics.
type TrainedModel struct {
	Name         string                 `json:"name"`
	Kind         string                 `json:"model_type"`
	Estimator    models.Estimator       `json:"-"`
	FeatureNames []string               `json:"feature_names"`
	Metrics      map[string]float64     `json:"train_metrics"`
	Extras       map[string]interface{} `json:"extras"`
}

// BaseModelInfo records the tuning of one stacked base learner.
type BaseModelInfo struct {
	Name       string        `json:"name"`
	BestParams models.Params `json:"best_params"`
	BestScore  *float64      `json:"best_score"`
}

// TargetResult holds the trained models of one target.
type TargetResult struct {
	Target        string          `json:"target"`
	Models        []*TrainedModel `json:"models"`
	PrimaryMetric string          `json:"primary_metric"`
	Champion      string          `json:"champion"`
}

// Model returns the trained model with the given name.
func (r *TargetResult) Model(name string) (*TrainedModel, bool) {
	for _, m := range r.Models {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// Output maps target column to its results.
type Output struct {
	Targets map[string]*TargetResult
}

// TargetNames returns the trained targets in sorted order.
func (o *Output) TargetNames() []string {
	out := make([]string, 0, len(o.Targets))
	for t := range o.Targets {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Trainer fits the configured models.
type Trainer struct {
	cfg    config.ModelTrainingConfig
	logger *internal.Logger
}

// NewTrainer builds a trainer for a validated configuration.
func NewTrainer(cfg config.ModelTrainingConfig, logger *internal.Logger) *Trainer {
	return &Trainer{cfg: cfg, logger: logger.With("ModelTrainer")}
}

// Train fits every model of every configured target. Targets absent from
// the input or without observations are skipped with a warning.
func (t *Trainer) Train(ctx context.Context, in *traininginput.Input) (*Output, error) {
	out := &Output{Targets: make(map[string]*TargetResult)}
	for _, tc := range t.cfg.Targets {
		if !in.Targets.Has(tc.Target) {
			t.logger.Warn("Target '%s' not present in dataset; skipping", tc.Target)
			continue
		}
		values, err := in.Targets.Floats(tc.Target)
		if err != nil {
			return nil, err
		}
		var y []float64
		var rows []int
		for i, v := range values {
			if !math.IsNaN(v) {
				y = append(y, v)
				rows = append(rows, i)
			}
		}
		if len(y) == 0 {
			t.logger.Warn("Target '%s' has no valid samples; skipping", tc.Target)
			continue
		}

		features := in.FeaturesFor(tc.Target)
		if len(features) == 0 {
			t.logger.Warn("No selected features of target '%s' are present; using all features", tc.Target)
			features = in.Features.Columns()
		}
		full, err := in.Features.MatrixFillMissing(features, 0)
		if err != nil {
			return nil, err
		}
		X := takeRows(full, rows)

		res := &TargetResult{Target: tc.Target, PrimaryMetric: tc.PrimaryMetric}
		if res.PrimaryMetric == "" {
			res.PrimaryMetric = metrics.R2
		}
		for _, def := range tc.Models {
			m, err := t.trainModel(ctx, def, X, y)
			if err != nil {
				return nil, fmt.Errorf("training %s for %s: %w", def.DisplayName(), tc.Target, err)
			}
			m.FeatureNames = append([]string(nil), features...)
			res.Models = append(res.Models, m)
			t.logger.Info("Trained %s for target '%s' (R²=%.3f, MAE=%.3f)", m.Name, tc.Target, m.Metrics[metrics.R2], m.Metrics[metrics.MAE])
		}
		res.Champion = champion(res.Models, res.PrimaryMetric)
		out.Targets[tc.Target] = res
	}
	return out, nil
}

func (t *Trainer) searchOptions(def config.ModelDefinition, scoring string, folds int) SearchOptions {
	if def.EvalMetric != "" {
		scoring = def.EvalMetric
	}
	if def.CrossValidationFolds > 0 {
		folds = def.CrossValidationFolds
	}
	return SearchOptions{
		Iterations: t.cfg.RandomSearchIterations,
		Folds:      folds,
		Scoring:    scoring,
		Seed:       t.cfg.RandomState,
		NJobs:      t.cfg.NJobs,
	}
}

// fitWithSearch fits spec directly when space is empty, otherwise runs a
// randomized search and returns the refitted best estimator.
func fitWithSearch(ctx context.Context, spec models.Spec, space map[string]config.SearchDimension, X *mat.Dense, y []float64, opts SearchOptions) (*SearchResult, error) {
	if len(space) == 0 {
		est, err := models.New(spec)
		if err != nil {
			return nil, err
		}
		if err := est.Fit(X, y); err != nil {
			return nil, err
		}
		return &SearchResult{Estimator: est, BestParams: models.Params{}, BestScore: math.NaN()}, nil
	}
	return RandomizedSearch(ctx, spec, space, X, y, opts)
}

func (t *Trainer) trainModel(ctx context.Context, def config.ModelDefinition, X *mat.Dense, y []float64) (*TrainedModel, error) {
	spec := models.SpecFromDefinition(def, t.cfg.RandomState, t.cfg.NJobs)
	opts := t.searchOptions(def, t.cfg.Scoring, t.cfg.CVFolds)
	m := &TrainedModel{Name: def.DisplayName(), Kind: def.ModelType, Extras: map[string]interface{}{}}

	var pred []float64
	switch def.ModelType {
	case config.ModelQuantileLightGBM:
		quantiles := def.Quantiles
		if len(quantiles) == 0 {
			quantiles = models.DefaultQuantiles
		}
		members := make(map[float64]models.Estimator, len(quantiles))
		bestParams := map[string]models.Params{}
		bestScores := map[string]float64{}
		trainQuantiles := map[string][]float64{}
		for _, q := range quantiles {
			res, err := fitWithSearch(ctx, models.QuantileSpec(spec, q), def.SearchSpace, X, y, opts)
			if err != nil {
				return nil, fmt.Errorf("quantile %g: %w", q, err)
			}
			members[q] = res.Estimator
			key := models.QuantileKey(q)
			if len(res.BestParams) > 0 {
				bestParams[key] = res.BestParams
			}
			if !math.IsNaN(res.BestScore) {
				bestScores[key] = res.BestScore
			}
			if trainQuantiles[key], err = res.Estimator.Predict(X); err != nil {
				return nil, err
			}
		}
		ens, err := models.NewFittedQuantileEnsemble(quantiles, members)
		if err != nil {
			return nil, err
		}
		m.Estimator = ens
		pred = trainQuantiles[models.QuantileKey(ens.Primary())]
		m.Extras[ExtraQuantiles] = ens.Quantiles()
		m.Extras[ExtraBestParams] = bestParams
		m.Extras[ExtraBestScore] = bestScores
		m.Extras[ExtraTrainQuantilePredictions] = trainQuantiles

	case config.ModelStacked:
		infos := make([]BaseModelInfo, len(def.BaseModels))
		for i, baseDef := range def.BaseModels {
			baseOpts := t.searchOptions(baseDef, opts.Scoring, opts.Folds)
			res, err := fitWithSearch(ctx, spec.Base[i], baseDef.SearchSpace, X, y, baseOpts)
			if err != nil {
				return nil, fmt.Errorf("base model %d: %w", i, err)
			}
			spec.Base[i] = spec.Base[i].WithParams(res.BestParams)
			infos[i] = BaseModelInfo{Name: models.MemberName(baseDef.ModelType, i), BestParams: res.BestParams, BestScore: optionalScore(res.BestScore)}
		}
		res, err := fitWithSearch(ctx, spec, def.SearchSpace, X, y, opts)
		if err != nil {
			return nil, err
		}
		m.Estimator = res.Estimator
		recordSearch(m, res)
		m.Extras[ExtraBaseModels] = infos

	default:
		res, err := fitWithSearch(ctx, spec, def.SearchSpace, X, y, opts)
		if err != nil {
			return nil, err
		}
		m.Estimator = res.Estimator
		recordSearch(m, res)
		if dist, ok := res.Estimator.(models.DistributionPredictor); ok {
			if std, err := dist.PredictStd(X); err == nil {
				m.Extras[ExtraPredictedStd] = std
			}
			m.Extras[ExtraDistribution] = dist.DistributionName()
		}
	}

	if pred == nil {
		var err error
		if pred, err = m.Estimator.Predict(X); err != nil {
			return nil, err
		}
	}
	scores, err := metrics.Standard(y, pred)
	if err != nil {
		return nil, err
	}
	m.Metrics = scores
	m.Extras[ExtraTrainPredictions] = pred
	return m, nil
}

func recordSearch(m *TrainedModel, res *SearchResult) {
	m.Extras[ExtraBestParams] = res.BestParams
	m.Extras[ExtraBestScore] = optionalScore(res.BestScore)
	if res.Candidates != nil {
		m.Extras[ExtraCVResults] = res.Candidates
	}
}

func optionalScore(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// champion names the model with the best train value of metric; ties keep
// the first configured model.
func champion(trained []*TrainedModel, metric string) string {
	best := ""
	var bestValue float64
	for _, m := range trained {
		v, ok := m.Metrics[metric]
		if !ok || math.IsNaN(v) {
			continue
		}
		if best == "" || (metrics.HigherIsBetter(metric) && v > bestValue) || (!metrics.HigherIsBetter(metric) && v < bestValue) {
			best, bestValue = m.Name, v
		}
	}
	return best
}

func takeRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
