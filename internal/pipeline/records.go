package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"detectpd/internal/config"
	"detectpd/ports"
)

// Tracking stage names.
const (
	StageProfiling  = "profiling"
	StageSelection  = "feature_selection"
	StageTraining   = "training"
	StageEvaluation = "evaluation"
)

// Params flattens the settings that determine a run into tracker parameters.
func Params(cfg *config.PipelineConfig) map[string]string {
	p := map[string]string{
		"split.test_size":              strconv.FormatFloat(cfg.Split.TestSize, 'g', -1, 64),
		"split.shuffle":                strconv.FormatBool(cfg.Split.Shuffle),
		"split.random_seed":            strconv.FormatInt(cfg.Split.RandomSeed, 10),
		"preprocessing.scaling_method": cfg.Preprocessing.ScalingMethod,
		"preprocessing.encoding":       cfg.Preprocessing.CategoricalEncoding,
		"preprocessing.imputation":     cfg.Preprocessing.ImputationStrategy,
		"preprocessing.target_columns": strings.Join(cfg.Preprocessing.TargetColumns, ","),
		"feature_selection.cv_folds":   strconv.Itoa(cfg.FeatureSelection.CVFolds),
		"model_training.scoring":       cfg.ModelTraining.Scoring,
		"model_training.cv_folds":      strconv.Itoa(cfg.ModelTraining.CVFolds),
		"model_training.n_iter":        strconv.Itoa(cfg.ModelTraining.RandomSearchIterations),
		"model_training.random_state":  strconv.FormatInt(cfg.ModelTraining.RandomState, 10),
		"evaluation.comparison_metric": cfg.Evaluation.ComparisonMetric,
		"evaluation.metrics":           strings.Join(cfg.Evaluation.Metrics, ","),
	}
	for alias, t := range cfg.FeatureSelection.Targets {
		p["feature_selection."+alias+".alpha"] = strconv.FormatFloat(t.Alpha, 'g', -1, 64)
	}
	for _, t := range cfg.ModelTraining.Targets {
		names := make([]string, len(t.Models))
		for i, m := range t.Models {
			names[i] = m.DisplayName()
		}
		p["model_training."+t.Target+".models"] = strings.Join(names, ",")
	}
	return p
}

// MetricRecords collects the scalar results of a completed run: column
// missingness and skew, selection size and alpha, train metrics and test
// metrics. Non-finite values are skipped.
func MetricRecords(res *Result) []ports.MetricRecord {
	var out []ports.MetricRecord
	add := func(stage, target, model, name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return
		}
		out = append(out, ports.MetricRecord{Stage: stage, Target: target, Model: model, Name: name, Value: v})
	}

	if res.Profile != nil {
		for _, c := range res.Profile.Columns {
			add(StageProfiling, c.Name, "", "missing_rate", c.MissingRate)
			if c.Distribution != nil {
				add(StageProfiling, c.Name, "", "skewness", c.Distribution.Skewness)
			}
		}
	}
	if res.Selection != nil {
		for _, target := range res.Selection.Targets() {
			r := res.Selection.Results[target]
			add(StageSelection, target, "lasso", "n_selected", float64(len(r.SelectedFeatures)))
			add(StageSelection, target, "lasso", "optimal_alpha", r.OptimalAlpha)
		}
	}
	if res.Training != nil {
		for _, target := range res.Training.TargetNames() {
			for _, m := range res.Training.Targets[target].Models {
				for _, name := range sortedMetricNames(m.Metrics) {
					add(StageTraining, target, m.Name, name, m.Metrics[name])
				}
			}
		}
	}
	if res.Evaluation != nil {
		for _, target := range res.Evaluation.TargetNames() {
			for _, m := range res.Evaluation.Targets[target].Models {
				for _, name := range sortedMetricNames(m.Metrics) {
					add(StageEvaluation, target, m.Name, name, m.Metrics[name])
				}
			}
		}
	}
	return out
}

// BuildReport lays out the evaluation summary as one section per target.
func BuildReport(res *Result) ports.Report {
	rep := ports.Report{Title: "DETECT-PD model evaluation"}
	if res.Manifest != nil {
		rep.RunID = res.Manifest.RunID.String()
		rep.RunName = res.Manifest.RunName
	}
	if res.Evaluation == nil {
		return rep
	}
	for _, target := range res.Evaluation.TargetNames() {
		te := res.Evaluation.Targets[target]
		names := map[string]float64{}
		for _, m := range te.Models {
			for k := range m.Metrics {
				names[k] = 0
			}
		}
		sec := ports.ReportSection{
			Target:           target,
			BestModel:        te.BestModel,
			ComparisonMetric: res.Evaluation.ComparisonMetric,
			MetricNames:      sortedMetricNames(names),
		}
		for _, m := range te.Models {
			row := ports.ReportRow{Model: m.Name, Values: make([]float64, len(sec.MetricNames))}
			for i, name := range sec.MetricNames {
				v, ok := m.Metrics[name]
				if !ok {
					v = math.NaN()
				}
				row.Values[i] = v
			}
			sec.Rows = append(sec.Rows, row)
		}
		if res.TrainingInput != nil {
			sec.SelectedFeatures = res.TrainingInput.FeaturesFor(target)
		}
		for _, p := range []string{res.Evaluation.DiscriminationPlots[target], res.Evaluation.CalibrationPlots[target]} {
			if p != "" {
				sec.Plots = append(sec.Plots, p)
			}
		}
		rep.Sections = append(rep.Sections, sec)
	}
	return rep
}

func sortedMetricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Describe summarises a completed run in a few log-friendly lines.
func Describe(res *Result) []string {
	var lines []string
	if res.Evaluation == nil {
		return lines
	}
	metric := res.Evaluation.ComparisonMetric
	for _, target := range res.Evaluation.TargetNames() {
		te := res.Evaluation.Targets[target]
		for _, m := range te.Models {
			if m.Name != te.BestModel {
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: best model %s (%s = %.4f)", target, m.Name, metric, m.Metrics[metric]))
		}
	}
	return lines
}
