// Package preprocessing derives clinical features and turns a dataset into a
// numeric feature matrix plus a target table. The fitted imputer, scaler and
// encoder are returned as Artifacts so the exact transformation can be
// replayed on unseen rows without refitting.
package preprocessing

import (
	"fmt"
	"math"
	"strings"

	"detectpd/domain/clinical"
	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
)

// Derived column names.
const (
	ColumnBMI      = "bmi"
	ColumnBSA      = "bsa"
	ColumnCharlson = "charlson_index"
)

// Artifacts is the fitted state of one preprocessing run. It is created by
// Preprocess and only read afterwards.
type Artifacts struct {
	Scaler                     *Scaler
	Encoder                    Encoder
	Imputer                    *Imputer
	FeatureColumns             []string
	EncodedCategoricalColumns  []string
	OriginalCategoricalColumns []string
	NumericColumns             []string
}

// Output is the result of fitting the preprocessor on a dataset.
type Output struct {
	Features  *dataset.Dataset
	Targets   *dataset.Dataset
	Artifacts *Artifacts
}

// Preprocess fits imputation, scaling and encoding on ds and returns the
// transformed features, the raw targets and the fitted artifacts.
func Preprocess(ds *dataset.Dataset, cfg config.PreprocessingConfig, logger *internal.Logger) (*Output, error) {
	log := logger.With("Preprocessor")

	features, targets, err := derive(ds, cfg, log)
	if err != nil {
		return nil, err
	}

	numeric, err := numericColumns(features, cfg)
	if err != nil {
		return nil, err
	}
	art := &Artifacts{NumericColumns: numeric}

	if cfg.ImputationStrategy != config.ImputeNone && len(numeric) > 0 {
		imp, err := FitImputer(features, numeric, cfg.ImputationStrategy)
		if err != nil {
			return nil, err
		}
		if err := imp.Transform(features); err != nil {
			return nil, err
		}
		art.Imputer = imp
	}

	if len(numeric) > 0 {
		scaler, err := FitScaler(features, numeric, cfg)
		if err != nil {
			return nil, err
		}
		if err := scaler.Transform(features); err != nil {
			return nil, err
		}
		art.Scaler = scaler
	}

	categorical := presentColumns(features, cfg.CategoricalFeatures)
	art.OriginalCategoricalColumns = categorical
	if len(categorical) > 0 {
		var enc Encoder
		switch cfg.CategoricalEncoding {
		case config.EncodingLabel:
			enc = FitLabel(features, categorical)
		default:
			enc = FitOneHot(features, categorical)
		}
		if err := enc.Transform(features, log); err != nil {
			return nil, err
		}
		art.Encoder = enc
		art.EncodedCategoricalColumns = enc.OutputColumns()
	}

	dropNonNumeric(features, log)
	art.FeatureColumns = features.Columns()

	log.Info("Preprocessed %d rows into %d features (%d numeric, %d categorical) and %d targets",
		features.NumRows(), len(art.FeatureColumns), len(numeric), len(categorical), targets.NumColumns())

	return &Output{Features: features, Targets: targets, Artifacts: art}, nil
}

// ApplyFitted replays the fitted artifacts on ds. Derived features are
// recomputed from raw columns; imputation, scaling and encoding reuse the
// fitted state. The returned features have exactly art.FeatureColumns, with
// absent columns filled with 0.
func ApplyFitted(ds *dataset.Dataset, cfg config.PreprocessingConfig, art *Artifacts, logger *internal.Logger) (*dataset.Dataset, *dataset.Dataset, error) {
	log := logger.With("Preprocessor")

	features, targets, err := derive(ds, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	n := features.NumRows()
	for _, name := range art.NumericColumns {
		if !features.Has(name) {
			log.Debug("Numeric column %s absent at inference; filling with NaN before imputation", name)
			if err := features.SetNumeric(name, nanColumn(n)); err != nil {
				return nil, nil, err
			}
		}
	}

	if art.Imputer != nil {
		if err := art.Imputer.Transform(features); err != nil {
			return nil, nil, err
		}
	}
	if art.Scaler != nil {
		if err := art.Scaler.Transform(features); err != nil {
			return nil, nil, err
		}
	}
	if art.Encoder != nil {
		if err := art.Encoder.Transform(features, log); err != nil {
			return nil, nil, err
		}
	} else {
		features.Drop(art.OriginalCategoricalColumns...)
	}

	aligned, err := reindexFeatures(features, art.FeatureColumns, log)
	if err != nil {
		return nil, nil, err
	}
	return aligned, targets, nil
}

// derive runs the shared deterministic steps: body metrics, time features,
// Charlson index, log transforms and the feature/target separation.
func derive(ds *dataset.Dataset, cfg config.PreprocessingConfig, log *internal.Logger) (*dataset.Dataset, *dataset.Dataset, error) {
	work := ds.Clone()

	if err := addBodyMetrics(work, cfg); err != nil {
		return nil, nil, err
	}
	if err := addTimeFeatures(work, cfg); err != nil {
		return nil, nil, err
	}
	if err := addCharlsonIndex(work, cfg, log); err != nil {
		return nil, nil, err
	}
	if err := applyLogTransform(work, cfg.LogTransformFeatures); err != nil {
		return nil, nil, err
	}

	present := presentColumns(work, cfg.TargetColumns)
	if len(present) < len(cfg.TargetColumns) {
		log.Warn("Target columns missing from dataset: %v", missingColumns(work, cfg.TargetColumns))
	}
	targets, err := work.Select(present)
	if err != nil {
		return nil, nil, err
	}
	work.Drop(cfg.TargetColumns...)
	return work, targets, nil
}

func addBodyMetrics(ds *dataset.Dataset, cfg config.PreprocessingConfig) error {
	if cfg.WeightColumn == "" || cfg.HeightColumn == "" || !ds.Has(cfg.WeightColumn) || !ds.Has(cfg.HeightColumn) {
		return nil
	}
	weights, err := ds.Floats(cfg.WeightColumn)
	if err != nil {
		return err
	}
	heights, err := ds.Floats(cfg.HeightColumn)
	if err != nil {
		return err
	}
	n := ds.NumRows()
	bmi := make([]float64, n)
	bsa := make([]float64, n)
	for i := 0; i < n; i++ {
		bmi[i], bsa[i] = math.NaN(), math.NaN()
		w, h := weights[i], heights[i]
		if math.IsNaN(w) || math.IsNaN(h) {
			continue
		}
		b, errB := clinical.BMI(w, h)
		s, errS := clinical.BSA(cfg.BSAFormula, w, h)
		if errB != nil || errS != nil {
			continue
		}
		bmi[i], bsa[i] = b, s
	}
	if err := ds.SetNumeric(ColumnBMI, bmi); err != nil {
		return err
	}
	return ds.SetNumeric(ColumnBSA, bsa)
}

func addTimeFeatures(ds *dataset.Dataset, cfg config.PreprocessingConfig) error {
	if len(cfg.TimeColumnMap) == 0 {
		return nil
	}
	derived, err := clinical.DeriveTimeFeatures(ds, cfg.TimeColumnMap)
	if err != nil {
		return err
	}
	for _, name := range derived.Columns() {
		values, _ := derived.Floats(name)
		if err := ds.SetNumeric(name, values); err != nil {
			return err
		}
	}
	return nil
}

func addCharlsonIndex(ds *dataset.Dataset, cfg config.PreprocessingConfig, log *internal.Logger) error {
	n := ds.NumRows()
	scores := make([]float64, n)
	if len(cfg.ComorbidityColumns) == 0 {
		return ds.SetNumeric(ColumnCharlson, scores)
	}

	opts := clinical.DefaultCharlsonOptions().WithOverrides(cfg.CCIWeights)
	opts.IncludeAge = cfg.IncludeAgeInCCI

	type flagColumn struct {
		label string
		col   *dataset.Column
	}
	var flags []flagColumn
	for _, name := range sortedKeys(cfg.ComorbidityColumns) {
		col, ok := ds.Column(name)
		if !ok {
			log.Debug("Comorbidity column %s not present; treated as absent", name)
			continue
		}
		flags = append(flags, flagColumn{label: cfg.ComorbidityColumns[name], col: col})
	}

	var ages []float64
	if cfg.AgeColumn != "" {
		if col, ok := ds.Column(cfg.AgeColumn); ok && col.Kind == dataset.Numeric {
			ages = col.Floats
		}
	}

	for i := 0; i < n; i++ {
		var present []string
		for _, f := range flags {
			if truthy(f.col, i) {
				present = append(present, f.label)
			}
		}
		age := math.NaN()
		if ages != nil {
			age = ages[i]
		}
		scores[i] = float64(clinical.CharlsonIndex(present, age, opts))
	}
	return ds.SetNumeric(ColumnCharlson, scores)
}

var falseTokens = map[string]bool{"0": true, "false": true, "no": true, "n": true, "absent": true, "none": true}

// truthy reads a comorbidity flag cell. Missing values count as absent.
func truthy(col *dataset.Column, i int) bool {
	if col.IsMissing(i) {
		return false
	}
	switch col.Kind {
	case dataset.Numeric:
		return col.Floats[i] != 0
	case dataset.Categorical:
		return !falseTokens[strings.ToLower(strings.TrimSpace(col.Strings[i]))]
	default:
		return true
	}
}

func applyLogTransform(ds *dataset.Dataset, columns []string) error {
	for _, name := range columns {
		if !ds.Has(name) {
			continue
		}
		values, err := ds.Floats(name)
		if err != nil {
			return err
		}
		out := make([]float64, len(values))
		for i, v := range values {
			if v < -1 {
				return core.NewInvalidInputError(name, fmt.Sprintf("cannot apply log1p to value %g < -1", v))
			}
			out[i] = math.Log1p(v)
		}
		if err := ds.SetNumeric(name, out); err != nil {
			return err
		}
	}
	return nil
}

// numericColumns returns the configured numeric features, or every numeric
// column that is not a configured categorical feature.
func numericColumns(features *dataset.Dataset, cfg config.PreprocessingConfig) ([]string, error) {
	if len(cfg.NumericFeatures) > 0 {
		for _, name := range cfg.NumericFeatures {
			if _, err := features.Floats(name); err != nil {
				return nil, err
			}
		}
		return append([]string(nil), cfg.NumericFeatures...), nil
	}
	categorical := make(map[string]bool, len(cfg.CategoricalFeatures))
	for _, c := range cfg.CategoricalFeatures {
		categorical[c] = true
	}
	var out []string
	for _, name := range features.ColumnsOfKind(dataset.Numeric) {
		if !categorical[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// dropNonNumeric removes columns that no encoder turned numeric, such as
// raw dates and unconfigured free-text fields.
func dropNonNumeric(ds *dataset.Dataset, log *internal.Logger) {
	var drop []string
	for _, name := range ds.Columns() {
		if col, _ := ds.Column(name); col.Kind != dataset.Numeric {
			drop = append(drop, name)
		}
	}
	if len(drop) > 0 {
		log.Debug("Dropping non-numeric feature columns: %v", drop)
		ds.Drop(drop...)
	}
}

func reindexFeatures(features *dataset.Dataset, columns []string, log *internal.Logger) (*dataset.Dataset, error) {
	out, err := dataset.New(features.RowIDs())
	if err != nil {
		return nil, err
	}
	var filled []string
	for _, name := range columns {
		if !features.Has(name) {
			filled = append(filled, name)
			if err := out.SetNumeric(name, make([]float64, features.NumRows())); err != nil {
				return nil, err
			}
			continue
		}
		values, err := features.Floats(name)
		if err != nil {
			return nil, err
		}
		if err := out.SetNumeric(name, append([]float64(nil), values...)); err != nil {
			return nil, err
		}
	}
	if len(filled) > 0 {
		log.Debug("Filled %d feature columns absent at inference with 0: %v", len(filled), filled)
	}
	return out, nil
}

func presentColumns(ds *dataset.Dataset, names []string) []string {
	var out []string
	for _, n := range names {
		if ds.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

func missingColumns(ds *dataset.Dataset, names []string) []string {
	var out []string
	for _, n := range names {
		if !ds.Has(n) {
			out = append(out, n)
		}
	}
	return out
}
