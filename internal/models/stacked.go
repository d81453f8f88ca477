package models

import (
	"context"
	"fmt"

	"detectpd/domain/core"
	"detectpd/internal/linear"
	"detectpd/internal/parallel"

	"gonum.org/v1/gonum/mat"
)

// StackFolds is the number of folds used to build out-of-fold predictions.
const StackFolds = 5

// StackMember is one named base learner of a stacked ensemble.
type StackMember struct {
	Name string
	Spec Spec
}

// Stacked fits a ridge meta-learner on out-of-fold predictions of its base
// learners, then refits every base learner on all rows.
type Stacked struct {
	members []StackMember
	meta    Params
	nJobs   int

	fitted    []Estimator
	metaModel Estimator
	nFeatures int
}

// MemberName names the idx-th base learner of a stack.
func MemberName(kind string, idx int) string {
	return fmt.Sprintf("%s_%d", kind, idx)
}

func newStacked(spec Spec) (*Stacked, error) {
	if len(spec.Base) == 0 {
		return nil, core.NewConfigurationError("base_models", "stacked models need at least one base model")
	}
	members := make([]StackMember, len(spec.Base))
	for i, base := range spec.Base {
		members[i] = StackMember{Name: MemberName(base.Kind, i), Spec: base}
	}
	return NewStacked(members, metaParams(spec.Params), spec.NJobs)
}

// metaParams reads the meta-learner settings from a nested "meta" map when
// one is given, otherwise from the stack's own parameters.
func metaParams(p Params) Params {
	switch meta := p["meta"].(type) {
	case map[string]interface{}:
		return Params(meta)
	case Params:
		return meta
	}
	return p.Clone()
}

// NewStacked validates every member and the meta-learner up front.
func NewStacked(members []StackMember, meta Params, nJobs int) (*Stacked, error) {
	for _, m := range members {
		if _, err := New(m.Spec); err != nil {
			return nil, fmt.Errorf("base model %s: %w", m.Name, err)
		}
	}
	if _, err := newRidge(meta); err != nil {
		return nil, fmt.Errorf("meta learner: %w", err)
	}
	return &Stacked{members: members, meta: meta, nJobs: nJobs, nFeatures: -1}, nil
}

// MemberNames lists the base learners in order.
func (s *Stacked) MemberNames() []string {
	out := make([]string, len(s.members))
	for i, m := range s.members {
		out[i] = m.Name
	}
	return out
}

// Fit builds the out-of-fold design, fits the meta-learner on it and refits
// the base learners on all rows.
func (s *Stacked) Fit(X mat.Matrix, y []float64) error {
	if err := checkFit(X, y); err != nil {
		return err
	}
	x := rowsOf(X)
	n, p := len(x), len(x[0])
	if n < 2 {
		return fmt.Errorf("%w: stacking needs at least 2 rows for out-of-fold predictions, got %d", core.ErrInsufficientData, n)
	}
	k := min(StackFolds, n)
	folds, err := linear.KFold(n, k)
	if err != nil {
		return err
	}

	ctx := context.Background()
	oof, err := parallel.Map(ctx, len(s.members), s.nJobs, func(_ context.Context, j int) ([]float64, error) {
		col := make([]float64, n)
		for _, fold := range folds {
			est, err := New(s.members[j].Spec)
			if err != nil {
				return nil, err
			}
			if err := est.Fit(denseOf(linear.Rows(x, fold.Train)), linear.Pick(y, fold.Train)); err != nil {
				return nil, fmt.Errorf("base model %s: %w", s.members[j].Name, err)
			}
			pred, err := est.Predict(denseOf(linear.Rows(x, fold.Test)))
			if err != nil {
				return nil, err
			}
			for i, r := range fold.Test {
				col[r] = pred[i]
			}
		}
		return col, nil
	})
	if err != nil {
		return err
	}

	meta, err := newRidge(s.meta)
	if err != nil {
		return err
	}
	if err := meta.Fit(columnsOf(oof, n), y); err != nil {
		return fmt.Errorf("meta learner: %w", err)
	}

	full := denseOf(x)
	fitted, err := parallel.Map(ctx, len(s.members), s.nJobs, func(_ context.Context, j int) (Estimator, error) {
		est, err := New(s.members[j].Spec)
		if err != nil {
			return nil, err
		}
		if err := est.Fit(full, y); err != nil {
			return nil, fmt.Errorf("base model %s: %w", s.members[j].Name, err)
		}
		return est, nil
	})
	if err != nil {
		return err
	}
	s.fitted, s.metaModel, s.nFeatures = fitted, meta, p
	return nil
}

// Predict feeds the base predictions to the meta-learner.
func (s *Stacked) Predict(X mat.Matrix) ([]float64, error) {
	if err := checkPredict(X, s.nFeatures); err != nil {
		return nil, err
	}
	r, _ := X.Dims()
	cols := make([][]float64, len(s.fitted))
	for j, est := range s.fitted {
		pred, err := est.Predict(X)
		if err != nil {
			return nil, err
		}
		cols[j] = pred
	}
	return s.metaModel.Predict(columnsOf(cols, r))
}

// MetaCoefficients returns the meta-learner weights per base learner.
func (s *Stacked) MetaCoefficients() ([]float64, float64) {
	if lm, ok := s.metaModel.(*LinearModel); ok {
		return lm.Coefficients()
	}
	return nil, 0
}

func denseOf(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(rows), len(rows[0]), nil)
	for i, row := range rows {
		out.SetRow(i, row)
	}
	return out
}

func columnsOf(cols [][]float64, n int) *mat.Dense {
	out := mat.NewDense(n, len(cols), nil)
	for j, col := range cols {
		out.SetCol(j, col)
	}
	return out
}
