package preprocessing

import (
	"math"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal/config"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
)

// Scaler applies a per-column affine map x*Scale[j] + Offset[j] learned at
// fit time. Missing values stay missing.
type Scaler struct {
	Method  string
	Columns []string
	Offset  []float64
	Scale   []float64
	// Center and Spread describe the training data: mean and population
	// standard deviation for standard scaling, min and range for minmax.
	Center []float64
	Spread []float64
}

// FitScaler learns scaling parameters over the observed values of each column.
// Constant columns get unit spread so they map to a constant.
func FitScaler(ds *dataset.Dataset, columns []string, cfg config.PreprocessingConfig) (*Scaler, error) {
	s := &Scaler{
		Method:  cfg.ScalingMethod,
		Columns: append([]string(nil), columns...),
		Offset:  make([]float64, len(columns)),
		Scale:   make([]float64, len(columns)),
		Center:  make([]float64, len(columns)),
		Spread:  make([]float64, len(columns)),
	}
	for j, name := range columns {
		values, err := ds.Floats(name)
		if err != nil {
			return nil, err
		}
		observed := observedValues(values)
		var center, spread float64
		if len(observed) > 0 {
			switch cfg.ScalingMethod {
			case config.ScalingStandard:
				center, _ = stats.Mean(observed)
				spread, _ = stats.StandardDeviationPopulation(observed)
			case config.ScalingMinMax:
				center = floats.Min(observed)
				spread = floats.Max(observed) - center
			default:
				return nil, core.NewConfigurationError("scaling_method", "unsupported method "+cfg.ScalingMethod)
			}
		}
		if spread == 0 || math.IsNaN(spread) {
			spread = 1
		}
		s.Center[j], s.Spread[j] = center, spread

		switch cfg.ScalingMethod {
		case config.ScalingStandard:
			s.Scale[j] = 1 / spread
			s.Offset[j] = -center / spread
		case config.ScalingMinMax:
			lo, hi := cfg.MinMaxFeatureRange.Min, cfg.MinMaxFeatureRange.Max
			s.Scale[j] = (hi - lo) / spread
			s.Offset[j] = lo - center*s.Scale[j]
		}
	}
	return s, nil
}

// Transform rescales the columns in place.
func (s *Scaler) Transform(ds *dataset.Dataset) error {
	for j, name := range s.Columns {
		values, err := ds.Floats(name)
		if err != nil {
			return err
		}
		out := make([]float64, len(values))
		for i, v := range values {
			out[i] = v*s.Scale[j] + s.Offset[j]
		}
		if err := ds.SetNumeric(name, out); err != nil {
			return err
		}
	}
	return nil
}
