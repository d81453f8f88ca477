package preprocessing

import (
	"math"
	"sort"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal/config"

	"github.com/montanaflynn/stats"
)

// Imputer replaces missing numeric values with per-column statistics
// learned at fit time.
type Imputer struct {
	Strategy   string
	Columns    []string
	Statistics []float64
}

// FitImputer learns one fill value per column. Columns without any observed
// value are filled with 0.
func FitImputer(ds *dataset.Dataset, columns []string, strategy string) (*Imputer, error) {
	imp := &Imputer{Strategy: strategy, Columns: append([]string(nil), columns...), Statistics: make([]float64, len(columns))}
	for j, name := range columns {
		values, err := ds.Floats(name)
		if err != nil {
			return nil, err
		}
		observed := observedValues(values)
		if len(observed) == 0 {
			imp.Statistics[j] = 0
			continue
		}
		stat, err := imputationStatistic(observed, strategy)
		if err != nil {
			return nil, err
		}
		imp.Statistics[j] = stat
	}
	return imp, nil
}

func imputationStatistic(observed []float64, strategy string) (float64, error) {
	switch strategy {
	case config.ImputeMean:
		return stats.Mean(observed)
	case config.ImputeMedian:
		return stats.Median(observed)
	case config.ImputeMostFrequent:
		return mostFrequent(observed), nil
	default:
		return 0, core.NewConfigurationError("imputation_strategy", "unsupported strategy "+strategy)
	}
}

// mostFrequent returns the modal value, preferring the smallest on ties.
func mostFrequent(values []float64) float64 {
	counts := make(map[float64]int, len(values))
	for _, v := range values {
		counts[v]++
	}
	keys := make([]float64, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	best, bestCount := keys[0], 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

// Transform fills missing values in place.
func (imp *Imputer) Transform(ds *dataset.Dataset) error {
	for j, name := range imp.Columns {
		values, err := ds.Floats(name)
		if err != nil {
			return err
		}
		filled := make([]float64, len(values))
		for i, v := range values {
			if math.IsNaN(v) {
				v = imp.Statistics[j]
			}
			filled[i] = v
		}
		if err := ds.SetNumeric(name, filled); err != nil {
			return err
		}
	}
	return nil
}

func observedValues(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}
