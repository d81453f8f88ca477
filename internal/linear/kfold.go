package linear

import (
	"fmt"

	"detectpd/domain/core"
)

// Fold is one train/test partition of row positions.
type Fold struct {
	Train []int
	Test  []int
}

// KFold splits n rows into k contiguous folds without shuffling. The first
// n%k folds get one extra row.
func KFold(n, k int) ([]Fold, error) {
	if k < 2 {
		return nil, core.NewConfigurationError("cv_folds", "must be >= 2")
	}
	if n < k {
		return nil, fmt.Errorf("%w: cannot make %d folds from %d rows", core.ErrInsufficientData, k, n)
	}
	folds := make([]Fold, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		stop := start + size
		fold := Fold{Test: make([]int, 0, size), Train: make([]int, 0, n-size)}
		for i := 0; i < n; i++ {
			if i >= start && i < stop {
				fold.Test = append(fold.Test, i)
			} else {
				fold.Train = append(fold.Train, i)
			}
		}
		folds[f] = fold
		start = stop
	}
	return folds, nil
}

// Rows copies the given rows of a row-major matrix.
func Rows(x [][]float64, rows []int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = x[r]
	}
	return out
}

// Pick returns values at the given positions.
func Pick(values []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = values[r]
	}
	return out
}
