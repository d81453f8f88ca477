// Package metrics scores point predictions against observed values.
package metrics

import (
	"fmt"
	"math"

	"detectpd/domain/core"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Metric names accepted in configuration.
const (
	MAE  = "mae"
	MSE  = "mse"
	RMSE = "rmse"
	R2   = "r2"
	ICC  = "icc"
)

// Known lists every supported metric name.
var Known = []string{MAE, MSE, RMSE, R2, ICC}

func check(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return core.NewDimensionError("predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return fmt.Errorf("%w: no observations to score", core.ErrInsufficientData)
	}
	return nil
}

// MeanAbsoluteError is mean |y − ŷ|.
func MeanAbsoluteError(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var s float64
	for i := range yTrue {
		s += math.Abs(yTrue[i] - yPred[i])
	}
	return s / float64(len(yTrue)), nil
}

// MeanSquaredError is mean (y − ŷ)².
func MeanSquaredError(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	var s float64
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		s += d * d
	}
	return s / float64(len(yTrue)), nil
}

// R2Score is 1 − SS_res/SS_tot. A constant target scores 1 when predicted
// exactly and 0 otherwise.
func R2Score(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	mean := stat.Mean(yTrue, nil)
	var ssRes, ssTot float64
	for i, y := range yTrue {
		d := y - yPred[i]
		ssRes += d * d
		m := y - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return 1 - ssRes/ssTot, nil
}

// ICCConsistency is the two-way mixed, single-measure consistency
// intraclass correlation ICC(3,1) between observed and predicted values,
// treating them as two raters of the same subjects.
func ICCConsistency(yTrue, yPred []float64) (float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return 0, err
	}
	n := len(yTrue)
	if n < 2 {
		return math.NaN(), nil
	}
	const k = 2.0
	grand := (floats.Sum(yTrue) + floats.Sum(yPred)) / (k * float64(n))
	meanTrue := stat.Mean(yTrue, nil)
	meanPred := stat.Mean(yPred, nil)

	var ssRows, ssTotal float64
	for i := range yTrue {
		rowMean := (yTrue[i] + yPred[i]) / k
		ssRows += k * (rowMean - grand) * (rowMean - grand)
		ssTotal += (yTrue[i]-grand)*(yTrue[i]-grand) + (yPred[i]-grand)*(yPred[i]-grand)
	}
	ssCols := float64(n) * ((meanTrue-grand)*(meanTrue-grand) + (meanPred-grand)*(meanPred-grand))
	ssErr := ssTotal - ssRows - ssCols

	msRows := ssRows / float64(n-1)
	msErr := ssErr / (float64(n-1) * (k - 1))
	denom := msRows + (k-1)*msErr
	if denom == 0 {
		return math.NaN(), nil
	}
	return (msRows - msErr) / denom, nil
}

// Compute evaluates the named metrics. Unknown names fail.
func Compute(names []string, yTrue, yPred []float64) (map[string]float64, error) {
	if err := check(yTrue, yPred); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(names))
	for _, name := range names {
		var v float64
		var err error
		switch name {
		case MAE:
			v, err = MeanAbsoluteError(yTrue, yPred)
		case MSE:
			v, err = MeanSquaredError(yTrue, yPred)
		case RMSE:
			v, err = MeanSquaredError(yTrue, yPred)
			v = math.Sqrt(v)
		case R2:
			v, err = R2Score(yTrue, yPred)
		case ICC:
			v, err = ICCConsistency(yTrue, yPred)
		default:
			return nil, core.NewConfigurationError("metrics", "unknown metric "+name)
		}
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// Standard returns r2, mae and mse, the metrics every trained model reports.
func Standard(yTrue, yPred []float64) (map[string]float64, error) {
	return Compute([]string{R2, MAE, MSE}, yTrue, yPred)
}

// HigherIsBetter reports the optimization direction of a metric.
func HigherIsBetter(name string) bool {
	return name == R2 || name == ICC
}
