package evaluation

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// CalibrationBin summarizes one quantile bin of predictions.
type CalibrationBin struct {
	MeanPredicted float64 `json:"mean_predicted"`
	MeanObserved  float64 `json:"mean_observed"`
	Count         int     `json:"count"`
}

// CalibrationTable sorts rows by prediction and splits them into at most
// bins groups of near-equal size.
func CalibrationTable(yTrue, yPred []float64, bins int) []CalibrationBin {
	n := len(yPred)
	if n == 0 || bins < 1 {
		return nil
	}
	bins = min(bins, n)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return yPred[order[a]] < yPred[order[b]] })

	out := make([]CalibrationBin, 0, bins)
	start := 0
	for b := 0; b < bins; b++ {
		size := n / bins
		if b < n%bins {
			size++
		}
		pred := make([]float64, size)
		obs := make([]float64, size)
		for i, r := range order[start : start+size] {
			pred[i] = yPred[r]
			obs[i] = yTrue[r]
		}
		out = append(out, CalibrationBin{
			MeanPredicted: stat.Mean(pred, nil),
			MeanObserved:  stat.Mean(obs, nil),
			Count:         size,
		})
		start += size
	}
	return out
}

// ThresholdAgreement is the share of rows where pred >= threshold matches
// observed >= threshold.
func ThresholdAgreement(yTrue, yPred []float64, threshold float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	agree := 0
	for i := range yTrue {
		if (yTrue[i] >= threshold) == (yPred[i] >= threshold) {
			agree++
		}
	}
	return float64(agree) / float64(len(yTrue))
}
