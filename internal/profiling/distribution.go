package profiling

import (
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Distribution describes the shape of one column's observed values.
type Distribution struct {
	Skewness   float64 `json:"skewness"`
	Kurtosis   float64 `json:"kurtosis"`
	IsNormal   bool    `json:"is_normal"`
	NormalityP float64 `json:"normality_p"`
	Outliers   int     `json:"outliers"`
}

// Summary holds the location and spread of one column's observed values.
type Summary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// analyzeDistribution computes summary and shape statistics. data must hold
// only observed values.
func analyzeDistribution(data []float64) (Summary, Distribution, error) {
	var s Summary
	var d Distribution

	mean, err := stats.Mean(data)
	if err != nil {
		return s, d, err
	}
	stdDev, err := stats.StandardDeviationSample(data)
	if err != nil {
		return s, d, err
	}
	min, err := stats.Min(data)
	if err != nil {
		return s, d, err
	}
	max, err := stats.Max(data)
	if err != nil {
		return s, d, err
	}
	median, err := stats.Median(data)
	if err != nil {
		return s, d, err
	}

	// Quartiles for IQR-based outlier detection
	q25, err := stats.Percentile(data, 25)
	if err != nil {
		return s, d, err
	}
	q75, err := stats.Percentile(data, 75)
	if err != nil {
		return s, d, err
	}

	s = Summary{Mean: mean, StdDev: stdDev, Min: min, Max: max, Median: median, Q25: q25, Q75: q75}
	d.Skewness = calculateSkewness(data, mean, stdDev)
	d.Kurtosis = calculateKurtosis(data, mean, stdDev)
	d.IsNormal, d.NormalityP = testNormality(len(data), d.Skewness, d.Kurtosis)
	d.Outliers = detectOutliers(data, q25, q75)
	return s, d, nil
}

// calculateSkewness computes sample skewness using the adjusted Fisher-Pearson coefficient
func calculateSkewness(data []float64, mean, stdDev float64) float64 {
	if len(data) < 3 || stdDev == 0 {
		return 0
	}

	n := float64(len(data))
	sumCubedDeviations := 0.0
	for _, x := range data {
		deviation := (x - mean) / stdDev
		sumCubedDeviations += deviation * deviation * deviation
	}

	return n / ((n - 1) * (n - 2)) * sumCubedDeviations
}

// calculateKurtosis computes sample excess kurtosis
func calculateKurtosis(data []float64, mean, stdDev float64) float64 {
	if len(data) < 4 || stdDev == 0 {
		return 0
	}

	n := float64(len(data))
	sumFourthDeviations := 0.0
	for _, x := range data {
		deviation := (x - mean) / stdDev
		sumFourthDeviations += deviation * deviation * deviation * deviation
	}

	lead := n * (n + 1) / ((n - 1) * (n - 2) * (n - 3))
	tail := 3 * (n - 1) * (n - 1) / ((n - 2) * (n - 3))
	return lead*sumFourthDeviations - tail
}

// testNormality runs the Jarque-Bera test: JB = n/6 (S² + K²/4) is
// chi-squared with two degrees of freedom under normality.
func testNormality(n int, skewness, excessKurtosis float64) (isNormal bool, pValue float64) {
	if n < 8 {
		return false, 1.0
	}
	jb := float64(n) / 6 * (skewness*skewness + excessKurtosis*excessKurtosis/4)
	chi := distuv.ChiSquared{K: 2}
	pValue = 1 - chi.CDF(jb)
	return pValue > 0.05, pValue
}

// detectOutliers identifies outliers using IQR method
func detectOutliers(data []float64, q25, q75 float64) int {
	iqr := q75 - q25
	lowerBound := q25 - 1.5*iqr
	upperBound := q75 + 1.5*iqr

	outlierCount := 0
	for _, x := range data {
		if x < lowerBound || x > upperBound {
			outlierCount++
		}
	}
	return outlierCount
}
