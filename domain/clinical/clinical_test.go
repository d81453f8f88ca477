package clinical

import (
	"math"
	"testing"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBodyMetrics(t *testing.T) {
	bmi, err := BMI(70, 175)
	require.NoError(t, err)
	assert.InDelta(t, 22.86, bmi, 0.005)

	bsa, err := BSADuBois(70, 175)
	require.NoError(t, err)
	assert.InDelta(t, 1.8481, bsa, 0.00005)

	_, err = BMI(70, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = BSADuBois(0, 175)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = BSA("mosteller", 70, 175)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestBodyMetricsArePositiveForValidInputs(t *testing.T) {
	for w := 30.0; w <= 150; w += 15 {
		for h := 120.0; h <= 210; h += 10 {
			bmi, err := BMI(w, h)
			require.NoError(t, err)
			bsa, err := BSADuBois(w, h)
			require.NoError(t, err)
			assert.True(t, bmi > 0 && !math.IsInf(bmi, 0))
			assert.True(t, bsa > 0 && !math.IsInf(bsa, 0))
		}
	}
}

func TestCharlsonIndexDefaults(t *testing.T) {
	score := CharlsonIndex([]string{"diabetes", "myocardial_infarction"}, 65, DefaultCharlsonOptions())
	assert.Equal(t, 6, score)
}

func TestCharlsonIndexCustomWeights(t *testing.T) {
	opts := CharlsonOptions{Weights: map[string]int{"custom": 3}, IncludeRenalDisease: false}
	assert.Equal(t, 3, CharlsonIndex([]string{"custom"}, math.NaN(), opts))
	assert.Equal(t, 0, CharlsonIndex([]string{"unknown_label"}, math.NaN(), opts))
}

func TestCharlsonIndexOverridesAndAge(t *testing.T) {
	opts := DefaultCharlsonOptions().WithOverrides(map[string]int{"diabetes": 4})
	// 4 (diabetes) + 2 (renal) + 0 (age unknown)
	assert.Equal(t, 6, CharlsonIndex([]string{"diabetes", "diabetes"}, math.NaN(), opts))

	opts.IncludeAge = false
	assert.Equal(t, 6, CharlsonIndex([]string{"diabetes"}, 95, opts))
}

func TestCharlsonIndexRenalFlagAndDuplicates(t *testing.T) {
	opts := DefaultCharlsonOptions()
	opts.IncludeAge = false

	// 2 (flagged renal) + 2 (renal adjustment)
	assert.Equal(t, 4, CharlsonIndex([]string{RenalDiseaseLabel}, math.NaN(), opts))
	// A repeated flag does not add its weight again.
	assert.Equal(t, 4, CharlsonIndex([]string{RenalDiseaseLabel, RenalDiseaseLabel}, math.NaN(), opts))
	assert.Equal(t, 5, CharlsonIndex([]string{"diabetes", RenalDiseaseLabel, "diabetes"}, math.NaN(), opts))

	opts.IncludeRenalDisease = false
	assert.Equal(t, 2, CharlsonIndex([]string{RenalDiseaseLabel}, math.NaN(), opts))
	assert.Equal(t, 0, CharlsonIndex(nil, math.NaN(), opts))
}

func TestAgeAdjustment(t *testing.T) {
	cases := []struct {
		age  float64
		want int
	}{
		{30, 0}, {49.9, 0}, {50, 1}, {59, 1}, {60, 2}, {69, 2}, {70, 3}, {80, 4}, {89.9, 4}, {90, 5}, {101, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, AgeAdjustment(tc.age), "age %v", tc.age)
	}
}

func TestValidatePredictionRanges(t *testing.T) {
	ok, err := ValidatePredictionRanges([]float64{0.1, 0.5, 1.0}, "pet")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ValidatePredictionRanges([]float64{0.5, 1.01}, "pet")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ValidatePredictionRanges([]float64{0.09}, "pet")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ValidatePredictionRanges([]float64{0.5, 4.0}, "ktv")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = ValidatePredictionRanges([]float64{1}, "urea")
	assert.ErrorIs(t, err, core.ErrUnknownTarget)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDeriveTimeFeatures(t *testing.T) {
	ds, err := dataset.New([]string{"1", "2"})
	require.NoError(t, err)
	require.NoError(t, ds.SetDatetime("egfr", []time.Time{day(2020, 1, 1), {}}))
	require.NoError(t, ds.SetDatetime("pd_start", []time.Time{day(2020, 1, 11), day(2020, 5, 1)}))
	require.NoError(t, ds.SetDatetime("tki", []time.Time{day(2019, 12, 27), day(2020, 4, 1)}))
	require.NoError(t, ds.SetDatetime("assessment", []time.Time{day(2020, 2, 10), day(2020, 5, 2)}))

	mapping := map[string]string{
		KeyEGFRBelow10: "egfr",
		KeyPDStart:     "pd_start",
		KeyTKI:         "tki",
		KeyAssessment:  "assessment",
	}
	out, err := DeriveTimeFeatures(ds, mapping)
	require.NoError(t, err)
	assert.Equal(t, TimeFeatureColumns, out.Columns())

	failure, _ := out.Floats(FailurePeriodDays)
	waiting, _ := out.Floats(WaitingPeriodDays)
	pd, _ := out.Floats(PDPeriodDays)
	assert.Equal(t, 10.0, failure[0])
	assert.Equal(t, 15.0, waiting[0])
	assert.Equal(t, 30.0, pd[0])
	assert.True(t, math.IsNaN(failure[1]))
	assert.Equal(t, 30.0, waiting[1])
	assert.Equal(t, 1.0, pd[1])
}

func TestDeriveTimeFeaturesMissingKeyOrColumn(t *testing.T) {
	ds, err := dataset.New([]string{"1"})
	require.NoError(t, err)
	require.NoError(t, ds.SetDatetime("pd_start", []time.Time{day(2020, 1, 1)}))

	_, err = DeriveTimeFeatures(ds, map[string]string{KeyPDStart: "pd_start"})
	assert.ErrorIs(t, err, core.ErrMissingColumn)

	_, err = DeriveTimeFeatures(ds, map[string]string{
		KeyEGFRBelow10: "egfr", KeyPDStart: "pd_start", KeyTKI: "tki", KeyAssessment: "assessment",
	})
	assert.ErrorIs(t, err, core.ErrMissingColumn)
}

func TestTimeIntervalDaysFloorsPartialDays(t *testing.T) {
	start := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 3, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, 1.0, TimeIntervalDays(start, end))
	assert.Equal(t, -2.0, TimeIntervalDays(end, start))
}
