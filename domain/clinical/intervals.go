package clinical

import (
	"math"
	"time"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
)

// Keys of the time-column mapping and the feature each pair produces.
const (
	KeyEGFRBelow10 = "egfr_below_10_date"
	KeyPDStart     = "pd_start_date"
	KeyTKI         = "tki_date"
	KeyAssessment  = "assessment_date"

	FailurePeriodDays = "failure_period_days"
	WaitingPeriodDays = "waiting_period_days"
	PDPeriodDays      = "pd_period_days"
)

// RequiredTimeKeys lists the keys a time-column mapping must define.
var RequiredTimeKeys = []string{KeyEGFRBelow10, KeyPDStart, KeyTKI, KeyAssessment}

// TimeFeatureColumns lists the derived interval columns in output order.
var TimeFeatureColumns = []string{FailurePeriodDays, WaitingPeriodDays, PDPeriodDays}

// TimeIntervalDays returns the whole days from start to end, floored like a
// calendar day count. A zero time on either side yields NaN.
func TimeIntervalDays(start, end time.Time) float64 {
	if start.IsZero() || end.IsZero() {
		return math.NaN()
	}
	return math.Floor(end.Sub(start).Hours() / 24)
}

// DeriveTimeFeatures computes the interval features from the mapped datetime
// columns of ds. The result is a new dataset over the same rows holding only
// the three interval columns.
func DeriveTimeFeatures(ds *dataset.Dataset, columnMap map[string]string) (*dataset.Dataset, error) {
	cols := make(map[string][]time.Time, len(RequiredTimeKeys))
	for _, key := range RequiredTimeKeys {
		name, ok := columnMap[key]
		if !ok || name == "" {
			return nil, core.NewMissingColumnError("time column mapping key " + key)
		}
		col, ok := ds.Column(name)
		if !ok {
			return nil, core.NewMissingColumnError(name)
		}
		if col.Kind != dataset.Datetime {
			return nil, core.NewInvalidInputError(name, "expected a datetime column, got "+col.Kind.String())
		}
		cols[key] = col.Times
	}

	n := ds.NumRows()
	failure := make([]float64, n)
	waiting := make([]float64, n)
	pdPeriod := make([]float64, n)
	for i := 0; i < n; i++ {
		failure[i] = TimeIntervalDays(cols[KeyEGFRBelow10][i], cols[KeyPDStart][i])
		waiting[i] = TimeIntervalDays(cols[KeyTKI][i], cols[KeyPDStart][i])
		pdPeriod[i] = TimeIntervalDays(cols[KeyPDStart][i], cols[KeyAssessment][i])
	}

	out, err := dataset.New(ds.RowIDs())
	if err != nil {
		return nil, err
	}
	if err := out.SetNumeric(FailurePeriodDays, failure); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(WaitingPeriodDays, waiting); err != nil {
		return nil, err
	}
	if err := out.SetNumeric(PDPeriodDays, pdPeriod); err != nil {
		return nil, err
	}
	return out, nil
}
