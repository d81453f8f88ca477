package dataset

import (
	"math"
	"testing"
	"time"

	"detectpd/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Dataset {
	t.Helper()
	ds, err := New([]string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.NoError(t, ds.SetNumeric("age", []float64{61, math.NaN(), 45}))
	require.NoError(t, ds.SetCategorical("sex", []string{"F", "M", ""}))
	require.NoError(t, ds.SetDatetime("pd_start_date", []time.Time{
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), {}, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	return ds
}

func TestNewRejectsDuplicateRowIDs(t *testing.T) {
	_, err := New([]string{"a", "a"})
	assert.ErrorIs(t, err, core.ErrDuplicateKey)
}

func TestSetReplacesInPlace(t *testing.T) {
	ds := sample(t)
	require.NoError(t, ds.SetNumeric("sex", []float64{0, 1, 0}))
	assert.Equal(t, []string{"age", "sex", "pd_start_date"}, ds.Columns())

	col, ok := ds.Column("sex")
	require.True(t, ok)
	assert.Equal(t, Numeric, col.Kind)
}

func TestSetRejectsWrongLength(t *testing.T) {
	ds := sample(t)
	err := ds.SetNumeric("bmi", []float64{1})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestMissingValues(t *testing.T) {
	ds := sample(t)
	age, _ := ds.Column("age")
	sex, _ := ds.Column("sex")
	start, _ := ds.Column("pd_start_date")
	assert.True(t, age.IsMissing(1))
	assert.True(t, sex.IsMissing(2))
	assert.True(t, start.IsMissing(1))
	assert.False(t, start.IsMissing(0))
}

func TestTakeAndCloneDoNotAlias(t *testing.T) {
	ds := sample(t)
	sub := ds.Take([]int{2, 0})
	assert.Equal(t, []string{"p3", "p1"}, sub.RowIDs())

	ages, err := sub.Floats("age")
	require.NoError(t, err)
	ages[0] = 99

	orig, _ := ds.Floats("age")
	assert.Equal(t, 45.0, orig[2])

	clone := ds.Clone()
	cloneAges, _ := clone.Floats("age")
	cloneAges[0] = -1
	assert.Equal(t, 61.0, orig[0])
}

func TestSelectDropRename(t *testing.T) {
	ds := sample(t)
	sel, err := ds.Select([]string{"sex", "age"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sex", "age"}, sel.Columns())

	_, err = ds.Select([]string{"ktv"})
	assert.ErrorIs(t, err, core.ErrMissingColumn)

	ds.Drop("sex", "unknown")
	assert.Equal(t, []string{"age", "pd_start_date"}, ds.Columns())

	require.NoError(t, ds.Rename(map[string]string{"age": "age_years"}))
	assert.True(t, ds.Has("age_years"))
	assert.False(t, ds.Has("age"))
}

func TestReindexAndMatrix(t *testing.T) {
	ds := sample(t)
	re, err := ds.Reindex([]string{"p2", "p1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1"}, re.RowIDs())

	_, err = ds.Reindex([]string{"nope"})
	assert.Error(t, err)

	m, err := ds.Matrix([]string{"age"})
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1, c)
	assert.Equal(t, 61.0, m.At(0, 0))

	_, err = ds.Matrix([]string{"sex"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestFilter(t *testing.T) {
	ds := sample(t)
	age, _ := ds.Column("age")
	kept := ds.Filter(func(i int) bool { return !age.IsMissing(i) })
	assert.Equal(t, []string{"p1", "p3"}, kept.RowIDs())
}

func TestMatrixFillMissing(t *testing.T) {
	ds := sample(t)
	require.NoError(t, ds.SetNumeric("albumin", []float64{3.9, 4.1, math.NaN()}))

	m, err := ds.MatrixFillMissing([]string{"age", "albumin"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{61, 3.9, 0, 4.1, 45, 0}, m.RawMatrix().Data)

	_, err = ds.MatrixFillMissing([]string{"sex"}, 0)
	assert.Error(t, err)
	_, err = ds.MatrixFillMissing(nil, 0)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}

func TestFingerprintTracksContent(t *testing.T) {
	a, b := sample(t), sample(t)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	require.NoError(t, b.SetNumeric("age", []float64{61, math.NaN(), 46}))
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := sample(t)
	require.NoError(t, c.Rename(map[string]string{"age": "age_years"}))
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}
