package split

import (
	"fmt"
	"sort"
	"testing"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func indexed(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	ds := dataset.NewIndexed(n)
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i)
	}
	require.NoError(t, ds.SetNumeric("feature", values))
	return ds
}

func TestSplitShuffledIsDeterministic(t *testing.T) {
	ds := indexed(t, 10)
	cfg := config.SplitConfig{TestSize: 0.2, Shuffle: true, RandomSeed: 42}

	first, err := Split(ds, cfg, internal.NewDiscardLogger())
	require.NoError(t, err)
	second, err := Split(ds, cfg, internal.NewDiscardLogger())
	require.NoError(t, err)

	assert.Equal(t, 8, first.Train.NumRows())
	assert.Equal(t, 2, first.Test.NumRows())
	assert.Equal(t, first.TestRowIDs, second.TestRowIDs)
	assert.Equal(t, first.Test.RowIDs(), first.TestRowIDs)
}

func TestSplitWithoutShuffleTakesTail(t *testing.T) {
	ds := indexed(t, 5)
	out, err := Split(ds, config.SplitConfig{TestSize: 0.4, Shuffle: false}, internal.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "4"}, out.TestRowIDs)
	assert.Equal(t, []string{"0", "1", "2"}, out.Train.RowIDs())
}

func TestSplitPartitionsExactly(t *testing.T) {
	for _, n := range []int{7, 13, 50} {
		for _, f := range []float64{0.1, 0.25, 0.33} {
			ds := indexed(t, n)
			out, err := Split(ds, config.SplitConfig{TestSize: f, Shuffle: true, RandomSeed: int64(n)}, internal.NewDiscardLogger())
			require.NoError(t, err, fmt.Sprintf("n=%d f=%v", n, f))

			all := append(out.Train.RowIDs(), out.TestRowIDs...)
			sort.Strings(all)
			want := ds.RowIDs()
			sort.Strings(want)
			assert.Equal(t, want, all)

			_, nTest, _ := Sizes(n, f)
			assert.Equal(t, nTest, len(out.TestRowIDs))
		}
	}
}

func TestSplitCarriesColumnValues(t *testing.T) {
	ds := indexed(t, 10)
	out, err := Split(ds, config.SplitConfig{TestSize: 0.3, Shuffle: true, RandomSeed: 1}, internal.NewDiscardLogger())
	require.NoError(t, err)
	values, err := out.Test.Floats("feature")
	require.NoError(t, err)
	for i, id := range out.TestRowIDs {
		assert.Equal(t, id, fmt.Sprintf("%d", int(values[i])))
	}
}

func TestSplitRejectsInvalidFraction(t *testing.T) {
	ds := indexed(t, 10)
	for _, f := range []float64{0, 1, 1.5, -0.2} {
		_, err := Split(ds, config.SplitConfig{TestSize: f}, internal.NewDiscardLogger())
		assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	}
}

func TestSizesMatchCeilArithmetic(t *testing.T) {
	nTrain, nTest, err := Sizes(10, 0.25)
	require.NoError(t, err)
	assert.Equal(t, 7, nTrain)
	assert.Equal(t, 3, nTest)

	_, _, err = Sizes(1, 0.2)
	assert.ErrorIs(t, err, core.ErrInsufficientData)
}
