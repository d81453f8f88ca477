// Package split partitions a dataset into train and test subsets.
package split

import (
	"fmt"
	"math"
	"math/rand"

	"detectpd/domain/core"
	"detectpd/domain/dataset"
	"detectpd/internal"
	"detectpd/internal/config"
)

// Output holds both partitions. TestRowIDs lists the test rows in the order
// they appear in Test.
type Output struct {
	Train      *dataset.Dataset
	Test       *dataset.Dataset
	TestRowIDs []string
}

// Sizes returns the train and test row counts for n rows: the test side
// gets ceil(testSize*n) rows and the train side the rest.
func Sizes(n int, testSize float64) (nTrain, nTest int, err error) {
	if !(testSize > 0 && testSize < 1) {
		return 0, 0, core.NewConfigurationError("test_size", fmt.Sprintf("must be strictly between 0 and 1, got %g", testSize))
	}
	nTest = int(math.Ceil(testSize * float64(n)))
	nTrain = n - nTest
	if nTrain <= 0 || nTest <= 0 {
		return 0, 0, fmt.Errorf("%w: %d rows with test_size %g leaves %d train and %d test rows",
			core.ErrInsufficientData, n, testSize, nTrain, nTest)
	}
	return nTrain, nTest, nil
}

// Split partitions ds. With shuffling the rows are permuted with a source
// seeded by cfg.RandomSeed and the first nTest permuted rows form the test
// set; without shuffling the trailing rows form the test set.
func Split(ds *dataset.Dataset, cfg config.SplitConfig, logger *internal.Logger) (*Output, error) {
	log := logger.With("Splitter")

	n := ds.NumRows()
	nTrain, nTest, err := Sizes(n, cfg.TestSize)
	if err != nil {
		return nil, err
	}

	var trainRows, testRows []int
	if cfg.Shuffle {
		rng := rand.New(rand.NewSource(cfg.RandomSeed))
		perm := rng.Perm(n)
		testRows = perm[:nTest]
		trainRows = perm[nTest : nTest+nTrain]
	} else {
		trainRows = make([]int, nTrain)
		for i := range trainRows {
			trainRows[i] = i
		}
		testRows = make([]int, nTest)
		for i := range testRows {
			testRows[i] = nTrain + i
		}
	}

	out := &Output{
		Train: ds.Take(trainRows),
		Test:  ds.Take(testRows),
	}
	out.TestRowIDs = out.Test.RowIDs()

	log.Info("Split %d rows into %d train / %d test (shuffle=%t, seed=%d)", n, nTrain, nTest, cfg.Shuffle, cfg.RandomSeed)
	return out, nil
}
