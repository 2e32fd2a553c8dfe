package preprocessing

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

// Split is a deterministic train/test partition of the feature matrix and target.
type Split struct {
	XTrain *mat.Dense
	XTest  *mat.Dense
	YTrain *mat.VecDense
	YTest  *mat.VecDense

	// FeatureNames are the columns of X in dataset order.
	FeatureNames []string
	Target       string

	// TrainIndex and TestIndex are the dataset rows of each side.
	TrainIndex []int
	TestIndex  []int
}

// TrainTestSplit partitions the rows of ds. Features are every column except target,
// in dataset order. With n rows, ceil(testFraction·n) rows go to the test side; the
// assignment follows a permutation seeded by seed, so equal inputs give equal splits.
func TrainTestSplit(ds *dataset.Dataset, target string, testFraction float64, seed int64) (*Split, error) {
	if math.IsNaN(testFraction) || testFraction <= 0 || testFraction >= 1 {
		return nil, errors.NewInvalidFractionError(testFraction)
	}
	if _, ok := ds.Column(target); !ok {
		return nil, errors.NewColumnNotFoundError("Split", target)
	}

	features := make([]string, 0, ds.NCols()-1)
	for _, name := range ds.Names() {
		if name != target {
			features = append(features, name)
		}
	}
	if len(features) == 0 {
		return nil, errors.NewDataError("Split", "", "no feature columns besides the target")
	}

	n := ds.NRows()
	nTest := int(math.Ceil(testFraction * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain <= 0 {
		return nil, errors.NewDataError("Split", "", "split leaves an empty train or test side")
	}

	X, err := ds.Matrix(features)
	if err != nil {
		return nil, err
	}
	y, err := ds.Vector(target)
	if err != nil {
		return nil, err
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	testIdx := append([]int(nil), perm[:nTest]...)
	trainIdx := append([]int(nil), perm[nTest:]...)

	s := &Split{
		FeatureNames: features,
		Target:       target,
		TrainIndex:   trainIdx,
		TestIndex:    testIdx,
	}
	s.XTrain, s.YTrain = takeRows(X, y, trainIdx)
	s.XTest, s.YTest = takeRows(X, y, testIdx)
	return s, nil
}

func takeRows(X *mat.Dense, y *mat.VecDense, rows []int) (*mat.Dense, *mat.VecDense) {
	_, c := X.Dims()
	xs := mat.NewDense(len(rows), c, nil)
	ys := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		xs.SetRow(i, X.RawRowView(r))
		ys.SetVec(i, y.AtVec(r))
	}
	return xs, ys
}

// Split partitions the preprocessed table. It is allowed once the features are
// scaled, and may be repeated with other fractions or seeds.
func (p *DataPreprocessor) Split(target string, testFraction float64, seed int64) (*Split, error) {
	if err := p.require("Split", StageScaled, StageSplit); err != nil {
		return nil, err
	}
	s, err := TrainTestSplit(p.data, target, testFraction, seed)
	if err != nil {
		return nil, err
	}
	p.stage = StageSplit
	p.logger.Info("Dataset split",
		log.OperationKey, log.OperationSplit,
		log.TestFractionKey, testFraction,
		log.RandomSeedKey, seed,
		"train_rows", len(s.TrainIndex),
		"test_rows", len(s.TestIndex),
	)
	return s, nil
}
