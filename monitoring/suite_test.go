package monitoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/sklearn/ensemble"
)

// fixedPredictor returns preset predictions regardless of X.
type fixedPredictor struct {
	pred []float64
}

func (f fixedPredictor) Predict(X mat.Matrix) (mat.Matrix, error) {
	return mat.NewDense(len(f.pred), 1, f.pred), nil
}

func TestCheckDataIntegrity(t *testing.T) {
	ds, err := dataset.New(
		dataset.NewNumericColumn("a", []float64{1, 2, 3}),
		dataset.NewNumericColumn("b", []float64{1, math.NaN(), 3}),
	)
	require.NoError(t, err)

	assert.NoError(t, CheckDataIntegrity(ds, []string{"a"}, 3))

	err = CheckDataIntegrity(ds, []string{"a", "c"}, 1)
	var cnf *errors.ColumnNotFoundError
	require.True(t, errors.As(err, &cnf))
	assert.Equal(t, []string{"c"}, cnf.Columns)

	err = CheckDataIntegrity(ds, []string{"a"}, 500)
	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Reason, "at least 500 rows")

	err = CheckDataIntegrity(ds, []string{"a", "b"}, 1)
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "b", de.Column)

	assert.Error(t, CheckDataIntegrity(nil, nil, 0))
}

func TestCheckDataIntegrity_Synthetic(t *testing.T) {
	ds, err := dataset.MakeClassification(dataset.DefaultClassificationOptions())
	require.NoError(t, err)

	var features []string
	for _, name := range ds.Names() {
		if name != "target" {
			features = append(features, name)
		}
	}
	assert.Len(t, features, 20)
	assert.NoError(t, CheckDataIntegrity(ds, features, 500))
}

func TestCheckModelPerformance(t *testing.T) {
	y := mat.NewVecDense(10, []float64{1, 1, 1, 1, 0, 0, 0, 0, 0, 0})
	X := mat.NewDense(10, 1, nil)

	// 3 TP, 1 FN, 1 FP, 5 TN
	p := fixedPredictor{pred: []float64{1, 1, 1, 0, 1, 0, 0, 0, 0, 0}}
	perf, err := CheckModelPerformance(p, X, y, DefaultThresholds())
	require.NoError(t, err)
	assert.InDelta(t, 0.8, perf.Accuracy, 1e-12)
	assert.InDelta(t, 0.75, perf.Precision, 1e-12)
	assert.InDelta(t, 0.75, perf.Recall, 1e-12)
	assert.InDelta(t, 0.75, perf.F1, 1e-12)

	perf, err = CheckModelPerformance(p, X, y, Thresholds{Accuracy: 0.9})
	var te *errors.ThresholdError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "accuracy", te.Metric)
	assert.InDelta(t, 0.8, perf.Accuracy, 1e-12, "scores are returned with the error")

	_, err = CheckModelPerformance(p, X, y, Thresholds{Recall: 0.8})
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "recall", te.Metric)
}

func TestCheckModelPerformance_RandomForest(t *testing.T) {
	opts := dataset.DefaultClassificationOptions()
	ds, err := dataset.MakeClassification(opts)
	require.NoError(t, err)

	var features []string
	for _, name := range ds.Names() {
		if name != "target" {
			features = append(features, name)
		}
	}
	X, err := ds.Matrix(features)
	require.NoError(t, err)
	y, err := ds.Vector("target")
	require.NoError(t, err)

	n, _ := X.Dims()
	nTrain := n * 4 / 5
	XTrain := X.Slice(0, nTrain, 0, len(features))
	XTest := X.Slice(nTrain, n, 0, len(features))
	yTrain := y.SliceVec(0, nTrain)
	yTest := y.SliceVec(nTrain, n).(*mat.VecDense)

	rf := ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(50), ensemble.WithRandomState(42))
	require.NoError(t, rf.Fit(XTrain, yTrain))

	perf, err := CheckModelPerformance(rf, XTest, yTest, DefaultThresholds())
	require.NoError(t, err)
	assert.Greater(t, perf.Accuracy, 0.7)
}
