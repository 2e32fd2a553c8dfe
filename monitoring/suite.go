package monitoring

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/metrics"
	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// Thresholds are the minimum scores CheckModelPerformance accepts.
type Thresholds struct {
	Accuracy  float64
	Precision float64
	Recall    float64
}

// DefaultThresholds returns the floors used by the smoke tests.
func DefaultThresholds() Thresholds {
	return Thresholds{Accuracy: 0.7, Precision: 0.6, Recall: 0.6}
}

// Performance holds the scores of a predictor on a labelled set.
type Performance struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// CheckDataIntegrity verifies that ds holds every expected column, at least
// minRows rows, and no missing values in the expected columns.
func CheckDataIntegrity(ds *dataset.Dataset, expectedColumns []string, minRows int) error {
	if ds == nil {
		return errors.NewDataError("CheckDataIntegrity", "", "dataset is nil")
	}
	if missing := ds.Missing(expectedColumns); len(missing) > 0 {
		return errors.NewColumnNotFoundError("CheckDataIntegrity", missing...)
	}
	if n := ds.NRows(); n < minRows {
		return errors.NewDataError("CheckDataIntegrity", "",
			fmt.Sprintf("expected at least %d rows, got %d", minRows, n))
	}
	for _, name := range expectedColumns {
		c, _ := ds.Column(name)
		if k := c.MissingCount(); k > 0 {
			return errors.NewDataError("CheckDataIntegrity", name, fmt.Sprintf("%d missing values", k))
		}
	}
	return nil
}

// CheckModelPerformance scores p on (X, y) and compares the scores with th.
// The scores are returned even when a threshold fails; the error is then a
// ThresholdError naming the first failing metric.
func CheckModelPerformance(p model.Predictor, X mat.Matrix, y *mat.VecDense, th Thresholds) (Performance, error) {
	var perf Performance

	pred, err := p.Predict(X)
	if err != nil {
		return perf, errors.Wrap(err, "predict")
	}
	yPred := toVec(pred)

	if perf.Accuracy, err = metrics.Accuracy(y, yPred); err != nil {
		return perf, err
	}
	if perf.Precision, err = metrics.Precision(y, yPred); err != nil {
		return perf, err
	}
	if perf.Recall, err = metrics.Recall(y, yPred); err != nil {
		return perf, err
	}
	if perf.F1, err = metrics.F1Score(y, yPred); err != nil {
		return perf, err
	}

	checks := []struct {
		name      string
		value     float64
		threshold float64
	}{
		{"accuracy", perf.Accuracy, th.Accuracy},
		{"precision", perf.Precision, th.Precision},
		{"recall", perf.Recall, th.Recall},
	}
	for _, c := range checks {
		if c.value < c.threshold {
			return perf, errors.NewThresholdError(c.name, c.value, c.threshold)
		}
	}
	return perf, nil
}

// toVec returns the first column of m as a vector.
func toVec(m mat.Matrix) *mat.VecDense {
	if v, ok := m.(*mat.VecDense); ok {
		return v
	}
	r, _ := m.Dims()
	if r == 0 {
		return nil
	}
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}
