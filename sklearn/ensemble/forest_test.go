package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// makeBlobs draws n samples from two Gaussian blobs centred at -2 and +2 on every feature.
func makeBlobs(n, features int, seed int64) (*mat.Dense, *mat.Dense) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, features, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label := float64(i % 2)
		centre := 4*label - 2
		for j := 0; j < features; j++ {
			X.Set(i, j, centre+rng.NormFloat64())
		}
		y.Set(i, 0, label)
	}
	return X, y
}

func TestRandomForestClassifier_FitPredict(t *testing.T) {
	X, y := makeBlobs(200, 4, 1)
	XTest, yTest := makeBlobs(100, 4, 2)

	rf := NewRandomForestClassifier(WithNEstimators(20))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	if score := rf.Score(XTest, yTest); score < 0.95 {
		t.Errorf("Test accuracy too low: %v", score)
	}

	probas, err := rf.PredictProba(XTest)
	if err != nil {
		t.Fatalf("Failed to predict probabilities: %v", err)
	}
	rows, cols := probas.Dims()
	if rows != 100 || cols != 2 {
		t.Fatalf("Expected probas shape (100, 2), got (%d, %d)", rows, cols)
	}
	for i := 0; i < rows; i++ {
		if sum := probas.At(i, 0) + probas.At(i, 1); math.Abs(sum-1) > 1e-9 {
			t.Errorf("Probabilities for sample %d don't sum to 1: %v", i, sum)
		}
	}

	if got := len(rf.Estimators()); got != 20 {
		t.Errorf("Expected 20 trees, got %d", got)
	}
	importances := rf.GetFeatureImportances()
	sum := 0.0
	for _, v := range importances {
		sum += v
	}
	if len(importances) != 4 || math.Abs(sum-1) > 1e-9 {
		t.Errorf("Feature importances should have 4 entries summing to 1: %v", importances)
	}
}

func TestRandomForestClassifier_Reproducible(t *testing.T) {
	X, y := makeBlobs(120, 5, 3)

	probas := make([]mat.Matrix, 0, 3)
	for _, jobs := range []int{1, 1, 4} {
		rf := NewRandomForestClassifier(
			WithNEstimators(15),
			WithRandomState(7),
			WithNJobs(jobs),
		)
		if err := rf.Fit(X, y); err != nil {
			t.Fatalf("Failed to fit with n_jobs=%d: %v", jobs, err)
		}
		p, err := rf.PredictProba(X)
		if err != nil {
			t.Fatalf("Failed to predict: %v", err)
		}
		probas = append(probas, p)
	}

	if !mat.Equal(probas[0], probas[1]) {
		t.Error("Two fits with the same seed gave different probabilities")
	}
	if !mat.Equal(probas[0], probas[2]) {
		t.Error("Parallel fit gave different probabilities than sequential fit")
	}
}

func TestRandomForestClassifier_GobRoundTrip(t *testing.T) {
	X, y := makeBlobs(80, 3, 4)
	rf := NewRandomForestClassifier(WithNEstimators(5), WithMaxDepth(4))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rf); err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	restored := &RandomForestClassifier{}
	if err := gob.NewDecoder(&buf).Decode(restored); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	want, _ := rf.Predict(X)
	got, err := restored.Predict(X)
	if err != nil {
		t.Fatalf("Failed to predict with decoded forest: %v", err)
	}
	if !mat.Equal(want, got) {
		t.Error("Decoded forest predictions differ")
	}
	if restored.GetParams()["max_depth"].(int) != 4 {
		t.Errorf("max_depth not restored: %v", restored.GetParams()["max_depth"])
	}
}

func TestRandomForestClassifier_Errors(t *testing.T) {
	X, y := makeBlobs(10, 2, 5)

	rf := NewRandomForestClassifier()
	_, err := rf.Predict(X)
	var notFitted *errors.NotFittedError
	if !errors.As(err, &notFitted) {
		t.Errorf("Expected NotFittedError, got %v", err)
	}

	if err := NewRandomForestClassifier(WithMaxFeatures("half")).Fit(X, y); err == nil {
		t.Error("Expected error for invalid max_features")
	}
	if err := NewRandomForestClassifier(WithNEstimators(0)).Fit(X, y); err == nil {
		t.Error("Expected error for n_estimators < 1")
	}

	rf = NewRandomForestClassifier(WithNEstimators(3))
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if _, err := rf.Predict(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("Expected error for wrong feature count")
	}
}
