package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func vec(v ...float64) *mat.VecDense { return mat.NewVecDense(len(v), v) }

func TestAccuracyAndError(t *testing.T) {
	tests := []struct {
		name         string
		yTrue, yPred *mat.VecDense
		want         float64
		wantErr      bool
	}{
		{name: "churn labels", yTrue: vec(0, 1, 1, 0, 1), yPred: vec(0, 1, 0, 0, 0), want: 0.6},
		{name: "all correct", yTrue: vec(2, 0, 1), yPred: vec(2, 0, 1), want: 1},
		{name: "all wrong", yTrue: vec(1, 1), yPred: vec(0, 0), want: 0},
		{name: "length mismatch", yTrue: vec(0, 1, 1), yPred: vec(0, 1), wantErr: true},
		{name: "nil prediction", yTrue: vec(0, 1), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc, err := Accuracy(tt.yTrue, tt.yPred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if _, err := ClassificationError(tt.yTrue, tt.yPred); err == nil {
					t.Error("ClassificationError() expected error")
				}
				return
			}
			if math.Abs(acc-tt.want) > 1e-12 {
				t.Errorf("Accuracy() = %v, want %v", acc, tt.want)
			}
			e, err := ClassificationError(tt.yTrue, tt.yPred)
			if err != nil {
				t.Fatalf("ClassificationError() error = %v", err)
			}
			if math.Abs(e-(1-tt.want)) > 1e-12 {
				t.Errorf("ClassificationError() = %v, want %v", e, 1-tt.want)
			}
		})
	}
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name         string
		yTrue, score *mat.VecDense
		want         float64
		wantErr      bool
	}{
		{name: "separable", yTrue: vec(0, 1, 0, 1), score: vec(0.2, 0.7, 0.1, 0.9), want: 1},
		{name: "inverted", yTrue: vec(0, 1, 0, 1), score: vec(0.8, 0.3, 0.9, 0.1), want: 0},
		{name: "tied scores share rank", yTrue: vec(1, 0, 1, 0, 1), score: vec(0.9, 0.1, 0.6, 0.6, 0.3), want: 0.75},
		{name: "constant score", yTrue: vec(1, 0, 0, 1), score: vec(0.4, 0.4, 0.4, 0.4), want: 0.5},
		{name: "single class is undefined", yTrue: vec(0, 0, 0), score: vec(0.1, 0.5, 0.9), want: 0.5},
		{name: "labels outside 0/1", yTrue: vec(0, 2, 1), score: vec(0.1, 0.5, 0.9), wantErr: true},
		{name: "length mismatch", yTrue: vec(0, 1), score: vec(0.5), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.yTrue, tt.score)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AUC() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("AUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAUCMatrix(t *testing.T) {
	yTrue := mat.NewDense(4, 1, []float64{0, 0, 1, 1})
	proba := mat.NewDense(4, 2, []float64{
		0.2, 0.8,
		0.3, 0.7,
		0.7, 0.3,
		0.8, 0.2,
	})
	got, err := AUCMatrix(yTrue, proba)
	if err != nil {
		t.Fatalf("AUCMatrix() error = %v", err)
	}
	if got != 1 {
		t.Errorf("AUCMatrix() = %v, want 1 (first column is scored)", got)
	}

	if _, err := AUCMatrix(yTrue, mat.NewDense(3, 1, []float64{0.1, 0.2, 0.3})); err == nil {
		t.Error("AUCMatrix() with row mismatch expected error")
	}
	if _, err := AUCMatrix(nil, proba); err == nil {
		t.Error("AUCMatrix() with nil input expected error")
	}
}

func TestBinaryLogLoss(t *testing.T) {
	got, err := BinaryLogLoss(vec(1, 0), vec(0.9, 0.2))
	if err != nil {
		t.Fatalf("BinaryLogLoss() error = %v", err)
	}
	want := -(math.Log(0.9) + math.Log(0.8)) / 2
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("BinaryLogLoss() = %v, want %v", got, want)
	}

	// A confident miss is clipped rather than infinite.
	clipped, err := BinaryLogLoss(vec(1), vec(0))
	if err != nil {
		t.Fatalf("BinaryLogLoss() error = %v", err)
	}
	if math.IsInf(clipped, 0) || math.Abs(clipped-15*math.Ln10) > 1e-6 {
		t.Errorf("BinaryLogLoss() = %v, want %v", clipped, 15*math.Ln10)
	}

	if _, err := BinaryLogLoss(vec(0, 3), vec(0.5, 0.5)); err == nil {
		t.Error("BinaryLogLoss() with non-binary labels expected error")
	}
}
