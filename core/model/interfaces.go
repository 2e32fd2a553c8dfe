// Package model holds what the estimators of the toolkit share: the
// interfaces the training pipeline programs against, fit-state bookkeeping
// and gob persistence.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter learns from an n×p feature matrix and an n×1 label column.
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor returns one label per row of X as an n×1 matrix.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier is what the pipeline trains, evaluates and bundles.
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns an n×k matrix, column j for Classes()[j].
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the sorted labels seen by Fit.
	Classes() []float64
}

// FeatureImporter ranks input features; the weights are non-negative and sum to 1.
type FeatureImporter interface {
	GetFeatureImportances() []float64
}

// ParameterGetter exposes hyperparameters for run tracking.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// Transformer is a preprocessing step fitted on the training matrix only.
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

// InverseTransformer can map transformed values back to the input scale.
type InverseTransformer interface {
	Transformer
	InverseTransform(X mat.Matrix) (mat.Matrix, error)
}
