package model

import mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"

// EstimatorState は前処理器の学習状態
type EstimatorState int

const (
	NotFitted EstimatorState = iota
	Fitted
)

func (s EstimatorState) String() string {
	if s == Fitted {
		return "fitted"
	}
	return "not_fitted"
}

// BaseEstimator is embedded by preprocessors that travel inside a model
// bundle. State is exported so that the embedding struct gob-encodes without
// a custom snapshot.
type BaseEstimator struct {
	State EstimatorState
}

func (e *BaseEstimator) IsFitted() bool { return e.State == Fitted }
func (e *BaseEstimator) SetFitted()     { e.State = Fitted }
func (e *BaseEstimator) Reset()         { e.State = NotFitted }

// Require returns a NotFittedError for estimator.method until SetFitted is called.
func (e *BaseEstimator) Require(estimator, method string) error {
	if e.State != Fitted {
		return mlerrors.NewNotFittedError(estimator, method)
	}
	return nil
}
