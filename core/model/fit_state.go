package model

import (
	"sync"

	"gonum.org/v1/gonum/mat"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// FitState records whether a classifier has been fitted and the shape of its
// training matrix. Classifiers hold one by pointer and persist the shape
// through their own gob snapshot, so the fields stay unexported.
type FitState struct {
	mu        sync.RWMutex
	fitted    bool
	nFeatures int
	nSamples  int
}

// NewFitState returns an unfitted state.
func NewFitState() *FitState {
	return &FitState{}
}

// MarkFitted records a successful Fit on an nSamples×nFeatures matrix.
// A restored model passes 0 for nSamples.
func (s *FitState) MarkFitted(nFeatures, nSamples int) {
	s.mu.Lock()
	s.fitted, s.nFeatures, s.nSamples = true, nFeatures, nSamples
	s.mu.Unlock()
}

// Clear forgets a previous Fit.
func (s *FitState) Clear() {
	s.mu.Lock()
	s.fitted, s.nFeatures, s.nSamples = false, 0, 0
	s.mu.Unlock()
}

// Fitted reports whether MarkFitted has been called since the last Clear.
func (s *FitState) Fitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fitted
}

// Shape returns the training matrix dimensions.
func (s *FitState) Shape() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nFeatures, s.nSamples
}

// Check guards a prediction method: it fails with a NotFittedError before Fit
// and with a DimensionError on axis 1 when X has a different feature count.
func (s *FitState) Check(estimator, method string, X mat.Matrix) error {
	s.mu.RLock()
	fitted, want := s.fitted, s.nFeatures
	s.mu.RUnlock()

	if !fitted {
		return mlerrors.NewNotFittedError(estimator, method)
	}
	if _, got := X.Dims(); got != want {
		return mlerrors.NewDimensionError(estimator+"."+method, want, got, 1)
	}
	return nil
}
