package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError is a panic recovered by Recover or SafeExecute. Estimators use it
// so that a bug inside Fit fails the training run instead of the process.
type PanicError struct {
	PanicValue interface{}
	StackTrace string // goroutine stack at the point of recovery
	Operation  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// Unwrap returns nil; a panic value is not an error chain.
func (e *PanicError) Unwrap() error { return nil }

// String includes the stack trace.
func (e *PanicError) String() string {
	return e.Error() + "\nStack trace:\n" + e.StackTrace
}

// NewPanicError captures the current stack for panicValue.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover turns a panic into an error on *err. Use it deferred with a named result:
//
//	func (f *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
//	    defer errors.Recover(&err, "RandomForestClassifier.Fit")
//	    ...
//	}
//
// When *err is already set, the panic is added as context and the original
// error stays reachable through Is.
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	if *err != nil {
		*err = Wrapf(*err, "panic in %s: %v", operation, r)
		return
	}
	*err = NewPanicError(operation, r)
}

// SafeExecute runs fn, returning its error or a *PanicError if it panics.
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
