// Package errors は mlops 全体で使うエラー型と警告の仕組みを提供します。
//
// Every constructor attaches a stack trace through cockroachdb/errors, so
// errors returned from the pipeline can be logged with their origin. Typed
// errors are matched with As; sentinel values with Is.
//
//	var cnf *errors.ColumnNotFoundError
//	if errors.As(err, &cnf) {
//	    logger.Error("Missing columns", log.ColumnsKey, cnf.Columns)
//	}
package errors

import (
	"github.com/cockroachdb/errors"
)

// Sentinel errors.
var (
	// ErrEmptyData is wrapped by errors about datasets or matrices without rows.
	ErrEmptyData = New("empty data")

	// ErrRunNotActive is returned when a tracking call targets a run that is unknown or already ended.
	ErrRunNotActive = New("run is not active")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Wrap annotates err with message. A nil err stays nil.
func Wrap(err error, message string) error { return errors.Wrap(err, message) }

// Wrapf annotates err with a formatted message. A nil err stays nil.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New returns an error with a stack trace.
func New(message string) error { return errors.New(message) }

// Newf returns a formatted error with a stack trace.
func Newf(format string, args ...interface{}) error { return errors.Newf(format, args...) }

// WithStack attaches the caller's stack to err.
func WithStack(err error) error { return errors.WithStack(err) }
