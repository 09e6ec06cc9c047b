// Package apperr defines the error kinds shared by the planner packages.
// Callers match kinds with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrGenerationFormat  = errors.New("generation format error")
	ErrStorage           = errors.New("storage error")
	ErrUnscheduled       = errors.New("unscheduled")
	ErrConflict          = errors.New("conflict")
	ErrStateTransition   = errors.New("invalid state transition")
	ErrGenerationFailure = errors.New("generation failed")
)

// Error carries the operation and kind of a failure.
type Error struct {
	Op   string // e.g. "plan.Place"
	Kind error  // one of the Err* sentinels
	Msg  string
	Err  error // underlying cause, optional
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the error kind as well as the wrapped cause.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// New builds an *Error of the given kind.
func New(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around err. A nil err yields nil.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// NotFound is shorthand for New(op, ErrNotFound, ...).
func NotFound(op, format string, args ...any) error {
	return New(op, ErrNotFound, format, args...)
}

// Invalid is shorthand for New(op, ErrInvalidArgument, ...).
func Invalid(op, format string, args ...any) error {
	return New(op, ErrInvalidArgument, format, args...)
}

// KindOf returns the first matching sentinel kind for err, or nil.
func KindOf(err error) error {
	for _, k := range []error{
		ErrNotFound, ErrInvalidArgument, ErrCapacityExceeded, ErrGenerationFormat,
		ErrStorage, ErrUnscheduled, ErrConflict, ErrStateTransition, ErrGenerationFailure,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
