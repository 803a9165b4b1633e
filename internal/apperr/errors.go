package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrEligibilityDenied = errors.New("self-pickup not eligible")
	ErrBoundary          = errors.New("boundary request failed")
	ErrNotOrderable      = errors.New("product is not orderable")
	ErrSubmitInFlight    = errors.New("reservation submit already in flight")
	ErrLocked            = errors.New("reservation can no longer be modified")
	ErrAlreadyChosen     = errors.New("fulfillment already chosen")
	ErrNotFound          = errors.New("not found")
	ErrReserved          = errors.New("recommended category cannot be modified this way")
	ErrClosed            = errors.New("component closed")
)

// ValidationError is resolved locally and never reaches the boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// BoundaryError wraps a transport or server failure from an external call.
type BoundaryError struct {
	Op  string
	Err error
}

func (e *BoundaryError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *BoundaryError) Is(target error) bool { return target == ErrBoundary }

func (e *BoundaryError) Unwrap() error { return e.Err }

// Boundary returns nil for a nil err so call sites can wrap unconditionally.
func Boundary(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BoundaryError
	if errors.As(err, &be) {
		return err
	}
	return &BoundaryError{Op: op, Err: err}
}
