package nrt

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package that originates from a
// status carries exactly one of these as its Kind, so callers can branch with
// errors.Is.
var (
	ErrFileAccess            = errors.New("program file access failed")
	ErrMapping               = errors.New("program file mapping failed")
	ErrLoad                  = errors.New("program load failed")
	ErrTensorInfoUnavailable = errors.New("tensor info unavailable")
	ErrAllocation            = errors.New("allocation failed")
	ErrInvalidUsage          = errors.New("invalid tensor usage")
	ErrUnknownTensor         = errors.New("unknown tensor")
	ErrBufferSize            = errors.New("buffer size mismatch")
	ErrExecution             = errors.New("execution failed")
	ErrInvalidHandle         = errors.New("invalid handle")
	ErrNotInitialized        = errors.New("Neuron runtime not initialized")
	ErrTensorOwned           = errors.New("tensor is owned by a tensor set")
	ErrUnload                = errors.New("program unload failed")
	ErrRuntimeQuery          = errors.New("runtime query failed")
)

// StatusError pairs a failed operation with the status it produced.
type StatusError struct {
	Op     string
	Status Status
	Kind   error
	Detail string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes the error kind.
func (e *StatusError) Unwrap() error {
	return e.Kind
}

func newStatusError(op string, kind error, status Status, detailFormat string, args ...any) *StatusError {
	err := &StatusError{Op: op, Status: status, Kind: kind}
	if detailFormat != "" {
		err.Detail = fmt.Sprintf(detailFormat, args...)
	}
	return err
}

// StatusOf returns the status carried by err: StatusSuccess for nil,
// the wrapped status for a *StatusError, and StatusFailure for anything else.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status
	}
	return StatusFailure
}
