package worker

import (
	"errors"
	"fmt"
)

// ErrPermanent signifies an error that is unlikely to be resolved by a retry,
// such as a business-rule rejection (4xx). The scheduler exhausts the job
// immediately instead of spending the remaining attempts.
type ErrPermanent struct{ Err error }

func (e *ErrPermanent) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *ErrPermanent) Unwrap() error { return e.Err }

// ErrTransient signifies a temporary error that may be resolved by a retry,
// such as a network issue or a temporary server error (5xx).
type ErrTransient struct{ Err error }

func (e *ErrTransient) Error() string { return fmt.Sprintf("transient error: %v", e.Err) }
func (e *ErrTransient) Unwrap() error { return e.Err }

// ValidationError marks a stored payload that cannot be decoded. Retrying
// cannot fix it, so it is treated like ErrPermanent.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid payload: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

var (
	// ErrHandlerTimeout is the failure recorded when an attempt outlives its deadline.
	ErrHandlerTimeout = errors.New("handler timed out")
	// ErrLeaseExpired is the failure recorded for a job whose worker vanished.
	ErrLeaseExpired = errors.New("job lease expired before completion")
)

// Permanent wraps err so the scheduler stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &ErrPermanent{Err: err}
}

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &ErrTransient{Err: err}
}

// IsPermanent reports whether err opts the job out of further retries.
func IsPermanent(err error) bool {
	var permanentErr *ErrPermanent
	var validationErr *ValidationError
	return errors.As(err, &permanentErr) || errors.As(err, &validationErr)
}
