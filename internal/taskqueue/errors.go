package taskqueue

import "errors"

// PermanentError signals a failure that retrying cannot fix: the task goes
// straight to the dead-letter table instead of being rescheduled.
type PermanentError struct {
	Err error
}

// Error implements error.
func (e PermanentError) Error() string {
	if e.Err == nil {
		return "permanent failure"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps an error to signal no retries.
func NewPermanentError(err error) PermanentError {
	return PermanentError{Err: err}
}

// IsPermanent reports whether any error in the chain is a PermanentError.
// Every other handler error is treated as transient and retry-eligible.
func IsPermanent(err error) bool {
	var perm PermanentError
	return errors.As(err, &perm)
}
