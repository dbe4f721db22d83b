package llm

import "errors"

// TransientError is a failure that may succeed on retry (rate limit, 5xx,
// network).
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// NewTransientError wraps err as retryable.
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// FatalError is a failure that will not improve on retry.
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// NewFatalError wraps err as non-retryable.
func NewFatalError(err error) error {
	return &FatalError{err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// classifyStatus maps an HTTP status to transient or fatal.
func classifyStatus(status int, err error) error {
	if status == 429 || status >= 500 || status == 0 {
		return NewTransientError(err)
	}
	return NewFatalError(err)
}
