package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// DomainError is the platform's error wrapper: a Kind, a sanitized-at-emit
// message, the correlation id that ties it back to the originating request
// (spec §7: "every surfaced message includes the correlation id"), and an
// optional wrapped cause.
type DomainError struct {
	Kind          Kind
	Message       string
	CorrelationID string
	RetryAfter    time.Duration
	Err           error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e == nil {
		return "<nil>"
	}
	prefix := string(e.Kind)
	if e.CorrelationID != "" {
		prefix = fmt.Sprintf("%s[%s]", prefix, e.CorrelationID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is matching by Kind.
func (e *DomainError) Is(target error) bool {
	var t *DomainError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Retryable reports whether this error's Kind permits client retry.
func (e *DomainError) Retryable() bool {
	return e.Kind.Retryable()
}

// Status returns the status this error surfaces as.
func (e *DomainError) Status() Status {
	return e.Kind.Status()
}

// New creates a DomainError of the given Kind.
func New(kind Kind, message string) error {
	return &DomainError{Kind: kind, Message: message}
}

// Wrap creates a DomainError of the given Kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) error {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

// WithCorrelationID returns a copy of err (if it is a *DomainError) with the
// correlation id attached, for propagation per spec §7.
func WithCorrelationID(err error, correlationID string) error {
	var d *DomainError
	if !errors.As(err, &d) {
		return err
	}
	cp := *d
	cp.CorrelationID = correlationID
	return &cp
}

// WithRetryAfter returns a copy of err (if it is a *DomainError) carrying a
// retry-after hint, for rate-limited and circuit-open kinds (spec §7).
func WithRetryAfter(err error, after time.Duration) error {
	var d *DomainError
	if !errors.As(err, &d) {
		return err
	}
	cp := *d
	cp.RetryAfter = after
	return &cp
}

// KindOf extracts the Kind of err if it is (or wraps) a *DomainError.
func KindOf(err error) (Kind, bool) {
	var d *DomainError
	if errors.As(err, &d) {
		return d.Kind, true
	}
	return "", false
}

// Is reports whether err is a DomainError of the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
