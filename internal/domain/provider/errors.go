package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies provider failures. The set is closed.
type ErrorKind string

const (
	KindRateLimited      ErrorKind = "rate_limited"
	KindAuthExpired      ErrorKind = "auth_expired"
	KindForbidden        ErrorKind = "forbidden"
	KindNetwork          ErrorKind = "network"
	KindNotFound         ErrorKind = "not_found"
	KindInvalidInput     ErrorKind = "invalid_input"
	KindPayloadTooLarge  ErrorKind = "payload_too_large"
	KindUnsupportedMedia ErrorKind = "unsupported_media"
	KindUnknown          ErrorKind = "unknown"
)

// Error is the only error type a Provider returns. It is created at the
// adapter boundary and propagated unchanged by the layers above.
type Error struct {
	Kind       ErrorKind
	Endpoint   string
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider %s %s (status %d): %s", e.Endpoint, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("provider %s %s: %s", e.Endpoint, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether a later attempt may succeed without intervention.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindNetwork
}

// NewError constructs a provider error.
func NewError(kind ErrorKind, endpoint, message string) *Error {
	return &Error{Kind: kind, Endpoint: endpoint, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries a provider error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}

// RetryAfterOf returns the retry-after hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var pe *Error
	if errors.As(err, &pe) && pe.RetryAfter > 0 {
		return pe.RetryAfter, true
	}
	return 0, false
}
