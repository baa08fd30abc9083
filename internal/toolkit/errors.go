// Package toolkit contains the stateless platform primitives: reads, writes,
// engagement, media upload and scoring. Every function validates its input
// before touching the provider and returns either typed data or an *Error.
package toolkit

import (
	"errors"
	"fmt"

	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// ErrorKind extends the provider error kinds with validation and
// platform-semantic failures detected by the toolkit itself.
type ErrorKind string

const (
	KindInvalidInput     ErrorKind = "invalid_input"
	KindContentTooLong   ErrorKind = "content_too_long"
	KindUnsupportedMedia ErrorKind = "unsupported_media"
	KindPayloadTooLarge  ErrorKind = "payload_too_large"
	KindPartialFailure   ErrorKind = "partial_failure"
	KindUnknown          ErrorKind = "unknown"
)

// Error is returned by every toolkit function. When the failure came from the
// provider, Kind mirrors the provider kind and Err holds the *provider.Error.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Op      string    `json:"op"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalid(op, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// wrap converts a provider failure into a toolkit error, keeping the kind.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return asError(op, err)
}

func asError(op string, err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		msg := pe.Message
		if msg == "" {
			msg = pe.Error()
		}
		return &Error{Kind: ErrorKind(pe.Kind), Op: op, Message: msg, Err: err}
	}
	return &Error{Kind: KindUnknown, Op: op, Message: err.Error(), Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}
