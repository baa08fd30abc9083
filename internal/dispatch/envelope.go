package dispatch

import (
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
)

// Envelope wraps the outcome of every tool call. Exactly one of Data and
// Error is meaningful, except for partial failures and approval routing,
// where Data carries the typed payload next to the error.
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *EnvelopeError `json:"error,omitempty"`
	Meta  Meta           `json:"meta"`
}

// EnvelopeError is the protocol-level error. Code is one of the Code
// constants; agents branch on it.
type EnvelopeError struct {
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
	Step         string `json:"step,omitempty"`
}

func (e *EnvelopeError) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Meta describes how a call was handled.
type Meta struct {
	RequestID string           `json:"request_id"`
	Tool      string           `json:"tool"`
	Profile   Profile          `json:"profile"`
	Mode      policy.Mode      `json:"mode,omitempty"`
	Gated     bool             `json:"gated"`
	ElapsedMS int64            `json:"elapsed_ms"`
	StartedAt time.Time        `json:"started_at"`
	Decision  *policy.Decision `json:"decision,omitempty"`
}

// MutationResult is the Data of a gated mutation.
type MutationResult struct {
	Executed   bool   `json:"executed"`
	PlatformID string `json:"platform_id,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
	Result     any    `json:"result,omitempty"`
}

func failure(e *EnvelopeError) Envelope {
	return Envelope{Error: e}
}
