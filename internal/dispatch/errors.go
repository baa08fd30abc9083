package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// Code is a protocol error code. The set is closed.
type Code string

const (
	CodeRateLimited      Code = "rate_limited"
	CodeAuthExpired      Code = "auth_expired"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeNetworkError     Code = "network_error"
	CodeInvalidInput     Code = "invalid_input"
	CodeContentTooLong   Code = "content_too_long"
	CodeUnsupportedMedia Code = "unsupported_media"
	CodePayloadTooLarge  Code = "payload_too_large"
	CodePartialFailure   Code = "partial_failure"
	CodePolicyDenied     Code = "policy_denied"
	CodeApprovalRequired Code = "approval_required"
	CodeStorageError     Code = "storage_error"
	CodeGenerationError  Code = "generation_error"
	CodeStepAborted      Code = "step_aborted"
	CodeSafetyRejected   Code = "safety_rejected"
	CodeUnknownTool      Code = "unknown_tool"
	CodeInvalidParams    Code = "invalid_params"
	CodeInternalError    Code = "internal_error"
)

// Codes returns every error code.
func Codes() []Code {
	return []Code{
		CodeRateLimited, CodeAuthExpired, CodeForbidden, CodeNotFound, CodeNetworkError,
		CodeInvalidInput, CodeContentTooLong, CodeUnsupportedMedia, CodePayloadTooLarge,
		CodePartialFailure, CodePolicyDenied, CodeApprovalRequired, CodeStorageError,
		CodeGenerationError, CodeStepAborted, CodeSafetyRejected, CodeUnknownTool,
		CodeInvalidParams, CodeInternalError,
	}
}

var providerCodes = map[provider.ErrorKind]Code{
	provider.KindRateLimited:      CodeRateLimited,
	provider.KindAuthExpired:      CodeAuthExpired,
	provider.KindForbidden:        CodeForbidden,
	provider.KindNetwork:          CodeNetworkError,
	provider.KindNotFound:         CodeNotFound,
	provider.KindInvalidInput:     CodeInvalidInput,
	provider.KindPayloadTooLarge:  CodePayloadTooLarge,
	provider.KindUnsupportedMedia: CodeUnsupportedMedia,
}

var toolkitCodes = map[toolkit.ErrorKind]Code{
	toolkit.KindInvalidInput:     CodeInvalidInput,
	toolkit.KindContentTooLong:   CodeContentTooLong,
	toolkit.KindUnsupportedMedia: CodeUnsupportedMedia,
	toolkit.KindPayloadTooLarge:  CodePayloadTooLarge,
	toolkit.KindPartialFailure:   CodePartialFailure,
}

var workflowCodes = map[workflow.ErrorKind]Code{
	workflow.KindStorage:     CodeStorageError,
	workflow.KindGeneration:  CodeGenerationError,
	workflow.KindStepAborted: CodeStepAborted,
	workflow.KindSafety:      CodeSafetyRejected,
}

func newError(code Code, format string, args ...any) *EnvelopeError {
	return &EnvelopeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// MapError walks err's chain and returns the most specific protocol error.
// A partial failure wins over everything, then the provider cause, then the
// toolkit kind, then lookup sentinels, then the innermost workflow kind.
func MapError(err error) *EnvelopeError {
	if err == nil {
		return nil
	}
	var ee *EnvelopeError
	if errors.As(err, &ee) {
		return ee
	}

	out := &EnvelopeError{Code: classify(err), Message: err.Error()}
	if step, ok := workflow.StepOf(err); ok {
		out.Step = step
	}
	switch out.Code {
	case CodeRateLimited, CodeNetworkError:
		out.Retryable = true
	}
	if after, ok := provider.RetryAfterOf(err); ok {
		out.RetryAfterMS = after.Milliseconds()
	}
	return out
}

func classify(err error) Code {
	if kind, ok := toolkit.KindOf(err); ok && kind == toolkit.KindPartialFailure {
		return CodePartialFailure
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		if code, ok := providerCodes[pe.Kind]; ok {
			return code
		}
	}
	if kind, ok := toolkit.KindOf(err); ok {
		if code, ok := toolkitCodes[kind]; ok {
			return code
		}
	}
	switch {
	case errors.Is(err, workflow.ErrUnknownMutation):
		return CodeUnknownTool
	case errors.Is(err, approval.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, approval.ErrInvalidTransition),
		errors.Is(err, workflow.ErrNotApproved),
		errors.Is(err, service.ErrInvalidMode):
		return CodeInvalidInput
	case errors.Is(err, workflow.ErrSafetyRejected):
		return CodeSafetyRejected
	}
	if kind, ok := innermostWorkflowKind(err); ok {
		return workflowCodes[kind]
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeNetworkError
	}
	return CodeInternalError
}

// innermostWorkflowKind returns the kind of the deepest workflow error that
// is not a bare step abort, so an aborted orchestration reports its cause.
func innermostWorkflowKind(err error) (workflow.ErrorKind, bool) {
	var kind workflow.ErrorKind
	found := false
	for e := err; e != nil; e = errors.Unwrap(e) {
		we, ok := e.(*workflow.Error)
		if !ok {
			continue
		}
		if !found || we.Kind != workflow.KindStepAborted {
			kind = we.Kind
			found = true
		}
	}
	if found && workflowCodes[kind] == "" {
		return "", false
	}
	return kind, found
}
