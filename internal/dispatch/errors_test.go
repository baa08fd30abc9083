package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

func TestMapError(t *testing.T) {
	rateLimited := &provider.Error{Kind: provider.KindRateLimited, Endpoint: "post", Message: "slow down", RetryAfter: 30 * time.Second}
	partial := &toolkit.Error{Kind: toolkit.KindPartialFailure, Op: "post_thread", Message: "posted 1 of 3",
		Err: &toolkit.Error{Kind: toolkit.ErrorKind(provider.KindNetwork), Op: "post_thread", Err: &provider.Error{Kind: provider.KindNetwork}}}

	tests := []struct {
		name      string
		err       error
		code      Code
		retryable bool
		step      string
	}{
		{"provider rate limit", rateLimited, CodeRateLimited, true, ""},
		{"provider auth", &provider.Error{Kind: provider.KindAuthExpired}, CodeAuthExpired, false, ""},
		{"toolkit wraps provider", &toolkit.Error{Kind: toolkit.ErrorKind(provider.KindForbidden), Op: "like", Err: &provider.Error{Kind: provider.KindForbidden}}, CodeForbidden, false, ""},
		{"toolkit validation", &toolkit.Error{Kind: toolkit.KindContentTooLong, Op: "post_tweet"}, CodeContentTooLong, false, ""},
		{"partial failure wins", partial, CodePartialFailure, false, ""},
		{"unknown mutation", fmt.Errorf("%w: nuke", workflow.ErrUnknownMutation), CodeUnknownTool, false, ""},
		{"approval missing", fmt.Errorf("get: %w", approval.ErrNotFound), CodeNotFound, false, ""},
		{"bad transition", approval.ErrInvalidTransition, CodeInvalidInput, false, ""},
		{"not approved", workflow.ErrNotApproved, CodeInvalidInput, false, ""},
		{"storage step", &workflow.Error{Step: "persist", Kind: workflow.KindStorage, Err: errors.New("disk full")}, CodeStorageError, false, "persist"},
		{"storage not found", &workflow.Error{Step: "load", Kind: workflow.KindStorage, Err: storage.ErrNotFound}, CodeNotFound, false, "load"},
		{"safety", &workflow.Error{Step: "safety", Kind: workflow.KindSafety, Err: workflow.ErrSafetyRejected}, CodeSafetyRejected, false, "safety"},
		{
			"aborted step reports its cause",
			&workflow.Error{Step: "draft", Kind: workflow.KindStepAborted, Err: &workflow.Error{Step: "generate", Kind: workflow.KindGeneration, Err: errors.New("model down")}},
			CodeGenerationError, false, "draft",
		},
		{"context", context.DeadlineExceeded, CodeNetworkError, true, ""},
		{"anything else", errors.New("boom"), CodeInternalError, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if assert.NotNil(t, got) {
				assert.Equal(t, tt.code, got.Code)
				assert.Equal(t, tt.retryable, got.Retryable)
				assert.Equal(t, tt.step, got.Step)
				assert.NotEmpty(t, got.Message)
			}
		})
	}
}

func TestMapError_RetryAfter(t *testing.T) {
	err := &provider.Error{Kind: provider.KindRateLimited, RetryAfter: 15 * time.Second}
	got := MapError(fmt.Errorf("search: %w", err))
	assert.Equal(t, int64(15000), got.RetryAfterMS)
}

func TestMapError_PassesEnvelopeErrors(t *testing.T) {
	ee := newError(CodeForbidden, "nope")
	assert.Same(t, ee, MapError(fmt.Errorf("wrapped: %w", ee)))
	assert.Nil(t, MapError(nil))
}

func TestCodes_Closed(t *testing.T) {
	seen := make(map[Code]bool)
	for _, c := range Codes() {
		assert.False(t, seen[c], "duplicate code %s", c)
		seen[c] = true
	}
	for _, c := range providerCodes {
		assert.True(t, seen[c], "%s is not a declared code", c)
	}
	for _, c := range toolkitCodes {
		assert.True(t, seen[c])
	}
	for _, c := range workflowCodes {
		assert.True(t, seen[c])
	}
}
