package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// invocation is the per-call state handed to a handler.
type invocation struct {
	server *Server
	spec   *ToolSpec
	req    Request
	actor  string

	// Set by gated mutations.
	requestID string
	decision  *policy.Decision
}

func (inv *invocation) deps() Deps {
	return inv.server.deps
}

// decode unmarshals the validated params into v.
func (inv *invocation) decode(v any) error {
	params := bytes.TrimSpace(inv.req.Params)
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return newError(CodeInvalidParams, "decode params: %v", err)
	}
	return nil
}

// args decodes the params as a generic map for gateway requests.
func (inv *invocation) args() (map[string]any, error) {
	args := map[string]any{}
	if err := inv.decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

// fingerprint takes the idempotency key from the request, then from the
// "fingerprint" param, and otherwise derives it from the tool and args.
// The param is removed from args either way.
func (inv *invocation) fingerprint(args map[string]any) string {
	fp, _ := args["fingerprint"].(string)
	delete(args, "fingerprint")
	if inv.req.Fingerprint != "" {
		return inv.req.Fingerprint
	}
	if fp != "" {
		return fp
	}
	return service.Fingerprint(inv.spec.Name, args)
}

// execute routes a registered mutation through the workflow engine and the
// gateway and shapes its result.
func (inv *invocation) execute(ctx context.Context, req workflow.MutationRequest) (any, error) {
	res, err := inv.deps().Engine.Execute(ctx, req)
	return inv.mutationOutcome(res, err)
}

// mutationOutcome turns a gateway result into envelope data. Denials and
// approval routing are protocol errors carrying the decision in Meta.
func (inv *invocation) mutationOutcome(res service.Result, err error) (any, error) {
	if err != nil && !res.Executed {
		return nil, err
	}
	d := res.Decision
	inv.decision = &d
	inv.requestID = res.RequestID

	switch d.Action {
	case policy.ActionAllow:
		if res.Err != nil {
			// Data of a failed execution is a partial payload, e.g. a ThreadResult.
			return res.Data, res.Err
		}
		return MutationResult{Executed: true, PlatformID: res.PlatformID, Result: res.Data}, nil
	case policy.ActionDryRun:
		return MutationResult{Result: res.Data}, nil
	case policy.ActionRequireApproval:
		return MutationResult{ApprovalID: d.ApprovalID}, &EnvelopeError{
			Code:    CodeApprovalRequired,
			Message: fmt.Sprintf("queued for review as %s (%s)", d.ApprovalID, d.Reason),
		}
	default:
		return nil, denial(d)
	}
}

// denial maps a deny decision. Quota denials are retryable rate limits.
func denial(d policy.Decision) *EnvelopeError {
	msg := d.Message
	if msg == "" {
		msg = "denied: " + string(d.Reason)
		if d.RuleID != "" {
			msg += " by rule " + d.RuleID
		}
	}
	switch d.Reason {
	case policy.ReasonRateLimited, policy.ReasonPlatformQuota:
		return &EnvelopeError{Code: CodeRateLimited, Message: msg, Retryable: true, RetryAfterMS: d.RetryAfter.Milliseconds()}
	}
	return &EnvelopeError{Code: CodePolicyDenied, Message: msg}
}

// accountID caches the authenticated account for raw engagement tools.
type accountID struct {
	mu sync.Mutex
	id string
}

func (a *accountID) get(ctx context.Context, inv *invocation) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.id != "" {
		return a.id, nil
	}
	me, err := toolkit.GetMe(ctx, inv.deps().Provider)
	if err != nil {
		return "", err
	}
	a.id = me.ID
	return a.id, nil
}

// result drops the value of a failed call, so a typed nil never becomes
// envelope data.
func result[T any](v T, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return v, nil
}

// parseTime parses an optional RFC 3339 param.
func parseTime(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, newError(CodeInvalidParams, "%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}
