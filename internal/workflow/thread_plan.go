package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

const (
	minThreadParts = 2
	maxThreadParts = 25
)

// PlanThread generates a thread about topic, splits and validates it, and
// persists it as a plan scheduled at at (now when zero).
func (e *Engine) PlanThread(ctx context.Context, topic string, parts int, at time.Time) (plan *storage.ThreadPlan, err error) {
	ctx, span := e.startSpan(ctx, "plan_thread")
	span.SetAttributes(attribute.String("kestrel.topic", topic), attribute.Int("kestrel.parts", parts))
	defer func() { span.end(ctx, err) }()

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, stepError("validate", KindToolkit, &toolkit.Error{Kind: toolkit.KindInvalidInput, Op: "plan_thread", Message: "topic is required"})
	}
	if parts < minThreadParts || parts > maxThreadParts {
		return nil, stepError("validate", KindToolkit, &toolkit.Error{
			Kind:    toolkit.KindInvalidInput,
			Op:      "plan_thread",
			Message: fmt.Sprintf("parts must be %d-%d, got %d", minThreadParts, maxThreadParts, parts),
		})
	}

	text, err := e.generate(ctx, content.PromptContext{Kind: content.KindThread, Topic: topic, Parts: parts, Keywords: e.scoring.Keywords})
	if err != nil {
		return nil, stepError("generate", KindGeneration, err)
	}
	split := SplitThread(text)
	if len(split) == 0 {
		return nil, stepError("generate", KindGeneration, content.ErrEmptyOutput)
	}
	if err := toolkit.ValidateThread(split); err != nil {
		return nil, stepError("validate", KindToolkit, err)
	}
	for i, p := range split {
		if phrase, ok := e.safety.bannedPhrase(p); ok {
			return nil, stepError("safety", KindSafety, fmt.Errorf("%w: part %d contains banned phrase %q", ErrSafetyRejected, i, phrase))
		}
	}

	now := e.now().UTC()
	if at.IsZero() {
		at = now
	}
	plan = &storage.ThreadPlan{
		ID:          uuid.NewString(),
		Topic:       topic,
		Parts:       split,
		ScheduledAt: at.UTC(),
		Status:      storage.ThreadScheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.SaveThreadPlan(ctx, plan); err != nil {
		return nil, stepError("persist", KindStorage, err)
	}
	e.logger.Info("thread planned", "plan_id", plan.ID, "parts", len(split), "scheduled_at", plan.ScheduledAt)
	return plan, nil
}

// SplitThread splits generated text into parts on blank lines. A paragraph
// over the post limit is split further at sentence boundaries.
func SplitThread(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var parts []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if toolkit.WeightedLength(para) <= toolkit.MaxWeightedLength {
			parts = append(parts, para)
			continue
		}
		parts = append(parts, packSentences(para)...)
	}
	return parts
}

// packSentences greedily joins sentences into chunks under the post limit.
// A single sentence over the limit is kept whole and fails validation.
func packSentences(para string) []string {
	var (
		out []string
		cur string
	)
	for _, s := range sentences(para) {
		candidate := s
		if cur != "" {
			candidate = cur + " " + s
		}
		if cur != "" && toolkit.WeightedLength(candidate) > toolkit.MaxWeightedLength {
			out = append(out, cur)
			cur = s
			continue
		}
		cur = candidate
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func sentences(para string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(para)
	for i, r := range runes {
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// ThreadOutcome is what happened to one due plan.
type ThreadOutcome struct {
	PlanID     string                `json:"plan_id"`
	Status     storage.ThreadStatus  `json:"status"`
	Decision   *policy.Decision      `json:"decision,omitempty"`
	Result     *toolkit.ThreadResult `json:"result,omitempty"`
	ApprovalID string                `json:"approval_id,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// PostDueThreads posts every plan due at now as one post_thread mutation.
// A plan that fails before its first part, or is denied by a quota, stays
// scheduled. A plan that fails midway is marked partial; posted parts are
// not rolled back.
func (e *Engine) PostDueThreads(ctx context.Context, now time.Time, actor string) (outcomes []ThreadOutcome, err error) {
	ctx, span := e.startSpan(ctx, "post_due_threads")
	defer func() { span.end(ctx, err) }()

	due, err := e.store.DueThreadPlans(ctx, now)
	if err != nil {
		return nil, stepError("load", KindStorage, err)
	}
	outcomes = make([]ThreadOutcome, 0, len(due))
	for i := range due {
		out, err := e.postPlan(ctx, &due[i], actor)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

func (e *Engine) postPlan(ctx context.Context, p *storage.ThreadPlan, actor string) (ThreadOutcome, error) {
	out := ThreadOutcome{PlanID: p.ID}
	res, err := e.Execute(ctx, MutationRequest{
		Tool:        "post_thread",
		Actor:       actor,
		Args:        map[string]any{"parts": p.Parts, "plan_id": p.ID},
		Fingerprint: "thread:" + p.ID,
		Content:     strings.Join(p.Parts, "\n\n"),
	})
	if err != nil && !res.Executed {
		out.Error = err.Error()
		if !IsInvalid(err) {
			return out, stepError("post", KindStorage, err)
		}
		p.Status = storage.ThreadFailed
		p.Error = err.Error()
		p.UpdatedAt = e.now().UTC()
		out.Status = p.Status
		if saveErr := e.store.SaveThreadPlan(ctx, p); saveErr != nil {
			return out, stepError("post", KindStorage, saveErr)
		}
		return out, nil
	}

	decision := res.Decision
	out.Decision = &decision
	switch decision.Action {
	case policy.ActionAllow:
		tr, _ := res.Data.(toolkit.ThreadResult)
		out.Result = &tr
		applyThreadResult(p, tr, err)
	case policy.ActionRequireApproval:
		p.Status = storage.ThreadQueued
		p.ApprovalID = decision.ApprovalID
	case policy.ActionDryRun:
		p.Status = storage.ThreadDryRun
	default:
		if decision.Reason != policy.ReasonRateLimited && decision.Reason != policy.ReasonPlatformQuota {
			p.Status = storage.ThreadDenied
		}
	}
	out.Status = p.Status
	out.ApprovalID = p.ApprovalID
	if err != nil {
		out.Error = err.Error()
	}

	p.UpdatedAt = e.now().UTC()
	if saveErr := e.store.SaveThreadPlan(ctx, p); saveErr != nil {
		return out, stepError("post", KindStorage, saveErr)
	}
	if err != nil {
		e.logger.Warn("thread post failed", "plan_id", p.ID, "posted", len(p.Posted), "error", err)
		if haltsBatch(err) {
			return out, stepError("post", KindToolkit, err)
		}
	}
	return out, nil
}

// applyThreadResult records how far a thread got on its plan.
func applyThreadResult(p *storage.ThreadPlan, tr toolkit.ThreadResult, execErr error) {
	p.Posted = append([]string(nil), tr.Posted...)
	p.FailedAt = tr.FailedAt
	switch {
	case execErr == nil:
		p.Status = storage.ThreadPosted
		p.Error = ""
	case len(tr.Posted) > 0:
		p.Status = storage.ThreadPartial
		p.Error = execErr.Error()
	case haltsBatch(execErr):
		p.Status = storage.ThreadScheduled
		p.Error = execErr.Error()
	default:
		p.Status = storage.ThreadFailed
		p.Error = execErr.Error()
	}
}
