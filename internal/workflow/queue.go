package workflow

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
)

// QueueResult is what happened to one draft at the gateway.
type QueueResult struct {
	DraftID    string              `json:"draft_id"`
	Tool       string              `json:"tool,omitempty"`
	Status     storage.DraftStatus `json:"status"`
	Decision   *policy.Decision    `json:"decision,omitempty"`
	PlatformID string              `json:"platform_id,omitempty"`
	ApprovalID string              `json:"approval_id,omitempty"`
	Skipped    string              `json:"skipped,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Queue sends each draft through the gateway as a reply_to_tweet, or a
// post_tweet for original drafts. Depending on the decision the draft is
// posted, denied, queued for approval or recorded as a dry run. Only new or
// previously failed drafts are sent. A gateway failure, or a platform rate
// limit or auth failure, stops the batch.
func (e *Engine) Queue(ctx context.Context, drafts []storage.Draft, actor string) (results []QueueResult, err error) {
	ctx, span := e.startSpan(ctx, "queue")
	span.SetAttributes(attribute.Int("kestrel.drafts", len(drafts)), attribute.String("kestrel.actor", actor))
	defer func() { span.end(ctx, err) }()

	results = make([]QueueResult, 0, len(drafts))
	for _, d := range drafts {
		r, err := e.queueDraft(ctx, d, actor)
		results = append(results, r)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// QueueByID loads the drafts named by ids and queues them. Unknown IDs are
// a storage error naming the missing draft.
func (e *Engine) QueueByID(ctx context.Context, ids []string, actor string) ([]QueueResult, error) {
	drafts := make([]storage.Draft, 0, len(ids))
	for _, id := range ids {
		d, err := e.store.GetDraft(ctx, id)
		if err != nil {
			return nil, stepError("load", KindStorage, fmt.Errorf("draft %s: %w", id, err))
		}
		drafts = append(drafts, *d)
	}
	return e.Queue(ctx, drafts, actor)
}

// sendable reports whether a draft in status s may go through the gateway.
func sendable(s storage.DraftStatus) bool {
	return s == storage.DraftNew || s == storage.DraftFailed
}

func (e *Engine) queueDraft(ctx context.Context, d storage.Draft, actor string) (QueueResult, error) {
	qr := QueueResult{DraftID: d.ID, Status: d.Status}
	if !sendable(d.Status) {
		qr.Skipped = "draft is " + string(d.Status)
		return qr, nil
	}

	req := draftRequest(d, actor)
	qr.Tool = req.Tool
	res, err := e.Execute(ctx, req)
	if err != nil && !res.Executed {
		qr.Error = err.Error()
		if rejectsDraft(err) {
			rerr := e.rejectDraft(ctx, &d, &qr, err)
			return qr, rerr
		}
		return qr, stepError("queue", KindStorage, err)
	}

	decision := res.Decision
	qr.Decision = &decision
	applyResult(&d, res, err)
	qr.Status = d.Status
	qr.PlatformID = d.PostedID
	qr.ApprovalID = d.ApprovalID
	if err != nil {
		qr.Error = err.Error()
	}

	d.UpdatedAt = e.now().UTC()
	if saveErr := e.store.SaveDraft(ctx, &d); saveErr != nil {
		return qr, stepError("queue", KindStorage, saveErr)
	}
	if err != nil {
		e.logger.Warn("draft mutation failed", "draft_id", d.ID, "tool", req.Tool, "error", err)
		if haltsBatch(err) {
			return qr, stepError("queue", KindToolkit, err)
		}
	}
	return qr, nil
}

// rejectsDraft reports whether a failure before the gateway means the draft
// can never be sent: its arguments are invalid or its target is unreadable
// for a reason other than a platform outage.
func rejectsDraft(err error) bool {
	if IsInvalid(err) {
		return true
	}
	step, _ := StepOf(err)
	return step == "resolve_language" && !haltsBatch(err)
}

func (e *Engine) rejectDraft(ctx context.Context, d *storage.Draft, qr *QueueResult, cause error) error {
	d.Status = storage.DraftRejected
	d.Rejection = cause.Error()
	d.UpdatedAt = e.now().UTC()
	qr.Status = d.Status
	if err := e.store.SaveDraft(ctx, d); err != nil {
		return stepError("queue", KindStorage, err)
	}
	e.logger.Warn("draft rejected before the gateway", "draft_id", d.ID, "error", cause)
	return nil
}

func draftRequest(d storage.Draft, actor string) MutationRequest {
	req := MutationRequest{
		Tool:        "post_tweet",
		Actor:       actor,
		Args:        map[string]any{"text": d.Text, "draft_id": d.ID},
		Fingerprint: "draft:" + d.ID,
		Author:      d.AuthorID,
		Keyword:     d.Keyword,
		Language:    d.Lang,
		Content:     d.Text,
		Score:       d.Score,
	}
	if d.Lang != "" {
		req.Args["lang"] = d.Lang
	}
	if d.Kind == storage.DraftReply {
		req.Tool = "reply_to_tweet"
		req.Args["tweet_id"] = d.ReplyToID
		if d.AuthorID != "" {
			req.Args["author_id"] = d.AuthorID
		}
		if d.Keyword != "" {
			req.Args["keyword"] = d.Keyword
		}
	}
	return req
}

// applyResult moves d to the status the gateway result implies. A draft
// denied by a quota keeps its status so a later cycle retries it.
func applyResult(d *storage.Draft, res service.Result, execErr error) {
	switch res.Decision.Action {
	case policy.ActionAllow:
		if execErr != nil {
			d.Status = storage.DraftFailed
			return
		}
		d.Status = storage.DraftPosted
		d.PostedID = res.PlatformID
	case policy.ActionRequireApproval:
		d.Status = storage.DraftQueued
		d.ApprovalID = res.Decision.ApprovalID
	case policy.ActionDryRun:
		d.Status = storage.DraftDryRun
	default:
		switch res.Decision.Reason {
		case policy.ReasonRateLimited, policy.ReasonPlatformQuota:
			// Stays sendable for a later cycle.
		default:
			d.Status = storage.DraftDenied
		}
	}
}
