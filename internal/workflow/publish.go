package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// PublishResult reports the execution of an approved item.
type PublishResult struct {
	ApprovalID string          `json:"approval_id"`
	Tool       string          `json:"tool"`
	Decision   policy.Decision `json:"decision"`
	PlatformID string          `json:"platform_id,omitempty"`
	Data       any             `json:"data,omitempty"`
	Item       *approval.Item  `json:"item,omitempty"`
}

// Publish executes an approved item through the gateway's approved-item path
// and marks it published. A failed execution is noted on the item, which
// stays approved so it can be retried. A gateway denial (hard rule or quota)
// leaves the item untouched and is reported in the decision.
func (e *Engine) Publish(ctx context.Context, approvalID, reviewer string) (pr *PublishResult, err error) {
	ctx, span := e.startSpan(ctx, "publish")
	span.SetAttributes(attribute.String("kestrel.approval_id", approvalID))
	defer func() { span.end(ctx, err) }()

	if e.approvals == nil {
		return nil, stepError("load", KindStorage, errors.New("no approval queue configured"))
	}
	item, err := e.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, stepError("load", KindStorage, err)
	}
	if item.Status != approval.StatusApproved {
		return nil, fmt.Errorf("%w: item %s is %s", ErrNotApproved, approvalID, item.Status)
	}

	res, err := e.Execute(ctx, MutationRequest{
		Tool:        item.Tool,
		Actor:       reviewer,
		Args:        item.Args,
		Fingerprint: "approval:" + item.ID,
		ApprovalID:  item.ID,
		Content:     item.Content,
		Score:       item.Score,
	})
	if err != nil && !res.Executed {
		if IsInvalid(err) {
			return nil, err
		}
		return nil, stepError("execute", KindStorage, err)
	}

	pr = &PublishResult{
		ApprovalID: item.ID,
		Tool:       item.Tool,
		Decision:   res.Decision,
		PlatformID: res.PlatformID,
		Data:       res.Data,
		Item:       item,
	}
	if err != nil {
		if noteErr := e.approvals.NotePublishFailed(ctx, item.ID, reviewer, err); noteErr != nil {
			e.logger.Error("failed to note publish failure", "approval_id", item.ID, "error", noteErr)
		}
		e.linkPublished(ctx, item.Args, res.Data, "", err)
		return pr, stepError("execute", KindToolkit, err)
	}
	if !res.Executed || res.Decision.Replayed {
		return pr, nil
	}

	published, err := e.approvals.MarkPublished(ctx, item.ID, reviewer, res.PlatformID)
	if err != nil {
		return pr, stepError("mark_published", KindStorage, err)
	}
	pr.Item = published
	e.linkPublished(ctx, item.Args, res.Data, res.PlatformID, nil)
	e.logger.Info("approval item published", "approval_id", item.ID, "tool", item.Tool, "platform_id", res.PlatformID, "reviewer", reviewer)
	return pr, nil
}

// linkPublished updates the draft or thread plan an approval item came from.
// Failures are logged; the approval item is the record of truth.
func (e *Engine) linkPublished(ctx context.Context, args map[string]any, data any, platformID string, execErr error) {
	if id := argString(args, "draft_id"); id != "" {
		d, err := e.store.GetDraft(ctx, id)
		if err != nil {
			e.logger.Warn("published draft not found", "draft_id", id, "error", err)
			return
		}
		if execErr != nil {
			d.Status = storage.DraftFailed
		} else {
			d.Status = storage.DraftPosted
			d.PostedID = platformID
		}
		d.UpdatedAt = e.now().UTC()
		if err := e.store.SaveDraft(ctx, d); err != nil {
			e.logger.Error("failed to update published draft", "draft_id", id, "error", err)
		}
	}
	if id := argString(args, "plan_id"); id != "" {
		p, err := e.store.GetThreadPlan(ctx, id)
		if err != nil {
			e.logger.Warn("published thread plan not found", "plan_id", id, "error", err)
			return
		}
		tr, _ := data.(toolkit.ThreadResult)
		applyThreadResult(p, tr, execErr)
		p.UpdatedAt = e.now().UTC()
		if err := e.store.SaveThreadPlan(ctx, p); err != nil {
			e.logger.Error("failed to update published thread plan", "plan_id", id, "error", err)
		}
	}
}
