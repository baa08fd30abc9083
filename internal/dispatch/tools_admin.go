package dispatch

import (
	"context"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/audit"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/service"
)

type reviewParams struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Note    string `json:"note"`
}

func adminTools() []toolDef {
	adminCaps := []Capability{CapGateway, CapAdmin}
	admin := func(name, desc string, schema map[string]any, h Handler) toolDef {
		return toolDef{name: name, description: desc, category: policy.CategoryAdmin, group: groupAdmin, requires: adminCaps, schema: schema, handler: h}
	}
	itemID := req(str("id", "Approval item ID."))
	note := str("note", "Reviewer note.")

	return []toolDef{
		admin("get_policy", "Show the active rules, rate limits, default action and mode.",
			object(),
			func(_ context.Context, inv *invocation) (any, error) {
				gw := inv.deps().Gateway
				return PolicyView{PolicyConfig: gw.Policy(), Mode: gw.Mode()}, nil
			}),
		admin("set_mode", "Switch between autonomous and review mode. Applies to later decisions.",
			object(req(enum("mode", "Operating mode.", string(policy.ModeAutonomous), string(policy.ModeReview)))),
			func(_ context.Context, inv *invocation) (any, error) {
				var p struct {
					Mode policy.Mode `json:"mode"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				gw := inv.deps().Gateway
				prev := gw.Mode()
				if err := gw.SetMode(p.Mode, inv.actor); err != nil {
					return nil, err
				}
				return map[string]any{"previous": prev, "mode": gw.Mode()}, nil
			}),
		admin("reload_policy", "Replace rules, rate limits and defaults. Nothing changes when the new policy is invalid.",
			object(
				anyObjects("rules", "Policy rules."),
				anyObjects("rate_limits", "Rate limits."),
				req(enum("default_action", "Action when no rule matches.", string(policy.ActionAllow), string(policy.ActionDeny))),
				boolean("confirm_deletes", "Deny deletes without confirm=true."),
			),
			func(_ context.Context, inv *invocation) (any, error) {
				var cfg service.PolicyConfig
				if err := inv.decode(&cfg); err != nil {
					return nil, err
				}
				gw := inv.deps().Gateway
				if err := gw.Reload(cfg, inv.actor); err != nil {
					return nil, newError(CodeInvalidInput, "reload policy: %v", err)
				}
				return PolicyView{PolicyConfig: gw.Policy(), Mode: gw.Mode()}, nil
			}),
		admin("get_rate_limits", "Show rate limit counters and the platform quota.",
			object(),
			func(_ context.Context, inv *invocation) (any, error) {
				return inv.deps().Gateway.RateLimits(), nil
			}),
		admin("query_audit", "Query the mutation audit trail, newest first.",
			object(
				str("request_id", "Gateway request ID."),
				str("tool", "Tool name."),
				str("actor", "Caller identity."),
				enum("kind", "Record kind.", string(audit.KindDecision), string(audit.KindOutcome)),
				enum("outcome", "Record outcome.",
					string(audit.OutcomePending), string(audit.OutcomeDenied), string(audit.OutcomeQueued), string(audit.OutcomeDryRun),
					string(audit.OutcomeSucceeded), string(audit.OutcomeFailed), string(audit.OutcomeReplayed)),
				timestamp("since", "Earliest record time (RFC 3339)."),
				timestamp("until", "Latest record time (RFC 3339)."),
				integer("limit", "Maximum records to return.", 1, 1000),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					RequestID string        `json:"request_id"`
					Tool      string        `json:"tool"`
					Actor     string        `json:"actor"`
					Kind      audit.Kind    `json:"kind"`
					Outcome   audit.Outcome `json:"outcome"`
					Since     string        `json:"since"`
					Until     string        `json:"until"`
					Limit     int           `json:"limit"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				since, err := parseTime("since", p.Since)
				if err != nil {
					return nil, err
				}
				until, err := parseTime("until", p.Until)
				if err != nil {
					return nil, err
				}
				return result(inv.deps().Gateway.QueryAudit(ctx, audit.Filter{
					RequestID: p.RequestID, Tool: p.Tool, Actor: p.Actor, Kind: p.Kind, Outcome: p.Outcome,
					Since: since, Until: until, Limit: p.Limit,
				}))
			}),
		admin("list_approvals", "List approval items, oldest first.",
			object(
				enum("status", "Item status.",
					string(approval.StatusPending), string(approval.StatusApproved), string(approval.StatusPublished), string(approval.StatusDiscarded)),
				str("tool", "Tool name."),
				integer("limit", "Maximum items to return.", 1, 500),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Status approval.Status `json:"status"`
					Tool   string          `json:"tool"`
					Limit  int             `json:"limit"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Approvals.List(ctx, approval.Filter{Status: p.Status, Tool: p.Tool, Limit: p.Limit}))
			}),
		admin("approve_item", "Approve a pending item. Approval does not publish it.",
			object(itemID, note),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p reviewParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Approvals.Approve(ctx, p.ID, inv.actor, p.Note))
			}),
		admin("reject_item", "Discard a pending or approved item.",
			object(itemID, note),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p reviewParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Approvals.Reject(ctx, p.ID, inv.actor, p.Note))
			}),
		admin("edit_item", "Replace the content of a pending or approved item. Its status is unchanged.",
			object(itemID, req(text("content", "New post text.", 1000)), note),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p reviewParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Approvals.Edit(ctx, p.ID, p.Content, inv.actor, p.Note))
			}),
		{
			name:        "publish_item",
			description: "Execute an approved item through the gateway and mark it published. Hard denies and quotas still apply.",
			category:    policy.CategoryWrite,
			group:       groupAdmin,
			requires:    []Capability{CapProvider, CapStorage, CapGateway, CapAdmin},
			schema:      object(itemID),
			handler: func(ctx context.Context, inv *invocation) (any, error) {
				var p reviewParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				pr, err := inv.deps().Engine.Publish(ctx, p.ID, inv.actor)
				if pr == nil {
					return nil, err
				}
				d := pr.Decision
				inv.decision = &d
				if err == nil && d.Action == policy.ActionDeny {
					return pr, denial(d)
				}
				return pr, err
			},
		},
	}
}

// PolicyView is the result of get_policy and reload_policy.
type PolicyView struct {
	service.PolicyConfig
	Mode policy.Mode `json:"mode"`
}
