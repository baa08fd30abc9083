package dispatch

import (
	"context"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

type listParams struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

func (p listParams) options() storage.ListOptions {
	return storage.ListOptions{Status: p.Status, Limit: p.Limit}
}

func listSchema(statuses ...string) map[string]any {
	return object(
		enum("status", "Only return items in this status.", statuses...),
		integer("limit", "Maximum items to return.", 1, 500),
	)
}

func historyTools() []toolDef {
	storageOnly := []Capability{CapStorage}
	history := func(name, desc string, schema map[string]any, h Handler) toolDef {
		return toolDef{name: name, description: desc, category: policy.CategoryRead, group: groupHistory, requires: storageOnly, schema: schema, handler: h}
	}
	return []toolDef{
		history("list_candidates", "List discovered candidates by score, best first.",
			listSchema(string(storage.CandidateNew), string(storage.CandidateDrafted), string(storage.CandidateSkipped)),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p listParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().History.Candidates(ctx, p.options()))
			}),
		history("list_drafts", "List generated drafts, newest first.",
			listSchema(
				string(storage.DraftNew), string(storage.DraftRejected), string(storage.DraftQueued),
				string(storage.DraftPosted), string(storage.DraftDenied), string(storage.DraftDryRun), string(storage.DraftFailed),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p listParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().History.Drafts(ctx, p.options()))
			}),
		history("get_thread_plans", "List thread plans by schedule, earliest first.",
			listSchema(
				string(storage.ThreadScheduled), string(storage.ThreadPosted), string(storage.ThreadPartial),
				string(storage.ThreadFailed), string(storage.ThreadQueued), string(storage.ThreadDenied), string(storage.ThreadDryRun),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p listParams
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().History.ThreadPlans(ctx, p.options()))
			}),
		history("get_telemetry", "List autopilot loop and tool call telemetry, newest first.",
			object(
				enum("source", "Event source.", storage.SourceAutopilot, storage.SourceTool),
				str("name", "Loop or tool name."),
				timestamp("since", "Only return events at or after this time (RFC 3339)."),
				integer("limit", "Maximum events to return.", 1, 1000),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Source string `json:"source"`
					Name   string `json:"name"`
					Since  string `json:"since"`
					Limit  int    `json:"limit"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				since, err := parseTime("since", p.Since)
				if err != nil {
					return nil, err
				}
				return result(inv.deps().History.Telemetry(ctx, storage.TelemetryFilter{Source: p.Source, Name: p.Name, Since: since, Limit: p.Limit}))
			}),
	}
}

func compositeTools() []toolDef {
	composite := func(name, desc string, category policy.Category, requires []Capability, schema map[string]any, h Handler) toolDef {
		return toolDef{name: name, description: desc, category: category, group: groupComposite, requires: requires, schema: schema, handler: h}
	}
	gw := []Capability{CapProvider, CapStorage, CapGateway}
	gwLLM := []Capability{CapProvider, CapStorage, CapLLM, CapGateway}

	return []toolDef{
		composite("discover", "Search, score and store candidates for query; returns them ranked.",
			policy.CategoryRead, []Capability{CapProvider, CapStorage},
			object(req(str("query", "Search query.")), integer("limit", "Tweets to search.", 10, 100)),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Query string `json:"query"`
					Limit int    `json:"limit"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Engine.Discover(ctx, p.Query, p.Limit))
			}),
		composite("draft", "Generate and safety-filter reply drafts for candidates. Rejected drafts are returned with their reason.",
			policy.CategoryRead, []Capability{CapProvider, CapStorage, CapLLM},
			object(req(list("candidate_ids", "Candidate tweet IDs.", 1, 20, map[string]any{"type": "string", "pattern": "^[0-9]{1,20}$"}))),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					CandidateIDs []string `json:"candidate_ids"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				return result(inv.deps().Engine.Draft(ctx, p.CandidateIDs))
			}),
		composite("queue", "Send drafts through the policy gateway. Each is posted, denied, queued for review or recorded as a dry run.",
			policy.CategoryWrite, gw,
			object(req(list("draft_ids", "Draft IDs.", 1, 50, nil))),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					DraftIDs []string `json:"draft_ids"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				out, err := inv.deps().Engine.QueueByID(ctx, p.DraftIDs, inv.actor)
				return partial(out, err)
			}),
		composite("orchestrate", "Discover, draft and queue the top candidates for query. A failed step aborts the rest; the report names it.",
			policy.CategoryWrite, gwLLM,
			object(req(str("query", "Search query.")), integer("top_n", "Candidates to draft.", 1, 20)),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Query string `json:"query"`
					TopN  int    `json:"top_n"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				report, err := inv.deps().Engine.Orchestrate(ctx, p.Query, p.TopN, inv.actor)
				return partial(report, err)
			}),
		composite("process_mentions", "Draft and queue replies to mentions newer than the stored cursor, then advance it.",
			policy.CategoryWrite, gwLLM,
			object(integer("limit", "Mentions to fetch.", 5, 100)),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Limit int `json:"limit"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				report, err := inv.deps().Engine.ProcessMentions(ctx, inv.actor, p.Limit)
				return partial(report, err)
			}),
		composite("generate_content", "Generate an original post about topic, filter it and queue it.",
			policy.CategoryWrite, gwLLM,
			object(req(text("topic", "Post topic.", 200))),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Topic string `json:"topic"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				res, err := inv.deps().Engine.GenerateContent(ctx, p.Topic, inv.actor)
				return partial(res, err)
			}),
		composite("plan_thread", "Generate a thread about topic and schedule it. Nothing is posted until post_due_threads runs.",
			policy.CategoryRead, []Capability{CapStorage, CapLLM},
			object(
				req(text("topic", "Thread topic.", 200)),
				integer("parts", "Number of parts.", 2, 25),
				timestamp("scheduled_at", "When to post (RFC 3339). Defaults to now."),
			),
			func(ctx context.Context, inv *invocation) (any, error) {
				var p struct {
					Topic       string `json:"topic"`
					Parts       int    `json:"parts"`
					ScheduledAt string `json:"scheduled_at"`
				}
				if err := inv.decode(&p); err != nil {
					return nil, err
				}
				if p.Parts == 0 {
					p.Parts = 3
				}
				at, err := parseTime("scheduled_at", p.ScheduledAt)
				if err != nil {
					return nil, err
				}
				return result(inv.deps().Engine.PlanThread(ctx, p.Topic, p.Parts, at))
			}),
		composite("post_due_threads", "Post every thread plan that is due, each as one gated post_thread.",
			policy.CategoryWrite, gw,
			object(),
			func(ctx context.Context, inv *invocation) (any, error) {
				out, err := inv.deps().Engine.PostDueThreads(ctx, inv.server.now(), inv.actor)
				return partial(out, err)
			}),
	}
}

// partial keeps a composite's report next to its error, so callers see the
// steps that ran before a failure.
func partial[T any](report T, err error) (any, error) {
	return report, err
}
