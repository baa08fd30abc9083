package workflow

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

// Step statuses in an orchestration report.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// StepReport summarizes one step of a composite.
type StepReport struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"`
	Error  string `json:"error,omitempty"`
}

// OrchestrateReport is the per-step result of Orchestrate.
type OrchestrateReport struct {
	Query      string              `json:"query"`
	Steps      []StepReport        `json:"steps"`
	Candidates []storage.Candidate `json:"candidates"`
	Drafts     []storage.Draft     `json:"drafts"`
	Queued     []QueueResult       `json:"queued"`
}

func (r *OrchestrateReport) step(name string, count int, err error) {
	sr := StepReport{Name: name, Status: StepOK, Count: count}
	if err != nil {
		sr.Status = StepFailed
		sr.Error = err.Error()
	}
	r.Steps = append(r.Steps, sr)
}

func (r *OrchestrateReport) skip(names ...string) {
	for _, n := range names {
		r.Steps = append(r.Steps, StepReport{Name: n, Status: StepSkipped})
	}
}

// Orchestrate runs discover, draft and queue in sequence for the top topN
// new candidates of query. A failed step aborts the remaining steps; the
// report names the failed step and the error is a step_aborted workflow
// error wrapping the cause.
func (e *Engine) Orchestrate(ctx context.Context, query string, topN int, actor string) (report *OrchestrateReport, err error) {
	ctx, span := e.startSpan(ctx, "orchestrate")
	span.SetAttributes(attribute.String("kestrel.query", query), attribute.Int("kestrel.top_n", topN))
	defer func() { span.end(ctx, err) }()

	if topN <= 0 {
		topN = 3
	}
	report = &OrchestrateReport{Query: query}

	cands, err := e.Discover(ctx, query, max(topN*3, minSearchResults))
	report.Candidates = cands
	report.step("discover", len(cands), err)
	if err != nil {
		report.skip("draft", "queue")
		return report, stepError("discover", KindStepAborted, err)
	}

	ids := make([]string, 0, topN)
	for _, c := range cands {
		if len(ids) == topN {
			break
		}
		if c.Status == storage.CandidateNew {
			ids = append(ids, c.TweetID)
		}
	}
	if len(ids) == 0 {
		report.skip("draft", "queue")
		return report, nil
	}

	drafts, err := e.Draft(ctx, ids)
	report.Drafts = drafts
	report.step("draft", len(drafts), err)
	if err != nil {
		report.skip("queue")
		return report, stepError("draft", KindStepAborted, err)
	}

	queued, err := e.Queue(ctx, drafts, actor)
	report.Queued = queued
	report.step("queue", len(queued), err)
	if err != nil {
		return report, stepError("queue", KindStepAborted, err)
	}
	return report, nil
}
