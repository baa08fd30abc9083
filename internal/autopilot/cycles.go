package autopilot

import (
	"context"
	"errors"
	"time"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// Cycle results, used as telemetry results and metric labels.
const (
	resultOK          = "ok"
	resultRateLimited = "rate_limited"
	resultAuthExpired = "auth_expired"
	resultRejected    = "rejected"
	resultSkipped     = "skipped"
	resultError       = "error"
	resultCancelled   = "cancelled"
)

// classify maps a cycle outcome to a result. retryAfter is set when the
// platform or the gateway said how long to wait.
func classify(throttled *policy.Decision, err error) (result string, retryAfter time.Duration) {
	if err == nil {
		if throttled != nil {
			return resultRateLimited, throttled.RetryAfter
		}
		return resultOK, 0
	}
	if errors.Is(err, context.Canceled) {
		return resultCancelled, 0
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case provider.KindRateLimited:
			return resultRateLimited, pe.RetryAfter
		case provider.KindAuthExpired:
			return resultAuthExpired, 0
		}
	}
	if errors.Is(err, workflow.ErrSafetyRejected) {
		return resultRejected, 0
	}
	return resultError, 0
}

// throttle returns the first decision denied by a rate limit or the
// platform quota.
func throttle(decisions ...*policy.Decision) *policy.Decision {
	for _, d := range decisions {
		if d == nil || d.Action != policy.ActionDeny {
			continue
		}
		if d.Reason == policy.ReasonRateLimited || d.Reason == policy.ReasonPlatformQuota {
			return d
		}
	}
	return nil
}

func queueDecisions(results []workflow.QueueResult) []*policy.Decision {
	out := make([]*policy.Decision, 0, len(results))
	for _, r := range results {
		out = append(out, r.Decision)
	}
	return out
}

func (s *Scheduler) discoveryCycle(ctx context.Context, n int) (map[string]any, *policy.Decision, error) {
	c := s.cfg.Discovery
	query := c.Queries[n%len(c.Queries)]
	rep, err := s.wf.Orchestrate(ctx, query, c.TopN, policy.ActorScheduler)
	summary := map[string]any{"query": query}
	if rep == nil {
		return summary, nil, err
	}
	summary["candidates"] = len(rep.Candidates)
	summary["drafts"] = len(rep.Drafts)
	summary["queued"] = len(rep.Queued)
	return summary, throttle(queueDecisions(rep.Queued)...), err
}

func (s *Scheduler) mentionsCycle(ctx context.Context, _ int) (map[string]any, *policy.Decision, error) {
	rep, err := s.wf.ProcessMentions(ctx, policy.ActorScheduler, s.cfg.Mentions.Limit)
	if rep == nil {
		return nil, nil, err
	}
	summary := map[string]any{
		"fetched": rep.Fetched,
		"drafts":  len(rep.Drafts),
		"queued":  len(rep.Queued),
		"cursor":  rep.Cursor,
	}
	return summary, throttle(queueDecisions(rep.Queued)...), err
}

func (s *Scheduler) contentCycle(ctx context.Context, n int) (map[string]any, *policy.Decision, error) {
	topics := s.cfg.Content.Topics
	topic := topics[n%len(topics)]
	res, err := s.wf.GenerateContent(ctx, topic, policy.ActorScheduler)
	summary := map[string]any{"topic": topic}
	if res == nil {
		return summary, nil, err
	}
	summary["draft_id"] = res.Draft.ID
	summary["status"] = string(res.Queue.Status)
	return summary, throttle(res.Queue.Decision), err
}

func (s *Scheduler) threadsCycle(ctx context.Context, _ int) (map[string]any, *policy.Decision, error) {
	outs, err := s.wf.PostDueThreads(ctx, s.now(), policy.ActorScheduler)
	statuses := make(map[string]int)
	decisions := make([]*policy.Decision, 0, len(outs))
	for _, o := range outs {
		statuses[string(o.Status)]++
		decisions = append(decisions, o.Decision)
	}
	summary := map[string]any{"due": len(outs), "statuses": statuses}
	return summary, throttle(decisions...), err
}

// runTokenLoop checks the token on every tick and serves refresh requests
// from the other loops.
func (s *Scheduler) runTokenLoop(ctx context.Context) error {
	_ = s.refreshToken(ctx, false)

	t := time.NewTicker(s.cfg.TokenRefresh.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case reply := <-s.refreshReq:
			reply <- s.refreshToken(ctx, true)
		case <-t.C:
			_ = s.refreshToken(ctx, false)
		}
	}
}

func (s *Scheduler) refreshToken(ctx context.Context, forced bool) error {
	start := s.now()
	if !forced && !s.refresher.NeedsRefresh(s.cfg.TokenRefresh.Skew) {
		s.record(LoopTokenRefresh, resultSkipped, start, nil, nil)
		return nil
	}
	err := s.refresher.Refresh(ctx)
	result := resultOK
	if err != nil {
		result, _ = classify(nil, err)
		if result == resultOK {
			result = resultError
		}
		s.logger.Error("token refresh failed", "loop", LoopTokenRefresh, "error", err)
	} else {
		s.logger.Info("token refreshed", "loop", LoopTokenRefresh, "forced", forced)
	}
	s.record(LoopTokenRefresh, result, start, map[string]any{"forced": forced}, err)
	return err
}

// requestRefresh asks the token loop for a refresh and waits for it. Without
// a running token loop the refresh happens inline.
func (s *Scheduler) requestRefresh(ctx context.Context) error {
	if !s.tokenLoop.Load() {
		return s.refresher.Refresh(ctx)
	}
	reply := make(chan error, 1)
	select {
	case s.refreshReq <- reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
