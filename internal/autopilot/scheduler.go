// Package autopilot runs kestrel's background loops: discovery, mentions,
// content, scheduled threads and token refresh. Every loop calls workflow
// composites, so its mutations pass the same policy gateway as tool calls.
package autopilot

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// Workflows are the composites the loops drive. *workflow.Engine
// implements it.
type Workflows interface {
	Orchestrate(ctx context.Context, query string, topN int, actor string) (*workflow.OrchestrateReport, error)
	ProcessMentions(ctx context.Context, actor string, limit int) (*workflow.MentionsReport, error)
	GenerateContent(ctx context.Context, topic, actor string) (*workflow.ContentResult, error)
	PostDueThreads(ctx context.Context, now time.Time, actor string) ([]workflow.ThreadOutcome, error)
}

// Refresher renews the platform access token.
type Refresher interface {
	NeedsRefresh(skew time.Duration) bool
	Refresh(ctx context.Context) error
}

// CycleObserver receives one call per loop cycle, e.g. for metrics.
type CycleObserver interface {
	ObserveCycle(loop, result string)
}

// TelemetryRecorder receives one event per loop cycle.
type TelemetryRecorder interface {
	Record(e storage.TelemetryEvent)
}

// Scheduler owns the loops.
type Scheduler struct {
	cfg       Config
	wf        Workflows
	refresher Refresher
	observer  CycleObserver
	telemetry TelemetryRecorder
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	refreshReq chan chan error
	tokenLoop  atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRefresher enables the token_refresh loop and refresh-on-auth-expiry.
func WithRefresher(r Refresher) Option {
	return func(s *Scheduler) {
		s.refresher = r
	}
}

// WithCycleObserver reports every cycle to o.
func WithCycleObserver(o CycleObserver) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithTelemetry records a telemetry event per cycle.
func WithTelemetry(r TelemetryRecorder) Option {
	return func(s *Scheduler) {
		s.telemetry = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New validates cfg and builds a scheduler.
func New(cfg Config, wf Workflows, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errors.New("autopilot: workflows are required")
	}
	s := &Scheduler{
		cfg:        cfg,
		wf:         wf,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
		refreshReq: make(chan chan error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts every enabled loop and blocks until ctx is cancelled. Loops
// never stop on their own; a failed cycle is logged and the loop waits for
// its next turn.
func (s *Scheduler) Run(parent context.Context) error {
	g, ctx := errgroup.WithContext(parent)

	loops := s.loops()
	if s.cfg.TokenRefresh.Enabled && s.refresher != nil {
		s.tokenLoop.Store(true)
		defer s.tokenLoop.Store(false)
		g.Go(func() error { return s.runTokenLoop(ctx) })
	}
	for _, l := range loops {
		g.Go(func() error { return s.runLoop(ctx, l) })
	}
	s.logger.Info("autopilot started", "loops", len(loops), "token_refresh", s.tokenLoop.Load())

	err := g.Wait()
	s.logger.Info("autopilot stopped")
	if parent.Err() != nil {
		return nil
	}
	return err
}

// loop is one scheduled composite. cycle returns a summary for telemetry
// and the gateway decision that throttled it, if any.
type loop struct {
	name     string
	interval time.Duration
	cycle    func(ctx context.Context, n int) (summary map[string]any, throttled *policy.Decision, err error)
}

func (s *Scheduler) loops() []loop {
	var out []loop
	if c := s.cfg.Discovery; c.Enabled {
		out = append(out, loop{LoopDiscovery, c.Interval, s.discoveryCycle})
	}
	if c := s.cfg.Mentions; c.Enabled {
		out = append(out, loop{LoopMentions, c.Interval, s.mentionsCycle})
	}
	if c := s.cfg.Content; c.Enabled {
		out = append(out, loop{LoopContent, c.Interval, s.contentCycle})
	}
	if c := s.cfg.Threads; c.Enabled {
		out = append(out, loop{LoopThreads, c.Interval, s.threadsCycle})
	}
	return out
}

func (s *Scheduler) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.Backoff.Initial
	b.MaxInterval = s.cfg.Backoff.Max
	b.RandomizationFactor = s.cfg.Backoff.Jitter
	b.Reset()
	return b
}

func (s *Scheduler) runLoop(ctx context.Context, l loop) error {
	logger := s.logger.With("loop", l.name)
	b := s.newBackoff()

	for n := 0; ; n++ {
		wait := l.interval
		result, retryAfter := s.runCycle(ctx, l, n, logger)
		switch result {
		case resultRateLimited, resultAuthExpired:
			wait = retryAfter
			if wait <= 0 {
				wait = min(b.NextBackOff(), s.cfg.Backoff.Max)
			}
			logger.Warn("loop backing off", "result", result, "wait", wait)
		default:
			b.Reset()
		}
		if err := s.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// runCycle runs one cycle, retrying once after a token refresh when the
// platform reports the token expired.
func (s *Scheduler) runCycle(ctx context.Context, l loop, n int, logger *slog.Logger) (string, time.Duration) {
	start := s.now()
	summary, throttled, err := l.cycle(ctx, n)
	result, retryAfter := classify(throttled, err)

	if result == resultAuthExpired && s.refresher != nil && ctx.Err() == nil {
		logger.Info("token expired, requesting refresh")
		if rerr := s.requestRefresh(ctx); rerr != nil {
			logger.Error("token refresh failed", "error", rerr)
		} else {
			summary, throttled, err = l.cycle(ctx, n)
			result, retryAfter = classify(throttled, err)
		}
	}

	s.record(l.name, result, start, summary, err)
	switch {
	case result == resultCancelled:
	case err != nil:
		logger.Error("cycle failed", "result", result, "error", err)
	default:
		logger.Debug("cycle done", "result", result, "summary", summary)
	}
	return result, retryAfter
}

func (s *Scheduler) record(name, result string, start time.Time, summary map[string]any, err error) {
	if result == resultCancelled {
		return
	}
	if s.observer != nil {
		s.observer.ObserveCycle(name, result)
	}
	if s.telemetry == nil {
		return
	}
	ev := storage.TelemetryEvent{
		Source:     storage.SourceAutopilot,
		Name:       name,
		Result:     result,
		DurationMS: s.now().Sub(start).Milliseconds(),
		Details:    summary,
		At:         start.UTC(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.telemetry.Record(ev)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
