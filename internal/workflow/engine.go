package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-social/kestrel/internal/domain/approval"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
)

// Gateway is the policy checkpoint every workflow mutation passes through.
type Gateway interface {
	Do(ctx context.Context, req policy.Request, exec service.ExecFunc) (service.Result, error)
}

// Approvals is the part of the approval service Publish needs.
type Approvals interface {
	Get(ctx context.Context, id string) (*approval.Item, error)
	MarkPublished(ctx context.Context, id, reviewer, platformID string) (*approval.Item, error)
	NotePublishFailed(ctx context.Context, id, reviewer string, cause error) error
}

// Deps are the collaborators of an Engine. Provider, Store and Gateway are
// required. Generator is required by the drafting composites and Approvals
// by Publish.
type Deps struct {
	Provider  provider.Provider
	Store     storage.Store
	Generator content.Generator
	Gateway   Gateway
	Approvals Approvals
}

// Config tunes the workflow composites.
type Config struct {
	Safety  SafetyConfig
	Scoring toolkit.ScoringConfig
}

// Engine runs the workflow composites. It is safe for concurrent use.
type Engine struct {
	provider  provider.Provider
	store     storage.Store
	generator content.Generator
	gateway   Gateway
	approvals Approvals

	safety  safetyFilter
	scoring toolkit.ScoringConfig

	logger   *slog.Logger
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	now      func() time.Time

	meMu sync.Mutex
	meID string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	switch {
	case deps.Provider == nil:
		return nil, errors.New("workflow: provider is required")
	case deps.Store == nil:
		return nil, errors.New("workflow: storage is required")
	case deps.Gateway == nil:
		return nil, errors.New("workflow: gateway is required")
	}
	e := &Engine{
		provider:  deps.Provider,
		store:     deps.Store,
		generator: deps.Generator,
		gateway:   deps.Gateway,
		approvals: deps.Approvals,
		safety:    newSafetyFilter(cfg.Safety),
		scoring:   cfg.Scoring,
		logger:    logger,
		tracer:    otel.Tracer("kestrel/workflow"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	meter := otel.Meter("kestrel/workflow")
	var err error
	if e.runs, err = meter.Int64Counter("kestrel.workflow.runs",
		metric.WithDescription("Workflow composite runs by outcome.")); err != nil {
		return nil, fmt.Errorf("workflow: runs counter: %w", err)
	}
	if e.duration, err = meter.Float64Histogram("kestrel.workflow.duration",
		metric.WithDescription("Workflow composite duration."), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("workflow: duration histogram: %w", err)
	}
	return e, nil
}

// userID returns the authenticated account ID, resolving it once.
func (e *Engine) userID(ctx context.Context) (string, error) {
	e.meMu.Lock()
	defer e.meMu.Unlock()
	if e.meID != "" {
		return e.meID, nil
	}
	me, err := toolkit.GetMe(ctx, e.provider)
	if err != nil {
		return "", err
	}
	e.meID = me.ID
	return e.meID, nil
}

// HasGenerator reports whether the drafting composites can run.
func (e *Engine) HasGenerator() bool {
	return e.generator != nil
}

func (e *Engine) generate(ctx context.Context, pc content.PromptContext) (string, error) {
	if e.generator == nil {
		return "", errors.New("no content generator configured")
	}
	if pc.MaxLength == 0 {
		pc.MaxLength = toolkit.MaxWeightedLength
	}
	return e.generator.Generate(ctx, pc)
}

// run is the span of one composite call; end also records its metrics.
type run struct {
	trace.Span
	e     *Engine
	name  string
	start time.Time
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, run) {
	ctx, span := e.tracer.Start(ctx, "workflow."+name)
	return ctx, run{Span: span, e: e, name: name, start: time.Now()}
}

// end closes the span, marking it failed when err is set.
func (r run) end(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		r.RecordError(err)
		r.SetStatus(codes.Error, err.Error())
	}
	r.End()
	attrs := metric.WithAttributes(attribute.String("composite", r.name), attribute.String("outcome", outcome))
	r.e.runs.Add(ctx, 1, attrs)
	r.e.duration.Record(ctx, time.Since(r.start).Seconds(), attrs)
}

// haltsBatch reports whether err makes the rest of a batch pointless until
// the platform recovers.
func haltsBatch(err error) bool {
	return provider.IsKind(err, provider.KindRateLimited) || provider.IsKind(err, provider.KindAuthExpired)
}
