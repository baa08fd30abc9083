package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/domain/storage"
	"github.com/kestrel-social/kestrel/internal/domain/tool"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/toolkit"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// Handler runs one tool call. A non-nil data is placed in the envelope even
// when err is set, so partial results reach the caller.
type Handler func(ctx context.Context, inv *invocation) (data any, err error)

// ToolSpec is one registered tool.
type ToolSpec struct {
	Name        string
	Description string
	Category    policy.Category
	Requires    []Capability
	Schema      *Schema
	Handler     Handler

	group group
	gated bool
}

// Gated reports whether the tool's side effects pass through the policy gateway.
func (t *ToolSpec) Gated() bool {
	return t.gated
}

// Mutation reports whether the tool can cause a platform side effect.
func (t *ToolSpec) Mutation() bool {
	return t.Category.Mutating()
}

// Profiles returns the profiles exposing the tool, smallest first.
func (t *ToolSpec) Profiles() []Profile {
	var out []Profile
	for _, p := range Profiles() {
		if p.includes(t.group) {
			out = append(out, p)
		}
	}
	return out
}

// Risk classifies the tool by name.
func (t *ToolSpec) Risk() tool.RiskLevel {
	if t.Category == policy.CategoryRead {
		return tool.RiskLevelLow
	}
	return tool.ClassifyTool(t.Name)
}

func (t *ToolSpec) requires(c Capability) bool {
	return slices.Contains(t.Requires, c)
}

// registry holds every tool of every group. Names repeat only across
// raw_write and mutation, which never share a profile.
var registry = buildRegistry()

func buildRegistry() []*ToolSpec {
	var specs []*ToolSpec
	for _, defs := range [][]toolDef{readTools(), scoringTools(), historyTools(), rawWriteTools(), mutationTools(), compositeTools(), adminTools()} {
		for _, d := range defs {
			schema, err := compileSchema(d.name, d.schema)
			if err != nil {
				panic(fmt.Sprintf("dispatch: tool %s: %v", d.name, err))
			}
			specs = append(specs, &ToolSpec{
				Name:        d.name,
				Description: d.description,
				Category:    d.category,
				Requires:    d.requires,
				Schema:      schema,
				Handler:     d.handler,
				group:       d.group,
				gated:       d.group != groupRawWrite && d.category.Mutating(),
			})
		}
	}
	return specs
}

// toolDef is the literal form of a registry entry.
type toolDef struct {
	name        string
	description string
	category    policy.Category
	group       group
	requires    []Capability
	schema      map[string]any
	handler     Handler
}

// Registry returns every registered tool sorted by name, raw variants first.
func Registry() []*ToolSpec {
	out := slices.Clone(registry)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return !out[i].Gated() && out[j].Gated()
	})
	return out
}

// ToolsFor returns the tools of profile p sorted by name.
func ToolsFor(p Profile) []*ToolSpec {
	var out []*ToolSpec
	for _, t := range Registry() {
		if p.includes(t.group) {
			out = append(out, t)
		}
	}
	return out
}

// Caller identifies who is calling. Role "admin" acts as a reviewer.
type Caller struct {
	ID   string
	Role string
}

// Actor returns the audit actor for the caller.
func (c Caller) Actor() string {
	id := c.ID
	if id == "" {
		id = "anonymous"
	}
	if c.Role == policy.ActorAdmin {
		return policy.ActorAdmin + ":" + id
	}
	return policy.AgentActor(id)
}

// Request is one tool call.
type Request struct {
	Tool        string
	Params      json.RawMessage
	Caller      Caller
	Fingerprint string
}

// Deps are the collaborators a server may acquire. Which ones must be set
// depends on the profile's capabilities.
type Deps struct {
	Provider  provider.Provider
	Engine    *workflow.Engine
	History   *workflow.History
	Gateway   *service.GatewayService
	Approvals *service.ApprovalService
	Scoring   toolkit.ScoringConfig
}

func (d Deps) has(c Capability) bool {
	switch c {
	case CapProvider:
		return d.Provider != nil
	case CapStorage:
		return d.History != nil
	case CapLLM:
		return d.Engine != nil && d.Engine.HasGenerator()
	case CapGateway:
		return d.Engine != nil && d.Gateway != nil
	case CapAdmin:
		return d.Gateway != nil && d.Approvals != nil
	}
	return false
}

// restrict keeps only the handles the capabilities caps cover and zeroes
// the rest. The engine is reachable only through the gateway or LLM
// capability, and the gateway also backs the admin tools.
func (d Deps) restrict(caps []Capability) Deps {
	declared := func(c ...Capability) bool {
		for _, want := range c {
			if slices.Contains(caps, want) {
				return true
			}
		}
		return false
	}
	out := Deps{Scoring: d.Scoring}
	if declared(CapProvider) {
		out.Provider = d.Provider
	}
	if declared(CapStorage) {
		out.History = d.History
	}
	if declared(CapGateway, CapLLM) {
		out.Engine = d.Engine
	}
	if declared(CapGateway, CapAdmin) {
		out.Gateway = d.Gateway
	}
	if declared(CapAdmin) {
		out.Approvals = d.Approvals
	}
	return out
}

// CallObserver receives one call per dispatched tool, e.g. for metrics.
type CallObserver interface {
	ObserveToolCall(tool, profile, status string, elapsed time.Duration)
}

// TelemetryRecorder receives one event per dispatched tool.
type TelemetryRecorder interface {
	Record(e storage.TelemetryEvent)
}

// Server dispatches calls for one profile.
type Server struct {
	profile   Profile
	deps      Deps
	tools     map[string]*ToolSpec
	logger    *slog.Logger
	observer  CallObserver
	telemetry TelemetryRecorder
	now       func() time.Time

	meID *accountID
}

// Option configures a Server.
type Option func(*Server)

// WithCallObserver reports every call to o.
func WithCallObserver(o CallObserver) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithTelemetry records a telemetry event per call.
func WithTelemetry(r TelemetryRecorder) Option {
	return func(s *Server) {
		s.telemetry = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// ErrMissingCapability is returned by NewServer when deps lack a
// capability the profile declares.
var ErrMissingCapability = errors.New("missing capability")

// NewServer builds the server for profile. It fails when deps miss a
// capability the profile declares, so a profile never starts without the
// handles its tools need. Handles the profile does not declare are dropped,
// so a utility server never holds storage, the engine or the gateway.
func NewServer(profile Profile, deps Deps, logger *slog.Logger, opts ...Option) (*Server, error) {
	if _, ok := profileTable[profile]; !ok {
		return nil, fmt.Errorf("unknown profile %q", profile)
	}
	var missing []string
	for _, c := range profile.Capabilities() {
		if !deps.has(c) {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("profile %s: %w: %s", profile, ErrMissingCapability, strings.Join(missing, ", "))
	}

	s := &Server{
		profile: profile,
		deps:    deps.restrict(profile.Capabilities()),
		tools:   make(map[string]*ToolSpec),
		logger:  logger,
		now:     time.Now,
		meID:    &accountID{},
	}
	for _, t := range ToolsFor(profile) {
		for _, c := range t.Requires {
			if !profile.has(c) {
				return nil, fmt.Errorf("tool %s needs capability %s that profile %s lacks", t.Name, c, profile)
			}
		}
		s.tools[t.Name] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Profile returns the server's profile.
func (s *Server) Profile() Profile {
	return s.profile
}

// Tools returns the server's tools sorted by name.
func (s *Server) Tools() []*ToolSpec {
	out := make([]*ToolSpec, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tool returns the named tool.
func (s *Server) Tool(name string) (*ToolSpec, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Call validates and runs one tool call. It always returns exactly one
// envelope.
func (s *Server) Call(ctx context.Context, req Request) Envelope {
	start := s.now()
	inv := &invocation{server: s, req: req, actor: req.Caller.Actor()}

	var env Envelope
	t, ok := s.tools[req.Tool]
	switch {
	case !ok:
		env = failure(newError(CodeUnknownTool, "tool %q is not available in profile %s", req.Tool, s.profile))
	case t.group == groupAdmin && req.Caller.Role != policy.ActorAdmin:
		env = failure(newError(CodeForbidden, "tool %s requires an admin caller", t.Name))
	default:
		if err := t.Schema.Validate(req.Params); err != nil {
			env = failure(newError(CodeInvalidParams, "%s", err.Error()))
			break
		}
		inv.spec = t
		data, err := t.Handler(ctx, inv)
		env = Envelope{OK: err == nil, Data: data, Error: MapError(err)}
	}

	env.Meta = Meta{
		RequestID: inv.requestID,
		Tool:      req.Tool,
		Profile:   s.profile,
		Gated:     ok && t.Gated(),
		StartedAt: start.UTC(),
		Decision:  inv.decision,
	}
	if env.Meta.RequestID == "" {
		env.Meta.RequestID = uuid.NewString()
	}
	if s.deps.Gateway != nil {
		env.Meta.Mode = s.deps.Gateway.Mode()
	}
	elapsed := s.now().Sub(start)
	env.Meta.ElapsedMS = elapsed.Milliseconds()
	s.observe(req, env, elapsed)
	return env
}

// status is the metrics label for an envelope.
func status(env Envelope) string {
	if env.OK {
		return "ok"
	}
	return string(env.Error.Code)
}

func (s *Server) observe(req Request, env Envelope, elapsed time.Duration) {
	st := status(env)
	if s.observer != nil {
		s.observer.ObserveToolCall(req.Tool, string(s.profile), st, elapsed)
	}
	if s.telemetry != nil {
		ev := storage.TelemetryEvent{
			ID:         env.Meta.RequestID,
			Source:     storage.SourceTool,
			Name:       req.Tool,
			Result:     st,
			DurationMS: elapsed.Milliseconds(),
			Details:    map[string]any{"profile": string(s.profile), "actor": req.Caller.Actor()},
			At:         env.Meta.StartedAt,
		}
		if env.Error != nil {
			ev.Error = env.Error.Message
		}
		s.telemetry.Record(ev)
	}
	if env.OK {
		s.logger.Debug("tool call", "tool", req.Tool, "profile", s.profile, "elapsed", elapsed)
	} else {
		s.logger.Info("tool call failed", "tool", req.Tool, "profile", s.profile, "code", env.Error.Code, "error", env.Error.Message)
	}
}
