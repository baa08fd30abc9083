package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpadapter "github.com/kestrel-social/kestrel/internal/adapter/inbound/http"
	auditlog "github.com/kestrel-social/kestrel/internal/adapter/outbound/audit"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/generator"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/memory"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/sqlite"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/state"
	"github.com/kestrel-social/kestrel/internal/adapter/outbound/xapi"
	"github.com/kestrel-social/kestrel/internal/config"
	"github.com/kestrel-social/kestrel/internal/dispatch"
	"github.com/kestrel-social/kestrel/internal/domain/audit"
	"github.com/kestrel-social/kestrel/internal/domain/content"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
	"github.com/kestrel-social/kestrel/internal/service"
	"github.com/kestrel-social/kestrel/internal/telemetry"
	"github.com/kestrel-social/kestrel/internal/workflow"
)

// app is the component graph shared by serve and autopilot.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	caps []dispatch.Capability

	db        *sql.DB
	store     *sqlite.Store
	provider  provider.Provider
	tokens    *xapi.TokenManager // nil with the mock provider
	limiter   *memory.MemoryRateLimiter
	approvals *service.ApprovalService
	telemetry *service.TelemetryService
	gateway   *service.GatewayService
	engine    *workflow.Engine
	history   *workflow.History

	registry *prometheus.Registry
	metrics  *httpadapter.Metrics

	closers []func()
}

// newApp wires the components caps need. Close releases them in reverse
// order. The provider is always built; storage comes with CapStorage and the
// generator, gateway, approvals and workflow engine with CapLLM, CapGateway
// or CapAdmin, so a utility profile never opens the database or the LLM.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, caps []dispatch.Capability) (*app, error) {
	a := &app{cfg: cfg, logger: logger, caps: caps}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// allCapabilities is the footprint of the largest profile, used by autopilot.
func allCapabilities() []dispatch.Capability {
	return dispatch.ProfileAdmin.Capabilities()
}

func (a *app) needs(c ...dispatch.Capability) bool {
	for _, want := range c {
		if slices.Contains(a.caps, want) {
			return true
		}
	}
	return false
}

func (a *app) init(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	shutdownOTel, err := telemetry.Init("kestrel", Version, telemetry.Config{Exporter: cfg.Telemetry.Exporter})
	if err != nil {
		return err
	}
	a.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	})

	a.limiter = memory.NewRateLimiter()
	a.limiter.StartCleanup(ctx)
	a.onClose(a.limiter.Stop)

	if err := a.initProvider(); err != nil {
		return err
	}

	a.registry = httpadapter.NewRegistry()
	a.metrics = httpadapter.NewMetrics(a.registry)
	gauges := httpadapter.GaugeSources{
		RateLimitKeys: func() float64 { return float64(a.limiter.Size()) },
	}

	if a.needs(dispatch.CapStorage) {
		if err := a.initStorage(ctx); err != nil {
			return err
		}
		gauges.TelemetryDrops = func() float64 { return float64(a.telemetry.DroppedEvents()) }
	}
	if a.needs(dispatch.CapLLM, dispatch.CapGateway, dispatch.CapAdmin) {
		if a.store == nil {
			return errors.New("the gateway and workflow engine need storage")
		}
		if err := a.initWorkflow(ctx); err != nil {
			return err
		}
		gauges.ApprovalsPending = func() float64 {
			gctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			n, err := a.approvals.CountPending(gctx)
			if err != nil {
				return 0
			}
			return float64(n)
		}
	}
	httpadapter.RegisterGauges(a.registry, gauges)

	logger.Info("kestrel initialized",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"mode", cfg.Mode,
		"provider", cfg.Provider.Kind,
		"storage", a.store != nil,
		"gateway", a.gateway != nil,
	)
	return nil
}

// initStorage opens the database, the history read model and the telemetry
// writer.
func (a *app) initStorage(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var err error
	a.db, err = sqlite.Open(ctx, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	a.onClose(func() { _ = a.db.Close() })
	if a.store, err = sqlite.NewStore(a.db); err != nil {
		return err
	}
	if a.history, err = workflow.NewHistory(a.store); err != nil {
		return err
	}
	logger.Info("storage opened", "dsn", cfg.Storage.DSN)

	a.telemetry = service.NewTelemetryService(a.store, logger,
		service.WithChannelSize(cfg.Telemetry.ChannelSize),
		service.WithBatchSize(cfg.Telemetry.BatchSize),
		service.WithFlushInterval(cfg.Telemetry.FlushInterval),
		service.WithSendTimeout(cfg.Telemetry.SendTimeout),
	)
	a.telemetry.Start(ctx)
	a.onClose(a.telemetry.Stop)
	return nil
}

// initWorkflow builds the audit trail, approvals, gateway, generator and
// workflow engine on top of storage.
func (a *app) initWorkflow(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	sqlAudit, err := sqlite.NewAuditStore(a.db)
	if err != nil {
		return err
	}
	var auditStore audit.Store = sqlAudit
	if j := cfg.Storage.Journal; j.Dir != "" {
		journal, err := auditlog.NewJournal(auditlog.JournalConfig{
			Dir:           j.Dir,
			RetentionDays: j.RetentionDays,
			MaxFileSizeMB: j.MaxFileSizeMB,
		}, logger)
		if err != nil {
			return err
		}
		a.onClose(func() { _ = journal.Close() })
		auditStore = auditlog.NewMirroredStore(sqlAudit, journal, logger)
		logger.Info("audit journal enabled", "dir", j.Dir)
	}
	approvalStore, err := sqlite.NewApprovalStore(a.db)
	if err != nil {
		return err
	}

	gen, err := newGenerator(ctx, cfg.Generator, logger)
	if err != nil {
		return err
	}

	policyCfg := cfg.GatewayPolicy()
	rules, err := service.NewRuleEngine(policyCfg.Rules, logger)
	if err != nil {
		return fmt.Errorf("policy rules: %w", err)
	}
	a.gateway, err = service.NewGatewayService(policyCfg, cfg.OperatingMode(), rules, a.limiter, auditStore, approvalStore, logger,
		service.WithPlatformQuota(a.limiter),
		service.WithDecisionObserver(a.metrics),
		service.WithIdempotencyWindow(cfg.Policy.IdempotencyWindow, cfg.Policy.IdempotencySize),
	)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	a.approvals = service.NewApprovalService(approvalStore, logger)

	a.engine, err = workflow.NewEngine(workflow.Deps{
		Provider:  a.provider,
		Store:     a.store,
		Generator: gen,
		Gateway:   a.gateway,
		Approvals: a.approvals,
	}, cfg.WorkflowConfig(), logger)
	if err != nil {
		return err
	}
	logger.Info("gateway ready",
		"generator", cfg.Generator.Kind,
		"rules", len(policyCfg.Rules),
		"rate_limits", len(policyCfg.Limits),
	)
	return nil
}

func (a *app) initProvider() error {
	switch a.cfg.Provider.Kind {
	case "mock":
		a.provider = mockprovider.New()
		a.logger.Warn("using the mock provider, nothing is posted to a real platform")
		return nil
	case "xapi":
		p := a.cfg.Provider
		creds := state.NewCredentialStore(p.CredentialsFile, a.logger)
		tokens, err := xapi.NewTokenManager(xapi.OAuthConfig{
			ClientID:     p.OAuth.ClientID,
			ClientSecret: p.OAuth.ClientSecret,
			TokenURL:     p.OAuth.TokenURL,
		}, creds, a.logger)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		a.tokens = tokens
		a.provider = xapi.NewClient(p.BaseURL, tokens, a.logger,
			xapi.WithTimeout(p.Timeout),
			xapi.WithRateLimitObserver(a.limiter.Observe),
		)
		return nil
	default:
		return fmt.Errorf("unknown provider kind %q", a.cfg.Provider.Kind)
	}
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig, logger *slog.Logger) (content.Generator, error) {
	switch cfg.Kind {
	case "template":
		return generator.NewTemplate(), nil
	case "gemini":
		return generator.NewGemini(ctx, cfg.APIKey, logger,
			generator.WithModel(cfg.Model),
			generator.WithTemperature(cfg.Temperature),
			generator.WithTimeout(cfg.Timeout),
			generator.WithBaseURL(cfg.BaseURL),
		)
	default:
		return nil, fmt.Errorf("unknown generator kind %q", cfg.Kind)
	}
}

// dispatchDeps returns the handles this app built; NewServer checks the
// ones a profile needs and drops the rest.
func (a *app) dispatchDeps() dispatch.Deps {
	return dispatch.Deps{
		Provider:  a.provider,
		Engine:    a.engine,
		History:   a.history,
		Gateway:   a.gateway,
		Approvals: a.approvals,
		Scoring:   a.cfg.Scoring,
	}
}

// healthChecker skips the components this app did not build.
func (a *app) healthChecker() *httpadapter.HealthChecker {
	return httpadapter.NewHealthChecker(a.limiter, a.telemetry, a.approvals, Version)
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newLogger writes text logs to stderr; stdout carries the MCP stdio stream.
// DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
