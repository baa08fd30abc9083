package cmd

import (
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-social/kestrel/internal/autopilot"
)

var autopilotNoHTTP bool

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Run the agent loops",
	Long: `Run the discovery, mentions, content, threads and token refresh loops
until interrupted. Every mutation goes through the policy gateway as the
scheduler actor, so rules, rate limits and review mode apply exactly as they
do to MCP clients.

Loops and intervals are configured under autopilot in the config file. The
process also serves /healthz and /metrics on server.http_addr unless
--no-http is given.

Examples:
  kestrel --dev autopilot
  kestrel --config /etc/kestrel/kestrel.yaml autopilot --no-http`,
	Args: cobra.NoArgs,
	RunE: runAutopilot,
}

func init() {
	autopilotCmd.Flags().BoolVar(&autopilotNoHTTP, "no-http", false, "do not serve /healthz and /metrics")
	rootCmd.AddCommand(autopilotCmd)
}

func runAutopilot(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).With("component", "autopilot")

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	a, err := newApp(ctx, cfg, logger, allCapabilities())
	if err != nil {
		return err
	}
	defer a.Close()

	sched, err := a.scheduler()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	if !autopilotNoHTTP {
		transport := a.httpTransport(nil, "")
		g.Go(func() error { return transport.Start(ctx) })
	}
	return g.Wait()
}

// scheduler builds the autopilot over the workflow engine. Token refresh
// runs only against the real platform.
func (a *app) scheduler() (*autopilot.Scheduler, error) {
	opts := []autopilot.Option{
		autopilot.WithCycleObserver(a.metrics),
		autopilot.WithTelemetry(a.telemetry),
	}
	if a.tokens != nil {
		opts = append(opts, autopilot.WithRefresher(a.tokens))
	}
	return autopilot.New(a.cfg.AutopilotSchedule(), a.engine, a.logger, opts...)
}
