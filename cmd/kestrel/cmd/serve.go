package cmd

import (
	"fmt"
	"net/http"
	"os/signal"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	httpadapter "github.com/kestrel-social/kestrel/internal/adapter/inbound/http"
	"github.com/kestrel-social/kestrel/internal/adapter/inbound/mcpserver"
	"github.com/kestrel-social/kestrel/internal/dispatch"
	"github.com/kestrel-social/kestrel/internal/domain/auth"
)

var (
	serveProfile string
	serveHTTP    bool
	serveAddr    string
	serveCaller  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a tool profile over MCP",
	Long: `Serve one tool profile to MCP clients.

By default the server speaks MCP over stdin/stdout, which is what desktop
clients expect when they spawn kestrel. With --http it serves the streamable
HTTP transport on /mcp together with /healthz and /metrics; requests must
then carry a bearer API key from the callers section of the config.

Profiles, smallest first:
  utility-readonly  read and scoring tools
  readonly          read, scoring and history tools
  utility-write     readonly plus raw platform writes
  write             readonly plus gated mutations and composites
  admin             write plus approvals, audit and mode control

Examples:
  kestrel --dev serve --profile write
  kestrel serve --profile admin --http --addr 127.0.0.1:8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveProfile, "profile", "", "tool profile to expose (required)")
	serveCmd.Flags().BoolVar(&serveHTTP, "http", false, "serve streamable HTTP instead of stdio")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (default: server.http_addr)")
	serveCmd.Flags().StringVar(&serveCaller, "caller", "local", "caller id recorded in the audit log for stdio requests")
	_ = serveCmd.MarkFlagRequired("profile")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	profile, err := dispatch.ParseProfile(serveProfile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).With("profile", string(profile))

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	a, err := newApp(ctx, cfg, logger, profile.Capabilities())
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := a.mcpServer(profile, serveCaller)
	if err != nil {
		return err
	}

	if !serveHTTP {
		logger.Info("serving MCP on stdio")
		return mcpserver.NewStdioTransport(server).Start(ctx)
	}

	var keys *auth.KeyService
	if callers := cfg.AuthCallers(); len(callers) > 0 {
		if keys, err = auth.NewKeyService(callers); err != nil {
			return fmt.Errorf("api keys: %w", err)
		}
	}
	transport := a.httpTransport(mcpserver.HTTPHandler(server, keys, logger), serveAddr)
	return transport.Start(ctx)
}

// mcpServer builds the dispatch server for profile and its MCP front.
// The fallback caller is an admin only under the admin profile.
func (a *app) mcpServer(profile dispatch.Profile, callerID string) (*mcp.Server, error) {
	opts := []dispatch.Option{dispatch.WithCallObserver(a.metrics)}
	if a.telemetry != nil {
		opts = append(opts, dispatch.WithTelemetry(a.telemetry))
	}
	srv, err := dispatch.NewServer(profile, a.dispatchDeps(), a.logger, opts...)
	if err != nil {
		return nil, err
	}
	caller := dispatch.Caller{ID: callerID, Role: string(auth.RoleAgent)}
	if profile == dispatch.ProfileAdmin {
		caller.Role = string(auth.RoleAdmin)
	}
	return mcpserver.New(srv, Version,
		mcpserver.WithCaller(caller),
		mcpserver.WithLogger(a.logger),
	), nil
}

// httpTransport serves mcpHandler (nil for health and metrics only) on addr,
// or on server.http_addr when addr is empty.
func (a *app) httpTransport(mcpHandler http.Handler, addr string) *httpadapter.HTTPTransport {
	if addr == "" {
		addr = a.cfg.Server.HTTPAddr
	}
	opts := []httpadapter.Option{
		httpadapter.WithAddr(addr),
		httpadapter.WithAllowedOrigins(a.cfg.Server.AllowedOrigins),
		httpadapter.WithLogger(a.logger),
		httpadapter.WithHealthChecker(a.healthChecker()),
		httpadapter.WithMetrics(a.registry, a.metrics),
	}
	if tls := a.cfg.Server.TLS; tls.Enabled() {
		opts = append(opts, httpadapter.WithTLS(tls.CertFile, tls.KeyFile))
	}
	return httpadapter.NewHTTPTransport(mcpHandler, opts...)
}
