package cmd

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-social/kestrel/internal/config"
	"github.com/kestrel-social/kestrel/internal/dispatch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// devConfig is the --dev configuration without the stdout exporter.
func devConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{DevMode: true, Telemetry: config.TelemetryConfig{Exporter: "none"}}
	cfg.SetDefaults()
	cfg.SetDevDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	return newScopedTestApp(t, cfg, allCapabilities())
}

func newScopedTestApp(t *testing.T, cfg *config.Config, caps []dispatch.Capability) *app {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, testLogger(), caps)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		a.Close()
	})
	return a
}

func connect(t *testing.T, server *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestNewApp_ServesEveryProfile(t *testing.T) {
	a := newTestApp(t, devConfig(t))
	assert.Nil(t, a.tokens, "mock provider has no token manager")

	for _, p := range dispatch.Profiles() {
		t.Run(string(p), func(t *testing.T) {
			server, err := a.mcpServer(p, "local")
			require.NoError(t, err)

			res, err := connect(t, server).ListTools(context.Background(), nil)
			require.NoError(t, err)
			assert.Len(t, res.Tools, len(dispatch.ToolsFor(p)))
		})
	}
}

func TestNewApp_StdioCallerRecordsCalls(t *testing.T) {
	a := newTestApp(t, devConfig(t))
	server, err := a.mcpServer(dispatch.ProfileReadonly, "local")
	require.NoError(t, err)

	res, err := connect(t, server).CallTool(context.Background(), &mcp.CallToolParams{Name: "get_me", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var env dispatch.Envelope
	require.Len(t, res.Content, 1)
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &env))
	assert.True(t, env.OK)
	assert.Equal(t, dispatch.ProfileReadonly, env.Meta.Profile)
}

func TestNewApp_ProviderFailureReleasesResources(t *testing.T) {
	cfg := devConfig(t)
	cfg.Provider.Kind = "xapi"
	cfg.Provider.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	cfg.Provider.OAuth.ClientID = "client"

	a, err := newApp(context.Background(), cfg, testLogger(), allCapabilities())
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "load credentials")
}

func TestNewApp_UnknownGenerator(t *testing.T) {
	cfg := devConfig(t)
	cfg.Generator.Kind = "markov"

	_, err := newApp(context.Background(), cfg, testLogger(), allCapabilities())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown generator kind "markov"`)
}

func TestNewApp_UtilityProfilesSkipStorageAndLLM(t *testing.T) {
	for _, p := range []dispatch.Profile{dispatch.ProfileUtilityReadonly, dispatch.ProfileUtilityWrite} {
		t.Run(string(p), func(t *testing.T) {
			cfg := devConfig(t)
			// Neither would survive initialization if it were attempted.
			cfg.Generator.Kind = "markov"
			cfg.Storage.DSN = filepath.Join(t.TempDir(), "missing", "dir", "kestrel.db")

			a := newScopedTestApp(t, cfg, p.Capabilities())
			assert.Nil(t, a.db)
			assert.Nil(t, a.store)
			assert.Nil(t, a.history)
			assert.Nil(t, a.telemetry)
			assert.Nil(t, a.gateway)
			assert.Nil(t, a.engine)
			assert.Nil(t, a.approvals)

			server, err := a.mcpServer(p, "local")
			require.NoError(t, err)
			res, err := connect(t, server).CallTool(context.Background(), &mcp.CallToolParams{Name: "get_me", Arguments: map[string]any{}})
			require.NoError(t, err)
			assert.False(t, res.IsError)

			_, err = a.mcpServer(dispatch.ProfileWrite, "local")
			assert.ErrorIs(t, err, dispatch.ErrMissingCapability)
		})
	}
}

func TestNewApp_ReadonlySkipsGateway(t *testing.T) {
	cfg := devConfig(t)
	cfg.Generator.Kind = "markov"

	a := newScopedTestApp(t, cfg, dispatch.ProfileReadonly.Capabilities())
	assert.NotNil(t, a.history)
	assert.Nil(t, a.gateway)
	assert.Nil(t, a.engine)

	_, err := a.mcpServer(dispatch.ProfileReadonly, "local")
	require.NoError(t, err)
}

func TestNewApp_AuditJournal(t *testing.T) {
	cfg := devConfig(t)
	cfg.Storage.Journal.Dir = filepath.Join(t.TempDir(), "journal")
	newTestApp(t, cfg)

	matches, err := filepath.Glob(filepath.Join(cfg.Storage.Journal.Dir, "mutations-*.jsonl"))
	require.NoError(t, err)
	assert.Len(t, matches, 1, "journal opens today's file on start")
}

func TestApp_HTTPTransportServesHealthAndMetrics(t *testing.T) {
	a := newTestApp(t, devConfig(t))
	ts := httptest.NewServer(a.httpTransport(nil, "127.0.0.1:0").Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(ts.URL + "/mcp")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "autopilot transport has no MCP endpoint")
}

func TestApp_Scheduler(t *testing.T) {
	cfg := devConfig(t)
	a := newTestApp(t, cfg)

	_, err := a.scheduler()
	require.Error(t, err, "discovery is on by default and needs queries")
	assert.Contains(t, err.Error(), "at least one query")

	cfg.Autopilot.Discovery.Queries = []string{"golang"}
	sched, err := a.scheduler()
	require.NoError(t, err)
	assert.NotNil(t, sched)
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "parseLogLevel(%q)", in)
	}
}
