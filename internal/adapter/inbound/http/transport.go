package http

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrel-social/kestrel/internal/port/inbound"
)

const (
	mcpPath     = "/mcp"
	healthPath  = "/healthz"
	metricsPath = "/metrics"
)

// HTTPTransport serves the MCP endpoint, health and metrics.
type HTTPTransport struct {
	mcpHandler     http.Handler
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option is a functional option for configuring HTTPTransport.
type Option func(*HTTPTransport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *HTTPTransport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(t *HTTPTransport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the browser origins allowed on /mcp.
func WithAllowedOrigins(origins []string) Option {
	return func(t *HTTPTransport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *HTTPTransport) {
		t.logger = logger
	}
}

// WithHealthChecker serves hc on /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *HTTPTransport) {
		t.healthChecker = hc
	}
}

// WithMetrics serves reg on /metrics and records HTTP metrics into m.
// Without it the transport creates its own registry.
func WithMetrics(reg *prometheus.Registry, m *Metrics) Option {
	return func(t *HTTPTransport) {
		t.registry = reg
		t.metrics = m
	}
}

// NewHTTPTransport creates the transport. A nil mcpHandler serves only
// /healthz and /metrics, which is how the autopilot process runs.
func NewHTTPTransport(mcpHandler http.Handler, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		mcpHandler:     mcpHandler,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.registry == nil {
		t.registry = NewRegistry()
		t.metrics = NewMetrics(t.registry)
	}
	return t
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler builds the routed handler.
//
// Middleware order on /mcp, outermost first: Metrics, RequestID, RealIP,
// DNSRebinding. Metrics is outermost so it sees the full duration.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle(healthPath, t.healthChecker.Handler())
	} else {
		mux.Handle(healthPath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
	}
	mux.Handle(metricsPath, promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry}))

	if t.mcpHandler != nil {
		h := DNSRebindingProtection(t.allowedOrigins)(t.mcpHandler)
		h = RealIPMiddleware(h)
		h = RequestIDMiddleware(t.logger)(h)
		mux.Handle(mcpPath, h)
		mux.Handle(mcpPath+"/", h)
	}
	return MetricsMiddleware(t.metrics)(mux)
}

// Start serves until ctx is cancelled or the listener fails.
func (t *HTTPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return err
	}
	return t.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (t *HTTPTransport) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	tlsOn := t.certFile != "" && t.keyFile != ""
	if tlsOn {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	t.mu.Lock()
	t.server = srv
	t.listener = ln
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsOn {
			t.logger.Info("starting HTTPS server", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once serving.
func (t *HTTPTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return t.addr
	}
	return t.listener.Addr().String()
}

func (t *HTTPTransport) shutdown() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// Close gracefully shuts down the transport.
func (t *HTTPTransport) Close() error {
	return t.shutdown()
}

var _ inbound.Transport = (*HTTPTransport)(nil)
