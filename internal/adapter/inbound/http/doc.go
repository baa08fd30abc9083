// Package http serves kestrel over HTTP.
//
// # Endpoints
//
//	/mcp      - MCP streamable HTTP, bearer API key per caller
//	/healthz  - component health as JSON, 503 when unhealthy
//	/metrics  - Prometheus exposition, namespace "kestrel"
//
// The autopilot process runs the transport without an MCP handler, so only
// /healthz and /metrics are served.
//
// # Middleware Chain
//
// Requests to /mcp pass through, outermost first:
//
//  1. MetricsMiddleware - duration and status class
//  2. RequestIDMiddleware - X-Request-ID and an enriched logger
//  3. RealIPMiddleware - client IP from proxy headers
//  4. DNSRebindingProtection - Origin allowlist
//
// Bearer authentication is applied by the MCP handler itself, see
// package mcpserver.
package http
