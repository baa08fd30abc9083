// Package mcpserver exposes a dispatch server over the Model Context Protocol.
//
// Every registered tool becomes an MCP tool whose input schema is the
// dispatch schema. The tool result carries the dispatch envelope twice: as
// JSON text for clients that only read content, and as structured content.
// IsError mirrors !envelope.ok.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kestrel-social/kestrel/internal/dispatch"
	"github.com/kestrel-social/kestrel/internal/domain/auth"
)

// ServerName is the MCP implementation name.
const ServerName = "kestrel"

// Option configures New.
type Option func(*bridge)

// WithCaller sets the caller used when a request carries no token,
// e.g. on stdio.
func WithCaller(c dispatch.Caller) Option {
	return func(b *bridge) {
		b.fallback = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *bridge) {
		b.logger = logger
	}
}

type bridge struct {
	srv      *dispatch.Server
	fallback dispatch.Caller
	logger   *slog.Logger
}

// New builds an MCP server exposing the tools of srv.
func New(srv *dispatch.Server, version string, opts ...Option) *mcp.Server {
	b := &bridge{
		srv:      srv,
		fallback: dispatch.Caller{ID: "local"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}

	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	for _, t := range srv.Tools() {
		server.AddTool(&mcp.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema.Raw(),
			Annotations: annotations(t),
		}, b.handle)
	}
	b.logger.Debug("mcp server ready", "profile", srv.Profile(), "tools", len(srv.Tools()))
	return server
}

func annotations(t *dispatch.ToolSpec) *mcp.ToolAnnotations {
	a := &mcp.ToolAnnotations{ReadOnlyHint: !t.Mutation()}
	if t.Mutation() {
		destructive := t.Name == "delete_tweet"
		a.DestructiveHint = &destructive
	}
	return a
}

func (b *bridge) handle(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	env := b.srv.Call(ctx, dispatch.Request{
		Tool:   req.Params.Name,
		Params: req.Params.Arguments,
		Caller: b.caller(req),
	})
	return toResult(env)
}

// caller prefers the identity the bearer token resolved to.
func (b *bridge) caller(req *mcp.CallToolRequest) dispatch.Caller {
	if req.Extra == nil || req.Extra.TokenInfo == nil {
		return b.fallback
	}
	ti := req.Extra.TokenInfo
	c := dispatch.Caller{ID: ti.UserID, Role: string(auth.RoleAgent)}
	if role, ok := ti.Extra[roleKey].(string); ok {
		c.Role = role
	}
	return c
}

func toResult(env dispatch.Envelope) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(raw)}},
		StructuredContent: json.RawMessage(raw),
		IsError:           !env.OK,
	}, nil
}
