package mcpserver

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kestrel-social/kestrel/internal/port/inbound"
)

// StdioTransport serves one MCP session over stdin/stdout.
type StdioTransport struct {
	server *mcp.Server
}

// NewStdioTransport wraps server for stdio.
func NewStdioTransport(server *mcp.Server) *StdioTransport {
	return &StdioTransport{server: server}
}

// Start blocks until the client disconnects or ctx is cancelled.
func (t *StdioTransport) Start(ctx context.Context) error {
	err := t.server.Run(ctx, &mcp.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close is a no-op; the session ends with Start's context.
func (t *StdioTransport) Close() error {
	return nil
}

var _ inbound.Transport = (*StdioTransport)(nil)
