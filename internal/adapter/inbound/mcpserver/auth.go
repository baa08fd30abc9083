package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kestrel-social/kestrel/internal/domain/auth"
)

// roleKey holds the caller role in TokenInfo.Extra.
const roleKey = "role"

// tokenTTL bounds how long a verified key is trusted by the SDK before the
// next request re-verifies it.
const tokenTTL = time.Hour

// Verifier resolves bearer tokens against the configured API keys.
func Verifier(keys *auth.KeyService, now func() time.Time) mcpauth.TokenVerifier {
	return func(ctx context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
		c, err := keys.Authenticate(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", mcpauth.ErrInvalidToken, err)
		}
		exp := now().Add(tokenTTL)
		if c.ExpiresAt != nil && c.ExpiresAt.Before(exp) {
			exp = *c.ExpiresAt
		}
		return &mcpauth.TokenInfo{
			UserID:     c.ID,
			Expiration: exp,
			Extra:      map[string]any{roleKey: string(c.Role)},
		}, nil
	}
}

// HTTPHandler serves server over the streamable HTTP transport. With a nil
// keys every request runs as the fallback caller.
func HTTPHandler(server *mcp.Server, keys *auth.KeyService, logger *slog.Logger) http.Handler {
	h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	if keys == nil {
		logger.Warn("mcp http endpoint has no API keys configured, requests are unauthenticated")
		return h
	}
	return mcpauth.RequireBearerToken(Verifier(keys, time.Now), nil)(h)
}
