package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/mockprovider"
	"github.com/kestrel-social/kestrel/internal/dispatch"
	"github.com/kestrel-social/kestrel/internal/domain/auth"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDispatch(t *testing.T) *dispatch.Server {
	t.Helper()
	srv, err := dispatch.NewServer(dispatch.ProfileUtilityReadonly, dispatch.Deps{Provider: mockprovider.New()}, testLogger())
	require.NoError(t, err)
	return srv
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

func envelopeOf(t *testing.T, res *mcp.CallToolResult) dispatch.Envelope {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	var env dispatch.Envelope
	require.NoError(t, json.Unmarshal([]byte(text.Text), &env))
	return env
}

func TestServer_ListsProfileTools(t *testing.T) {
	d := newDispatch(t)
	cs := connect(t, New(d, "test", WithLogger(testLogger())))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description, "tool %s", tool.Name)
		require.NotNil(t, tool.Annotations)
		assert.True(t, tool.Annotations.ReadOnlyHint, "utility-readonly tool %s", tool.Name)
	}
	assert.Len(t, names, len(d.Tools()))
	assert.Contains(t, names, "get_me")
	assert.NotContains(t, names, "post_tweet")
}

func TestServer_CallReturnsEnvelope(t *testing.T) {
	cs := connect(t, New(newDispatch(t), "test", WithLogger(testLogger())))
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_me", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	env := envelopeOf(t, res)
	assert.True(t, env.OK)
	assert.Equal(t, "get_me", env.Meta.Tool)
	assert.Equal(t, dispatch.ProfileUtilityReadonly, env.Meta.Profile)
	assert.NotEmpty(t, env.Meta.RequestID)
	assert.NotNil(t, res.StructuredContent)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_tweet", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	env = envelopeOf(t, res)
	assert.False(t, env.OK)
	require.NotNil(t, env.Error)
	assert.Equal(t, dispatch.CodeInvalidParams, env.Error.Code)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_tweet", Arguments: map[string]any{"tweet_id": "999"}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, dispatch.CodeNotFound, envelopeOf(t, res).Error.Code)
}

func TestBridge_Caller(t *testing.T) {
	b := &bridge{fallback: dispatch.Caller{ID: "stdio"}}

	req := &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Name: "get_me"}}
	assert.Equal(t, dispatch.Caller{ID: "stdio"}, b.caller(req))

	req.Extra = &mcp.RequestExtra{TokenInfo: &mcpauth.TokenInfo{UserID: "ops", Extra: map[string]any{roleKey: "admin"}}}
	assert.Equal(t, dispatch.Caller{ID: "ops", Role: "admin"}, b.caller(req))

	req.Extra = &mcp.RequestExtra{TokenInfo: &mcpauth.TokenInfo{UserID: "bot"}}
	assert.Equal(t, dispatch.Caller{ID: "bot", Role: string(auth.RoleAgent)}, b.caller(req))
}

func TestVerifier(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	soon := now.Add(10 * time.Minute)
	keys, err := auth.NewKeyService([]auth.Caller{
		{ID: "ops", Role: auth.RoleAdmin, KeyHash: "sha256:" + auth.HashKey("admin-key")},
		{ID: "bot", KeyHash: "sha256:" + auth.HashKey("bot-key"), ExpiresAt: &soon},
		{ID: "gone", KeyHash: "sha256:" + auth.HashKey("old-key"), Revoked: true},
	})
	require.NoError(t, err)
	verify := Verifier(keys, func() time.Time { return now })
	ctx := context.Background()

	ti, err := verify(ctx, "admin-key", nil)
	require.NoError(t, err)
	assert.Equal(t, "ops", ti.UserID)
	assert.Equal(t, "admin", ti.Extra[roleKey])
	assert.Equal(t, now.Add(tokenTTL), ti.Expiration)

	ti, err = verify(ctx, "bot-key", nil)
	require.NoError(t, err)
	assert.Equal(t, soon, ti.Expiration, "key expiry caps the token lifetime")

	for _, key := range []string{"old-key", "wrong", ""} {
		_, err = verify(ctx, key, nil)
		assert.ErrorIs(t, err, mcpauth.ErrInvalidToken, "key %q", key)
	}
}

type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(r)
}

func TestHTTPHandler_RequiresBearerToken(t *testing.T) {
	keys, err := auth.NewKeyService([]auth.Caller{{ID: "bot", KeyHash: "sha256:" + auth.HashKey("bot-key")}})
	require.NoError(t, err)
	ts := httptest.NewServer(HTTPHandler(New(newDispatch(t), "test", WithLogger(testLogger())), keys, testLogger()))
	defer ts.Close()

	resp, err := http.Post(ts.URL, "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   ts.URL,
		HTTPClient: &http.Client{Transport: bearer{token: "bot-key", next: http.DefaultTransport}},
	}, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: "get_me", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.True(t, envelopeOf(t, res).OK)
}
