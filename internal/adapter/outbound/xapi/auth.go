package xapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/kestrel-social/kestrel/internal/adapter/outbound/state"
	"github.com/kestrel-social/kestrel/internal/domain/provider"
)

// DefaultTokenURL is the OAuth2 token endpoint.
const DefaultTokenURL = "https://api.x.com/2/oauth2/token"

// endpointTokenRefresh names token refreshes in errors.
const endpointTokenRefresh = "token_refresh"

// minRefreshInterval suppresses a second refresh right after one succeeded,
// which happens when several callers see the same auth failure.
const minRefreshInterval = 10 * time.Second

// OAuthConfig identifies the OAuth2 client that owns the user tokens.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// TokenManager serves the current user access token and refreshes it with
// the stored refresh token. Refreshed tokens are written back to the
// credential file. It implements oauth2.TokenSource.
type TokenManager struct {
	conf   *oauth2.Config
	store  *state.CredentialStore
	client *http.Client
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	current     *oauth2.Token
	lastRefresh time.Time
}

// TokenOption configures a TokenManager.
type TokenOption func(*TokenManager)

// WithTokenHTTPClient sets the HTTP client used for refresh requests.
func WithTokenHTTPClient(c *http.Client) TokenOption {
	return func(m *TokenManager) { m.client = c }
}

// WithTokenClock overrides the clock.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) { m.now = now }
}

// NewTokenManager loads the stored credentials. It fails when none exist.
func NewTokenManager(cfg OAuthConfig, store *state.CredentialStore, logger *slog.Logger, opts ...TokenOption) (*TokenManager, error) {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	style := oauth2.AuthStyleInHeader
	if cfg.ClientSecret == "" {
		style = oauth2.AuthStyleInParams
	}
	m := &TokenManager{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: style},
		},
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials from %s: %w", store.Path(), err)
	}
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("credentials in %s hold no tokens", store.Path())
	}
	m.current = creds.Token()
	return m, nil
}

// Token returns the current access token without refreshing it. An expired
// token is still returned; the API answers 401 and the caller refreshes.
func (m *TokenManager) Token() (*oauth2.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.AccessToken == "" {
		return nil, errors.New("no access token, refresh required")
	}
	tok := *m.current
	return &tok, nil
}

// Expiry returns the expiry of the current access token. Zero means unknown.
func (m *TokenManager) Expiry() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Expiry
}

// NeedsRefresh reports whether the token expires within skew of now.
func (m *TokenManager) NeedsRefresh(skew time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current.AccessToken == "" {
		return true
	}
	return !m.current.Expiry.IsZero() && !m.now().Add(skew).Before(m.current.Expiry)
}

// Refresh exchanges the refresh token for a new access token and persists it.
// A token another process already refreshed is adopted from the credential
// file instead. A rejected refresh token yields an auth_expired error.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastRefresh.IsZero() && now.Sub(m.lastRefresh) < minRefreshInterval {
		return nil
	}
	if creds, err := m.store.Load(); err == nil && creds.AccessToken != m.current.AccessToken &&
		creds.Expiry.After(now.Add(time.Minute)) {
		m.current = creds.Token()
		m.lastRefresh = now
		m.logger.Info("adopted token refreshed by another process", "expiry", creds.Expiry)
		return nil
	}
	if m.current.RefreshToken == "" {
		return &provider.Error{Kind: provider.KindAuthExpired, Endpoint: endpointTokenRefresh, Message: "no refresh token stored"}
	}

	if m.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.client)
	}
	tok, err := m.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: m.current.RefreshToken}).Token()
	if err != nil {
		return refreshError(err)
	}

	if err := m.store.Update(func(c *state.Credentials) error {
		c.ClientID = m.conf.ClientID
		c.SetToken(tok, now)
		return nil
	}); err != nil {
		// The new token works even if it could not be persisted.
		m.logger.Error("failed to persist refreshed token", "error", err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = m.current.RefreshToken
	}
	m.current = tok
	m.lastRefresh = now
	m.logger.Info("access token refreshed", "expiry", tok.Expiry)
	return nil
}

func refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		kind := provider.KindNetwork
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			kind = provider.KindAuthExpired
		}
		return &provider.Error{Kind: kind, Endpoint: endpointTokenRefresh, Status: status, Message: "token refresh rejected", Err: err}
	}
	return &provider.Error{Kind: provider.KindNetwork, Endpoint: endpointTokenRefresh, Message: "token refresh failed", Err: err}
}

var _ oauth2.TokenSource = (*TokenManager)(nil)
