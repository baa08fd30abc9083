// Package state persists the OAuth2 credentials of the platform account in a
// JSON file shared by the MCP server and the autopilot process.
package state

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoCredentials is returned by Load when the credential file does not exist.
var ErrNoCredentials = errors.New("no credentials stored")

// Credentials is the on-disk credential record.
type Credentials struct {
	// Version is the file format version.
	Version string `json:"version"`
	// ClientID is the OAuth2 client the tokens were issued to.
	ClientID string `json:"client_id,omitempty"`
	// UserID and Username identify the authorized account.
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`

	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`

	// RefreshedAt is when the token was last refreshed.
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Token returns the stored token in oauth2 form.
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// SetToken stores tok. A token without a refresh token keeps the old one,
// since the platform does not always rotate it.
func (c *Credentials) SetToken(tok *oauth2.Token, now time.Time) {
	c.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.RefreshToken = tok.RefreshToken
	}
	c.TokenType = tok.TokenType
	c.Expiry = tok.Expiry
	c.RefreshedAt = now
}
