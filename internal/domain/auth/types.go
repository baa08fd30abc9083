// Package auth authenticates protocol callers by API key.
package auth

import (
	"time"
)

// Role is the class of a caller. It becomes the prefix of the audit actor.
type Role string

const (
	// RoleAgent is an external tool-calling agent.
	RoleAgent Role = "agent"
	// RoleAdmin is a human reviewer or operator.
	RoleAdmin Role = "admin"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAgent, RoleAdmin:
		return true
	default:
		return false
	}
}

// Caller is a configured protocol client and its API key hash.
type Caller struct {
	// ID is the unique identifier for this caller.
	ID string `mapstructure:"id" json:"id"`
	// Name is a display name.
	Name string `mapstructure:"name" json:"name,omitempty"`
	// Role decides the actor class recorded in audit records.
	Role Role `mapstructure:"role" json:"role"`
	// KeyHash is the Argon2id (PHC format) or "sha256:" hash of the key.
	KeyHash string `mapstructure:"key_hash" json:"-"`
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time `mapstructure:"expires_at" json:"expires_at,omitempty"`
	// Revoked disables the key.
	Revoked bool `mapstructure:"revoked" json:"revoked,omitempty"`
}

// Actor returns the audit actor string, e.g. "agent:claude".
func (c *Caller) Actor() string {
	role := c.Role
	if role == "" {
		role = RoleAgent
	}
	return string(role) + ":" + c.ID
}

// IsExpired returns true if the key has expired at now.
// A key with nil ExpiresAt never expires.
func (c *Caller) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return now.After(*c.ExpiresAt)
}
