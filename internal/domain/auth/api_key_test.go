package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustArgon(t *testing.T, raw string) string {
	t.Helper()
	h, err := HashKeyArgon2id(raw)
	if err != nil {
		t.Fatalf("HashKeyArgon2id() error: %v", err)
	}
	return h
}

func TestKeyService_Authenticate(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	svc, err := NewKeyService([]Caller{
		{ID: "claude", KeyHash: mustArgon(t, "agent-key")},
		{ID: "alice", Role: RoleAdmin, KeyHash: "sha256:" + HashKey("admin-key")},
		{ID: "old", KeyHash: "sha256:" + HashKey("old-key"), ExpiresAt: &past},
		{ID: "gone", KeyHash: "sha256:" + HashKey("gone-key"), Revoked: true},
	})
	if err != nil {
		t.Fatalf("NewKeyService() error: %v", err)
	}

	tests := []struct {
		key       string
		wantActor string
	}{
		{"agent-key", "agent:claude"},
		{"admin-key", "admin:alice"},
		{"old-key", ""},
		{"gone-key", ""},
		{"nope", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c, err := svc.Authenticate(context.Background(), tt.key)
			if tt.wantActor == "" {
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("Authenticate() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error: %v", err)
			}
			if c.Actor() != tt.wantActor {
				t.Errorf("Actor() = %q, want %q", c.Actor(), tt.wantActor)
			}
		})
	}

	// The second lookup is served from the verified-key cache.
	if svc.verified.Len() == 0 {
		t.Error("verified key cache is empty")
	}
	if c, err := svc.Authenticate(context.Background(), "agent-key"); err != nil || c.ID != "claude" {
		t.Errorf("cached Authenticate() = %v, %v", c, err)
	}
}

func TestNewKeyService_Rejects(t *testing.T) {
	good := "sha256:" + HashKey("k")
	tests := []struct {
		name    string
		callers []Caller
	}{
		{"missing id", []Caller{{KeyHash: good}}},
		{"bad role", []Caller{{ID: "a", Role: "root", KeyHash: good}}},
		{"bare hash", []Caller{{ID: "a", KeyHash: HashKey("k")}}},
		{"duplicate", []Caller{{ID: "a", KeyHash: good}, {ID: "a", KeyHash: good}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeyService(tt.callers); err == nil {
				t.Error("NewKeyService() accepted invalid callers")
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	argon := mustArgon(t, "secret")
	tests := []struct {
		name    string
		raw     string
		stored  string
		want    bool
		wantErr bool
	}{
		{"argon2id match", "secret", argon, true, false},
		{"argon2id mismatch", "other", argon, false, false},
		{"sha256 match", "secret", "sha256:" + HashKey("secret"), true, false},
		{"sha256 mismatch", "other", "sha256:" + HashKey("secret"), false, false},
		{"unknown format", "secret", "plaintext", false, true},
		{"malformed argon2id", "secret", "$argon2id$v=19$m=0,t=0,p=0$AAAA$AAAA", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyKey(tt.raw, tt.stored)
			if (err != nil) != tt.wantErr {
				t.Fatalf("VerifyKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("VerifyKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	a, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := GenerateKey()
	if a == b || !strings.HasPrefix(a, keyPrefix) || len(a) < 40 {
		t.Errorf("GenerateKey() = %q, %q", a, b)
	}
}
