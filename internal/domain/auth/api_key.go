package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrInvalidKey is returned when an API key is unknown, expired, or revoked.
var ErrInvalidKey = errors.New("invalid api key")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// keyPrefix marks generated keys so they are recognizable in logs and configs.
const keyPrefix = "kst_"

// verifiedKeyTTL is how long a verified key skips Argon2id verification.
const verifiedKeyTTL = 5 * time.Minute

// KeyService authenticates callers by API key.
type KeyService struct {
	callers map[string]Caller
	order   []string
	// verified maps the SHA-256 of a raw key to the caller ID it matched,
	// so repeat requests do not pay for Argon2id.
	verified *expirable.LRU[string, string]
	now      func() time.Time
}

// NewKeyService validates callers and builds a service over them.
func NewKeyService(callers []Caller) (*KeyService, error) {
	s := &KeyService{
		callers:  make(map[string]Caller, len(callers)),
		verified: expirable.NewLRU[string, string](256, nil, verifiedKeyTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, c := range callers {
		switch {
		case c.ID == "":
			return nil, errors.New("caller without id")
		case c.Role != "" && !c.Role.IsValid():
			return nil, fmt.Errorf("caller %q: unknown role %q", c.ID, c.Role)
		case DetectHashType(c.KeyHash) == "unknown":
			return nil, fmt.Errorf("caller %q: %w", c.ID, ErrUnknownHashType)
		}
		if _, dup := s.callers[c.ID]; dup {
			return nil, fmt.Errorf("duplicate caller %q", c.ID)
		}
		if c.Role == "" {
			c.Role = RoleAgent
		}
		s.callers[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return s, nil
}

// Authenticate returns the caller owning rawKey.
// Returns ErrInvalidKey if the key matches no active caller.
func (s *KeyService) Authenticate(ctx context.Context, rawKey string) (*Caller, error) {
	if rawKey == "" {
		return nil, ErrInvalidKey
	}
	digest := HashKey(rawKey)
	if id, ok := s.verified.Get(digest); ok {
		return s.active(id)
	}

	for _, id := range s.order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		match, err := VerifyKey(rawKey, s.callers[id].KeyHash)
		if err != nil || !match {
			continue
		}
		s.verified.Add(digest, id)
		return s.active(id)
	}
	return nil, ErrInvalidKey
}

// active checks revocation and expiry and returns a copy of the caller.
func (s *KeyService) active(id string) (*Caller, error) {
	c, ok := s.callers[id]
	if !ok || c.Revoked || c.IsExpired(s.now()) {
		return nil, ErrInvalidKey
	}
	return &c, nil
}

// Len returns the number of configured callers.
func (s *KeyService) Len() int {
	return len(s.order)
}

// GenerateKey returns a new random API key.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey returns the SHA-256 hex hash of the raw key.
func HashKey(rawKey string) string {
	hash := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(hash[:])
}

// argon2idParams are the OWASP minimum parameters for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB (OWASP minimum: 46 MiB)
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns an Argon2id hash of the raw key in PHC format.
// Format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType identifies the hash algorithm used for a stored hash.
// Returns "argon2id" for PHC format, "sha256" for the "sha256:" prefix,
// "unknown" otherwise.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return "argon2id"
	case strings.HasPrefix(storedHash, "sha256:") && len(storedHash) == len("sha256:")+64:
		return "sha256"
	}
	return "unknown"
}

// VerifyKey verifies a raw key against a stored hash.
// Returns (false, ErrUnknownHashType) for unrecognized hash formats.
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case "argon2id":
		return safeArgon2idCompare(rawKey, storedHash)
	case "sha256":
		expected := strings.TrimPrefix(storedHash, "sha256:")
		computed := HashKey(rawKey)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The argon2 library panics on hashes with invalid parameters (t=0, p=0).
func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
