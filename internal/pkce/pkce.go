// Package pkce carries the OAuth round-trip state in an encrypted,
// client-held token instead of a server-side cache. The token seals the
// provider name, the CSRF state, the PKCE verifier, and the tenant scope;
// nothing about an in-flight login is stored on the server.
package pkce

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warden/internal/crypto"
	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// DefaultTTL bounds how long a login round-trip may take. Independent of
// any request timeout.
const DefaultTTL = 10 * time.Minute

// ErrInvalidState covers every decode failure: expired, tampered,
// malformed, or bound to a different provider. One error for all of them,
// so the token gives no parse oracle.
var ErrInvalidState = errors.New("invalid or expired state")

// State is the decoded content of a round-trip token.
type State struct {
	State    string
	Verifier string
	TenantID id.TenantID
}

// Codec seals and opens round-trip tokens.
type Codec struct {
	keyring *crypto.Keyring
	ttl     time.Duration
}

// Option configures the Codec.
type Option func(*Codec)

// WithTTL overrides the round-trip lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		c.ttl = ttl
	}
}

// NewCodec creates a codec bound to the given keyring.
func NewCodec(keyring *crypto.Keyring, opts ...Option) *Codec {
	c := &Codec{
		keyring: keyring,
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// payload is the sealed wire form. Short keys keep the token compact.
type payload struct {
	Provider  string `json:"p"`
	State     string `json:"s"`
	Verifier  string `json:"v"`
	TenantID  string `json:"t,omitempty"`
	ExpiresAt int64  `json:"exp"`
}

// Encode seals a round-trip token for the given provider. The expiry clock
// comes from the request context.
func (c *Codec) Encode(ctx context.Context, provider id.Provider, state, verifier string, tenantID id.TenantID) (string, error) {
	p := payload{
		Provider:  provider.String(),
		State:     state,
		Verifier:  verifier,
		ExpiresAt: requestcontext.Now(ctx).Add(c.ttl).Unix(),
	}
	if !tenantID.IsNil() {
		p.TenantID = tenantID.String()
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal state payload: %w", err)
	}
	sealed, err := c.keyring.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("seal state payload: %w", err)
	}
	return sealed, nil
}

// Decode opens a round-trip token and rejects anything stale, tampered, or
// issued for a different provider. All failures are ErrInvalidState.
func (c *Codec) Decode(ctx context.Context, provider id.Provider, token string) (*State, error) {
	raw, err := c.keyring.Open(token)
	if err != nil {
		return nil, ErrInvalidState
	}

	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, ErrInvalidState
	}
	if p.Provider != provider.String() {
		return nil, ErrInvalidState
	}
	if p.State == "" || p.Verifier == "" {
		return nil, ErrInvalidState
	}
	if requestcontext.Now(ctx).Unix() >= p.ExpiresAt {
		return nil, ErrInvalidState
	}

	s := &State{
		State:    p.State,
		Verifier: p.Verifier,
	}
	if p.TenantID != "" {
		tenantID, err := id.ParseTenantID(p.TenantID)
		if err != nil {
			return nil, ErrInvalidState
		}
		s.TenantID = tenantID
	}
	return s, nil
}

// NewState returns a fresh CSRF state value.
func NewState() (string, error) {
	return randomURLSafe(32)
}

// NewVerifier returns a PKCE code verifier. 32 random bytes encode to 43
// characters of the RFC 7636 unreserved set, the minimum allowed length.
func NewVerifier() (string, error) {
	return randomURLSafe(32)
}

// S256Challenge computes the S256 code challenge for a verifier.
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
