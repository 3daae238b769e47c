// Package provider adapts the supported identity providers behind one
// interface. Each provider knows how to build its authorization URL,
// exchange an authorization code, and resolve the authenticated identity.
// Everything upstream-specific stays in this package.
package provider

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/platform/config"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Tokens holds the credentials a provider returns from the code exchange.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
}

// Identity is the normalized subject a provider vouches for.
type Identity struct {
	ExternalID string
	Email      string
	Name       string
	AvatarURL  string
}

// Provider is implemented once per upstream identity provider.
//
// AuthorizationURL receives the CSRF state and, for PKCE providers, the
// S256 challenge; providers without PKCE support ignore the challenge.
// Exchange must never be retried by callers: the authorization code burns
// on first use whether or not the response arrives.
type Provider interface {
	Name() id.Provider
	AuthorizationURL(state, challenge string) string
	Exchange(ctx context.Context, code, verifier string) (*Tokens, error)
	Identity(ctx context.Context, tokens *Tokens) (*Identity, error)
}

// OAuthError tags upstream failures with the provider that caused them.
// Denied marks failures where the provider rejected the request (bad code,
// stale identity token, unusable identity) as opposed to transport or
// shape problems on our side of the fence. Reason is safe to log; it never
// contains codes or tokens.
type OAuthError struct {
	Provider id.Provider
	Reason   string
	Denied   bool
	Err      error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *OAuthError) Unwrap() error { return e.Err }

func denied(p id.Provider, reason string) *OAuthError {
	return &OAuthError{Provider: p, Reason: reason, Denied: true}
}

func failed(p id.Provider, reason string, err error) *OAuthError {
	return &OAuthError{Provider: p, Reason: reason, Err: err}
}

// Registry holds the providers that have credentials configured.
type Registry struct {
	providers map[id.Provider]Provider
}

// NewRegistry builds a registry from the given providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[id.Provider]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// FromConfig builds a registry containing every provider whose client ID is
// set. Deployments enable providers by configuring credentials, nothing else.
func FromConfig(cfg config.ProvidersConfig) *Registry {
	var providers []Provider
	if cfg.GitHub.ClientID != "" {
		providers = append(providers, NewGitHub(cfg.GitHub))
	}
	if cfg.Google.ClientID != "" {
		providers = append(providers, NewGoogle(cfg.Google))
	}
	if cfg.Microsoft.ClientID != "" {
		providers = append(providers, NewMicrosoft(cfg.Microsoft))
	}
	if cfg.Apple.ClientID != "" {
		providers = append(providers, NewApple(cfg.Apple))
	}
	return NewRegistry(providers...)
}

// Get returns the provider for a name, or NotFound when it is not
// configured in this deployment.
func (r *Registry) Get(name id.Provider) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "provider not configured")
	}
	return p, nil
}

// Names returns the configured providers in stable order.
func (r *Registry) Names() []id.Provider {
	var names []id.Provider
	for _, p := range id.Providers() {
		if _, ok := r.providers[p]; ok {
			names = append(names, p)
		}
	}
	return names
}

var tracer = otel.Tracer("warden/provider")

func startSpan(ctx context.Context, op string, p id.Provider) (context.Context, trace.Span) {
	return tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("oauth.provider", p.String()),
	))
}
