package domain

import dErrors "warden/pkg/domain-errors"

// Provider identifies an external identity provider.
// Invariant: the value must be one of the supported providers.
//
// Usage: construct via ParseProvider at trust boundaries (URL params, stored
// rows) to enforce the allowlist; direct casting bypasses validation.
type Provider string

// Supported identity providers.
const (
	ProviderGitHub    Provider = "github"
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderApple     Provider = "apple"
)

// validProviders is the single source of truth for supported providers.
var validProviders = map[Provider]bool{
	ProviderGitHub:    true,
	ProviderGoogle:    true,
	ProviderMicrosoft: true,
	ProviderApple:     true,
}

// ParseProvider constructs a Provider from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseProvider(s string) (Provider, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "provider cannot be empty")
	}
	p := Provider(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported provider")
	}
	return p, nil
}

// IsValid checks if the provider is one of the supported enum values.
func (p Provider) IsValid() bool {
	return validProviders[p]
}

// UsesPKCE reports whether the provider's authorization flow carries a PKCE
// verifier. GitHub's OAuth App flow does not; the OIDC providers do.
func (p Provider) UsesPKCE() bool {
	return p != ProviderGitHub
}

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Providers returns all supported providers in stable order.
func Providers() []Provider {
	return []Provider{ProviderGitHub, ProviderGoogle, ProviderMicrosoft, ProviderApple}
}
