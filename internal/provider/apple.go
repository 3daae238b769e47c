package provider

import (
	"warden/internal/platform/config"
	id "warden/pkg/domain"
)

// NewApple builds the Sign in with Apple provider. The configured client
// secret must be a pre-generated ES256 client-secret JWT; Apple does not
// issue static secrets. Name and picture are not present in Apple ID
// tokens, so the identity falls back to the email for the display name.
func NewApple(cfg config.ProviderConfig) Provider {
	return &oidcProvider{
		name:         id.ProviderApple,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       "openid email",
		authorizeURL: "https://appleid.apple.com/auth/authorize",
		tokenURL:     "https://appleid.apple.com/auth/token",
		issuerOK: func(iss string) bool {
			return iss == "https://appleid.apple.com"
		},
		api: newAPIClient(),
	}
}
