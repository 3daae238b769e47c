package provider

import (
	"warden/internal/platform/config"
	id "warden/pkg/domain"
)

// NewGoogle builds the Google provider. Google issues the OIDC issuer
// claim both with and without the scheme, so both spellings are accepted.
func NewGoogle(cfg config.ProviderConfig) Provider {
	return &oidcProvider{
		name:         id.ProviderGoogle,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       "openid email profile",
		authorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:     "https://oauth2.googleapis.com/token",
		issuerOK: func(iss string) bool {
			return iss == "https://accounts.google.com" || iss == "accounts.google.com"
		},
		api: newAPIClient(),
	}
}
