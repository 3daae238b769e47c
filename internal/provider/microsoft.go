package provider

import (
	"strings"

	"warden/internal/platform/config"
	id "warden/pkg/domain"
)

// NewMicrosoft builds the Microsoft provider against the common (multi-tenant)
// endpoint. The issuer claim carries the directory tenant of the signing
// account, so only the surrounding shape is checked.
func NewMicrosoft(cfg config.ProviderConfig) Provider {
	return &oidcProvider{
		name:         id.ProviderMicrosoft,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURL:  cfg.RedirectURL,
		scopes:       "openid email profile",
		authorizeURL: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		tokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		issuerOK: func(iss string) bool {
			return strings.HasPrefix(iss, "https://login.microsoftonline.com/") &&
				strings.HasSuffix(iss, "/v2.0")
		},
		api: newAPIClient(),
	}
}
