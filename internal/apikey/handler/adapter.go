package handler

import (
	"context"

	"warden/internal/apikey/service"
	"warden/internal/platform/middleware"
)

// APIKeyAuthenticator adapts the apikey service to the middleware's
// machine-credential contract.
type APIKeyAuthenticator struct {
	keys *service.Service
}

func NewAPIKeyAuthenticator(keys *service.Service) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

// AuthenticateAPIKey resolves a bearer API key to a principal. Keys are
// minted from verified sessions only, so their callers hold the verified
// tier; no session id exists for them.
func (a *APIKeyAuthenticator) AuthenticateAPIKey(ctx context.Context, token string) (*middleware.Principal, error) {
	key, err := a.keys.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{
		UserID:      key.UserID,
		MFAVerified: true,
	}, nil
}
