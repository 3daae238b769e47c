package handler

import (
	"context"

	"warden/internal/auth/service"
	"warden/internal/platform/middleware"
)

// SessionAuthenticator adapts the auth service to the middleware's
// session contract.
type SessionAuthenticator struct {
	auth *service.Service
}

func NewSessionAuthenticator(auth *service.Service) *SessionAuthenticator {
	return &SessionAuthenticator{auth: auth}
}

func (a *SessionAuthenticator) AuthenticateSession(ctx context.Context, token string) (*middleware.Principal, error) {
	session, err := a.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{
		UserID:      session.UserID,
		TenantID:    session.TenantID,
		SessionID:   session.ID,
		MFAVerified: session.Verified(),
	}, nil
}
