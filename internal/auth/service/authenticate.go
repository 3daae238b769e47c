package service

import (
	"context"
	"errors"
	"strings"

	"warden/internal/auth/models"
	"warden/internal/crypto"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Authenticate resolves a bearer session token to its session. Malformed,
// unknown, expired, and revoked tokens all fail identically; the caller
// learns nothing about why a credential stopped working.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	if !strings.HasPrefix(token, crypto.TokenPrefixSession) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}

	session, err := s.sessions.FindByTokenHash(ctx, s.keyring.HashToken(token))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up session")
	}
	if !session.ActiveAt(requestcontext.Now(ctx)) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid session token")
	}
	return session, nil
}
