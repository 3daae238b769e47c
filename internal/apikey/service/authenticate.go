package service

import (
	"context"
	"errors"
	"strings"

	"warden/internal/apikey/models"
	"warden/internal/crypto"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"
	"warden/pkg/requestcontext"
)

// Authenticate resolves a bearer API key to its record. Malformed,
// unknown, expired, and revoked keys all fail identically; the caller
// learns nothing about why a credential stopped working.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.APIKey, error) {
	if !strings.HasPrefix(token, crypto.TokenPrefixAPIKey) {
		s.incrementAuthFailure()
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	}

	key, err := s.keys.FindByTokenHash(ctx, s.keyring.HashToken(token))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.incrementAuthFailure()
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up api key")
	}

	now := requestcontext.Now(ctx)
	if !key.ActiveAt(now) {
		s.incrementAuthFailure()
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	}

	// The usage stamp is telemetry, not state the caller depends on. It
	// runs outside any carried transaction and a failure only warns.
	if err := s.keys.TouchLastUsed(tx.Detach(ctx), key.ID, now); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "touch api key", "error", err, "key_id", key.ID.String())
	}
	return key, nil
}
