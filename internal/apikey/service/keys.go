package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"warden/internal/apikey/models"
	"warden/internal/crypto"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Create mints a key for the caller and returns the plaintext. This is
// the only time the plaintext exists; afterwards the store holds the
// digest and the sealed copy.
func (s *Service) Create(ctx context.Context, userID id.UserID, name string, expiresAt *time.Time) (*models.KeyResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, dErrors.Newf(dErrors.CodeValidation, "name must be at most %d characters", MaxNameLength)
	}

	now := requestcontext.Now(ctx)
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, dErrors.New(dErrors.CodeValidation, "expiry must be in the future")
	}

	token, digest, err := s.keyring.NewToken(crypto.TokenPrefixAPIKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	sealed, err := s.keyring.Seal([]byte(token))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal api key")
	}

	key := &models.APIKey{
		ID:        id.NewAPIKeyID(),
		UserID:    userID,
		Name:      name,
		TokenHash: digest,
		TokenEnc:  sealed,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store api key")
	}

	s.logAudit(ctx, string(audit.EventAPIKeyCreated),
		"user_id", userID,
		"key_id", key.ID.String(),
		"name", name)
	s.incrementCreated()

	return &models.KeyResult{
		KeyID:     key.ID,
		Name:      key.Name,
		Token:     token,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// Rotate replaces the secret of one of the caller's keys and returns the
// new plaintext. The row keeps its id, name, and expiry; the old secret
// stops authenticating the moment the swap lands.
func (s *Service) Rotate(ctx context.Context, userID id.UserID, keyID id.APIKeyID) (*models.KeyResult, error) {
	key, err := s.ownedKey(ctx, userID, keyID, audit.EventAPIKeyRotated)
	if err != nil {
		return nil, err
	}

	token, digest, err := s.keyring.NewToken(crypto.TokenPrefixAPIKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate api key")
	}
	sealed, err := s.keyring.Seal([]byte(token))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal api key")
	}

	if err := s.keys.ReplaceToken(ctx, key.ID, digest, sealed); err != nil {
		// A concurrent revoke makes the key vanish mid-rotation.
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "api key not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate api key")
	}

	s.logAudit(ctx, string(audit.EventAPIKeyRotated),
		"user_id", userID,
		"key_id", key.ID.String())
	s.incrementRotated()

	return &models.KeyResult{
		KeyID:     key.ID,
		Name:      key.Name,
		Token:     token,
		CreatedAt: key.CreatedAt,
		ExpiresAt: key.ExpiresAt,
	}, nil
}

// Revoke retires one of the caller's keys. The row survives as a tombstone
// so the audit trail keeps its subject.
func (s *Service) Revoke(ctx context.Context, userID id.UserID, keyID id.APIKeyID) error {
	key, err := s.ownedKey(ctx, userID, keyID, audit.EventAPIKeyRevoked)
	if err != nil {
		return err
	}

	if err := s.keys.Revoke(ctx, key.ID, requestcontext.Now(ctx)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "api key not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke api key")
	}

	s.logAudit(ctx, string(audit.EventAPIKeyRevoked),
		"user_id", userID,
		"key_id", key.ID.String())
	s.incrementRevoked()
	return nil
}

// List returns the caller's keys as summaries. Secrets never appear here;
// a plaintext lost is a key to rotate, not to look up.
func (s *Service) List(ctx context.Context, userID id.UserID) ([]models.Summary, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	keys, err := s.keys.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list api keys")
	}

	summaries := make([]models.Summary, 0, len(keys))
	for _, key := range keys {
		summaries = append(summaries, models.Summary{
			ID:         key.ID.String(),
			Name:       key.Name,
			CreatedAt:  key.CreatedAt,
			ExpiresAt:  key.ExpiresAt,
			LastUsedAt: key.LastUsedAt,
		})
	}
	return summaries, nil
}

// ownedKey loads a live key and checks it belongs to the caller. A key
// that does not exist, was revoked, or belongs to someone else produces
// the same not-found answer, so the endpoints cannot be used to probe
// which key ids exist.
func (s *Service) ownedKey(ctx context.Context, userID id.UserID, keyID id.APIKeyID, event audit.AuditEvent) (*models.APIKey, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if keyID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "api key id is required")
	}

	key, err := s.keys.FindByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "api key not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load api key")
	}
	if key.UserID != userID {
		s.authFailure(ctx, string(event), "ownership_mismatch",
			"user_id", userID,
			"key_id", keyID.String())
		return nil, dErrors.New(dErrors.CodeNotFound, "api key not found")
	}
	if key.RevokedAt != nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "api key not found")
	}
	return key, nil
}
