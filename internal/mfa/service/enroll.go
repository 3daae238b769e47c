package service

import (
	"context"
	"errors"

	"warden/internal/mfa/models"
	"warden/internal/mfa/recovery"
	"warden/internal/mfa/totp"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Enroll starts TOTP enrollment for a user. It generates a fresh shared
// secret and recovery codes and returns them in plaintext exactly once;
// at rest the secret is sealed and the codes exist only as bcrypt hashes.
//
// The enrollment stays pending until the first successful Verify. Starting
// over while pending replaces the previous secret and codes; starting over
// while enabled is a conflict, the user must disable first.
func (s *Service) Enroll(ctx context.Context, userID id.UserID, email string) (*models.Enrollment, error) {
	now := requestcontext.Now(ctx)

	existing, err := s.secrets.Find(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find mfa secret")
	}
	if existing != nil && existing.Enabled() {
		return nil, dErrors.New(dErrors.CodeConflict, "multi-factor authentication already enabled")
	}

	secret, err := totp.NewSecret()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate totp secret")
	}
	sealed, err := s.keyring.Seal([]byte(secret))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "seal totp secret")
	}
	codes, err := recovery.NewCodes(recovery.DefaultCount)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate recovery codes")
	}

	record := &models.Secret{
		UserID:        userID,
		SecretEnc:     sealed,
		RecoveryCodes: codes.Hashes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.secrets.Upsert(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "store mfa secret")
	}

	s.logAudit(ctx, string(audit.EventMFAEnrolled), "user_id", userID)
	s.incrementEnrollment()

	return &models.Enrollment{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(s.issuer, email, secret),
		RecoveryCodes:   codes.Display,
	}, nil
}

// Disable removes the user's MFA enrollment entirely, pending or enabled.
// The caller gates this behind a verified session; from here it is a plain
// delete.
func (s *Service) Disable(ctx context.Context, userID id.UserID) error {
	if err := s.secrets.Delete(ctx, userID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "multi-factor authentication not enrolled")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete mfa secret")
	}

	s.logAudit(ctx, string(audit.EventMFADisabled), "user_id", userID)
	return nil
}
