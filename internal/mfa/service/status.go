package service

import (
	"context"
	"errors"
	"time"

	"warden/internal/mfa/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

// Status reports the user's enrollment state. No enrollment reads as the
// zero Status rather than an error; "nothing enrolled" is a normal answer.
func (s *Service) Status(ctx context.Context, userID id.UserID) (models.Status, error) {
	secret, err := s.secrets.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Status{}, nil
		}
		return models.Status{}, dErrors.Wrap(err, dErrors.CodeInternal, "find mfa secret")
	}
	return models.Status{
		Enabled:           secret.Enabled(),
		Pending:           secret.EnabledAt == nil,
		RecoveryCodesLeft: len(secret.RecoveryCodes),
	}, nil
}

// EnabledAt reports when the user's MFA became enabled, nil when it never
// did (including while an enrollment is still pending). The auth service
// calls this at session issuance to decide whether a fresh session starts
// pending.
func (s *Service) EnabledAt(ctx context.Context, userID id.UserID) (*time.Time, error) {
	secret, err := s.secrets.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find mfa secret")
	}
	return secret.EnabledAt, nil
}
