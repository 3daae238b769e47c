package models

import (
	"fmt"
	"time"

	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// RefreshToken is one link in a session's rotation chain. At most one
// unrevoked token exists per chain; claiming it revokes the row and the
// service mints the successor in the same transaction.
type RefreshToken struct {
	ID        id.RefreshTokenID
	UserID    id.UserID
	SessionID id.SessionID
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// ValidateForClaim checks whether the token can still be consumed.
// A revoked token is reported distinctly so callers can flag replay,
// even though the caller-facing error is uniform.
func (t *RefreshToken) ValidateForClaim(now time.Time) error {
	if t.RevokedAt != nil {
		return fmt.Errorf("refresh token already consumed: %w", sentinel.ErrAlreadyUsed)
	}
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("refresh token expired: %w", sentinel.ErrExpired)
	}
	return nil
}
