package models

import (
	"time"

	id "warden/pkg/domain"
)

// OAuthAccount links a user to one external identity. A user has at most
// one account per provider, and an external identity maps to at most one
// user; both constraints are enforced by the store.
//
// Provider tokens are sealed before they reach this struct; the raw
// values never appear outside the login transaction.
type OAuthAccount struct {
	ID              id.OAuthAccountID
	UserID          id.UserID
	Provider        id.Provider
	ExternalID      string
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
