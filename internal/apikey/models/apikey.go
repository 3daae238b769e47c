// Package models holds the API key domain model.
package models

import (
	"time"

	id "warden/pkg/domain"
)

// APIKey is a long-lived machine credential owned by one user. Rotation
// swaps the secret inside the row, so the id, name, and expiry survive
// it; only the token columns, LastUsedAt, and RevokedAt ever change
// after creation.
type APIKey struct {
	ID         id.APIKeyID
	UserID     id.UserID
	Name       string
	TokenHash  string
	TokenEnc   string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

// ActiveAt reports whether the key authenticates requests at the given
// instant. A key without an expiry never ages out.
func (k *APIKey) ActiveAt(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// Summary is the key listing shape. It deliberately excludes the token
// hash and the sealed copy.
type Summary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// KeyResult carries a fresh plaintext out of create and rotate. The raw
// secret exists only in this struct and the HTTP response that
// serializes it; at rest the key is hashed and sealed.
type KeyResult struct {
	KeyID     id.APIKeyID
	Name      string
	Token     string
	CreatedAt time.Time
	ExpiresAt *time.Time
}
