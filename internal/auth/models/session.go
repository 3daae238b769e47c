package models

import (
	"time"

	id "warden/pkg/domain"
)

// Session is one authenticated device. Rotation never mutates a session
// in place: refresh revokes the row and inserts a successor, so only
// MFAVerifiedAt and RevokedAt ever change after creation.
type Session struct {
	ID            id.SessionID
	UserID        id.UserID
	TenantID      id.TenantID
	TokenHash     string
	IPAddress     string
	UserAgent     string
	DeviceName    string
	MFAVerifiedAt *time.Time
	CreatedAt     time.Time
	ExpiresAt     time.Time
	RevokedAt     *time.Time
}

// ActiveAt reports whether the session authenticates requests at the
// given instant.
func (s *Session) ActiveAt(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Verified reports whether this session passed an MFA check (or the user
// has no MFA to check).
func (s *Session) Verified() bool {
	return s.MFAVerifiedAt != nil
}

// Summary is the session listing shape. It deliberately excludes the
// token hash and the raw user agent.
type Summary struct {
	SessionID string    `json:"session_id"`
	Device    string    `json:"device"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsCurrent bool      `json:"is_current"`
}

// SessionResult carries fresh credentials out of login and refresh. The
// raw secrets exist only in this struct and the HTTP response that
// serializes it; everything at rest is hashed or sealed.
type SessionResult struct {
	SessionID    id.SessionID
	UserID       id.UserID
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	MFAPending   bool
}
