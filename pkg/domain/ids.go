// Package domain holds shared domain primitives: typed identifiers and
// small enumerations used across service boundaries.
//
// Typed IDs are cheap casts of uuid.UUID. Construct them via the ParseX
// functions at trust boundaries so nil and malformed values are rejected
// before they reach stores; direct casting bypasses validation and is
// reserved for values we generated ourselves.
package domain

import (
	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

type (
	// UserID identifies a user within a tenant.
	UserID uuid.UUID

	// TenantID is the opaque scoping key supplied by tenant resolution.
	TenantID uuid.UUID

	// SessionID identifies one authenticated client session.
	SessionID uuid.UUID

	// RefreshTokenID identifies one link of a rotation chain.
	RefreshTokenID uuid.UUID

	// OAuthAccountID identifies an external identity link.
	OAuthAccountID uuid.UUID

	// APIKeyID identifies a user-issued machine credential.
	APIKeyID uuid.UUID
)

func parseID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s", what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be nil", what)
	}
	return u, nil
}

// ParseUserID validates and returns a UserID.
func ParseUserID(s string) (UserID, error) {
	u, err := parseID(s, "user id")
	return UserID(u), err
}

// ParseTenantID validates and returns a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseID(s, "tenant id")
	return TenantID(u), err
}

// ParseSessionID validates and returns a SessionID.
func ParseSessionID(s string) (SessionID, error) {
	u, err := parseID(s, "session id")
	return SessionID(u), err
}

// ParseRefreshTokenID validates and returns a RefreshTokenID.
func ParseRefreshTokenID(s string) (RefreshTokenID, error) {
	u, err := parseID(s, "refresh token id")
	return RefreshTokenID(u), err
}

// ParseOAuthAccountID validates and returns an OAuthAccountID.
func ParseOAuthAccountID(s string) (OAuthAccountID, error) {
	u, err := parseID(s, "oauth account id")
	return OAuthAccountID(u), err
}

// ParseAPIKeyID validates and returns an APIKeyID.
func ParseAPIKeyID(s string) (APIKeyID, error) {
	u, err := parseID(s, "api key id")
	return APIKeyID(u), err
}

func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id TenantID) String() string       { return uuid.UUID(id).String() }
func (id SessionID) String() string      { return uuid.UUID(id).String() }
func (id RefreshTokenID) String() string { return uuid.UUID(id).String() }
func (id OAuthAccountID) String() string { return uuid.UUID(id).String() }
func (id APIKeyID) String() string       { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id TenantID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RefreshTokenID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OAuthAccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id APIKeyID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// NewUserID returns a fresh random UserID.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewTenantID returns a fresh random TenantID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewSessionID returns a fresh random SessionID.
func NewSessionID() SessionID { return SessionID(uuid.New()) }

// NewRefreshTokenID returns a fresh random RefreshTokenID.
func NewRefreshTokenID() RefreshTokenID { return RefreshTokenID(uuid.New()) }

// NewOAuthAccountID returns a fresh random OAuthAccountID.
func NewOAuthAccountID() OAuthAccountID { return OAuthAccountID(uuid.New()) }

// NewAPIKeyID returns a fresh random APIKeyID.
func NewAPIKeyID() APIKeyID { return APIKeyID(uuid.New()) }
