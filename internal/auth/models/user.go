package models

import (
	"fmt"
	"time"

	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

type UserRole string

const (
	RoleMember UserRole = "member"
	RoleAdmin  UserRole = "admin"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// User is an account within a tenant. Users are never hard-deleted;
// DeletedAt tombstones the row and frees the (tenant, email) slot.
type User struct {
	ID        id.UserID
	TenantID  id.TenantID
	Email     string
	Name      string
	AvatarURL string
	Role      UserRole
	Status    UserStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// CanLogin reports whether this account may start or continue a session.
func (u *User) CanLogin() error {
	if u.DeletedAt != nil {
		return fmt.Errorf("user deleted: %w", sentinel.ErrInvalidState)
	}
	if u.Status != UserStatusActive {
		return fmt.Errorf("user inactive: %w", sentinel.ErrInvalidState)
	}
	return nil
}
