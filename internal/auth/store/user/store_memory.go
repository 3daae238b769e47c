package user

import (
	"context"
	"fmt"
	"sync"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return ErrConflict when a uniqueness constraint would be violated
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryUserStore stores users in memory for tests and development.
// Records are copied on the way in and out so callers never share memory
// with the store.
type InMemoryUserStore struct {
	mu    sync.RWMutex
	users map[id.UserID]*models.User
}

// New constructs an empty in-memory user store.
func New() *InMemoryUserStore {
	return &InMemoryUserStore{users: make(map[id.UserID]*models.User)}
}

func (s *InMemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("user id taken: %w", sentinel.ErrConflict)
	}
	for _, existing := range s.users {
		if existing.DeletedAt == nil && existing.TenantID == user.TenantID && existing.Email == user.Email {
			return fmt.Errorf("email taken in tenant: %w", sentinel.ErrConflict)
		}
	}
	s.users[user.ID] = clone(user)
	return nil
}

func (s *InMemoryUserStore) FindByID(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	return clone(user), nil
}

// FindByTenantEmail looks up a live user by tenant and email. Soft-deleted
// users are invisible here so their email can be claimed by a fresh signup.
// Callers canonicalize the email before it reaches the store.
func (s *InMemoryUserStore) FindByTenantEmail(_ context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.DeletedAt == nil && user.TenantID == tenantID && user.Email == email {
			return clone(user), nil
		}
	}
	return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
}

func (s *InMemoryUserStore) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	s.users[user.ID] = clone(user)
	return nil
}

func clone(user *models.User) *models.User {
	copied := *user
	return &copied
}
