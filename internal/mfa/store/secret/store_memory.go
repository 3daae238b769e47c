// Package secret stores MFA enrollments, one record per user.
package secret

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/mfa/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// InMemorySecretStore keeps enrollments in memory for tests and
// development. Records are copied on the way in and out.
type InMemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[id.UserID]*models.Secret
}

// New constructs an empty in-memory secret store.
func New() *InMemorySecretStore {
	return &InMemorySecretStore{secrets: make(map[id.UserID]*models.Secret)}
}

// Upsert inserts or replaces a user's enrollment.
func (s *InMemorySecretStore) Upsert(_ context.Context, secret *models.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.secrets[secret.UserID] = clone(secret)
	return nil
}

func (s *InMemorySecretStore) Find(_ context.Context, userID id.UserID) (*models.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return nil, fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	return clone(secret), nil
}

// Enable records the enrollment confirmation time. The first confirmation
// wins; later calls keep the original time.
func (s *InMemorySecretStore) Enable(_ context.Context, userID id.UserID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	if secret.EnabledAt == nil {
		enabledAt := at
		secret.EnabledAt = &enabledAt
	}
	secret.UpdatedAt = at
	return nil
}

func (s *InMemorySecretStore) Delete(_ context.Context, userID id.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[userID]; !ok {
		return fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	delete(s.secrets, userID)
	return nil
}

// ConsumeRecoveryCode removes one stored hash and returns how many remain.
// The removal is the serialization point: when two requests race on the
// same code, exactly one consumes it and the other gets ErrAlreadyUsed.
func (s *InMemorySecretStore) ConsumeRecoveryCode(_ context.Context, userID id.UserID, hash string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return 0, fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}

	for i, stored := range secret.RecoveryCodes {
		if stored == hash {
			secret.RecoveryCodes = append(secret.RecoveryCodes[:i], secret.RecoveryCodes[i+1:]...)
			secret.UpdatedAt = now
			return len(secret.RecoveryCodes), nil
		}
	}
	return 0, fmt.Errorf("recovery code already consumed: %w", sentinel.ErrAlreadyUsed)
}

func clone(secret *models.Secret) *models.Secret {
	copied := *secret
	copied.RecoveryCodes = append([]string(nil), secret.RecoveryCodes...)
	if secret.EnabledAt != nil {
		enabledAt := *secret.EnabledAt
		copied.EnabledAt = &enabledAt
	}
	return &copied
}
