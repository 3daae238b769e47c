package oauthaccount

import (
	"context"
	"fmt"
	"sync"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

type accountKey struct {
	userID   id.UserID
	provider id.Provider
}

// InMemoryOAuthAccountStore stores provider links in memory for tests and
// development. Records are copied on the way in and out.
type InMemoryOAuthAccountStore struct {
	mu       sync.RWMutex
	accounts map[accountKey]*models.OAuthAccount
}

// New constructs an empty in-memory oauth account store.
func New() *InMemoryOAuthAccountStore {
	return &InMemoryOAuthAccountStore{accounts: make(map[accountKey]*models.OAuthAccount)}
}

func (s *InMemoryOAuthAccountStore) FindByProviderExternalID(_ context.Context, provider id.Provider, externalID string) (*models.OAuthAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, account := range s.accounts {
		if account.Provider == provider && account.ExternalID == externalID {
			return clone(account), nil
		}
	}
	return nil, fmt.Errorf("oauth account not found: %w", sentinel.ErrNotFound)
}

// Upsert inserts or replaces the link for (user, provider). A different user
// already holding the same (provider, external id) pair is a conflict; the
// provider identity can only ever map to one local user.
func (s *InMemoryOAuthAccountStore) Upsert(_ context.Context, account *models.OAuthAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, existing := range s.accounts {
		if key.userID == account.UserID {
			continue
		}
		if existing.Provider == account.Provider && existing.ExternalID == account.ExternalID {
			return fmt.Errorf("provider identity bound to another user: %w", sentinel.ErrConflict)
		}
	}
	s.accounts[accountKey{userID: account.UserID, provider: account.Provider}] = clone(account)
	return nil
}

func clone(account *models.OAuthAccount) *models.OAuthAccount {
	copied := *account
	return &copied
}
