// Package key persists API keys. The memory store backs tests and
// development; the postgres store is the production implementation.
package key

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"warden/internal/apikey/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// InMemoryKeyStore stores API keys in memory. Records are copied on the
// way in and out so callers never share memory with the store; the hash
// index is rebuilt under the store lock when a rotation swaps the token.
type InMemoryKeyStore struct {
	mu     sync.RWMutex
	keys   map[id.APIKeyID]*models.APIKey
	byHash map[string]id.APIKeyID
}

// New constructs an empty in-memory key store.
func New() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:   make(map[id.APIKeyID]*models.APIKey),
		byHash: make(map[string]id.APIKeyID),
	}
}

func (s *InMemoryKeyStore) Create(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[key.ID]; ok {
		return fmt.Errorf("api key id taken: %w", sentinel.ErrConflict)
	}
	if _, ok := s.byHash[key.TokenHash]; ok {
		return fmt.Errorf("api key token hash taken: %w", sentinel.ErrConflict)
	}
	s.keys[key.ID] = clone(key)
	s.byHash[key.TokenHash] = key.ID
	return nil
}

func (s *InMemoryKeyStore) FindByID(_ context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return clone(key), nil
}

// FindByTokenHash returns the key bearing the hash regardless of its
// state. Liveness checks belong to the caller so revoked and expired
// lookups stay distinguishable from missing ones.
func (s *InMemoryKeyStore) FindByTokenHash(_ context.Context, tokenHash string) (*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyID, ok := s.byHash[tokenHash]
	if !ok {
		return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return clone(s.keys[keyID]), nil
}

// ListByUser returns the user's unrevoked keys, newest first. Expired
// keys are included so their owner can see and rotate them.
func (s *InMemoryKeyStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []*models.APIKey
	for _, key := range s.keys {
		if key.UserID == userID && key.RevokedAt == nil {
			keys = append(keys, clone(key))
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].CreatedAt.After(keys[j].CreatedAt)
	})
	return keys, nil
}

// ReplaceToken installs a new secret in an existing live row. The old
// hash stops resolving the moment the swap lands; a revoked key cannot
// be brought back this way and reads as not found.
func (s *InMemoryKeyStore) ReplaceToken(_ context.Context, keyID id.APIKeyID, tokenHash, tokenEnc string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok || key.RevokedAt != nil {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	if owner, taken := s.byHash[tokenHash]; taken && owner != keyID {
		return fmt.Errorf("api key token hash taken: %w", sentinel.ErrConflict)
	}
	delete(s.byHash, key.TokenHash)
	key.TokenHash = tokenHash
	key.TokenEnc = tokenEnc
	s.byHash[tokenHash] = keyID
	return nil
}

// Revoke stamps RevokedAt on a live key. Revoking an already-revoked key
// is a no-op so the operation stays idempotent.
func (s *InMemoryKeyStore) Revoke(_ context.Context, keyID id.APIKeyID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	if key.RevokedAt == nil {
		revokedAt := now
		key.RevokedAt = &revokedAt
	}
	return nil
}

func (s *InMemoryKeyStore) TouchLastUsed(_ context.Context, keyID id.APIKeyID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[keyID]
	if !ok {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	usedAt := now
	key.LastUsedAt = &usedAt
	return nil
}

func clone(key *models.APIKey) *models.APIKey {
	copied := *key
	return &copied
}
