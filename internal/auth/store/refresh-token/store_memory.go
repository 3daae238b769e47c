package refreshtoken

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// Error Contract:
// All store methods follow this pattern:
// - Return ErrNotFound when the requested entity does not exist
// - Return ErrAlreadyUsed / ErrExpired from Claim when the token is dead
// - Return nil for successful operations
// - Return wrapped errors with context for infrastructure failures

// InMemoryRefreshTokenStore stores refresh tokens in memory for tests and
// development. Records are copied on the way in and out; the claim
// transition happens under the store lock so it stays exactly-once.
type InMemoryRefreshTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*models.RefreshToken
}

// New constructs an empty in-memory refresh token store.
func New() *InMemoryRefreshTokenStore {
	return &InMemoryRefreshTokenStore{tokens: make(map[string]*models.RefreshToken)}
}

func (s *InMemoryRefreshTokenStore) Create(_ context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.TokenHash]; ok {
		return fmt.Errorf("refresh token hash taken: %w", sentinel.ErrConflict)
	}
	s.tokens[token.TokenHash] = clone(token)
	return nil
}

// Claim atomically consumes the token bearing the hash: exactly one caller
// gets the record back with a nil error, every later caller sees
// ErrAlreadyUsed. The record is returned alongside ErrAlreadyUsed so the
// caller can audit the replay.
func (s *InMemoryRefreshTokenStore) Claim(_ context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenHash]
	if !ok {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err := token.ValidateForClaim(now); err != nil {
		return clone(token), err
	}
	revokedAt := now
	token.RevokedAt = &revokedAt
	return clone(token), nil
}

// RevokeByUser revokes every live token of the user and reports how many
// it touched.
func (s *InMemoryRefreshTokenStore) RevokeByUser(_ context.Context, userID id.UserID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			revokedAt := now
			token.RevokedAt = &revokedAt
			revoked++
		}
	}
	return revoked, nil
}

// RevokeBySession revokes every live token tied to the session and reports
// how many it touched.
func (s *InMemoryRefreshTokenStore) RevokeBySession(_ context.Context, sessionID id.SessionID, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for _, token := range s.tokens {
		if token.SessionID == sessionID && token.RevokedAt == nil {
			revokedAt := now
			token.RevokedAt = &revokedAt
			revoked++
		}
	}
	return revoked, nil
}

// DeleteExpired removes tokens past their expiry and returns how many were
// dropped. Revoked but unexpired rows stay behind; they are what replay
// detection runs on.
func (s *InMemoryRefreshTokenStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for hash, token := range s.tokens {
		if !token.ExpiresAt.After(now) {
			delete(s.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

func clone(token *models.RefreshToken) *models.RefreshToken {
	copied := *token
	return &copied
}
