package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// InMemorySessionStore stores sessions in memory for tests and development.
// Records are copied on the way in and out so callers never share memory
// with the store; state transitions happen under the store lock.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
	byHash   map[string]id.SessionID
}

// New constructs an empty in-memory session store.
func New() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[id.SessionID]*models.Session),
		byHash:   make(map[string]id.SessionID),
	}
}

func (s *InMemorySessionStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return fmt.Errorf("session id taken: %w", sentinel.ErrConflict)
	}
	if _, ok := s.byHash[session.TokenHash]; ok {
		return fmt.Errorf("session token hash taken: %w", sentinel.ErrConflict)
	}
	s.sessions[session.ID] = clone(session)
	s.byHash[session.TokenHash] = session.ID
	return nil
}

// FindByTokenHash returns the session bearing the hash regardless of its
// state. Liveness checks belong to the caller so expired and revoked
// lookups stay distinguishable from missing ones.
func (s *InMemorySessionStore) FindByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, ok := s.byHash[tokenHash]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return clone(s.sessions[sessionID]), nil
}

func (s *InMemorySessionStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return clone(session), nil
}

// ListActiveByUser returns the user's unrevoked, unexpired sessions,
// newest first.
func (s *InMemorySessionStore) ListActiveByUser(_ context.Context, userID id.UserID, now time.Time) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*models.Session
	for _, session := range s.sessions {
		if session.UserID == userID && session.ActiveAt(now) {
			active = append(active, clone(session))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Revoke stamps RevokedAt on an active session. Revoking an already-revoked
// session is a no-op so logout stays idempotent.
func (s *InMemorySessionStore) Revoke(_ context.Context, sessionID id.SessionID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	if session.RevokedAt == nil {
		revokedAt := now
		session.RevokedAt = &revokedAt
	}
	return nil
}

// MarkVerified stamps MFAVerifiedAt on an active session. Revoked sessions
// are reported as not found.
func (s *InMemorySessionStore) MarkVerified(_ context.Context, sessionID id.SessionID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.RevokedAt != nil {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	verifiedAt := now
	session.MFAVerifiedAt = &verifiedAt
	return nil
}

// DeleteExpired removes sessions whose expiry has passed and returns how
// many were dropped. The time parameter is injected for testability.
func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for sessionID, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			delete(s.byHash, session.TokenHash)
			delete(s.sessions, sessionID)
			deleted++
		}
	}
	return deleted, nil
}

func clone(session *models.Session) *models.Session {
	copied := *session
	return &copied
}
