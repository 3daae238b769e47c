package lockout

import (
	"context"
	"sync"
	"time"

	"warden/pkg/requestcontext"
)

type failureWindow struct {
	count     int
	expiresAt time.Time
}

// InMemoryStore is the single-instance fallback when Redis is not
// configured. Expiry has no sweeper; stale entries are overwritten on
// the next failure and read as absent before that. Time comes from the
// request context so tests can steer the clock.
type InMemoryStore struct {
	mu       sync.Mutex
	failures map[string]*failureWindow
	locks    map[string]time.Time
}

func New() *InMemoryStore {
	return &InMemoryStore{
		failures: make(map[string]*failureWindow),
		locks:    make(map[string]time.Time),
	}
}

func (s *InMemoryStore) RecordFailure(ctx context.Context, identifier string, window time.Duration) (int, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.failures[identifier]
	if !ok || !now.Before(w.expiresAt) {
		w = &failureWindow{expiresAt: now.Add(window)}
		s.failures[identifier] = w
	}
	w.count++
	return w.count, nil
}

func (s *InMemoryStore) Lock(ctx context.Context, identifier string, duration time.Duration) (bool, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if until, ok := s.locks[identifier]; ok && now.Before(until) {
		return false, nil
	}
	s.locks[identifier] = now.Add(duration)
	return true, nil
}

func (s *InMemoryStore) Locked(ctx context.Context, identifier string) (bool, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.locks[identifier]
	return ok && now.Before(until), nil
}

func (s *InMemoryStore) Clear(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.failures, identifier)
	delete(s.locks, identifier)
	return nil
}
