// Package lockout throttles failed second-factor attempts. A user who
// burns through the failure budget inside the window is locked out for a
// fixed duration; successful verification clears the slate.
package lockout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Store counts failures and holds locks. It is pure I/O: the thresholds
// and durations all arrive from the service.
type Store interface {
	// RecordFailure increments the failure count inside the window and
	// returns the new count. The window is anchored at the first failure.
	RecordFailure(ctx context.Context, identifier string, window time.Duration) (int, error)

	// Lock places a lock for the given duration. It reports false when a
	// lock is already held, so concurrent threshold crossings elect a
	// single winner.
	Lock(ctx context.Context, identifier string, duration time.Duration) (bool, error)

	// Locked reports whether an unexpired lock is held.
	Locked(ctx context.Context, identifier string) (bool, error)

	// Clear drops the failure count and any lock.
	Clear(ctx context.Context, identifier string) error
}

// Policy bounds code guessing: MaxFailures inside Window trips a lock
// that holds for LockDuration.
type Policy struct {
	MaxFailures  int
	Window       time.Duration
	LockDuration time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxFailures:  5,
		Window:       15 * time.Minute,
		LockDuration: 15 * time.Minute,
	}
}

type Service struct {
	store  Store
	policy Policy
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPolicy(policy Policy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("lockout store is required")
	}

	svc := &Service{
		store:  store,
		policy: DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.policy.MaxFailures < 1 {
		return nil, errors.New("lockout policy needs a positive failure budget")
	}
	return svc, nil
}

// Allow reports whether the user may attempt a code.
func (s *Service) Allow(ctx context.Context, userID id.UserID) (bool, error) {
	locked, err := s.store.Locked(ctx, userID.String())
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check lockout")
	}
	return !locked, nil
}

// RecordFailure counts a rejected code and reports whether this failure
// tripped the lock. Only the call that crosses the threshold reports
// true, so callers can raise the lockout event exactly once per lock.
func (s *Service) RecordFailure(ctx context.Context, userID id.UserID) (bool, error) {
	identifier := userID.String()

	count, err := s.store.RecordFailure(ctx, identifier, s.policy.Window)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record failure")
	}
	if count < s.policy.MaxFailures {
		return false, nil
	}

	applied, err := s.store.Lock(ctx, identifier, s.policy.LockDuration)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply lockout")
	}
	if applied && s.logger != nil {
		s.logger.WarnContext(ctx, "mfa lockout applied",
			"user_id", identifier,
			"failures", count,
			"lock_duration", s.policy.LockDuration,
		)
	}
	return applied, nil
}

// Reset clears the failure count and any lock after a successful
// verification.
func (s *Service) Reset(ctx context.Context, userID id.UserID) error {
	if err := s.store.Clear(ctx, userID.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear failures")
	}
	return nil
}
