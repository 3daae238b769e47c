package service

import (
	"context"
	"errors"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Logout revokes the caller's session and every refresh token the user
// holds, across all devices. The wide token revocation is deliberate: a
// user who logs out because a device was stolen must cut every chain, not
// just the one the thief already has.
func (s *Service) Logout(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if sessionID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "session id is required")
	}

	now := requestcontext.Now(ctx)
	var tokensRevoked int
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.Revoke(ctx, sessionID, now); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "session not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
		}
		n, err := s.tokens.RevokeByUser(ctx, userID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke refresh tokens")
		}
		tokensRevoked = n
		return nil
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, string(audit.EventLogout),
		"user_id", userID,
		"session_id", sessionID.String(),
		"refresh_tokens_revoked", tokensRevoked)
	s.incrementSessionsRevoked(1)
	return nil
}

// LogoutOthers revokes every active session except the caller's current
// one. Sessions are revoked one transaction at a time; a failure on one
// device must not resurrect the devices already cut off.
func (s *Service) LogoutOthers(ctx context.Context, userID id.UserID, currentSessionID id.SessionID) (int, error) {
	if userID.IsNil() {
		return 0, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if currentSessionID.IsNil() {
		return 0, dErrors.New(dErrors.CodeBadRequest, "session id is required")
	}

	now := requestcontext.Now(ctx)
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, now)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	revoked := 0
	for _, sess := range sessions {
		if sess.ID == currentSessionID {
			continue
		}
		sessID := sess.ID
		err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
			if err := s.sessions.Revoke(ctx, sessID, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
				return err
			}
			if _, err := s.tokens.RevokeBySession(ctx, sessID, now); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to revoke session during logout-others",
					"session_id", sessID.String(),
					"error", err)
			}
			continue
		}
		revoked++
	}

	s.logAudit(ctx, string(audit.EventSessionsRevoked),
		"user_id", userID,
		"sessions_revoked", revoked)
	s.incrementSessionsRevoked(revoked)
	return revoked, nil
}

func (s *Service) incrementSessionsRevoked(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.SessionsRevoked.Add(float64(n))
	}
}
