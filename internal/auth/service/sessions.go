package service

import (
	"context"
	"errors"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// ListSessions returns the caller's active sessions as summaries. The
// current session is flagged from the request context so clients can
// render "this device".
func (s *Service) ListSessions(ctx context.Context, userID id.UserID) ([]models.Summary, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	now := requestcontext.Now(ctx)
	sessions, err := s.sessions.ListActiveByUser(ctx, userID, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}

	current := requestcontext.SessionID(ctx)
	summaries := make([]models.Summary, 0, len(sessions))
	for _, sess := range sessions {
		summaries = append(summaries, models.Summary{
			SessionID: sess.ID.String(),
			Device:    sess.DeviceName,
			IPAddress: sess.IPAddress,
			CreatedAt: sess.CreatedAt,
			ExpiresAt: sess.ExpiresAt,
			IsCurrent: sess.ID == current,
		})
	}
	return summaries, nil
}

// RevokeSession revokes one of the caller's sessions and its rotation
// chain. A session that does not exist and a session owned by someone else
// produce the same not-found answer, so the endpoint cannot be used to
// probe which session ids exist.
func (s *Service) RevokeSession(ctx context.Context, userID id.UserID, sessionID id.SessionID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if sessionID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "session id is required")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "session not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if session.UserID != userID {
		s.authFailure(ctx, string(audit.EventSessionRevoked), "ownership_mismatch",
			"user_id", userID,
			"session_id", sessionID.String())
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	}

	now := requestcontext.Now(ctx)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.sessions.Revoke(ctx, sessionID, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
		}
		if _, err := s.tokens.RevokeBySession(ctx, sessionID, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke refresh tokens")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, string(audit.EventSessionRevoked),
		"user_id", userID,
		"session_id", sessionID.String())
	s.incrementSessionsRevoked(1)
	return nil
}
