package service

import (
	"context"

	dErrors "warden/pkg/domain-errors"
	"warden/pkg/requestcontext"
)

// SweepExpired deletes refresh tokens and sessions past their expiry.
// Tokens go first: refresh tokens reference their session, so the session
// sweep can only reclaim rows whose chain is already gone.
func (s *Service) SweepExpired(ctx context.Context) (tokens, sessions int, err error) {
	now := requestcontext.Now(ctx)

	tokens, err = s.tokens.DeleteExpired(ctx, now)
	if err != nil {
		return 0, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep refresh tokens")
	}
	sessions, err = s.sessions.DeleteExpired(ctx, now)
	if err != nil {
		return tokens, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep sessions")
	}

	if s.logger != nil && (tokens > 0 || sessions > 0) {
		s.logger.InfoContext(ctx, "swept expired credentials",
			"refresh_tokens", tokens,
			"sessions", sessions)
	}
	return tokens, sessions, nil
}
