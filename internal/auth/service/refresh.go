package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"warden/internal/auth/models"
	"warden/internal/crypto"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Refresh rotates a session: the presented token is claimed, the old
// session retired, and a successor session with a fresh chain link issued,
// all in one transaction. Exactly one concurrent caller wins the claim.
//
// Unknown, expired, and replayed tokens all fail with the same opaque
// unauthorized error; a replay is additionally audited, because a consumed
// token turning up again means the original or the thief lost a race.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.SessionResult, error) {
	ctx, span := tracer.Start(ctx, "auth.refresh")
	defer span.End()
	start := time.Now()

	if !strings.HasPrefix(refreshToken, crypto.TokenPrefixRefresh) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
	}
	hash := s.keyring.HashToken(refreshToken)
	now := requestcontext.Now(ctx)

	var (
		result   *models.SessionResult
		replayed *models.RefreshToken
	)
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := s.tokens.Claim(ctx, hash, now)
		if err != nil {
			switch {
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				replayed = claimed
				return dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
			case errors.Is(err, sentinel.ErrNotFound), errors.Is(err, sentinel.ErrExpired):
				return dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
			default:
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim refresh token")
			}
		}

		user, err := s.users.FindByID(ctx, claimed.UserID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeUnauthorized, "invalid refresh token")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
		}
		if err := user.CanLogin(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeForbidden, "refresh denied")
		}

		previous, err := s.sessions.FindByID(ctx, claimed.SessionID)
		if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
		}
		if previous != nil {
			s.warnOnDeviceDrift(ctx, previous)
		}

		verifiedAt, err := s.refreshVerifiedAt(ctx, user.ID, previous, now)
		if err != nil {
			return err
		}
		result, err = s.issueSession(ctx, user, verifiedAt, now)
		if err != nil {
			return err
		}

		// The predecessor session may already be gone if the sweeper ran;
		// the chain itself was retired by the claim above.
		if err := s.sessions.Revoke(ctx, claimed.SessionID, now); err != nil && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire session")
		}
		return nil
	})

	if replayed != nil {
		s.authFailure(ctx, string(audit.EventRefreshReplay), "already_consumed",
			"user_id", replayed.UserID,
			"session_id", replayed.SessionID.String())
		s.incrementRefreshReplay()
	}
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, string(audit.EventTokenRefreshed),
		"user_id", result.UserID,
		"session_id", result.SessionID.String())
	s.incrementRefresh()
	s.observeRefresh(start)

	return result, nil
}

// refreshVerifiedAt carries MFA verification across a rotation. A session
// verified after the factor was enabled stays verified; one verified only
// by the absence of a factor is demoted to pending as soon as a factor
// appears mid-chain.
func (s *Service) refreshVerifiedAt(ctx context.Context, userID id.UserID, previous *models.Session, now time.Time) (*time.Time, error) {
	if s.mfa == nil {
		return &now, nil
	}
	enabledAt, err := s.mfa.EnabledAt(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load mfa status")
	}
	if enabledAt == nil {
		return &now, nil
	}
	if previous != nil && previous.MFAVerifiedAt != nil && previous.MFAVerifiedAt.After(*enabledAt) {
		return previous.MFAVerifiedAt, nil
	}
	return nil, nil
}

// warnOnDeviceDrift flags a refresh arriving from a different device class
// than the session was created on. Drift is logged, never blocked: user
// agents churn on every browser update and fingerprints are heuristic.
func (s *Service) warnOnDeviceDrift(ctx context.Context, previous *models.Session) {
	if s.logger == nil {
		return
	}
	stored := s.device.ComputeFingerprint(previous.UserAgent)
	current := s.device.ComputeFingerprint(requestcontext.UserAgent(ctx))
	if _, drift := s.device.CompareFingerprints(stored, current); drift {
		s.logger.WarnContext(ctx, "device drift on refresh",
			"session_id", previous.ID.String(),
			"user_id", previous.UserID.String())
	}
}

func (s *Service) incrementRefresh() {
	if s.metrics != nil {
		s.metrics.Refreshes.Inc()
	}
}

func (s *Service) incrementRefreshReplay() {
	if s.metrics != nil {
		s.metrics.RefreshReplays.Inc()
	}
}
