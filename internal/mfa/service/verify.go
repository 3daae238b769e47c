package service

import (
	"context"
	"errors"

	"warden/internal/mfa/recovery"
	"warden/internal/mfa/totp"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// Verify checks a TOTP code for the user and, on success, marks the given
// session MFA-verified. The first success also confirms the enrollment by
// setting EnabledAt; both writes happen in one transaction so the user can
// never end up enabled with a still-pending session.
//
// Failures count against the lockout limiter. A rejected code and a locked
// account both read as Unauthorized so the caller surfaces one opaque
// answer.
func (s *Service) Verify(ctx context.Context, userID id.UserID, sessionID id.SessionID, code string) error {
	now := requestcontext.Now(ctx)

	if err := s.checkLockout(ctx, userID); err != nil {
		return err
	}

	secret, err := s.secrets.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "multi-factor authentication not enrolled")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "find mfa secret")
	}

	raw, err := s.keyring.Open(secret.SecretEnc)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "unseal totp secret")
	}
	ok, err := totp.Verify(string(raw), code, now)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "check totp code")
	}
	if !ok {
		s.authFailure(ctx, string(audit.EventMFAVerifyFailed), "invalid_code", "user_id", userID)
		s.recordFailure(ctx, userID)
		return dErrors.New(dErrors.CodeUnauthorized, "invalid code")
	}

	firstVerify := secret.EnabledAt == nil
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if firstVerify {
			if err := s.secrets.Enable(ctx, userID, now); err != nil {
				return err
			}
		}
		return s.sessions.MarkVerified(ctx, sessionID, now)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The enrollment or the session went away while the code was being
			// checked. Either way the verification has nothing to attach to.
			return dErrors.New(dErrors.CodeUnauthorized, "verification failed")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit verification")
	}

	s.resetLockout(ctx, userID)
	s.logAudit(ctx, string(audit.EventMFAVerified), "user_id", userID, "session_id", sessionID, "enabled", firstVerify)
	s.incrementVerification()
	return nil
}

// UseRecoveryCode redeems one single-use recovery code in place of a TOTP
// code and marks the session verified. Consumption and the session update
// share a transaction; when two requests race on the same code exactly one
// redeems it. Returns how many codes remain so the caller can warn the
// user near exhaustion.
func (s *Service) UseRecoveryCode(ctx context.Context, userID id.UserID, sessionID id.SessionID, code string) (int, error) {
	now := requestcontext.Now(ctx)

	if err := s.checkLockout(ctx, userID); err != nil {
		return 0, err
	}

	secret, err := s.secrets.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return 0, dErrors.New(dErrors.CodeNotFound, "multi-factor authentication not enrolled")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "find mfa secret")
	}

	idx, ok := recovery.Match(secret.RecoveryCodes, code)
	if !ok {
		s.authFailure(ctx, string(audit.EventMFAVerifyFailed), "invalid_recovery_code", "user_id", userID)
		s.recordFailure(ctx, userID)
		return 0, dErrors.New(dErrors.CodeUnauthorized, "invalid recovery code")
	}

	hash := secret.RecoveryCodes[idx]
	var remaining int
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		left, err := s.secrets.ConsumeRecoveryCode(ctx, userID, hash, now)
		if err != nil {
			return err
		}
		remaining = left
		return s.sessions.MarkVerified(ctx, sessionID, now)
	})
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrAlreadyUsed):
			// Lost a race against a concurrent use of the same code. The code
			// was real, so the limiter stays untouched, but single-use means
			// the loser is refused all the same.
			s.incrementVerifyFailure()
			s.authFailure(ctx, string(audit.EventMFAVerifyFailed), "recovery_code_consumed", "user_id", userID)
			return 0, dErrors.New(dErrors.CodeUnauthorized, "invalid recovery code")
		case errors.Is(err, sentinel.ErrNotFound):
			return 0, dErrors.New(dErrors.CodeUnauthorized, "verification failed")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "consume recovery code")
	}

	s.resetLockout(ctx, userID)
	s.logAudit(ctx, string(audit.EventMFARecoveryUsed), "user_id", userID, "session_id", sessionID, "remaining", remaining)
	s.incrementRecoveryUse()
	return remaining, nil
}
