// Package service implements multi-factor authentication: TOTP enrollment
// and verification, single-use recovery codes, and the per-session verified
// bit.
//
// MFA state lives per user, verification lives per session. A successful
// verify mutates both inside one transaction so a user is never left with a
// confirmed factor and a still-pending session. The shared secret is sealed
// at rest and opened only for the duration of a code check.
package service

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/crypto"
	"warden/internal/mfa/metrics"
	"warden/internal/mfa/models"
	"warden/pkg/attrs"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/tx"
	"warden/pkg/requestcontext"
)

// DefaultIssuer labels provisioning URIs in authenticator apps.
const DefaultIssuer = "Warden"

type SecretStore interface {
	Upsert(ctx context.Context, secret *models.Secret) error
	Find(ctx context.Context, userID id.UserID) (*models.Secret, error)
	Enable(ctx context.Context, userID id.UserID, at time.Time) error
	Delete(ctx context.Context, userID id.UserID) error
	ConsumeRecoveryCode(ctx context.Context, userID id.UserID, hash string, now time.Time) (int, error)
}

// SessionVerifier is the single session mutation this module performs. The
// auth session stores satisfy it, so the verified bit flips in the same
// transaction as the MFA state change.
type SessionVerifier interface {
	MarkVerified(ctx context.Context, sessionID id.SessionID, now time.Time) error
}

// Lockout throttles code guessing. Allow reports whether the user may
// attempt a code at all; RecordFailure reports whether this failure tripped
// the lock. A nil Lockout disables throttling.
type Lockout interface {
	Allow(ctx context.Context, userID id.UserID) (bool, error)
	RecordFailure(ctx context.Context, userID id.UserID) (bool, error)
	Reset(ctx context.Context, userID id.UserID) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates enrollment, verification, and recovery.
type Service struct {
	keyring *crypto.Keyring
	runner  tx.Runner

	secrets  SecretStore
	sessions SessionVerifier

	issuer string

	lockout        Lockout
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLockout installs the failed-attempt limiter for verify and recover.
func WithLockout(l Lockout) Option {
	return func(s *Service) {
		s.lockout = l
	}
}

// WithIssuer overrides the issuer shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// New constructs a Service. The lockout is optional; without one every
// verification attempt reaches the TOTP check.
func New(
	keyring *crypto.Keyring,
	runner tx.Runner,
	secrets SecretStore,
	sessions SessionVerifier,
	opts ...Option,
) *Service {
	s := &Service{
		keyring:  keyring,
		runner:   runner,
		secrets:  secrets,
		sessions: sessions,
		issuer:   DefaultIssuer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logAudit logs the event and forwards it to the audit publisher. Emission
// is best-effort; losing an audit event must not fail the operation that
// produced it. Never call this inside a transaction callback: the postgres
// audit store joins the context transaction, and a rollback would erase
// the trail entry.
func (s *Service) logAudit(ctx context.Context, event string, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, event, args...)
	}
	if s.auditPublisher == nil {
		return
	}
	userID := attrs.ExtractUserID(attributes, "user_id")
	e := audit.Event{
		UserID:    userID,
		TenantID:  requestcontext.TenantID(ctx),
		Action:    event,
		Reason:    attrs.ExtractString(attributes, "reason"),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
	}
	if !userID.IsNil() {
		e.Subject = userID.String()
	}
	_ = s.auditPublisher.Emit(ctx, e)
}

// authFailure records a denied or failed operation at warn level with the
// matching audit event.
func (s *Service) authFailure(ctx context.Context, event, reason string, attributes ...any) {
	if s.logger != nil {
		args := append([]any{"reason", reason}, attributes...)
		s.logger.WarnContext(ctx, event, args...)
	}
	s.logAudit(ctx, event, append(attributes, "reason", reason)...)
}

// checkLockout gates verify and recover. When the limiter errors the gate
// fails open: the limiter is a brake on guessing, and an outage in it must
// not take second factors down with it.
func (s *Service) checkLockout(ctx context.Context, userID id.UserID) error {
	if s.lockout == nil {
		return nil
	}
	allowed, err := s.lockout.Allow(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "mfa lockout check", "error", err, "user_id", userID)
		}
		return nil
	}
	if !allowed {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "mfa attempt while locked out", "user_id", userID)
		}
		return dErrors.New(dErrors.CodeUnauthorized, "too many attempts")
	}
	return nil
}

// recordFailure feeds the limiter after a rejected code and raises the
// lockout event on the failure that crosses the threshold.
func (s *Service) recordFailure(ctx context.Context, userID id.UserID) {
	s.incrementVerifyFailure()
	if s.lockout == nil {
		return
	}
	locked, err := s.lockout.RecordFailure(ctx, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "record mfa failure", "error", err, "user_id", userID)
		}
		return
	}
	if locked {
		s.incrementLockout()
		s.authFailure(ctx, string(audit.EventMFALockoutTriggered), "too_many_failures", "user_id", userID)
	}
}

// resetLockout clears the failure counter after a success. Best-effort: a
// limiter outage must not fail a verification that already succeeded.
func (s *Service) resetLockout(ctx context.Context, userID id.UserID) {
	if s.lockout == nil {
		return
	}
	if err := s.lockout.Reset(ctx, userID); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "reset mfa lockout", "error", err, "user_id", userID)
	}
}

func (s *Service) incrementEnrollment() {
	if s.metrics != nil {
		s.metrics.IncrementEnrollment()
	}
}

func (s *Service) incrementVerification() {
	if s.metrics != nil {
		s.metrics.IncrementVerification()
	}
}

func (s *Service) incrementVerifyFailure() {
	if s.metrics != nil {
		s.metrics.IncrementVerifyFailure()
	}
}

func (s *Service) incrementRecoveryUse() {
	if s.metrics != nil {
		s.metrics.IncrementRecoveryUse()
	}
}

func (s *Service) incrementLockout() {
	if s.metrics != nil {
		s.metrics.IncrementLockout()
	}
}
