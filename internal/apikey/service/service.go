// Package service implements user-issued API keys: long-lived machine
// credentials created, rotated, and revoked from a verified session.
//
// A key's plaintext leaves the service exactly once, in the result of the
// create or rotate that minted it. At rest only the HMAC digest (for
// lookup) and a sealed copy survive. Rotation swaps the secret inside the
// existing row so the key's identity and name outlive the credential.
package service

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/apikey/metrics"
	"warden/internal/apikey/models"
	"warden/internal/crypto"
	"warden/pkg/attrs"
	id "warden/pkg/domain"
	audit "warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// MaxNameLength bounds the key name a caller may choose.
const MaxNameLength = 100

type Store interface {
	Create(ctx context.Context, key *models.APIKey) error
	FindByID(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.APIKey, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.APIKey, error)
	ReplaceToken(ctx context.Context, keyID id.APIKeyID, tokenHash, tokenEnc string) error
	Revoke(ctx context.Context, keyID id.APIKeyID, now time.Time) error
	TouchLastUsed(ctx context.Context, keyID id.APIKeyID, now time.Time) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service issues and authenticates API keys.
type Service struct {
	keyring *crypto.Keyring
	keys    Store

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

// New constructs a Service.
func New(keyring *crypto.Keyring, keys Store, opts ...Option) *Service {
	s := &Service{
		keyring: keyring,
		keys:    keys,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// logAudit logs the event and forwards it to the audit publisher. Emission
// is best-effort; losing an audit event must not fail the operation that
// produced it.
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
	if keyID := attrs.ExtractString(attributes, "key_id"); keyID != "" {
		e.Subject = keyID
	} else if !userID.IsNil() {
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

func (s *Service) incrementCreated() {
	if s.metrics != nil {
		s.metrics.IncrementCreated()
	}
}

func (s *Service) incrementRotated() {
	if s.metrics != nil {
		s.metrics.IncrementRotated()
	}
}

func (s *Service) incrementRevoked() {
	if s.metrics != nil {
		s.metrics.IncrementRevoked()
	}
}

func (s *Service) incrementAuthFailure() {
	if s.metrics != nil {
		s.metrics.IncrementAuthFailure()
	}
}
