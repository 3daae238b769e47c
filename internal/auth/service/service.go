// Package service implements the authentication core: federated login,
// session issuance, refresh token rotation, and session management.
//
// Every session mutation pairs with a refresh token mutation inside one
// transaction; a session and its rotation chain live and die together.
// Audit events are emitted after the transaction commits, never inside
// it, so a rollback cannot leave phantom trail entries.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"warden/internal/auth/device"
	"warden/internal/auth/metrics"
	"warden/internal/auth/models"
	"warden/internal/crypto"
	"warden/internal/pkce"
	"warden/internal/provider"
	"warden/pkg/attrs"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/tx"
	"warden/pkg/requestcontext"
)

// Default lifetimes. Sessions are short because refresh is cheap; the
// refresh window bounds how long an idle device stays signed in.
const (
	DefaultSessionTTL = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByTenantEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
}

type OAuthAccountStore interface {
	FindByProviderExternalID(ctx context.Context, provider id.Provider, externalID string) (*models.OAuthAccount, error)
	Upsert(ctx context.Context, account *models.OAuthAccount) error
}

type SessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID id.UserID, now time.Time) ([]*models.Session, error)
	Revoke(ctx context.Context, sessionID id.SessionID, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	Claim(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)
	RevokeByUser(ctx context.Context, userID id.UserID, now time.Time) (int, error)
	RevokeBySession(ctx context.Context, sessionID id.SessionID, now time.Time) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MFAStatus reports when a user's MFA became enabled. A nil time means the
// user has no enabled factor and sessions verify implicitly.
type MFAStatus interface {
	EnabledAt(ctx context.Context, userID id.UserID) (*time.Time, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates login, refresh, and session lifecycle.
type Service struct {
	providers *provider.Registry
	codec     *pkce.Codec
	keyring   *crypto.Keyring
	runner    tx.Runner

	users    UserStore
	accounts OAuthAccountStore
	sessions SessionStore
	tokens   RefreshTokenStore
	mfa      MFAStatus

	sessionTTL time.Duration
	refreshTTL time.Duration

	device         *device.Service
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

func WithDeviceService(d *device.Service) Option {
	return func(s *Service) {
		s.device = d
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.sessionTTL = ttl
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.refreshTTL = ttl
	}
}

// New constructs a Service. The mfa dependency may be nil, in which case
// every session verifies implicitly at issuance.
func New(
	providers *provider.Registry,
	codec *pkce.Codec,
	keyring *crypto.Keyring,
	runner tx.Runner,
	users UserStore,
	accounts OAuthAccountStore,
	sessions SessionStore,
	tokens RefreshTokenStore,
	mfa MFAStatus,
	opts ...Option,
) *Service {
	s := &Service{
		providers:  providers,
		codec:      codec,
		keyring:    keyring,
		runner:     runner,
		users:      users,
		accounts:   accounts,
		sessions:   sessions,
		tokens:     tokens,
		mfa:        mfa,
		sessionTTL: DefaultSessionTTL,
		refreshTTL: DefaultRefreshTTL,
		device:     device.NewService(false),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var tracer = otel.Tracer("warden/auth")

// translateProviderError maps upstream failures at the service boundary.
// Denials become an opaque 401 and leave an audit trail; everything else
// is an internal fault of ours or the provider's.
func (s *Service) translateProviderError(ctx context.Context, p id.Provider, err error) error {
	var oauthErr *provider.OAuthError
	if errors.As(err, &oauthErr) && oauthErr.Denied {
		s.authFailure(ctx, string(audit.EventLoginFailed), oauthErr.Reason, "provider", p.String())
		s.incrementLoginFailure(p.String())
		return dErrors.New(dErrors.CodeUnauthorized, "login failed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "provider request failed")
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
		Provider:  attrs.ExtractString(attributes, "provider"),
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

func (s *Service) incrementLogin(provider string) {
	if s.metrics != nil {
		s.metrics.IncrementLogin(provider)
	}
}

func (s *Service) incrementLoginFailure(provider string) {
	if s.metrics != nil {
		s.metrics.IncrementLoginFailure(provider)
	}
}

func (s *Service) observeLogin(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveLogin(start)
	}
}

func (s *Service) observeRefresh(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRefresh(start)
	}
}
