package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/auth/device"
	"warden/internal/auth/models"
	"warden/internal/crypto"
	"warden/internal/pkce"
	"warden/internal/provider"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	emailaddr "warden/pkg/email"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// LoginStart is the response to a login initiation. URL is where the
// client sends the user; State is the sealed round-trip token the client
// must return on the callback, typically via cookie.
type LoginStart struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// LoginParams carries the provider callback. State is the raw CSRF value
// echoed through the provider redirect; PKCEToken is the sealed round-trip
// token the client held on to.
type LoginParams struct {
	Provider  id.Provider
	Code      string
	State     string
	PKCEToken string
}

// BeginLogin starts a federated login round-trip. State and verifier are
// always generated so the sealed token has one shape everywhere; providers
// without PKCE simply never see the challenge.
func (s *Service) BeginLogin(ctx context.Context, providerName id.Provider) (*LoginStart, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	state, err := pkce.NewState()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate state")
	}
	verifier, err := pkce.NewVerifier()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate verifier")
	}

	sealed, err := s.codec.Encode(ctx, providerName, state, verifier, requestcontext.TenantID(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal login state")
	}

	challenge := ""
	if providerName.UsesPKCE() {
		challenge = pkce.S256Challenge(verifier)
	}

	return &LoginStart{
		URL:   p.AuthorizationURL(state, challenge),
		State: sealed,
	}, nil
}

// Login completes the provider callback: verify the round-trip state,
// exchange the code, resolve or create the user, link the provider
// identity, and issue a session.
//
// Provider calls happen before the transaction opens; the database never
// waits on an upstream network round-trip.
func (s *Service) Login(ctx context.Context, params LoginParams) (*models.SessionResult, error) {
	ctx, span := tracer.Start(ctx, "auth.login", trace.WithAttributes(
		attribute.String("oauth.provider", params.Provider.String()),
	))
	defer span.End()
	start := time.Now()

	p, err := s.providers.Get(params.Provider)
	if err != nil {
		return nil, err
	}
	if params.Code == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "authorization code is required")
	}

	st, err := s.codec.Decode(ctx, params.Provider, params.PKCEToken)
	if err != nil {
		s.authFailure(ctx, string(audit.EventLoginFailed), "invalid_state", "provider", params.Provider.String())
		s.incrementLoginFailure(params.Provider.String())
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid login state")
	}
	if subtle.ConstantTimeCompare([]byte(st.State), []byte(params.State)) != 1 {
		s.authFailure(ctx, string(audit.EventLoginFailed), "state_mismatch", "provider", params.Provider.String())
		s.incrementLoginFailure(params.Provider.String())
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid login state")
	}

	tenantID := st.TenantID
	if tenantID.IsNil() {
		tenantID = requestcontext.TenantID(ctx)
	}
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "tenant scope required")
	}

	tokens, err := p.Exchange(ctx, params.Code, st.Verifier)
	if err != nil {
		return nil, s.translateProviderError(ctx, params.Provider, err)
	}
	identity, err := p.Identity(ctx, tokens)
	if err != nil {
		return nil, s.translateProviderError(ctx, params.Provider, err)
	}

	email := emailaddr.Canonical(identity.Email)
	if email == "" {
		s.authFailure(ctx, string(audit.EventLoginFailed), "missing_email", "provider", params.Provider.String())
		s.incrementLoginFailure(params.Provider.String())
		return nil, dErrors.New(dErrors.CodeUnauthorized, "login failed")
	}

	accessEnc, err := s.keyring.Seal([]byte(tokens.AccessToken))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal provider tokens")
	}
	refreshEnc := ""
	if tokens.RefreshToken != "" {
		refreshEnc, err = s.keyring.Seal([]byte(tokens.RefreshToken))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal provider tokens")
		}
	}

	now := requestcontext.Now(ctx)
	var (
		user    *models.User
		created bool
		result  *models.SessionResult
	)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		user, created, err = s.resolveUser(ctx, tenantID, email, identity, now)
		if err != nil {
			return err
		}
		if err := user.CanLogin(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeForbidden, "login denied")
		}

		if err := s.linkAccount(ctx, user, params.Provider, identity.ExternalID, accessEnc, refreshEnc, tokens.ExpiresAt, now); err != nil {
			return err
		}

		verifiedAt, err := s.loginVerifiedAt(ctx, user.ID, now)
		if err != nil {
			return err
		}
		result, err = s.issueSession(ctx, user, verifiedAt, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.logAudit(ctx, string(audit.EventUserCreated),
			"user_id", user.ID,
			"provider", params.Provider.String())
	}
	s.logAudit(ctx, string(audit.EventLogin),
		"user_id", user.ID,
		"provider", params.Provider.String(),
		"session_id", result.SessionID.String())
	s.incrementLogin(params.Provider.String())
	s.observeLogin(start)

	return result, nil
}

// resolveUser finds the tenant-scoped account for an email or provisions
// one on first login. Two first logins racing on the same email serialize
// on the unique index; the loser adopts the row the winner created.
func (s *Service) resolveUser(ctx context.Context, tenantID id.TenantID, email string, identity *provider.Identity, now time.Time) (*models.User, bool, error) {
	existing, err := s.users.FindByTenantEmail(ctx, tenantID, email)
	if err == nil {
		return existing, false, s.syncProfile(ctx, existing, identity, now)
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up user")
	}

	name := identity.Name
	if name == "" {
		// Apple sends the name only on first authorization and GitHub
		// lets users blank theirs; the local part is the best fallback.
		name = emailaddr.DeriveName(email)
	}
	user := &models.User{
		ID:        id.NewUserID(),
		TenantID:  tenantID,
		Email:     email,
		Name:      name,
		AvatarURL: identity.AvatarURL,
		Role:      models.RoleMember,
		Status:    models.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			winner, ferr := s.users.FindByTenantEmail(ctx, tenantID, email)
			if ferr != nil {
				return nil, false, dErrors.Wrap(ferr, dErrors.CodeInternal, "failed to resolve user after signup race")
			}
			return winner, false, nil
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}
	return user, true, nil
}

// syncProfile refreshes name and avatar from the provider identity when
// they drifted. Empty identity fields never clobber stored values.
func (s *Service) syncProfile(ctx context.Context, user *models.User, identity *provider.Identity, now time.Time) error {
	changed := false
	if n := identity.Name; n != "" && n != user.Name {
		user.Name = n
		changed = true
	}
	if a := identity.AvatarURL; a != "" && a != user.AvatarURL {
		user.AvatarURL = a
		changed = true
	}
	if !changed {
		return nil
	}
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update user profile")
	}
	return nil
}

// linkAccount upserts the provider link for this user, reusing the row
// identity when the link already exists so both storage backends keep the
// original id and creation time.
func (s *Service) linkAccount(ctx context.Context, user *models.User, p id.Provider, externalID, accessEnc, refreshEnc string, expiresAt time.Time, now time.Time) error {
	account := &models.OAuthAccount{
		ID:              id.NewOAuthAccountID(),
		UserID:          user.ID,
		Provider:        p,
		ExternalID:      externalID,
		AccessTokenEnc:  accessEnc,
		RefreshTokenEnc: refreshEnc,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !expiresAt.IsZero() {
		account.ExpiresAt = &expiresAt
	}

	existing, err := s.accounts.FindByProviderExternalID(ctx, p, externalID)
	switch {
	case err == nil:
		if existing.UserID != user.ID {
			return dErrors.New(dErrors.CodeConflict, "provider identity already linked to another user")
		}
		account.ID = existing.ID
		account.CreatedAt = existing.CreatedAt
	case !errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up provider link")
	}

	if err := s.accounts.Upsert(ctx, account); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "provider identity already linked to another user")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to link provider account")
	}
	return nil
}

// loginVerifiedAt decides the MFA state of a fresh login session. Users
// without an enabled factor verify implicitly; everyone else starts the
// session pending.
func (s *Service) loginVerifiedAt(ctx context.Context, userID id.UserID, now time.Time) (*time.Time, error) {
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
	return nil, nil
}

// issueSession mints the session and the first link of its rotation chain.
// Raw secrets exist only in the returned result; the stores see digests.
func (s *Service) issueSession(ctx context.Context, user *models.User, verifiedAt *time.Time, now time.Time) (*models.SessionResult, error) {
	sessionToken, sessionHash, err := s.keyring.NewToken(crypto.TokenPrefixSession)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint session token")
	}
	refreshToken, refreshHash, err := s.keyring.NewToken(crypto.TokenPrefixRefresh)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint refresh token")
	}

	userAgent := requestcontext.UserAgent(ctx)
	session := &models.Session{
		ID:            id.NewSessionID(),
		UserID:        user.ID,
		TenantID:      user.TenantID,
		TokenHash:     sessionHash,
		IPAddress:     requestcontext.ClientIP(ctx),
		UserAgent:     userAgent,
		DeviceName:    device.ParseUserAgent(userAgent),
		MFAVerifiedAt: verifiedAt,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	token := &models.RefreshToken{
		ID:        id.NewRefreshTokenID(),
		UserID:    user.ID,
		SessionID: session.ID,
		TokenHash: refreshHash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.tokens.Create(ctx, token); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create refresh token")
	}

	return &models.SessionResult{
		SessionID:    session.ID,
		UserID:       user.ID,
		AccessToken:  sessionToken,
		RefreshToken: refreshToken,
		ExpiresAt:    session.ExpiresAt,
		MFAPending:   verifiedAt == nil,
	}, nil
}
