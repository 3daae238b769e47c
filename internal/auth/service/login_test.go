package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"warden/internal/auth/models"
	"warden/internal/crypto"
	"warden/internal/provider"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

func (s *ServiceSuite) TestBeginLogin() {
	tenantID := id.NewTenantID()
	ctx := requestcontext.WithTenantID(context.Background(), tenantID)

	s.Run("unconfigured provider returns not found", func() {
		_, err := s.service.BeginLogin(ctx, id.ProviderApple)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("github authorizes without a pkce challenge", func() {
		start, err := s.service.BeginLogin(ctx, id.ProviderGitHub)
		s.Require().NoError(err)
		s.Contains(start.URL, "github.example.com")
		s.Empty(s.github.lastChallenge)
		s.NotEmpty(s.github.lastState)
	})

	s.Run("google authorizes with an s256 challenge", func() {
		start, err := s.service.BeginLogin(ctx, id.ProviderGoogle)
		s.Require().NoError(err)
		s.Contains(start.URL, "google.example.com")
		s.NotEmpty(s.google.lastChallenge)
	})

	s.Run("sealed state decodes back to what the provider saw", func() {
		start, err := s.service.BeginLogin(ctx, id.ProviderGoogle)
		s.Require().NoError(err)

		st, err := s.codec.Decode(ctx, id.ProviderGoogle, start.State)
		s.Require().NoError(err)
		s.Equal(s.google.lastState, st.State)
		s.Equal(tenantID, st.TenantID)
		s.NotEmpty(st.Verifier)
	})
}

func (s *ServiceSuite) TestLogin_Validation() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	s.Run("unconfigured provider returns not found", func() {
		_, err := s.service.Login(ctx, LoginParams{Provider: id.ProviderMicrosoft, Code: "code"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("missing authorization code returns bad request", func() {
		_, err := s.service.Login(ctx, LoginParams{Provider: id.ProviderGitHub})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("garbage round-trip token returns unauthorized", func() {
		s.expectAuditEmits()

		_, err := s.service.Login(ctx, LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state",
			PKCEToken: "not-a-sealed-token",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "invalid login state")
	})

	s.Run("token sealed for another provider returns unauthorized", func() {
		s.expectAuditEmits()
		sealed := s.sealedLogin(ctx, id.ProviderGoogle, "state-abc", "verifier-xyz", tenantID)

		_, err := s.service.Login(ctx, LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: sealed,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "invalid login state")
	})

	s.Run("echoed state differing from sealed state returns unauthorized", func() {
		s.expectAuditEmits()
		sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)

		_, err := s.service.Login(ctx, LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-FORGED",
			PKCEToken: sealed,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("no tenant in token or context returns bad request", func() {
		sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", id.TenantID{})

		_, err := s.service.Login(ctx, LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: sealed,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
		s.Contains(err.Error(), "tenant scope required")
	})

	s.Run("expired round-trip token returns unauthorized", func() {
		s.expectAuditEmits()
		past := requestcontext.WithTime(ctx, time.Now().Add(-time.Hour))
		sealed := s.sealedLogin(past, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)

		_, err := s.service.Login(ctx, LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: sealed,
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestLogin_ProviderFailures() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	params := func(sealed string) LoginParams {
		return LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: sealed,
		}
	}

	s.Run("provider denial maps to an opaque unauthorized", func() {
		s.expectAuditEmits()
		sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)
		s.github.exchangeErr = &provider.OAuthError{
			Provider: id.ProviderGitHub,
			Reason:   "invalid_grant",
			Denied:   true,
		}
		s.T().Cleanup(func() { s.github.exchangeErr = nil })

		_, err := s.service.Login(ctx, params(sealed))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "login failed")
		s.NotContains(err.Error(), "invalid_grant")
	})

	s.Run("provider transport failure maps to internal", func() {
		sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)
		s.github.exchangeErr = &provider.OAuthError{
			Provider: id.ProviderGitHub,
			Reason:   "token endpoint unreachable",
			Err:      assert.AnError,
		}
		s.T().Cleanup(func() { s.github.exchangeErr = nil })

		_, err := s.service.Login(ctx, params(sealed))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})

	s.Run("identity without an email is refused", func() {
		s.expectAuditEmits()
		sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)
		saved := s.github.identity
		s.github.identity = &provider.Identity{ExternalID: "gh-12345"}
		s.T().Cleanup(func() { s.github.identity = saved })

		_, err := s.service.Login(ctx, params(sealed))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.Contains(err.Error(), "login failed")
	})
}

func (s *ServiceSuite) TestLogin_NewUser() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)
	s.expectAuditEmits()

	var createdUser *models.User
	s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(nil, sentinel.ErrNotFound)
	s.mockUsers.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, user *models.User) error {
			assert.Equal(s.T(), tenantID, user.TenantID)
			assert.Equal(s.T(), "dev@example.com", user.Email)
			assert.Equal(s.T(), models.RoleMember, user.Role)
			assert.Equal(s.T(), models.UserStatusActive, user.Status)
			createdUser = user
			return nil
		})

	s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
	s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, account *models.OAuthAccount) error {
			assert.Equal(s.T(), createdUser.ID, account.UserID)
			assert.Equal(s.T(), "gh-12345", account.ExternalID)
			// Stored provider tokens are sealed, never plaintext.
			plain, err := s.keyring.Open(account.AccessTokenEnc)
			require.NoError(s.T(), err)
			assert.Equal(s.T(), "gh-access-token", string(plain))
			assert.Empty(s.T(), account.RefreshTokenEnc)
			return nil
		})

	s.mockMFA.EXPECT().EnabledAt(gomock.Any(), gomock.Any()).Return(nil, nil)

	var createdSession *models.Session
	s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, session *models.Session) error {
			createdSession = session
			return nil
		})
	var createdToken *models.RefreshToken
	s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, token *models.RefreshToken) error {
			createdToken = token
			return nil
		})

	result, err := s.service.Login(ctx, LoginParams{
		Provider:  id.ProviderGitHub,
		Code:      "code",
		State:     "state-abc",
		PKCEToken: sealed,
	})
	require.NoError(s.T(), err)

	assert.Equal(s.T(), "verifier-xyz", s.github.lastVerifier)
	assert.Equal(s.T(), createdUser.ID, result.UserID)
	assert.False(s.T(), result.MFAPending)
	assert.True(s.T(), strings.HasPrefix(result.AccessToken, crypto.TokenPrefixSession))
	assert.True(s.T(), strings.HasPrefix(result.RefreshToken, crypto.TokenPrefixRefresh))

	// Stores only ever see digests of the bearer secrets.
	assert.Equal(s.T(), s.keyring.HashToken(result.AccessToken), createdSession.TokenHash)
	assert.Equal(s.T(), s.keyring.HashToken(result.RefreshToken), createdToken.TokenHash)
	assert.Equal(s.T(), createdSession.ID, createdToken.SessionID)
	assert.NotNil(s.T(), createdSession.MFAVerifiedAt)
}

func (s *ServiceSuite) TestLogin_NewUserWithoutProviderName() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	sealed := s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID)
	s.expectAuditEmits()

	saved := s.github.identity
	s.github.identity = &provider.Identity{
		ExternalID: "gh-12345",
		Email:      "jane.doe@example.com",
	}
	s.T().Cleanup(func() { s.github.identity = saved })

	s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "jane.doe@example.com").Return(nil, sentinel.ErrNotFound)
	s.mockUsers.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, user *models.User) error {
			assert.Equal(s.T(), "Jane Doe", user.Name)
			return nil
		})
	s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
	s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
	s.mockMFA.EXPECT().EnabledAt(gomock.Any(), gomock.Any()).Return(nil, nil)
	s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.service.Login(ctx, LoginParams{
		Provider:  id.ProviderGitHub,
		Code:      "code",
		State:     "state-abc",
		PKCEToken: sealed,
	})
	require.NoError(s.T(), err)
}

func (s *ServiceSuite) TestLogin_ExistingUser() {
	tenantID := id.NewTenantID()
	userID := id.NewUserID()

	newParams := func(ctx context.Context) LoginParams {
		return LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID),
		}
	}

	s.Run("existing link is reused with its original identity", func() {
		ctx := context.Background()
		s.expectAuditEmits()
		user := s.newTestUser(userID, tenantID)
		existingAccount := &models.OAuthAccount{
			ID:         id.NewOAuthAccountID(),
			UserID:     userID,
			Provider:   id.ProviderGitHub,
			ExternalID: "gh-12345",
			CreatedAt:  time.Now().Add(-30 * 24 * time.Hour),
		}

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(existingAccount, nil)
		s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, account *models.OAuthAccount) error {
				assert.Equal(s.T(), existingAccount.ID, account.ID)
				assert.Equal(s.T(), existingAccount.CreatedAt, account.CreatedAt)
				return nil
			})
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), userID).Return(nil, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Login(ctx, newParams(ctx))
		require.NoError(s.T(), err)
		assert.Equal(s.T(), userID, result.UserID)
	})

	s.Run("drifted profile fields are synced from the provider", func() {
		ctx := context.Background()
		s.expectAuditEmits()
		user := s.newTestUser(userID, tenantID)
		user.Name = "Old Name"

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)
		s.mockUsers.EXPECT().Update(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, updated *models.User) error {
				assert.Equal(s.T(), "Dev Eloper", updated.Name)
				return nil
			})
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
		s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), userID).Return(nil, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.service.Login(ctx, newParams(ctx))
		require.NoError(s.T(), err)
	})

	s.Run("enabled mfa leaves the session pending", func() {
		ctx := context.Background()
		s.expectAuditEmits()
		user := s.newTestUser(userID, tenantID)
		enabledAt := time.Now().Add(-time.Hour)

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
		s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), userID).Return(&enabledAt, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, session *models.Session) error {
				assert.Nil(s.T(), session.MFAVerifiedAt)
				return nil
			})
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Login(ctx, newParams(ctx))
		require.NoError(s.T(), err)
		assert.True(s.T(), result.MFAPending)
	})

	s.Run("inactive user is denied", func() {
		ctx := context.Background()
		user := s.newTestUser(userID, tenantID)
		user.Status = models.UserStatusInactive

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)

		_, err := s.service.Login(ctx, newParams(ctx))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.Contains(err.Error(), "login denied")
	})

	s.Run("tombstoned user is denied", func() {
		ctx := context.Background()
		user := s.newTestUser(userID, tenantID)
		deleted := time.Now().Add(-time.Hour)
		user.DeletedAt = &deleted

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)

		_, err := s.service.Login(ctx, newParams(ctx))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestLogin_Conflicts() {
	tenantID := id.NewTenantID()
	ctx := context.Background()

	newParams := func() LoginParams {
		return LoginParams{
			Provider:  id.ProviderGitHub,
			Code:      "code",
			State:     "state-abc",
			PKCEToken: s.sealedLogin(ctx, id.ProviderGitHub, "state-abc", "verifier-xyz", tenantID),
		}
	}

	s.T().Run("losing a signup race adopts the winner's row", func(t *testing.T) {
		s.expectAuditEmits()
		winner := s.newTestUser(id.NewUserID(), tenantID)

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(nil, sentinel.ErrNotFound)
		s.mockUsers.EXPECT().Create(gomock.Any(), gomock.Any()).Return(sentinel.ErrConflict)
		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(winner, nil)
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
		s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), winner.ID).Return(nil, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

		result, err := s.service.Login(ctx, newParams())
		require.NoError(t, err)
		assert.Equal(t, winner.ID, result.UserID)
	})

	s.T().Run("identity already linked to another user conflicts", func(t *testing.T) {
		user := s.newTestUser(id.NewUserID(), tenantID)
		other := &models.OAuthAccount{
			ID:         id.NewOAuthAccountID(),
			UserID:     id.NewUserID(),
			Provider:   id.ProviderGitHub,
			ExternalID: "gh-12345",
		}

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(other, nil)

		_, err := s.service.Login(ctx, newParams())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "already linked")
	})

	s.T().Run("store failure during session creation surfaces as internal", func(t *testing.T) {
		user := s.newTestUser(id.NewUserID(), tenantID)

		s.mockUsers.EXPECT().FindByTenantEmail(gomock.Any(), tenantID, "dev@example.com").Return(user, nil)
		s.mockAccounts.EXPECT().FindByProviderExternalID(gomock.Any(), id.ProviderGitHub, "gh-12345").Return(nil, sentinel.ErrNotFound)
		s.mockAccounts.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), user.ID).Return(nil, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(assert.AnError)

		_, err := s.service.Login(ctx, newParams())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
