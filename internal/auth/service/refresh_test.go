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
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
)

func (s *ServiceSuite) newRefreshFixture() (token string, claimed *models.RefreshToken, user *models.User, previous *models.Session) {
	userID := id.NewUserID()
	tenantID := id.NewTenantID()
	sessionID := id.NewSessionID()
	token = crypto.TokenPrefixRefresh + "fixture-token"
	now := time.Now()

	claimed = &models.RefreshToken{
		ID:        id.NewRefreshTokenID(),
		UserID:    userID,
		SessionID: sessionID,
		TokenHash: s.keyring.HashToken(token),
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(29 * 24 * time.Hour),
	}
	user = s.newTestUser(userID, tenantID)
	verified := now.Add(-time.Hour)
	previous = &models.Session{
		ID:            sessionID,
		UserID:        userID,
		TenantID:      tenantID,
		TokenHash:     "old-session-hash",
		MFAVerifiedAt: &verified,
		CreatedAt:     now.Add(-time.Hour),
		ExpiresAt:     now.Add(-time.Minute),
	}
	return token, claimed, user, previous
}

func (s *ServiceSuite) TestRefresh_Rotation() {
	ctx := context.Background()
	token, claimed, user, previous := s.newRefreshFixture()
	s.expectAuditEmits()

	s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
	s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
	s.mockSessions.EXPECT().FindByID(gomock.Any(), claimed.SessionID).Return(previous, nil)
	s.mockMFA.EXPECT().EnabledAt(gomock.Any(), user.ID).Return(nil, nil)

	var successor *models.Session
	s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, session *models.Session) error {
			assert.NotEqual(s.T(), previous.ID, session.ID)
			assert.Equal(s.T(), user.ID, session.UserID)
			successor = session
			return nil
		})
	s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, created *models.RefreshToken) error {
			assert.NotEqual(s.T(), claimed.TokenHash, created.TokenHash)
			assert.Equal(s.T(), successor.ID, created.SessionID)
			return nil
		})
	s.mockSessions.EXPECT().Revoke(gomock.Any(), previous.ID, gomock.Any()).Return(nil)

	result, err := s.service.Refresh(ctx, token)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), successor.ID, result.SessionID)
	assert.NotEqual(s.T(), token, result.RefreshToken)
	assert.True(s.T(), strings.HasPrefix(result.AccessToken, crypto.TokenPrefixSession))
	assert.True(s.T(), strings.HasPrefix(result.RefreshToken, crypto.TokenPrefixRefresh))
	assert.False(s.T(), result.MFAPending)
}

func (s *ServiceSuite) TestRefresh_InvalidTokens() {
	ctx := context.Background()

	s.T().Run("missing prefix fails before any store call", func(t *testing.T) {
		result, err := s.service.Refresh(ctx, "sess-not-a-refresh-token")
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid refresh token")
	})

	s.T().Run("unknown token", func(t *testing.T) {
		token := crypto.TokenPrefixRefresh + "unknown"
		s.mockTokens.EXPECT().Claim(gomock.Any(), s.keyring.HashToken(token), gomock.Any()).Return(nil, sentinel.ErrNotFound)

		result, err := s.service.Refresh(ctx, token)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid refresh token")
	})

	s.T().Run("expired token", func(t *testing.T) {
		token := crypto.TokenPrefixRefresh + "expired"
		s.mockTokens.EXPECT().Claim(gomock.Any(), s.keyring.HashToken(token), gomock.Any()).Return(nil, sentinel.ErrExpired)

		result, err := s.service.Refresh(ctx, token)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid refresh token")
	})

	s.T().Run("store failure during claim is internal", func(t *testing.T) {
		token := crypto.TokenPrefixRefresh + "broken"
		s.mockTokens.EXPECT().Claim(gomock.Any(), s.keyring.HashToken(token), gomock.Any()).Return(nil, assert.AnError)

		result, err := s.service.Refresh(ctx, token)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestRefresh_Replay() {
	ctx := context.Background()
	token, claimed, _, _ := s.newRefreshFixture()
	revoked := time.Now().Add(-time.Minute)
	claimed.RevokedAt = &revoked

	s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, sentinel.ErrAlreadyUsed)
	s.mockAuditPublisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, event audit.Event) error {
			assert.Equal(s.T(), string(audit.EventRefreshReplay), event.Action)
			assert.Equal(s.T(), claimed.UserID, event.UserID)
			assert.Equal(s.T(), "already_consumed", event.Reason)
			return nil
		})

	result, err := s.service.Refresh(ctx, token)
	s.Require().Error(err)
	s.Nil(result)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Contains(err.Error(), "invalid refresh token")
}

func (s *ServiceSuite) TestRefresh_UserChecks() {
	ctx := context.Background()

	s.T().Run("vanished user reads as an invalid token", func(t *testing.T) {
		token, claimed, user, _ := s.newRefreshFixture()
		s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
		s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(nil, sentinel.ErrNotFound)

		result, err := s.service.Refresh(ctx, token)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid refresh token")
	})

	s.T().Run("inactive user is denied", func(t *testing.T) {
		token, claimed, user, _ := s.newRefreshFixture()
		user.Status = models.UserStatusInactive
		s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
		s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)

		result, err := s.service.Refresh(ctx, token)
		assert.Error(t, err)
		assert.Nil(t, result)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeForbidden))
		assert.Contains(t, err.Error(), "refresh denied")
	})
}

func (s *ServiceSuite) TestRefresh_MFACarry() {
	ctx := context.Background()

	s.T().Run("verification after enablement carries forward", func(t *testing.T) {
		s.expectAuditEmits()
		token, claimed, user, previous := s.newRefreshFixture()
		enabledAt := time.Now().Add(-2 * time.Hour)
		// previous.MFAVerifiedAt is one hour ago, after enablement.

		s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
		s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
		s.mockSessions.EXPECT().FindByID(gomock.Any(), claimed.SessionID).Return(previous, nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), user.ID).Return(&enabledAt, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, session *models.Session) error {
				require.NotNil(t, session.MFAVerifiedAt)
				assert.Equal(t, *previous.MFAVerifiedAt, *session.MFAVerifiedAt)
				return nil
			})
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), previous.ID, gomock.Any()).Return(nil)

		result, err := s.service.Refresh(ctx, token)
		require.NoError(t, err)
		assert.False(t, result.MFAPending)
	})

	s.T().Run("factor enabled mid-chain demotes the session", func(t *testing.T) {
		s.expectAuditEmits()
		token, claimed, user, previous := s.newRefreshFixture()
		enabledAt := time.Now().Add(-time.Minute)
		// previous.MFAVerifiedAt predates enablement; the implicit
		// verification no longer counts.

		s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
		s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
		s.mockSessions.EXPECT().FindByID(gomock.Any(), claimed.SessionID).Return(previous, nil)
		s.mockMFA.EXPECT().EnabledAt(gomock.Any(), user.ID).Return(&enabledAt, nil)
		s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, session *models.Session) error {
				assert.Nil(t, session.MFAVerifiedAt)
				return nil
			})
		s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), previous.ID, gomock.Any()).Return(nil)

		result, err := s.service.Refresh(ctx, token)
		require.NoError(t, err)
		assert.True(t, result.MFAPending)
	})
}

func (s *ServiceSuite) TestRefresh_SweptPredecessor() {
	ctx := context.Background()
	token, claimed, user, _ := s.newRefreshFixture()
	s.expectAuditEmits()

	// The sweeper already deleted the predecessor session; rotation still
	// succeeds because the chain was retired by the claim.
	s.mockTokens.EXPECT().Claim(gomock.Any(), claimed.TokenHash, gomock.Any()).Return(claimed, nil)
	s.mockUsers.EXPECT().FindByID(gomock.Any(), user.ID).Return(user, nil)
	s.mockSessions.EXPECT().FindByID(gomock.Any(), claimed.SessionID).Return(nil, sentinel.ErrNotFound)
	s.mockMFA.EXPECT().EnabledAt(gomock.Any(), user.ID).Return(nil, nil)
	s.mockSessions.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockTokens.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	s.mockSessions.EXPECT().Revoke(gomock.Any(), claimed.SessionID, gomock.Any()).Return(sentinel.ErrNotFound)

	result, err := s.service.Refresh(ctx, token)
	require.NoError(s.T(), err)
	assert.NotNil(s.T(), result)
}
