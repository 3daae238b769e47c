package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestLogout() {
	ctx := context.Background()
	userID := id.NewUserID()
	sessionID := id.NewSessionID()

	s.Run("missing user returns unauthorized", func() {
		err := s.service.Logout(ctx, id.UserID{}, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("missing session id returns bad request", func() {
		err := s.service.Logout(ctx, userID, id.SessionID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown session returns not found", func() {
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessionID, gomock.Any()).Return(sentinel.ErrNotFound)

		err := s.service.Logout(ctx, userID, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("logout revokes the session and every refresh token", func() {
		s.expectAuditEmits()
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessionID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeByUser(gomock.Any(), userID, gomock.Any()).Return(3, nil)

		err := s.service.Logout(ctx, userID, sessionID)
		s.Require().NoError(err)
	})

	s.Run("token revocation failure rolls the logout back", func() {
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessionID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeByUser(gomock.Any(), userID, gomock.Any()).Return(0, assert.AnError)

		err := s.service.Logout(ctx, userID, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestLogoutOthers() {
	ctx := context.Background()
	userID := id.NewUserID()
	currentID := id.NewSessionID()

	newSessions := func(n int) []*models.Session {
		now := time.Now()
		sessions := []*models.Session{{
			ID:        currentID,
			UserID:    userID,
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		}}
		for i := 0; i < n; i++ {
			sessions = append(sessions, &models.Session{
				ID:        id.NewSessionID(),
				UserID:    userID,
				CreatedAt: now.Add(-time.Hour),
				ExpiresAt: now.Add(time.Hour),
			})
		}
		return sessions
	}

	s.Run("missing user returns unauthorized", func() {
		_, err := s.service.LogoutOthers(ctx, id.UserID{}, currentID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("missing current session returns bad request", func() {
		_, err := s.service.LogoutOthers(ctx, userID, id.SessionID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.T().Run("every session except the current one is revoked", func(t *testing.T) {
		s.expectAuditEmits()
		sessions := newSessions(2)

		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(sessions, nil)
		for _, sess := range sessions[1:] {
			s.mockSessions.EXPECT().Revoke(gomock.Any(), sess.ID, gomock.Any()).Return(nil)
			s.mockTokens.EXPECT().RevokeBySession(gomock.Any(), sess.ID, gomock.Any()).Return(1, nil)
		}

		revoked, err := s.service.LogoutOthers(ctx, userID, currentID)
		require.NoError(t, err)
		assert.Equal(t, 2, revoked)
	})

	s.T().Run("a failing session does not stop the rest", func(t *testing.T) {
		s.expectAuditEmits()
		sessions := newSessions(3)

		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(sessions, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessions[1].ID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeBySession(gomock.Any(), sessions[1].ID, gomock.Any()).Return(1, nil)
		// Second session fails mid-transaction and is skipped.
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessions[2].ID, gomock.Any()).Return(assert.AnError)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessions[3].ID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeBySession(gomock.Any(), sessions[3].ID, gomock.Any()).Return(1, nil)

		revoked, err := s.service.LogoutOthers(ctx, userID, currentID)
		require.NoError(t, err)
		assert.Equal(t, 2, revoked)
	})

	s.T().Run("only the current session active revokes nothing", func(t *testing.T) {
		s.expectAuditEmits()
		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(newSessions(0), nil)

		revoked, err := s.service.LogoutOthers(ctx, userID, currentID)
		require.NoError(t, err)
		assert.Zero(t, revoked)
	})

	s.T().Run("listing failure surfaces as internal", func(t *testing.T) {
		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(nil, assert.AnError)

		_, err := s.service.LogoutOthers(ctx, userID, currentID)
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
