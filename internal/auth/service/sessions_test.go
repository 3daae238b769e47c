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
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

func (s *ServiceSuite) TestListSessions() {
	userID := id.NewUserID()
	currentID := id.NewSessionID()
	otherID := id.NewSessionID()
	now := time.Now()

	s.Run("missing user returns unauthorized", func() {
		_, err := s.service.ListSessions(context.Background(), id.UserID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("summaries flag the caller's current session", func() {
		ctx := requestcontext.WithSessionID(context.Background(), currentID)
		sessions := []*models.Session{
			{
				ID:         currentID,
				UserID:     userID,
				TokenHash:  "hash-1",
				DeviceName: "Chrome on macOS",
				IPAddress:  "192.0.2.10",
				CreatedAt:  now.Add(-time.Hour),
				ExpiresAt:  now.Add(time.Hour),
			},
			{
				ID:         otherID,
				UserID:     userID,
				TokenHash:  "hash-2",
				DeviceName: "Safari on iOS",
				CreatedAt:  now.Add(-2 * time.Hour),
				ExpiresAt:  now.Add(time.Hour),
			},
		}
		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(sessions, nil)

		summaries, err := s.service.ListSessions(ctx, userID)
		s.Require().NoError(err)
		s.Require().Len(summaries, 2)
		s.True(summaries[0].IsCurrent)
		s.False(summaries[1].IsCurrent)
		s.Equal("Chrome on macOS", summaries[0].Device)
		s.Equal(otherID.String(), summaries[1].SessionID)
	})

	s.Run("no active sessions yields an empty list", func() {
		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(nil, nil)

		summaries, err := s.service.ListSessions(context.Background(), userID)
		s.Require().NoError(err)
		s.Empty(summaries)
	})

	s.Run("store failure surfaces as internal", func() {
		s.mockSessions.EXPECT().ListActiveByUser(gomock.Any(), userID, gomock.Any()).Return(nil, assert.AnError)

		_, err := s.service.ListSessions(context.Background(), userID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestRevokeSession() {
	ctx := context.Background()
	userID := id.NewUserID()
	sessionID := id.NewSessionID()
	now := time.Now()

	s.Run("missing user returns unauthorized", func() {
		err := s.service.RevokeSession(ctx, id.UserID{}, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("missing session id returns bad request", func() {
		err := s.service.RevokeSession(ctx, userID, id.SessionID{})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("unknown session returns not found", func() {
		s.mockSessions.EXPECT().FindByID(gomock.Any(), sessionID).Return(nil, sentinel.ErrNotFound)

		err := s.service.RevokeSession(ctx, userID, sessionID)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.T().Run("someone else's session reads as not found", func(t *testing.T) {
		session := &models.Session{
			ID:        sessionID,
			UserID:    id.NewUserID(),
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		}
		s.mockSessions.EXPECT().FindByID(gomock.Any(), sessionID).Return(session, nil)
		s.mockAuditPublisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(
			func(ctx context.Context, event audit.Event) error {
				assert.Equal(t, "ownership_mismatch", event.Reason)
				return nil
			})

		err := s.service.RevokeSession(ctx, userID, sessionID)
		require.Error(t, err)
		// Same answer as a nonexistent session, so ids cannot be probed.
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
		assert.Contains(t, err.Error(), "session not found")
	})

	s.T().Run("own session is revoked with its chain", func(t *testing.T) {
		s.expectAuditEmits()
		session := &models.Session{
			ID:        sessionID,
			UserID:    userID,
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		}
		s.mockSessions.EXPECT().FindByID(gomock.Any(), sessionID).Return(session, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessionID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeBySession(gomock.Any(), sessionID, gomock.Any()).Return(1, nil)

		err := s.service.RevokeSession(ctx, userID, sessionID)
		require.NoError(t, err)
	})

	s.T().Run("chain revocation failure rolls back", func(t *testing.T) {
		session := &models.Session{
			ID:        sessionID,
			UserID:    userID,
			CreatedAt: now.Add(-time.Hour),
			ExpiresAt: now.Add(time.Hour),
		}
		s.mockSessions.EXPECT().FindByID(gomock.Any(), sessionID).Return(session, nil)
		s.mockSessions.EXPECT().Revoke(gomock.Any(), sessionID, gomock.Any()).Return(nil)
		s.mockTokens.EXPECT().RevokeBySession(gomock.Any(), sessionID, gomock.Any()).Return(0, assert.AnError)

		err := s.service.RevokeSession(ctx, userID, sessionID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
