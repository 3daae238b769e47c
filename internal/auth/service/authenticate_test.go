package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"warden/internal/auth/models"
	"warden/internal/crypto"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/sentinel"
)

func (s *ServiceSuite) TestAuthenticate() {
	ctx := context.Background()
	now := time.Now()

	newSession := func() *models.Session {
		return &models.Session{
			ID:        id.NewSessionID(),
			UserID:    id.NewUserID(),
			TenantID:  id.NewTenantID(),
			TokenHash: "stored-hash",
			CreatedAt: now.Add(-time.Minute),
			ExpiresAt: now.Add(time.Hour),
		}
	}

	s.T().Run("malformed token fails before any store call", func(t *testing.T) {
		_, err := s.service.Authenticate(ctx, "key_wrong-kind-of-token")
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid session token")
	})

	s.T().Run("unknown token", func(t *testing.T) {
		token := crypto.TokenPrefixSession + "unknown"
		s.mockSessions.EXPECT().FindByTokenHash(gomock.Any(), s.keyring.HashToken(token)).Return(nil, sentinel.ErrNotFound)

		_, err := s.service.Authenticate(ctx, token)
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid session token")
	})

	s.T().Run("expired session", func(t *testing.T) {
		token := crypto.TokenPrefixSession + "expired"
		session := newSession()
		session.ExpiresAt = now.Add(-time.Minute)
		s.mockSessions.EXPECT().FindByTokenHash(gomock.Any(), s.keyring.HashToken(token)).Return(session, nil)

		_, err := s.service.Authenticate(ctx, token)
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Contains(t, err.Error(), "invalid session token")
	})

	s.T().Run("revoked session", func(t *testing.T) {
		token := crypto.TokenPrefixSession + "revoked"
		session := newSession()
		revoked := now.Add(-time.Minute)
		session.RevokedAt = &revoked
		s.mockSessions.EXPECT().FindByTokenHash(gomock.Any(), s.keyring.HashToken(token)).Return(session, nil)

		_, err := s.service.Authenticate(ctx, token)
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.T().Run("active session resolves", func(t *testing.T) {
		token := crypto.TokenPrefixSession + "active"
		session := newSession()
		s.mockSessions.EXPECT().FindByTokenHash(gomock.Any(), s.keyring.HashToken(token)).Return(session, nil)

		got, err := s.service.Authenticate(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
		assert.Equal(t, session.UserID, got.UserID)
	})

	s.T().Run("store failure surfaces as internal", func(t *testing.T) {
		token := crypto.TokenPrefixSession + "broken"
		s.mockSessions.EXPECT().FindByTokenHash(gomock.Any(), s.keyring.HashToken(token)).Return(nil, assert.AnError)

		_, err := s.service.Authenticate(ctx, token)
		assert.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
