//go:build integration

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"warden/internal/auth/models"
	"warden/internal/auth/store/session"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *session.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = session.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// Truncate in dependency order
	err := s.postgres.TruncateTables(ctx, "refresh_tokens", "sessions", "users")
	s.Require().NoError(err)
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

// seedUser satisfies the foreign key from sessions to users.
func (s *PostgresStoreSuite) seedUser() id.UserID {
	userID := uuid.New()
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO users (id, tenant_id, email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, userID, uuid.New(), userID.String()+"@example.com", s.now)
	s.Require().NoError(err)
	return id.UserID(userID)
}

func (s *PostgresStoreSuite) newSession(userID id.UserID) *models.Session {
	return &models.Session{
		ID:         id.SessionID(uuid.New()),
		UserID:     userID,
		TenantID:   id.TenantID(uuid.New()),
		TokenHash:  uuid.NewString(),
		IPAddress:  "203.0.113.7",
		UserAgent:  "integration-agent",
		DeviceName: "Chrome on macOS",
		CreatedAt:  s.now,
		ExpiresAt:  s.now.Add(time.Hour),
	}
}

// TestRoundTrip verifies fields and nullable timestamps survive storage.
func (s *PostgresStoreSuite) TestRoundTrip() {
	ctx := context.Background()
	sess := s.newSession(s.seedUser())
	s.Require().NoError(s.store.Create(ctx, sess))

	found, err := s.store.FindByTokenHash(ctx, sess.TokenHash)
	s.Require().NoError(err)
	s.Equal(sess.ID, found.ID)
	s.Equal(sess.DeviceName, found.DeviceName)
	s.Equal(sess.IPAddress, found.IPAddress)
	s.Nil(found.MFAVerifiedAt)
	s.Nil(found.RevokedAt)
	s.True(found.ExpiresAt.Equal(sess.ExpiresAt))
}

// TestRevocation verifies the conditional revoke and its idempotency.
func (s *PostgresStoreSuite) TestRevocation() {
	ctx := context.Background()
	sess := s.newSession(s.seedUser())
	s.Require().NoError(s.store.Create(ctx, sess))

	s.Require().NoError(s.store.Revoke(ctx, sess.ID, s.now))

	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.RevokedAt)

	// Second revoke is a no-op and keeps the first timestamp.
	s.Require().NoError(s.store.Revoke(ctx, sess.ID, s.now.Add(time.Minute)))
	again, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.True(found.RevokedAt.Equal(*again.RevokedAt))

	err = s.store.Revoke(ctx, id.SessionID(uuid.New()), s.now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestMarkVerified verifies the MFA stamp skips revoked sessions.
func (s *PostgresStoreSuite) TestMarkVerified() {
	ctx := context.Background()
	sess := s.newSession(s.seedUser())
	s.Require().NoError(s.store.Create(ctx, sess))

	s.Require().NoError(s.store.MarkVerified(ctx, sess.ID, s.now))
	found, err := s.store.FindByID(ctx, sess.ID)
	s.Require().NoError(err)
	s.True(found.Verified())

	s.Require().NoError(s.store.Revoke(ctx, sess.ID, s.now))
	err = s.store.MarkVerified(ctx, sess.ID, s.now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestListActiveByUser verifies the liveness filter runs in SQL.
func (s *PostgresStoreSuite) TestListActiveByUser() {
	ctx := context.Background()
	userID := s.seedUser()

	older := s.newSession(userID)
	older.CreatedAt = s.now.Add(-time.Minute)
	s.Require().NoError(s.store.Create(ctx, older))

	newest := s.newSession(userID)
	s.Require().NoError(s.store.Create(ctx, newest))

	revoked := s.newSession(userID)
	s.Require().NoError(s.store.Create(ctx, revoked))
	s.Require().NoError(s.store.Revoke(ctx, revoked.ID, s.now))

	expired := s.newSession(userID)
	expired.ExpiresAt = s.now.Add(-time.Minute)
	s.Require().NoError(s.store.Create(ctx, expired))

	active, err := s.store.ListActiveByUser(ctx, userID, s.now)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.Equal(newest.ID, active[0].ID)
	s.Equal(older.ID, active[1].ID)
}

// TestDeleteExpiredHonorsTokenReferences verifies the sweeper never breaks
// the refresh token foreign key.
func (s *PostgresStoreSuite) TestDeleteExpiredHonorsTokenReferences() {
	ctx := context.Background()
	userID := s.seedUser()

	referenced := s.newSession(userID)
	referenced.ExpiresAt = s.now.Add(-time.Hour)
	s.Require().NoError(s.store.Create(ctx, referenced))

	unreferenced := s.newSession(userID)
	unreferenced.ExpiresAt = s.now.Add(-time.Hour)
	s.Require().NoError(s.store.Create(ctx, unreferenced))

	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New(), uuid.UUID(userID), uuid.UUID(referenced.ID), uuid.NewString(), s.now, s.now.Add(24*time.Hour))
	s.Require().NoError(err)

	deleted, err := s.store.DeleteExpired(ctx, s.now)
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.store.FindByID(ctx, unreferenced.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.FindByID(ctx, referenced.ID)
	s.Require().NoError(err)
}
