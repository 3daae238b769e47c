package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"

	"github.com/google/uuid"
)

// PostgresStore persists sessions in PostgreSQL. Statements run through
// tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed session store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `id, user_id, tenant_id, token_hash, ip_address, user_agent, device_name, mfa_verified_at, created_at, expires_at, revoked_at`

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, tenant_id, token_hash, ip_address, user_agent, device_name, mfa_verified_at, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(session.ID),
		uuid.UUID(session.UserID),
		uuid.UUID(session.TenantID),
		session.TokenHash,
		session.IPAddress,
		session.UserAgent,
		session.DeviceName,
		session.MFAVerifiedAt,
		session.CreatedAt,
		session.ExpiresAt,
		session.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByTokenHash returns the session bearing the hash regardless of its
// state. Liveness checks belong to the caller.
func (s *PostgresStore) FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	session, err := scanSession(tx.Q(ctx, s.db).QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session by token hash: %w", err)
	}
	return session, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	session, err := scanSession(tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(sessionID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return session, nil
}

// ListActiveByUser returns the user's unrevoked, unexpired sessions,
// newest first.
func (s *PostgresStore) ListActiveByUser(ctx context.Context, userID id.UserID, now time.Time) ([]*models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID), now)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Revoke stamps revoked_at on an active session. Revoking an already-revoked
// session is a no-op so logout stays idempotent.
func (s *PostgresStore) Revoke(ctx context.Context, sessionID id.SessionID, now time.Time) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		uuid.UUID(sessionID), now,
	)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke session rows affected: %w", err)
	}
	if rows == 0 {
		return s.classifyMiss(ctx, sessionID)
	}
	return nil
}

// MarkVerified stamps mfa_verified_at on an active session. Revoked sessions
// are reported as not found.
func (s *PostgresStore) MarkVerified(ctx context.Context, sessionID id.SessionID, now time.Time) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE sessions SET mfa_verified_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		uuid.UUID(sessionID), now,
	)
	if err != nil {
		return fmt.Errorf("mark session verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark session verified rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes expired sessions that no refresh token references
// anymore. Tokens are swept first; sessions their rows still point at are
// skipped until the next pass so the foreign key stays intact.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		DELETE FROM sessions
		WHERE expires_at <= $1
		  AND NOT EXISTS (SELECT 1 FROM refresh_tokens rt WHERE rt.session_id = sessions.id)
	`
	result, err := tx.Q(ctx, s.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions rows affected: %w", err)
	}
	return int(rows), nil
}

// classifyMiss distinguishes a missing session from an already-revoked one
// after a conditional update touched no rows.
func (s *PostgresStore) classifyMiss(ctx context.Context, sessionID id.SessionID) error {
	var exists bool
	err := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`,
		uuid.UUID(sessionID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("classify session miss: %w", err)
	}
	if !exists {
		return fmt.Errorf("session not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

type sessionRow interface {
	Scan(dest ...any) error
}

func scanSession(row sessionRow) (*models.Session, error) {
	var (
		session       models.Session
		sid, uid, tid uuid.UUID
		verifiedAt    sql.NullTime
		revokedAt     sql.NullTime
	)
	err := row.Scan(&sid, &uid, &tid, &session.TokenHash, &session.IPAddress, &session.UserAgent, &session.DeviceName, &verifiedAt, &session.CreatedAt, &session.ExpiresAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	session.ID = id.SessionID(sid)
	session.UserID = id.UserID(uid)
	session.TenantID = id.TenantID(tid)
	if verifiedAt.Valid {
		session.MFAVerifiedAt = &verifiedAt.Time
	}
	if revokedAt.Valid {
		session.RevokedAt = &revokedAt.Time
	}
	return &session, nil
}
