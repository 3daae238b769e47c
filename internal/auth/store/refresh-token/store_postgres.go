package refreshtoken

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

// PostgresStore persists refresh tokens in PostgreSQL. Statements run
// through tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed refresh token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `id, user_id, session_id, token_hash, created_at, expires_at, revoked_at`

func (s *PostgresStore) Create(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_hash, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(token.ID),
		uuid.UUID(token.UserID),
		uuid.UUID(token.SessionID),
		token.TokenHash,
		token.CreatedAt,
		token.ExpiresAt,
		token.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Claim atomically consumes the token bearing the hash. The conditional
// UPDATE is the whole race: concurrent claimants serialize on the row lock
// and exactly one sees revoked_at IS NULL. Losers fall through to a
// classifying SELECT so replays surface as ErrAlreadyUsed with the record
// attached for auditing.
func (s *PostgresStore) Claim(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = $2
		WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > $2
		RETURNING ` + tokenColumns + `
	`
	token, err := scanToken(tx.Q(ctx, s.db).QueryRowContext(ctx, query, tokenHash, now))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim refresh token: %w", err)
	}

	token, err = scanToken(tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("classify refresh token miss: %w", err)
	}
	return token, token.ValidateForClaim(now)
}

// RevokeByUser revokes every live token of the user and reports how many
// it touched.
func (s *PostgresStore) RevokeByUser(ctx context.Context, userID id.UserID, now time.Time) (int, error) {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		uuid.UUID(userID), now,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens rows affected: %w", err)
	}
	return int(rows), nil
}

// RevokeBySession revokes every live token tied to the session and reports
// how many it touched.
func (s *PostgresStore) RevokeBySession(ctx context.Context, sessionID id.SessionID, now time.Time) (int, error) {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = $2 WHERE session_id = $1 AND revoked_at IS NULL`,
		uuid.UUID(sessionID), now,
	)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens rows affected: %w", err)
	}
	return int(rows), nil
}

// DeleteExpired removes tokens past their expiry and returns how many were
// dropped. Revoked but unexpired rows stay behind for replay detection.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens rows affected: %w", err)
	}
	return int(rows), nil
}

func scanToken(row *sql.Row) (*models.RefreshToken, error) {
	var (
		token          models.RefreshToken
		tid, uid, sid  uuid.UUID
		revokedAt      sql.NullTime
	)
	err := row.Scan(&tid, &uid, &sid, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	token.ID = id.RefreshTokenID(tid)
	token.UserID = id.UserID(uid)
	token.SessionID = id.SessionID(sid)
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	return &token, nil
}
