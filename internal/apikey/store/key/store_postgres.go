package key

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/internal/apikey/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists API keys in PostgreSQL. Statements run through
// tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed key store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const keyColumns = `id, user_id, name, token_hash, token_enc, expires_at, last_used_at, created_at, revoked_at`

func (s *PostgresStore) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (id, user_id, name, token_hash, token_enc, expires_at, last_used_at, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(key.ID),
		uuid.UUID(key.UserID),
		key.Name,
		key.TokenHash,
		key.TokenEnc,
		key.ExpiresAt,
		key.LastUsedAt,
		key.CreatedAt,
		key.RevokedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key exists: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, keyID id.APIKeyID) (*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE id = $1`
	key, err := scanKey(tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(keyID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key by id: %w", err)
	}
	return key, nil
}

// FindByTokenHash returns the key bearing the hash regardless of its
// state. Liveness checks belong to the caller.
func (s *PostgresStore) FindByTokenHash(ctx context.Context, tokenHash string) (*models.APIKey, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys WHERE token_hash = $1`
	key, err := scanKey(tx.Q(ctx, s.db).QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find api key by token hash: %w", err)
	}
	return key, nil
}

// ListByUser returns the user's unrevoked keys, newest first. Expired
// keys are included so their owner can see and rotate them.
func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.APIKey, error) {
	query := `
		SELECT ` + keyColumns + `
		FROM api_keys
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := tx.Q(ctx, s.db).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate api keys: %w", err)
	}
	return keys, nil
}

// ReplaceToken installs a new secret in an existing live row. The old
// hash stops resolving the moment the update lands; a revoked key cannot
// be brought back this way and reads as not found.
func (s *PostgresStore) ReplaceToken(ctx context.Context, keyID id.APIKeyID, tokenHash, tokenEnc string) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE api_keys SET token_hash = $2, token_enc = $3 WHERE id = $1 AND revoked_at IS NULL`,
		uuid.UUID(keyID), tokenHash, tokenEnc,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("api key token hash taken: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("replace api key token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("replace api key token rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// Revoke stamps revoked_at on a live key. Revoking an already-revoked key
// is a no-op so the operation stays idempotent.
func (s *PostgresStore) Revoke(ctx context.Context, keyID id.APIKeyID, now time.Time) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE api_keys SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		uuid.UUID(keyID), now,
	)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if rows == 0 {
		return s.classifyMiss(ctx, keyID)
	}
	return nil
}

func (s *PostgresStore) TouchLastUsed(ctx context.Context, keyID id.APIKeyID, now time.Time) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`,
		uuid.UUID(keyID), now,
	)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch api key rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// classifyMiss distinguishes a missing key from an already-revoked one
// after a conditional update touched no rows.
func (s *PostgresStore) classifyMiss(ctx context.Context, keyID id.APIKeyID) error {
	var exists bool
	err := tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM api_keys WHERE id = $1)`,
		uuid.UUID(keyID),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("classify api key miss: %w", err)
	}
	if !exists {
		return fmt.Errorf("api key not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

type keyRow interface {
	Scan(dest ...any) error
}

func scanKey(row keyRow) (*models.APIKey, error) {
	var (
		key        models.APIKey
		kid, uid   uuid.UUID
		expiresAt  sql.NullTime
		lastUsedAt sql.NullTime
		revokedAt  sql.NullTime
	)
	err := row.Scan(&kid, &uid, &key.Name, &key.TokenHash, &key.TokenEnc, &expiresAt, &lastUsedAt, &key.CreatedAt, &revokedAt)
	if err != nil {
		return nil, err
	}
	key.ID = id.APIKeyID(kid)
	key.UserID = id.UserID(uid)
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		key.LastUsedAt = &lastUsedAt.Time
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	return &key, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
