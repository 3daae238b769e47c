package secret

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"warden/internal/mfa/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore persists MFA enrollments in PostgreSQL. Statements run
// through tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed secret store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, secret *models.Secret) error {
	query := `
		INSERT INTO mfa_secrets (user_id, secret_enc, enabled_at, recovery_codes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			secret_enc = EXCLUDED.secret_enc,
			enabled_at = EXCLUDED.enabled_at,
			recovery_codes = EXCLUDED.recovery_codes,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(secret.UserID),
		secret.SecretEnc,
		secret.EnabledAt,
		pq.Array(secret.RecoveryCodes),
		secret.CreatedAt,
		secret.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert mfa secret: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, userID id.UserID) (*models.Secret, error) {
	query := `
		SELECT user_id, secret_enc, enabled_at, recovery_codes, created_at, updated_at
		FROM mfa_secrets
		WHERE user_id = $1
	`
	var (
		secret    models.Secret
		uid       uuid.UUID
		enabledAt sql.NullTime
		codes     pq.StringArray
	)
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(userID)).
		Scan(&uid, &secret.SecretEnc, &enabledAt, &codes, &secret.CreatedAt, &secret.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find mfa secret: %w", err)
	}
	secret.UserID = id.UserID(uid)
	secret.RecoveryCodes = []string(codes)
	if enabledAt.Valid {
		secret.EnabledAt = &enabledAt.Time
	}
	return &secret, nil
}

// Enable records the enrollment confirmation time. COALESCE keeps the
// first confirmation when verifications race.
func (s *PostgresStore) Enable(ctx context.Context, userID id.UserID, at time.Time) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`UPDATE mfa_secrets SET enabled_at = COALESCE(enabled_at, $2), updated_at = $2 WHERE user_id = $1`,
		uuid.UUID(userID), at,
	)
	if err != nil {
		return fmt.Errorf("enable mfa secret: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("enable mfa secret rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID id.UserID) error {
	result, err := tx.Q(ctx, s.db).ExecContext(ctx,
		`DELETE FROM mfa_secrets WHERE user_id = $1`, uuid.UUID(userID),
	)
	if err != nil {
		return fmt.Errorf("delete mfa secret: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete mfa secret rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

// ConsumeRecoveryCode removes one stored hash and returns how many remain.
// The conditional UPDATE is the race: of two requests spending the same
// code, exactly one matches ANY(recovery_codes). Losers fall through to a
// classifying SELECT.
func (s *PostgresStore) ConsumeRecoveryCode(ctx context.Context, userID id.UserID, hash string, now time.Time) (int, error) {
	query := `
		UPDATE mfa_secrets
		SET recovery_codes = array_remove(recovery_codes, $2), updated_at = $3
		WHERE user_id = $1 AND $2 = ANY(recovery_codes)
		RETURNING cardinality(recovery_codes)
	`
	var remaining int
	err := tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(userID), hash, now).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("consume recovery code: %w", err)
	}

	var exists bool
	err = tx.Q(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM mfa_secrets WHERE user_id = $1)`, uuid.UUID(userID),
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("classify recovery code miss: %w", err)
	}
	if !exists {
		return 0, fmt.Errorf("mfa secret not found: %w", sentinel.ErrNotFound)
	}
	return 0, fmt.Errorf("recovery code already consumed: %w", sentinel.ErrAlreadyUsed)
}
