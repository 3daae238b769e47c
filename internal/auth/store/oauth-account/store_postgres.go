package oauthaccount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"warden/internal/auth/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresStore persists provider links in PostgreSQL. Statements run
// through tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed oauth account store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByProviderExternalID(ctx context.Context, provider id.Provider, externalID string) (*models.OAuthAccount, error) {
	query := `
		SELECT id, user_id, provider, external_id, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at
		FROM oauth_accounts
		WHERE provider = $1 AND external_id = $2
	`
	account, err := scanAccount(tx.Q(ctx, s.db).QueryRowContext(ctx, query, string(provider), externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("oauth account not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find oauth account: %w", err)
	}
	return account, nil
}

// Upsert inserts or refreshes the link for (user, provider). The unique
// index on (provider, external_id) is the backstop against binding one
// provider identity to two local users; a violation surfaces as ErrConflict.
func (s *PostgresStore) Upsert(ctx context.Context, account *models.OAuthAccount) error {
	query := `
		INSERT INTO oauth_accounts (id, user_id, provider, external_id, access_token_enc, refresh_token_enc, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			external_id = EXCLUDED.external_id,
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(account.ID),
		uuid.UUID(account.UserID),
		string(account.Provider),
		account.ExternalID,
		account.AccessTokenEnc,
		account.RefreshTokenEnc,
		account.ExpiresAt,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("provider identity bound to another user: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("upsert oauth account: %w", err)
	}
	return nil
}

func scanAccount(row *sql.Row) (*models.OAuthAccount, error) {
	var (
		account   models.OAuthAccount
		aid, uid  uuid.UUID
		provider  string
		expiresAt sql.NullTime
	)
	err := row.Scan(&aid, &uid, &provider, &account.ExternalID, &account.AccessTokenEnc, &account.RefreshTokenEnc, &expiresAt, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	account.ID = id.OAuthAccountID(aid)
	account.UserID = id.UserID(uid)
	account.Provider = id.Provider(provider)
	if expiresAt.Valid {
		account.ExpiresAt = &expiresAt.Time
	}
	return &account, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
