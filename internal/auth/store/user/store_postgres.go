package user

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

// PostgresStore persists users in PostgreSQL. Statements run through
// tx.Q so they join a transaction carried in context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed user store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id, tenant_id, email, name, avatar_url, role, status, created_at, updated_at, deleted_at`

func (s *PostgresStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, name, avatar_url, role, status, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(user.ID),
		uuid.UUID(user.TenantID),
		user.Email,
		user.Name,
		user.AvatarURL,
		string(user.Role),
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
		user.DeletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email taken in tenant: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, userID id.UserID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(userID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return user, nil
}

// FindByTenantEmail looks up a live user by tenant and email. Soft-deleted
// rows are excluded to mirror the partial unique index on (tenant_id, email).
func (s *PostgresStore) FindByTenantEmail(ctx context.Context, tenantID id.TenantID, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE tenant_id = $1 AND email = $2 AND deleted_at IS NULL`
	user, err := scanUser(tx.Q(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(tenantID), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find user by tenant email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2, name = $3, avatar_url = $4, role = $5, status = $6, updated_at = $7, deleted_at = $8
		WHERE id = $1
	`
	result, err := tx.Q(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(user.ID),
		user.Email,
		user.Name,
		user.AvatarURL,
		string(user.Role),
		string(user.Status),
		user.UpdatedAt,
		user.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %w", sentinel.ErrNotFound)
	}
	return nil
}

type userRow interface {
	Scan(dest ...any) error
}

func scanUser(row userRow) (*models.User, error) {
	var (
		user      models.User
		uid, tid  uuid.UUID
		role      string
		status    string
		deletedAt sql.NullTime
	)
	err := row.Scan(&uid, &tid, &user.Email, &user.Name, &user.AvatarURL, &role, &status, &user.CreatedAt, &user.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	user.ID = id.UserID(uid)
	user.TenantID = id.TenantID(tid)
	user.Role = models.UserRole(role)
	user.Status = models.UserStatus(status)
	if deletedAt.Valid {
		user.DeletedAt = &deletedAt.Time
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
