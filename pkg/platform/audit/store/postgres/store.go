package postgres

import (
	"context"
	"database/sql"
	"fmt"

	id "warden/pkg/domain"
	audit "warden/pkg/platform/audit"
	txcontext "warden/pkg/platform/tx"

	"github.com/google/uuid"
)

// Store persists audit events in the audit_events table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an audit event to the audit_events table. The category is
// derived from the action when the caller left it blank, so rows stay
// queryable by retention class.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	var userID, tenantID *uuid.UUID
	if !event.UserID.IsNil() {
		uid := uuid.UUID(event.UserID)
		userID = &uid
	}
	if !event.TenantID.IsNil() {
		tid := uuid.UUID(event.TenantID)
		tenantID = &tid
	}

	query := `
		INSERT INTO audit_events (
			id, category, occurred_at, user_id, tenant_id,
			subject, action, provider, reason, ip, request_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.New(),
		string(category),
		event.Timestamp,
		userID,
		tenantID,
		event.Subject,
		event.Action,
		event.Provider,
		event.Reason,
		event.IP,
		event.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns events for a specific user, oldest first.
func (s *Store) ListByUser(ctx context.Context, userID id.UserID) ([]audit.Event, error) {
	query := `
		SELECT category, occurred_at, user_id, tenant_id,
		       subject, action, provider, reason, ip, request_id
		FROM audit_events
		WHERE user_id = $1
		ORDER BY occurred_at ASC
	`

	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			category string
			event    audit.Event
			uid      uuid.NullUUID
			tid      uuid.NullUUID
		)

		err := rows.Scan(
			&category,
			&event.Timestamp,
			&uid,
			&tid,
			&event.Subject,
			&event.Action,
			&event.Provider,
			&event.Reason,
			&event.IP,
			&event.RequestID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		event.Category = audit.EventCategory(category)
		if uid.Valid {
			event.UserID = id.UserID(uid.UUID)
		}
		if tid.Valid {
			event.TenantID = id.TenantID(tid.UUID)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
