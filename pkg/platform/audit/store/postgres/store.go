package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "trainflow/pkg/domain"
	audit "trainflow/pkg/platform/audit"
	txcontext "trainflow/pkg/platform/tx"
)

// Store appends workflow transitions to the workflow_logs table.
// When the caller runs inside tx.Runner the append joins that transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append is idempotent on event ID so a retried publish never duplicates a row.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO workflow_logs (
			id, tenant_id, entity_type, entity_id, action, actor_id, actor_role,
			old_value, new_value, client_ip, user_agent, device, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		nullableUUID(uuid.UUID(event.TenantID)),
		event.EntityType,
		event.EntityID,
		string(event.Action),
		nullableUUID(uuid.UUID(event.ActorID)),
		event.ActorRole,
		nullableJSON(event.Before),
		nullableJSON(event.After),
		event.ClientIP,
		event.UserAgent,
		event.Device,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert workflow log: %w", err)
	}
	return nil
}

// ListByEntity returns an entity's transitions oldest first, for forensic replay.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Event, error) {
	query := `
		SELECT id, tenant_id, entity_type, entity_id, action, actor_id, actor_role,
		       old_value, new_value, client_ip, user_agent, device, request_id, created_at
		FROM workflow_logs
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query workflow logs: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event             audit.Event
			action            string
			tenantID, actorID uuid.NullUUID
			before, after     []byte
		)
		if err := rows.Scan(
			&event.ID, &tenantID, &event.EntityType, &event.EntityID, &action, &actorID, &event.ActorRole,
			&before, &after, &event.ClientIP, &event.UserAgent, &event.Device, &event.RequestID, &event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan workflow log: %w", err)
		}
		event.Action = audit.Action(action)
		if tenantID.Valid {
			event.TenantID = id.TenantID(tenantID.UUID)
		}
		if actorID.Valid {
			event.ActorID = id.UserID(actorID.UUID)
		}
		event.Before = before
		event.After = after
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow logs: %w", err)
	}
	return events, nil
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
