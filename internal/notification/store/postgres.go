package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trainflow/internal/notification/models"
	"trainflow/internal/platform/postgres"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
	txcontext "trainflow/pkg/platform/tx"
)

// Postgres persists notifications. Day dedupe relies on the partial unique index
// on (recipient_id, dedupe_key); rolling-window dedupe serializes on an advisory
// lock per (recipient, type, entity).
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const notificationColumns = `id, tenant_id, recipient_id, type, title, message, entity_type, entity_id,
	is_read, read_at, days_until_expiry, dedupe_key, created_at`

const insertNotification = `INSERT INTO notifications (` + notificationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

func insertArgs(n *models.Notification) []any {
	var days sql.NullInt64
	if n.DaysUntilExpiry != nil {
		days = sql.NullInt64{Int64: int64(*n.DaysUntilExpiry), Valid: true}
	}
	return []any{
		n.ID, n.TenantID, n.RecipientID, string(n.Type), n.Title, n.Message,
		nullString(n.EntityType), nullString(n.EntityID),
		n.Read, n.ReadAt, days, nullString(n.DedupeKey), n.CreatedAt,
	}
}

func (s *Postgres) Create(ctx context.Context, n *models.Notification) error {
	if _, err := s.execer(ctx).ExecContext(ctx, insertNotification, insertArgs(n)...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert notification: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Postgres) CreateIfAbsent(ctx context.Context, n *models.Notification) (bool, error) {
	if n.DedupeKey == "" {
		if err := s.Create(ctx, n); err != nil {
			return false, err
		}
		return true, nil
	}
	query := insertNotification + `
		ON CONFLICT (recipient_id, dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING`
	res, err := s.execer(ctx).ExecContext(ctx, query, insertArgs(n)...)
	if err != nil {
		return false, fmt.Errorf("insert notification if absent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *Postgres) CreateUnlessRecent(ctx context.Context, n *models.Notification, since time.Time) (bool, error) {
	if tx, ok := txcontext.From(ctx); ok {
		return createUnlessRecent(ctx, tx, n, since)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin create unless recent: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	created, err := createUnlessRecent(ctx, tx, n, since)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit create unless recent: %w", err)
	}
	return created, nil
}

func createUnlessRecent(ctx context.Context, tx *sql.Tx, n *models.Notification, since time.Time) (bool, error) {
	lockKey := fmt.Sprintf("%s|%s|%s", n.RecipientID, n.Type, n.EntityID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return false, fmt.Errorf("acquire notification lock: %w", err)
	}

	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1 AND type = $2 AND entity_id = $3 AND created_at >= $4
		)`, n.RecipientID, string(n.Type), n.EntityID, since,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent notification: %w", err)
	}
	if exists {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, insertNotification, insertArgs(n)...); err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

func (s *Postgres) FindByID(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	n, err := scanNotification(s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, notificationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find notification: %w", err)
	}
	return n, nil
}

func (s *Postgres) ListForRecipient(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.execer(ctx).QueryContext(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (s *Postgres) CountUnread(ctx context.Context, recipient id.UserID, typ models.Type, entityID string) (int, error) {
	var count int
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND type = $2 AND entity_id = $3 AND NOT is_read`,
		recipient, string(typ), entityID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *Postgres) MarkRead(ctx context.Context, recipient id.UserID, notificationID id.NotificationID, at time.Time) (*models.Notification, error) {
	n, err := scanNotification(s.execer(ctx).QueryRowContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns,
		notificationID, recipient, at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                            models.Notification
		typ                          string
		entityType, entityID, dedupe sql.NullString
		readAt                       sql.NullTime
		days                         sql.NullInt64
	)
	if err := row.Scan(
		&n.ID, &n.TenantID, &n.RecipientID, &typ, &n.Title, &n.Message, &entityType, &entityID,
		&n.Read, &readAt, &days, &dedupe, &n.CreatedAt,
	); err != nil {
		return nil, err
	}
	n.Type = models.Type(typ)
	n.EntityType = entityType.String
	n.EntityID = entityID.String
	n.DedupeKey = dedupe.String
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if days.Valid {
		d := int(days.Int64)
		n.DaysUntilExpiry = &d
	}
	return &n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
