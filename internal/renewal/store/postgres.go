package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"trainflow/internal/platform/postgres"
	"trainflow/internal/renewal/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
	txcontext "trainflow/pkg/platform/tx"
)

// Postgres persists renewal requests. The partial unique index
// uq_renewal_requests_open backs the one-open-request rule.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const requestColumns = `id, tenant_id, certification_id, requester_id, status, urgency,
	first_approver_id, first_approved_at, first_approval_comment,
	second_approver_id, second_approved_at, second_approval_comment,
	rejected_by, rejected_at, rejection_reason,
	created_at, updated_at, version`

type flatRequest struct {
	firstID, secondID, rejectedBy          id.UserID
	firstAt, secondAt, rejectedAt          sql.NullTime
	firstComment, secondComment, rejReason sql.NullString
}

func flatten(req *models.Request) flatRequest {
	var f flatRequest
	if a := req.FirstApproval; a != nil {
		f.firstID, f.firstAt, f.firstComment = a.ApproverID, sql.NullTime{Time: a.ApprovedAt, Valid: true}, nullString(a.Comment)
	}
	if a := req.SecondApproval; a != nil {
		f.secondID, f.secondAt, f.secondComment = a.ApproverID, sql.NullTime{Time: a.ApprovedAt, Valid: true}, nullString(a.Comment)
	}
	if rj := req.Rejection; rj != nil {
		f.rejectedBy, f.rejectedAt, f.rejReason = rj.RejectedBy, sql.NullTime{Time: rj.RejectedAt, Valid: true}, nullString(rj.Reason)
	}
	return f
}

func (s *Postgres) Create(ctx context.Context, req *models.Request) error {
	f := flatten(req)
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO renewal_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		req.ID, req.TenantID, req.CertificationID, req.RequesterID, string(req.Status), string(req.Urgency),
		f.firstID, f.firstAt, f.firstComment,
		f.secondID, f.secondAt, f.secondComment,
		f.rejectedBy, f.rejectedAt, f.rejReason,
		req.CreatedAt, req.UpdatedAt, req.Version,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("insert renewal request: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert renewal request: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, requestID id.RenewalID) (*models.Request, error) {
	return s.findOne(ctx, `SELECT `+requestColumns+` FROM renewal_requests WHERE id = $1`, requestID)
}

func (s *Postgres) FindOpenByCertification(ctx context.Context, certID id.CertificationID) (*models.Request, error) {
	return s.findOne(ctx, `SELECT `+requestColumns+` FROM renewal_requests
		WHERE certification_id = $1 AND status IN ('pending', 'foreman_approved')`, certID)
}

func (s *Postgres) findOne(ctx context.Context, query string, arg any) (*models.Request, error) {
	req, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find renewal request: %w", err)
	}
	return req, nil
}

func (s *Postgres) UpdateIfVersion(ctx context.Context, req *models.Request, expectedVersion int) error {
	f := flatten(req)
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE renewal_requests SET
			status = $3,
			first_approver_id = $4, first_approved_at = $5, first_approval_comment = $6,
			second_approver_id = $7, second_approved_at = $8, second_approval_comment = $9,
			rejected_by = $10, rejected_at = $11, rejection_reason = $12,
			updated_at = $13,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		req.ID, expectedVersion, string(req.Status),
		f.firstID, f.firstAt, f.firstComment,
		f.secondID, f.secondAt, f.secondComment,
		f.rejectedBy, f.rejectedAt, f.rejReason,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update renewal request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update renewal request rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("renewal %s version %d: %w", req.ID, expectedVersion, sentinel.ErrConflict)
	}
	req.Version = expectedVersion + 1
	return nil
}

func scanRequest(row interface{ Scan(dest ...any) error }) (*models.Request, error) {
	var (
		req             models.Request
		status, urgency string
		f               flatRequest
	)
	if err := row.Scan(
		&req.ID, &req.TenantID, &req.CertificationID, &req.RequesterID, &status, &urgency,
		&f.firstID, &f.firstAt, &f.firstComment,
		&f.secondID, &f.secondAt, &f.secondComment,
		&f.rejectedBy, &f.rejectedAt, &f.rejReason,
		&req.CreatedAt, &req.UpdatedAt, &req.Version,
	); err != nil {
		return nil, err
	}
	req.Status = models.State(status)
	if req.Status == models.StateCompleted {
		req.Status = models.StateManagerApproved
	}
	req.Urgency = models.Urgency(urgency)
	if f.firstAt.Valid {
		req.FirstApproval = &models.Approval{ApproverID: f.firstID, ApprovedAt: f.firstAt.Time, Comment: f.firstComment.String}
	}
	if f.secondAt.Valid {
		req.SecondApproval = &models.Approval{ApproverID: f.secondID, ApprovedAt: f.secondAt.Time, Comment: f.secondComment.String}
	}
	if f.rejectedAt.Valid {
		req.Rejection = &models.Rejection{RejectedBy: f.rejectedBy, RejectedAt: f.rejectedAt.Time, Reason: f.rejReason.String}
	}
	return &req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
