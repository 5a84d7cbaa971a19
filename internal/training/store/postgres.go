package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
	txcontext "trainflow/pkg/platform/tx"
)

// Postgres persists training records in PostgreSQL. Reads and writes join the
// transaction carried by ctx when there is one.
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

const certificationColumns = `id, tenant_id, user_id, course_id, status, expires_at, completed_at, credential_number, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertification(row rowScanner) (*models.Certification, error) {
	var (
		cert       models.Certification
		status     string
		completed  sql.NullTime
		credential sql.NullString
	)
	if err := row.Scan(
		&cert.ID, &cert.TenantID, &cert.UserID, &cert.CourseID, &status,
		&cert.ExpiresAt, &completed, &credential, &cert.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cert.Status = models.CertificationStatus(status)
	if completed.Valid {
		t := completed.Time
		cert.CompletedAt = &t
	}
	cert.CredentialNumber = credential.String
	return &cert, nil
}

func (s *Postgres) CreateCertification(ctx context.Context, cert *models.Certification) error {
	query := `INSERT INTO certifications (` + certificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		cert.ID, cert.TenantID, cert.UserID, cert.CourseID, string(cert.Status),
		cert.ExpiresAt, cert.CompletedAt, nullString(cert.CredentialNumber), cert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert certification: %w", err)
	}
	return nil
}

func (s *Postgres) FindCertification(ctx context.Context, certID id.CertificationID) (*models.Certification, error) {
	query := `SELECT ` + certificationColumns + ` FROM certifications WHERE id = $1`
	cert, err := scanCertification(s.execer(ctx).QueryRowContext(ctx, query, certID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certification: %w", err)
	}
	return cert, nil
}

func (s *Postgres) FindActiveExpiringBetween(ctx context.Context, q models.ExpiryQuery) ([]models.Certification, error) {
	query := `SELECT ` + certificationColumns + ` FROM certifications
		WHERE status = 'active' AND expires_at >= $1 AND expires_at <= $2`
	args := []any{q.From, q.To}
	if q.TenantID != nil {
		query += ` AND tenant_id = $3`
		args = append(args, *q.TenantID)
	}
	query += ` ORDER BY expires_at ASC`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expiring certifications: %w", err)
	}
	defer rows.Close()

	var out []models.Certification
	for rows.Next() {
		cert, err := scanCertification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certification: %w", err)
		}
		out = append(out, *cert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certifications: %w", err)
	}
	return out, nil
}

func (s *Postgres) UpdateCertification(ctx context.Context, cert *models.Certification) error {
	query := `UPDATE certifications
		SET status = $2, expires_at = $3, completed_at = $4, credential_number = $5, updated_at = $6
		WHERE id = $1`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		cert.ID, string(cert.Status), cert.ExpiresAt, cert.CompletedAt, nullString(cert.CredentialNumber), cert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update certification: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update certification rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) CreateCourse(ctx context.Context, course *models.Course) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO courses (id, tenant_id, title, validity_days) VALUES ($1, $2, $3, $4)`,
		course.ID, course.TenantID, course.Title, course.Validity(),
	)
	if err != nil {
		return fmt.Errorf("insert course: %w", err)
	}
	return nil
}

func (s *Postgres) FindCourse(ctx context.Context, courseID id.CourseID) (*models.Course, error) {
	var course models.Course
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, tenant_id, title, validity_days FROM courses WHERE id = $1`, courseID,
	).Scan(&course.ID, &course.TenantID, &course.Title, &course.ValidityDays)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.execer(ctx).ExecContext(ctx,
		`INSERT INTO users (id, tenant_id, display_name, email, role, active) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.TenantID, user.DisplayName, user.Email, string(user.Role), user.Active,
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Postgres) FindUser(ctx context.Context, userID id.UserID) (*models.User, error) {
	user, err := scanUser(s.execer(ctx).QueryRowContext(ctx,
		`SELECT id, tenant_id, display_name, email, role, active FROM users WHERE id = $1`, userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *Postgres) FindUsersByRole(ctx context.Context, role models.Role, tenantID id.TenantID) ([]models.User, error) {
	return s.FindUsersByRoles(ctx, []models.Role{role}, tenantID)
}

// FindUsersByRoles returns active users holding any of roles in the tenant.
func (s *Postgres) FindUsersByRoles(ctx context.Context, roles []models.Role, tenantID id.TenantID) ([]models.User, error) {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT id, tenant_id, display_name, email, role, active FROM users
		 WHERE tenant_id = $1 AND active AND role = ANY($2)
		 ORDER BY display_name, id`,
		tenantID, pq.Array(names),
	)
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return out, nil
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user models.User
		role string
	)
	if err := row.Scan(&user.ID, &user.TenantID, &user.DisplayName, &user.Email, &role, &user.Active); err != nil {
		return nil, err
	}
	user.Role = models.Role(role)
	return &user, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
