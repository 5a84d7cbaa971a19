package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trainflow/internal/training/models"
	id "trainflow/pkg/domain"
)

// Writer is what seeding needs from a training store.
type Writer interface {
	CreateUser(ctx context.Context, user *models.User) error
	CreateCourse(ctx context.Context, course *models.Course) error
	CreateCertification(ctx context.Context, cert *models.Certification) error
}

// Demo describes the records SeedDemo created.
type Demo struct {
	TenantID       id.TenantID
	Employee       models.User
	Foremen        []models.User
	Manager        models.User
	Officer        models.User
	Course         models.Course
	Certifications []models.Certification
}

// SeedDemo creates one tenant with a small crew and certifications that hit
// every warning threshold on the next scan, plus one already expired.
func SeedDemo(ctx context.Context, w Writer, now time.Time) (*Demo, error) {
	tenantID := id.TenantID(uuid.New())
	user := func(name, email string, role models.Role) models.User {
		return models.User{
			ID:          id.UserID(uuid.New()),
			TenantID:    tenantID,
			DisplayName: name,
			Email:       email,
			Role:        role,
			Active:      true,
		}
	}

	demo := &Demo{
		TenantID: tenantID,
		Employee: user("Erin Employee", "erin@example.com", models.RoleEmployee),
		Foremen: []models.User{
			user("Frank Foreman", "frank@example.com", models.RoleForeman),
			user("Fiona Foreman", "fiona@example.com", models.RoleForeman),
		},
		Manager: user("Maria Manager", "maria@example.com", models.RoleManager),
		Officer: user("Tomas Officer", "tomas@example.com", models.RoleTrainingOfficer),
		Course: models.Course{
			ID:           id.CourseID(uuid.New()),
			TenantID:     tenantID,
			Title:        "Working at Heights",
			ValidityDays: models.DefaultValidityDays,
		},
	}

	users := append([]models.User{demo.Employee, demo.Manager, demo.Officer}, demo.Foremen...)
	for i := range users {
		if err := w.CreateUser(ctx, &users[i]); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", users[i].Email, err)
		}
	}
	if err := w.CreateCourse(ctx, &demo.Course); err != nil {
		return nil, fmt.Errorf("seed course: %w", err)
	}

	// Half a day inside each threshold so ceil(remaining) lands exactly on it.
	for _, days := range []int{30, 14, 7, 1} {
		demo.Certifications = append(demo.Certifications, models.Certification{
			ID:        id.CertificationID(uuid.New()),
			TenantID:  tenantID,
			UserID:    demo.Employee.ID,
			CourseID:  demo.Course.ID,
			Status:    models.CertificationActive,
			ExpiresAt: now.Add(time.Duration(days)*24*time.Hour - 12*time.Hour),
			UpdatedAt: now,
		})
	}
	demo.Certifications = append(demo.Certifications, models.Certification{
		ID:        id.CertificationID(uuid.New()),
		TenantID:  tenantID,
		UserID:    demo.Employee.ID,
		CourseID:  demo.Course.ID,
		Status:    models.CertificationExpired,
		ExpiresAt: now.Add(-10 * 24 * time.Hour),
		UpdatedAt: now,
	})

	for i := range demo.Certifications {
		if err := w.CreateCertification(ctx, &demo.Certifications[i]); err != nil {
			return nil, fmt.Errorf("seed certification: %w", err)
		}
	}
	return demo, nil
}
