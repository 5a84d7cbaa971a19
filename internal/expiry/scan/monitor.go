package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	notification "trainflow/internal/notification/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
)

// monitor warns subjects whose certification is exactly d days from expiry,
// for every threshold d.
func (s *Scanner) monitor(ctx context.Context, now time.Time, t *tally) error {
	ctx, span := s.tracer.Start(ctx, "expiry.monitor")
	defer span.End()

	before := t.notifications
	for _, d := range s.cfg.Thresholds {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := training.ExpiryQuery{
			From:     now,
			To:       now.Add(time.Duration(d+1) * day),
			TenantID: s.cfg.TenantID,
		}
		certs, err := s.certifications.FindActiveExpiringBetween(ctx, q)
		if err != nil {
			s.queryFailed(ctx, "monitor", t, fmt.Errorf("threshold %d: %w", d, err))
			continue
		}
		for _, cert := range certs {
			if err := ctx.Err(); err != nil {
				return err
			}
			t.check(cert.ID)
			if DaysRemaining(cert.ExpiresAt, now) != d {
				continue
			}
			s.item(ctx, "monitor", cert, t, func(itemCtx context.Context) error {
				created, err := s.warn(itemCtx, now, d, cert)
				if created {
					t.notifications++
					s.metrics.IncCreated(string(notification.TypeExpiryWarning))
				}
				return err
			})
		}
	}
	span.SetAttributes(attribute.Int("created", t.notifications-before))
	return nil
}

// warn creates today's warning for cert unless it already exists.
func (s *Scanner) warn(ctx context.Context, now time.Time, days int, cert training.Certification) (bool, error) {
	course, err := s.courses.FindCourse(ctx, cert.CourseID)
	if err != nil {
		return false, fmt.Errorf("load course %s: %w", cert.CourseID, err)
	}

	expiry := cert.ExpiresAt.In(s.cfg.Location).Format(time.DateOnly)
	remaining := days
	n := &notification.Notification{
		ID:              id.NotificationID(uuid.New()),
		TenantID:        cert.TenantID,
		RecipientID:     cert.UserID,
		Type:            notification.TypeExpiryWarning,
		Title:           WarningTitle(days, course.Title),
		Message:         fmt.Sprintf("Your %s certification expires on %s. Request a renewal before it lapses.", course.Title, expiry),
		EntityType:      notification.EntityCertification,
		EntityID:        cert.ID.String(),
		DaysUntilExpiry: &remaining,
		DedupeKey:       notification.ExpiryWarningKey(cert.ID, now, s.cfg.Location),
		CreatedAt:       now,
	}
	created, err := s.notifications.CreateIfAbsent(ctx, n)
	if err != nil {
		return false, fmt.Errorf("create warning: %w", err)
	}
	return created, nil
}

// WarningTitle prefixes the title by urgency: URGENT on the last day,
// Important within a week.
func WarningTitle(days int, course string) string {
	switch {
	case days <= 1:
		return fmt.Sprintf("URGENT: %s expires tomorrow", course)
	case days <= 7:
		return fmt.Sprintf("Important: %s expires in %d days", course, days)
	default:
		return fmt.Sprintf("%s expires in %d days", course, days)
	}
}
