package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	notification "trainflow/internal/notification/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
)

// escalate alerts every foreman of the tenant when a subject in the final week
// has left enough warnings unread.
func (s *Scanner) escalate(ctx context.Context, now time.Time, t *tally) error {
	ctx, span := s.tracer.Start(ctx, "expiry.escalate")
	defer span.End()

	q := training.ExpiryQuery{
		From:     now,
		To:       now.Add(time.Duration(s.cfg.EscalationHorizonDays) * day),
		TenantID: s.cfg.TenantID,
	}
	certs, err := s.certifications.FindActiveExpiringBetween(ctx, q)
	if err != nil {
		s.queryFailed(ctx, "escalation", t, err)
		return nil
	}

	before := t.escalations
	for _, cert := range certs {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.check(cert.ID)
		days := DaysRemaining(cert.ExpiresAt, now)
		if days > s.cfg.EscalationMaxDays {
			continue
		}
		s.item(ctx, "escalation", cert, t, func(itemCtx context.Context) error {
			created, err := s.escalateOne(itemCtx, now, days, cert)
			t.escalations += created
			for range created {
				s.metrics.IncCreated(string(notification.TypeEscalation))
			}
			return err
		})
	}
	span.SetAttributes(attribute.Int("created", t.escalations-before))
	return nil
}

func (s *Scanner) escalateOne(ctx context.Context, now time.Time, days int, cert training.Certification) (int, error) {
	unread, err := s.notifications.CountUnread(ctx, cert.UserID, notification.TypeExpiryWarning, cert.ID.String())
	if err != nil {
		return 0, fmt.Errorf("count unread warnings: %w", err)
	}
	if unread < s.cfg.EscalationMinUnread {
		return 0, nil
	}

	foremen, err := s.users.FindUsersByRole(ctx, training.RoleForeman, cert.TenantID)
	if err != nil {
		return 0, fmt.Errorf("find foremen: %w", err)
	}
	if len(foremen) == 0 {
		s.logger.WarnContext(ctx, "no foreman to escalate to",
			"certification_id", cert.ID,
			"tenant_id", cert.TenantID,
		)
		return 0, nil
	}

	course, err := s.courses.FindCourse(ctx, cert.CourseID)
	if err != nil {
		return 0, fmt.Errorf("load course %s: %w", cert.CourseID, err)
	}
	subject := cert.UserID.String()
	if u, err := s.users.FindUser(ctx, cert.UserID); err == nil && u.Name() != "" {
		subject = u.Name()
	}

	since := now.Add(-s.cfg.EscalationWindow)
	remaining := days
	created := 0
	var errs []error
	for _, foreman := range foremen {
		n := &notification.Notification{
			ID:          id.NotificationID(uuid.New()),
			TenantID:    cert.TenantID,
			RecipientID: foreman.ID,
			Type:        notification.TypeEscalation,
			Title:       fmt.Sprintf("Escalation: %s certification for %s", course.Title, subject),
			Message: fmt.Sprintf("%s has %d unread expiry warnings. Their %s certification expires in %d days (%s).",
				subject, unread, course.Title, days, cert.ExpiresAt.In(s.cfg.Location).Format(time.DateOnly)),
			EntityType:      notification.EntityCertification,
			EntityID:        cert.ID.String(),
			DaysUntilExpiry: &remaining,
			CreatedAt:       now,
		}
		ok, err := s.notifications.CreateUnlessRecent(ctx, n, since)
		if err != nil {
			errs = append(errs, fmt.Errorf("escalate to %s: %w", foreman.ID, err))
			continue
		}
		if ok {
			created++
		}
	}
	return created, errors.Join(errs...)
}
