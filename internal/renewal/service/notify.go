package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	notification "trainflow/internal/notification/models"
	"trainflow/internal/renewal/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/requestcontext"
)

const unknownCourse = "certification"

// message is the recipient-independent part of a workflow notification.
type message struct {
	typ   notification.Type
	title string
	body  string
}

func renewalRequested(req *models.Request, course string) message {
	return message{
		typ:   notification.TypeRenewalRequest,
		title: "Renewal request awaiting review",
		body:  fmt.Sprintf("A %s urgency renewal was requested for %s.", req.Urgency, course),
	}
}

func approvalNeeded(_ *models.Request, course string) message {
	return message{
		typ:   notification.TypeApprovalNeeded,
		title: "Renewal awaiting final approval",
		body:  fmt.Sprintf("A foreman approved the renewal of %s. Final approval is required.", course),
	}
}

func renewalApproved(_ *models.Request, course string, expiresAt time.Time) message {
	return message{
		typ:   notification.TypeSystem,
		title: "Renewal approved",
		body:  fmt.Sprintf("Your renewal of %s was approved. New expiry date: %s.", course, expiresAt.Format(time.DateOnly)),
	}
}

func renewalRejected(req *models.Request, course string) message {
	reason := ""
	if req.Rejection != nil {
		reason = req.Rejection.Reason
	}
	return message{
		typ:   notification.TypeSystem,
		title: "Renewal rejected",
		body:  fmt.Sprintf("Your renewal of %s was rejected. Reason: %s", course, reason),
	}
}

func (s *Service) courseTitle(ctx context.Context, courseID id.CourseID) string {
	course, err := s.courses.FindCourse(ctx, courseID)
	if err != nil || course.Title == "" {
		return unknownCourse
	}
	return course.Title
}

func (s *Service) courseTitleForCertification(ctx context.Context, certID id.CertificationID) string {
	cert, err := s.certifications.FindCertification(ctx, certID)
	if err != nil {
		return unknownCourse
	}
	return s.courseTitle(ctx, cert.CourseID)
}

func (s *Service) newNotification(ctx context.Context, recipient id.UserID, req *models.Request, msg message) *notification.Notification {
	return &notification.Notification{
		ID:          id.NotificationID(uuid.New()),
		TenantID:    req.TenantID,
		RecipientID: recipient,
		Type:        msg.typ,
		Title:       msg.title,
		Message:     msg.body,
		EntityType:  notification.EntityRenewalRequest,
		EntityID:    req.ID.String(),
		CreatedAt:   requestcontext.Now(ctx),
	}
}

// notifyRole fans a message out to every active user holding role in the
// request's tenant. Failures are logged and do not undo the transition.
func (s *Service) notifyRole(ctx context.Context, role training.Role, req *models.Request, msg message) {
	users, err := s.users.FindUsersByRole(ctx, role, req.TenantID)
	if err != nil {
		s.metrics.IncSideEffectFailure("notification")
		s.logger.ErrorContext(ctx, "failed to resolve notification recipients",
			"role", role,
			"renewal_id", req.ID,
			"error", err,
		)
		return
	}
	for _, u := range users {
		s.notifyUser(ctx, u.ID, req, msg)
	}
}

func (s *Service) notifyUser(ctx context.Context, recipient id.UserID, req *models.Request, msg message) {
	n := s.newNotification(ctx, recipient, req, msg)
	if err := s.notifier.Create(ctx, n); err != nil {
		s.metrics.IncSideEffectFailure("notification")
		s.logger.ErrorContext(ctx, "failed to create notification",
			"type", msg.typ,
			"recipient_id", recipient,
			"renewal_id", req.ID,
			"error", err,
		)
	}
}

func (s *Service) recordAudit(ctx context.Context, actor models.Actor, action audit.Action, before, after *models.Request) {
	var beforeSnap any
	if before != nil {
		beforeSnap = before
	}
	s.emit(ctx, audit.Event{
		TenantID:   actor.TenantID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role.String(),
		Action:     action,
		EntityType: notification.EntityRenewalRequest,
		EntityID:   after.ID.String(),
		Before:     audit.Snapshot(beforeSnap),
		After:      audit.Snapshot(after),
	})
}

func (s *Service) recordCertificationAudit(ctx context.Context, actor models.Actor, before, after *training.Certification) {
	s.emit(ctx, audit.Event{
		TenantID:   actor.TenantID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role.String(),
		Action:     audit.ActionApprove,
		EntityType: notification.EntityCertification,
		EntityID:   after.ID.String(),
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(after),
	})
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.metrics.IncSideEffectFailure("audit")
		s.logger.ErrorContext(ctx, "failed to record workflow log",
			"action", event.Action,
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
	}
}
