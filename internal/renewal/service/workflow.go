package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trainflow/internal/renewal/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/platform/sentinel"
	"trainflow/pkg/requestcontext"
)

// Submit opens a renewal request for one of the actor's own certifications.
// Foremen of the tenant are notified.
func (s *Service) Submit(ctx context.Context, actor models.Actor, certID id.CertificationID, rawUrgency string) (_ *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "renewal.Submit", trace.WithAttributes(
		attribute.String("certification_id", certID.String()),
		attribute.String("actor_role", actor.Role.String()),
	))
	defer func() { s.finish(span, "submit", start, err) }()

	urgency, err := models.ParseUrgency(rawUrgency)
	if err != nil {
		return nil, err
	}

	cert, err := s.certifications.FindCertification(ctx, certID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "certification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certification")
	}
	if cert.TenantID != actor.TenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "certification not found")
	}
	if cert.UserID != actor.ID {
		return nil, dErrors.New(dErrors.CodeForbidden, "renewal can only be requested for your own certification")
	}
	if !cert.Status.Renewable() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "certification in status "+string(cert.Status)+" cannot be renewed")
	}

	if _, err := s.requests.FindOpenByCertification(ctx, certID); err == nil {
		return nil, dErrors.New(dErrors.CodeAlreadyOpen, "an open renewal request already exists for this certification")
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check open renewal requests")
	}

	now := requestcontext.Now(ctx)
	req := models.NewRequest(id.RenewalID(uuid.New()), actor.TenantID, certID, actor.ID, urgency, now)
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeAlreadyOpen, "an open renewal request already exists for this certification")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create renewal request")
	}
	span.SetAttributes(attribute.String("renewal_id", req.ID.String()))

	title := s.courseTitle(ctx, cert.CourseID)
	s.notifyRole(ctx, training.RoleForeman, req, renewalRequested(req, title))
	s.recordAudit(ctx, actor, audit.ActionSubmit, nil, req)
	s.logger.InfoContext(ctx, "renewal_submitted",
		"log_type", "audit",
		"renewal_id", req.ID,
		"certification_id", certID,
		"tenant_id", actor.TenantID,
		"urgency", urgency,
	)
	return req, nil
}

// Approve advances a request by one approval step. A foreman moves pending to
// foreman_approved; a manager moves foreman_approved to manager_approved and the
// certification is renewed in the same transaction.
func (s *Service) Approve(ctx context.Context, actor models.Actor, requestID id.RenewalID, comment string) (_ *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "renewal.Approve", trace.WithAttributes(
		attribute.String("renewal_id", requestID.String()),
		attribute.String("actor_role", actor.Role.String()),
	))
	defer func() { s.finish(span, "approve", start, err) }()

	req, err := s.loadRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	before := req.Clone()

	next, err := req.CanApprove(actor.Role)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)
	req.ApplyApproval(next, actor.ID, comment, now)

	if next == models.StateForemanApproved {
		if err := s.persist(ctx, req, before.Version); err != nil {
			return nil, err
		}
		title := s.courseTitleForCertification(ctx, req.CertificationID)
		s.notifyRole(ctx, training.RoleManager, req, approvalNeeded(req, title))
		s.recordAudit(ctx, actor, audit.ActionApprove, before, req)
		s.logger.InfoContext(ctx, "renewal_foreman_approved",
			"log_type", "audit",
			"renewal_id", req.ID,
			"approver_id", actor.ID,
		)
		return req, nil
	}

	var certBefore, certAfter *training.Certification
	var course *training.Course
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		cert, err := s.certifications.FindCertification(txCtx, req.CertificationID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "certification not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certification")
		}
		course, err = s.courses.FindCourse(txCtx, cert.CourseID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "course not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load course")
		}
		if err := s.persist(txCtx, req, before.Version); err != nil {
			return err
		}
		snapshot := *cert
		certBefore = &snapshot
		cert.ApplyRenewal(now, course.Validity())
		if err := s.certifications.UpdateCertification(txCtx, cert); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to renew certification")
		}
		certAfter = cert
		return nil
	})
	if err != nil {
		if _, ok := dErrors.As(err); !ok {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete renewal")
		}
		return nil, err
	}

	s.notifyUser(ctx, req.RequesterID, req, renewalApproved(req, course.Title, certAfter.ExpiresAt))
	s.recordAudit(ctx, actor, audit.ActionApprove, before, req)
	s.recordCertificationAudit(ctx, actor, certBefore, certAfter)
	s.logger.InfoContext(ctx, "renewal_completed",
		"log_type", "audit",
		"renewal_id", req.ID,
		"certification_id", certAfter.ID,
		"approver_id", actor.ID,
		"expires_at", certAfter.ExpiresAt,
	)
	return req, nil
}

// Reject closes an open request. Only foremen and managers may reject and a
// non-blank reason is required.
func (s *Service) Reject(ctx context.Context, actor models.Actor, requestID id.RenewalID, reason string) (_ *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "renewal.Reject", trace.WithAttributes(
		attribute.String("renewal_id", requestID.String()),
		attribute.String("actor_role", actor.Role.String()),
	))
	defer func() { s.finish(span, "reject", start, err) }()

	req, err := s.loadRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	before := req.Clone()

	if err := req.CanReject(actor.Role, reason); err != nil {
		return nil, err
	}
	req.ApplyRejection(actor.ID, reason, requestcontext.Now(ctx))
	if err := s.persist(ctx, req, before.Version); err != nil {
		return nil, err
	}

	title := s.courseTitleForCertification(ctx, req.CertificationID)
	s.notifyUser(ctx, req.RequesterID, req, renewalRejected(req, title))
	s.recordAudit(ctx, actor, audit.ActionReject, before, req)
	s.logger.InfoContext(ctx, "renewal_rejected",
		"log_type", "audit",
		"renewal_id", req.ID,
		"rejected_by", actor.ID,
		"from_state", before.Status,
	)
	return req, nil
}

// Get returns a request visible to the actor. Employees only see their own.
func (s *Service) Get(ctx context.Context, actor models.Actor, requestID id.RenewalID) (*models.Request, error) {
	req, err := s.loadRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	if actor.Role == training.RoleEmployee && req.RequesterID != actor.ID {
		return nil, dErrors.New(dErrors.CodeNotFound, "renewal request not found")
	}
	return req, nil
}
