package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	notification "trainflow/internal/notification/models"
	"trainflow/internal/renewal/metrics"
	"trainflow/internal/renewal/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	"trainflow/pkg/platform/sentinel"
	"trainflow/pkg/platform/tx"
)

type RequestStore interface {
	Create(ctx context.Context, req *models.Request) error
	FindByID(ctx context.Context, requestID id.RenewalID) (*models.Request, error)
	FindOpenByCertification(ctx context.Context, certID id.CertificationID) (*models.Request, error)
	UpdateIfVersion(ctx context.Context, req *models.Request, expectedVersion int) error
}

type CertificationStore interface {
	FindCertification(ctx context.Context, certID id.CertificationID) (*training.Certification, error)
	UpdateCertification(ctx context.Context, cert *training.Certification) error
}

type CourseStore interface {
	FindCourse(ctx context.Context, courseID id.CourseID) (*training.Course, error)
}

// UserDirectory resolves approvers by role within a tenant.
type UserDirectory interface {
	FindUsersByRole(ctx context.Context, role training.Role, tenantID id.TenantID) ([]training.User, error)
}

type Notifier interface {
	Create(ctx context.Context, n *notification.Notification) error
}

// Service runs the two-stage renewal approval workflow: a foreman approves,
// then a manager gives final approval which renews the certification.
type Service struct {
	requests       RequestStore
	certifications CertificationStore
	courses        CourseStore
	users          UserDirectory
	notifier       Notifier

	tx      tx.Runner
	audit   AuditSink
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Service)

// WithTxRunner sets the transaction runner used for final approval.
// Defaults to an in-process runner.
func WithTxRunner(runner tx.Runner) Option {
	return func(s *Service) {
		s.tx = runner
	}
}

func WithAuditSink(sink AuditSink) Option {
	return func(s *Service) {
		s.audit = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(
	requests RequestStore,
	certifications CertificationStore,
	courses CourseStore,
	users UserDirectory,
	notifier Notifier,
	opts ...Option,
) (*Service, error) {
	if requests == nil {
		return nil, errors.New("requests store is required")
	}
	if certifications == nil {
		return nil, errors.New("certifications store is required")
	}
	if courses == nil {
		return nil, errors.New("courses store is required")
	}
	if users == nil {
		return nil, errors.New("user directory is required")
	}
	if notifier == nil {
		return nil, errors.New("notifier is required")
	}

	s := &Service{
		requests:       requests,
		certifications: certifications,
		courses:        courses,
		users:          users,
		notifier:       notifier,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tx == nil {
		s.tx = tx.NewLocalRunner()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("trainflow/renewal")
	}
	return s, nil
}

// finish closes the span and records the outcome of one workflow operation.
func (s *Service) finish(span trace.Span, action string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(dErrors.CodeOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
	s.metrics.ObserveTransition(action, outcome, start)
}

// loadRequest fetches a request within the actor's tenant. Requests of other
// tenants are reported as missing.
func (s *Service) loadRequest(ctx context.Context, actor models.Actor, requestID id.RenewalID) (*models.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "renewal request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load renewal request")
	}
	if req.TenantID != actor.TenantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "renewal request not found")
	}
	return req, nil
}

// persist writes req if nobody else advanced it since expectedVersion.
func (s *Service) persist(ctx context.Context, req *models.Request, expectedVersion int) error {
	err := s.requests.UpdateIfVersion(ctx, req, expectedVersion)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrConflict):
		s.metrics.IncVersionConflict()
		return dErrors.New(dErrors.CodeInvalidTransition, "renewal request was modified concurrently")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "renewal request not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save renewal request")
	}
}
