package service

//go:generate mockgen -source=audit.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	notification "trainflow/internal/notification/models"
	notificationstore "trainflow/internal/notification/store"
	"trainflow/internal/renewal/metrics"
	"trainflow/internal/renewal/models"
	"trainflow/internal/renewal/service/mocks"
	renewalstore "trainflow/internal/renewal/store"
	training "trainflow/internal/training/models"
	trainingstore "trainflow/internal/training/store"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/requestcontext"
)

// =============================================================================
// Renewal Service Test Suite
// =============================================================================
// The service is exercised against the in-memory stores so transitions,
// certification renewal and notification fan-out are observed end to end.
// The audit sink is mocked to assert what gets recorded.

type RenewalServiceSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockAudit     *mocks.MockAuditSink
	events        []audit.Event
	training      *trainingstore.InMemory
	requests      *renewalstore.InMemory
	notifications *notificationstore.InMemory
	metrics       *metrics.Metrics
	demo          *trainingstore.Demo
	now           time.Time
	service       *Service
}

func TestRenewalServiceSuite(t *testing.T) {
	suite.Run(t, new(RenewalServiceSuite))
}

func (s *RenewalServiceSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.mockAudit = mocks.NewMockAuditSink(s.ctrl)
	s.events = nil
	s.mockAudit.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, e audit.Event) error {
			s.events = append(s.events, e)
			return nil
		}).AnyTimes()

	s.training = trainingstore.NewInMemory()
	s.requests = renewalstore.NewInMemory()
	s.notifications = notificationstore.NewInMemory()
	s.metrics = metrics.New(prometheus.NewRegistry())

	demo, err := trainingstore.SeedDemo(context.Background(), s.training, s.now)
	s.Require().NoError(err)
	s.demo = demo

	s.service = s.newService(WithAuditSink(s.mockAudit))
}

func (s *RenewalServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RenewalServiceSuite) newService(opts ...Option) *Service {
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	}
	svc, err := New(s.requests, s.training, s.training, s.training, s.notifications, append(base, opts...)...)
	s.Require().NoError(err)
	return svc
}

func (s *RenewalServiceSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *RenewalServiceSuite) employee() models.Actor {
	return models.Actor{ID: s.demo.Employee.ID, TenantID: s.demo.TenantID, Role: training.RoleEmployee}
}

func (s *RenewalServiceSuite) foreman() models.Actor {
	return models.Actor{ID: s.demo.Foremen[0].ID, TenantID: s.demo.TenantID, Role: training.RoleForeman}
}

func (s *RenewalServiceSuite) manager() models.Actor {
	return models.Actor{ID: s.demo.Manager.ID, TenantID: s.demo.TenantID, Role: training.RoleManager}
}

func (s *RenewalServiceSuite) activeCert() training.Certification {
	return s.demo.Certifications[0]
}

func (s *RenewalServiceSuite) submit() *models.Request {
	req, err := s.service.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "high")
	s.Require().NoError(err)
	return req
}

func (s *RenewalServiceSuite) inbox(user id.UserID) []notification.Notification {
	list, err := s.notifications.ListForRecipient(context.Background(), user, false)
	s.Require().NoError(err)
	return list
}

func (s *RenewalServiceSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

// =============================================================================
// Constructor
// =============================================================================

func (s *RenewalServiceSuite) TestNew() {
	s.Run("nil requests store returns error", func() {
		_, err := New(nil, s.training, s.training, s.training, s.notifications)
		s.ErrorContains(err, "requests store is required")
	})

	s.Run("nil notifier returns error", func() {
		_, err := New(s.requests, s.training, s.training, s.training, nil)
		s.ErrorContains(err, "notifier is required")
	})

	s.Run("defaults are applied", func() {
		svc, err := New(s.requests, s.training, s.training, s.training, s.notifications)
		s.Require().NoError(err)
		s.NotNil(svc.tx)
		s.NotNil(svc.logger)
		s.NotNil(svc.tracer)
		s.Nil(svc.audit)
	})
}

// =============================================================================
// Submit
// =============================================================================

func (s *RenewalServiceSuite) TestSubmit() {
	s.Run("creates pending request and notifies every foreman", func() {
		req, err := s.service.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "")
		s.Require().NoError(err)

		s.Equal(models.StatePending, req.Status)
		s.Equal(models.UrgencyNormal, req.Urgency)
		s.Equal(1, req.Version)
		s.Equal(s.demo.Employee.ID, req.RequesterID)
		s.Equal(s.now, req.CreatedAt)

		for _, foreman := range s.demo.Foremen {
			inbox := s.inbox(foreman.ID)
			s.Require().Len(inbox, 1)
			s.Equal(notification.TypeRenewalRequest, inbox[0].Type)
			s.Equal(req.ID.String(), inbox[0].EntityID)
			s.Contains(inbox[0].Message, "Working at Heights")
		}
		s.Empty(s.inbox(s.demo.Manager.ID))

		s.Require().Len(s.events, 1)
		s.Equal(audit.ActionSubmit, s.events[0].Action)
		s.Nil(s.events[0].Before)
		s.NotEmpty(s.events[0].After)
		s.Equal(s.demo.Employee.ID, s.events[0].ActorID)
	})
}

func (s *RenewalServiceSuite) TestSubmitRejectsInvalidInput() {
	s.Run("unknown urgency is a validation error", func() {
		_, err := s.service.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "whenever")
		s.requireCode(err, dErrors.CodeValidation)
	})

	s.Run("missing certification is not found", func() {
		_, err := s.service.Submit(s.at(s.now), s.employee(), id.CertificationID(uuid.New()), "")
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("certification of another tenant is not found", func() {
		actor := s.employee()
		actor.TenantID = id.TenantID(uuid.New())
		_, err := s.service.Submit(s.at(s.now), actor, s.activeCert().ID, "")
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("certification of another user is forbidden", func() {
		actor := s.employee()
		actor.ID = s.demo.Officer.ID
		_, err := s.service.Submit(s.at(s.now), actor, s.activeCert().ID, "")
		s.requireCode(err, dErrors.CodeForbidden)
	})

	s.Run("completed certification cannot be renewed", func() {
		cert := s.demo.Certifications[1]
		cert.Status = training.CertificationCompleted
		s.Require().NoError(s.training.UpdateCertification(context.Background(), &cert))

		_, err := s.service.Submit(s.at(s.now), s.employee(), cert.ID, "")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Empty(s.events)
}

func (s *RenewalServiceSuite) TestSubmitOnePerCertification() {
	first := s.submit()

	_, err := s.service.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "critical")
	s.requireCode(err, dErrors.CodeAlreadyOpen)

	_, err = s.service.Reject(s.at(s.now), s.foreman(), first.ID, "missing card")
	s.Require().NoError(err)

	second, err := s.service.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "critical")
	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID)
}

func (s *RenewalServiceSuite) TestSubmitExpiredCertification() {
	expired := s.demo.Certifications[len(s.demo.Certifications)-1]
	s.Require().Equal(training.CertificationExpired, expired.Status)

	req, err := s.service.Submit(s.at(s.now), s.employee(), expired.ID, "")
	s.Require().NoError(err)
	s.Equal(models.StatePending, req.Status)
}

// =============================================================================
// Approve
// =============================================================================

func (s *RenewalServiceSuite) TestForemanApproval() {
	req := s.submit()

	approved, err := s.service.Approve(s.at(s.now.Add(time.Hour)), s.foreman(), req.ID, "card checked")
	s.Require().NoError(err)

	s.Equal(models.StateForemanApproved, approved.Status)
	s.Equal(2, approved.Version)
	s.Require().NotNil(approved.FirstApproval)
	s.Equal(s.demo.Foremen[0].ID, approved.FirstApproval.ApproverID)
	s.Equal("card checked", approved.FirstApproval.Comment)
	s.Nil(approved.SecondApproval)

	inbox := s.inbox(s.demo.Manager.ID)
	s.Require().Len(inbox, 1)
	s.Equal(notification.TypeApprovalNeeded, inbox[0].Type)

	cert, err := s.training.FindCertification(context.Background(), req.CertificationID)
	s.Require().NoError(err)
	s.Equal(s.activeCert().ExpiresAt, cert.ExpiresAt)
}

func (s *RenewalServiceSuite) TestApprovalOutOfOrder() {
	req := s.submit()

	s.Run("manager cannot approve a pending request", func() {
		_, err := s.service.Approve(s.at(s.now), s.manager(), req.ID, "")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("employee cannot approve", func() {
		_, err := s.service.Approve(s.at(s.now), s.employee(), req.ID, "")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("foreman cannot approve twice", func() {
		_, err := s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
		s.Require().NoError(err)
		_, err = s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StateForemanApproved, stored.Status)
	s.Equal(2, stored.Version)
}

func (s *RenewalServiceSuite) TestFullApprovalRenewsCertification() {
	req := s.submit()
	_, err := s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
	s.Require().NoError(err)

	approvedAt := s.now.Add(48 * time.Hour)
	final, err := s.service.Approve(s.at(approvedAt), s.manager(), req.ID, "ok")
	s.Require().NoError(err)

	s.Equal(models.StateManagerApproved, final.Status)
	s.True(final.Status.IsTerminal())
	s.Require().NotNil(final.FirstApproval)
	s.Require().NotNil(final.SecondApproval)
	s.Equal(s.demo.Manager.ID, final.SecondApproval.ApproverID)
	s.Equal(approvedAt, final.SecondApproval.ApprovedAt)
	s.Nil(final.Rejection)

	cert, err := s.training.FindCertification(context.Background(), req.CertificationID)
	s.Require().NoError(err)
	s.Equal(training.CertificationActive, cert.Status)
	s.Equal(approvedAt.Add(365*24*time.Hour), cert.ExpiresAt)

	inbox := s.inbox(s.demo.Employee.ID)
	s.Require().Len(inbox, 1)
	s.Equal(notification.TypeSystem, inbox[0].Type)
	s.Contains(inbox[0].Message, cert.ExpiresAt.Format(time.DateOnly))

	var certEvents int
	for _, e := range s.events {
		if e.EntityType == notification.EntityCertification {
			certEvents++
		}
	}
	s.Equal(1, certEvents)

	_, err = s.service.Approve(s.at(approvedAt), s.manager(), req.ID, "")
	s.requireCode(err, dErrors.CodeInvalidTransition)
}

func (s *RenewalServiceSuite) TestFinalApprovalIgnoresPriorExpiry() {
	expired := s.demo.Certifications[len(s.demo.Certifications)-1]
	course := s.demo.Course
	course.ID = id.CourseID(uuid.New())
	course.ValidityDays = 90
	s.Require().NoError(s.training.CreateCourse(context.Background(), &course))
	expired.CourseID = course.ID
	s.Require().NoError(s.training.UpdateCertification(context.Background(), &expired))

	req, err := s.service.Submit(s.at(s.now), s.employee(), expired.ID, "")
	s.Require().NoError(err)
	_, err = s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
	s.Require().NoError(err)
	_, err = s.service.Approve(s.at(s.now), s.manager(), req.ID, "")
	s.Require().NoError(err)

	cert, err := s.training.FindCertification(context.Background(), expired.ID)
	s.Require().NoError(err)
	s.Equal(training.CertificationActive, cert.Status)
	s.Equal(s.now.Add(90*24*time.Hour), cert.ExpiresAt)
}

// staleRequests serves a snapshot taken before a concurrent writer advanced the request.
type staleRequests struct {
	*renewalstore.InMemory
	snapshot *models.Request
}

func (r staleRequests) FindByID(context.Context, id.RenewalID) (*models.Request, error) {
	return r.snapshot.Clone(), nil
}

func (s *RenewalServiceSuite) TestConcurrentApprovalLoses() {
	req := s.submit()
	stale, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)

	_, err = s.service.Approve(s.at(s.now), s.foreman(), req.ID, "first")
	s.Require().NoError(err)

	racer, err := New(staleRequests{InMemory: s.requests, snapshot: stale}, s.training, s.training, s.training, s.notifications,
		WithMetrics(s.metrics), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	second := s.foreman()
	second.ID = s.demo.Foremen[1].ID
	_, err = racer.Approve(s.at(s.now), second, req.ID, "second")
	s.requireCode(err, dErrors.CodeInvalidTransition)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.VersionConflicts))

	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(2, stored.Version)
	s.Equal(s.demo.Foremen[0].ID, stored.FirstApproval.ApproverID)
}

// =============================================================================
// Reject
// =============================================================================

func (s *RenewalServiceSuite) TestRejectNotifiesRequesterWithReason() {
	req := s.submit()
	before := s.inbox(s.demo.Employee.ID)

	rejected, err := s.service.Reject(s.at(s.now), s.foreman(), req.ID, "insufficient evidence")
	s.Require().NoError(err)
	s.Equal(models.StateRejected, rejected.Status)
	s.Require().NotNil(rejected.Rejection)
	s.Equal("insufficient evidence", rejected.Rejection.Reason)
	s.Nil(rejected.SecondApproval)

	after := s.inbox(s.demo.Employee.ID)
	s.Require().Len(after, len(before)+1)
	s.Contains(after[0].Message, "insufficient evidence")

	cert, err := s.training.FindCertification(context.Background(), req.CertificationID)
	s.Require().NoError(err)
	s.Equal(s.activeCert(), *cert)

	last := s.events[len(s.events)-1]
	s.Equal(audit.ActionReject, last.Action)
	s.NotEmpty(last.Before)
}

func (s *RenewalServiceSuite) TestRejectGuards() {
	s.Run("blank reason is a validation error", func() {
		req := s.submit()
		_, err := s.service.Reject(s.at(s.now), s.foreman(), req.ID, "   ")
		s.requireCode(err, dErrors.CodeValidation)
		_, err = s.service.Reject(s.at(s.now), s.foreman(), req.ID, "expired card")
		s.Require().NoError(err)
	})

	s.Run("employee cannot reject", func() {
		req := s.submit()
		_, err := s.service.Reject(s.at(s.now), s.employee(), req.ID, "no")
		s.requireCode(err, dErrors.CodeInvalidTransition)
		_, err = s.service.Reject(s.at(s.now), s.manager(), req.ID, "no")
		s.Require().NoError(err)
	})

	s.Run("manager may reject after foreman approval", func() {
		req := s.submit()
		_, err := s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
		s.Require().NoError(err)
		rejected, err := s.service.Reject(s.at(s.now), s.manager(), req.ID, "budget")
		s.Require().NoError(err)
		s.NotNil(rejected.FirstApproval)
		s.Equal(models.StateRejected, rejected.Status)
	})

	s.Run("terminal requests cannot be rejected", func() {
		req := s.submit()
		_, err := s.service.Approve(s.at(s.now), s.foreman(), req.ID, "")
		s.Require().NoError(err)
		_, err = s.service.Approve(s.at(s.now), s.manager(), req.ID, "")
		s.Require().NoError(err)

		_, err = s.service.Reject(s.at(s.now), s.foreman(), req.ID, "too late")
		s.requireCode(err, dErrors.CodeInvalidTransition)
		// state is checked before the reason
		_, err = s.service.Reject(s.at(s.now), s.manager(), req.ID, "")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("rejected requests cannot be rejected again", func() {
		req := s.submit()
		_, err := s.service.Reject(s.at(s.now), s.foreman(), req.ID, "first")
		s.Require().NoError(err)
		_, err = s.service.Reject(s.at(s.now), s.manager(), req.ID, "second")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})

	s.Run("completed alias cannot be rejected", func() {
		legacy := models.NewRequest(id.RenewalID(uuid.New()), s.demo.TenantID, s.activeCert().ID,
			s.demo.Employee.ID, models.UrgencyNormal, s.now)
		legacy.Status = models.StateCompleted
		s.Require().NoError(s.requests.Create(context.Background(), legacy))

		_, err := s.service.Reject(s.at(s.now), s.foreman(), legacy.ID, "no")
		s.requireCode(err, dErrors.CodeInvalidTransition)
	})
}

// =============================================================================
// Side effects and lookup
// =============================================================================

func (s *RenewalServiceSuite) TestAuditFailureDoesNotRollBack() {
	ctrl := gomock.NewController(s.T())
	failing := mocks.NewMockAuditSink(ctrl)
	failing.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("sink down")).Times(1)
	svc := s.newService(WithAuditSink(failing))

	req, err := svc.Submit(s.at(s.now), s.employee(), s.activeCert().ID, "")
	s.Require().NoError(err)

	stored, err := s.requests.FindByID(context.Background(), req.ID)
	s.Require().NoError(err)
	s.Equal(models.StatePending, stored.Status)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.SideEffectFailures.WithLabelValues("audit")))
}

func (s *RenewalServiceSuite) TestGet() {
	req := s.submit()

	s.Run("requester sees own request", func() {
		got, err := s.service.Get(context.Background(), s.employee(), req.ID)
		s.Require().NoError(err)
		s.Equal(req.ID, got.ID)
	})

	s.Run("approvers see tenant requests", func() {
		_, err := s.service.Get(context.Background(), s.foreman(), req.ID)
		s.NoError(err)
	})

	s.Run("other employees do not", func() {
		other := s.employee()
		other.ID = id.UserID(uuid.New())
		_, err := s.service.Get(context.Background(), other, req.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})

	s.Run("other tenants do not", func() {
		actor := s.manager()
		actor.TenantID = id.TenantID(uuid.New())
		_, err := s.service.Get(context.Background(), actor, req.ID)
		s.requireCode(err, dErrors.CodeNotFound)
	})
}
