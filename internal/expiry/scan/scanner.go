// Package scan implements the expiry scan: a Monitor pass that warns subjects at
// fixed day thresholds, followed by an Escalation pass that alerts foremen about
// warnings left unread in the final week.
//
// Both passes are idempotent. Warnings are deduplicated per certification and
// local calendar day, escalations per (foreman, certification) in a rolling window,
// so a tick may be repeated or overlap another tick without producing duplicates.
package scan

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trainflow/internal/expiry/metrics"
	notification "trainflow/internal/notification/models"
	training "trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/requestcontext"
)

const day = 24 * time.Hour

type CertificationStore interface {
	FindActiveExpiringBetween(ctx context.Context, q training.ExpiryQuery) ([]training.Certification, error)
}

type CourseStore interface {
	FindCourse(ctx context.Context, courseID id.CourseID) (*training.Course, error)
}

type UserDirectory interface {
	FindUser(ctx context.Context, userID id.UserID) (*training.User, error)
	FindUsersByRole(ctx context.Context, role training.Role, tenantID id.TenantID) ([]training.User, error)
}

type NotificationStore interface {
	CreateIfAbsent(ctx context.Context, n *notification.Notification) (bool, error)
	CreateUnlessRecent(ctx context.Context, n *notification.Notification, since time.Time) (bool, error)
	CountUnread(ctx context.Context, recipient id.UserID, typ notification.Type, entityID string) (int, error)
}

// Config tunes thresholds and escalation policy.
type Config struct {
	// Thresholds are the exact day counts that trigger a warning.
	Thresholds []int
	// Location defines calendar-day boundaries for warning dedup.
	Location *time.Location
	// EscalationHorizonDays bounds the escalation query.
	EscalationHorizonDays int
	// EscalationMaxDays is the largest remaining-day count that may escalate.
	EscalationMaxDays int
	// EscalationMinUnread is the number of unread warnings that triggers escalation.
	EscalationMinUnread int
	// EscalationWindow suppresses repeat escalations for the same pair.
	EscalationWindow time.Duration
	// ItemTimeout bounds the store calls made for one certification.
	ItemTimeout time.Duration
	// TenantID restricts the scan to one tenant. Nil scans all tenants.
	TenantID *id.TenantID
}

func DefaultConfig() Config {
	return Config{
		Thresholds:            []int{30, 14, 7, 1},
		Location:              time.UTC,
		EscalationHorizonDays: 14,
		EscalationMaxDays:     7,
		EscalationMinUnread:   2,
		EscalationWindow:      7 * day,
		ItemTimeout:           10 * time.Second,
	}
}

// ScanResult summarises one tick. Checked counts distinct certifications examined.
type ScanResult struct {
	Checked              int `json:"checked"`
	NotificationsCreated int `json:"notifications_created"`
	EscalationsCreated   int `json:"escalations_created"`
	Failures             int `json:"failures"`
}

type Scanner struct {
	certifications CertificationStore
	courses        CourseStore
	users          UserDirectory
	notifications  NotificationStore

	cfg     Config
	clock   func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Scanner)

func WithConfig(cfg Config) Option {
	return func(s *Scanner) {
		s.cfg = cfg
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Scanner) {
		s.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scanner) {
		s.tracer = tracer
	}
}

func New(
	certifications CertificationStore,
	courses CourseStore,
	users UserDirectory,
	notifications NotificationStore,
	opts ...Option,
) (*Scanner, error) {
	if certifications == nil {
		return nil, errors.New("certifications store is required")
	}
	if courses == nil {
		return nil, errors.New("courses store is required")
	}
	if users == nil {
		return nil, errors.New("user directory is required")
	}
	if notifications == nil {
		return nil, errors.New("notifications store is required")
	}
	s := &Scanner{
		certifications: certifications,
		courses:        courses,
		users:          users,
		notifications:  notifications,
		cfg:            DefaultConfig(),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg = normalize(s.cfg)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("trainflow/expiry")
	}
	return s, nil
}

// normalize fills zero values from the defaults and orders thresholds most
// distant first.
func normalize(cfg Config) Config {
	def := DefaultConfig()
	var thresholds []int
	for _, d := range cfg.Thresholds {
		if d > 0 && !slices.Contains(thresholds, d) {
			thresholds = append(thresholds, d)
		}
	}
	if len(thresholds) == 0 {
		thresholds = def.Thresholds
	}
	slices.Sort(thresholds)
	slices.Reverse(thresholds)
	cfg.Thresholds = thresholds

	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.EscalationHorizonDays <= 0 {
		cfg.EscalationHorizonDays = def.EscalationHorizonDays
	}
	if cfg.EscalationMaxDays <= 0 {
		cfg.EscalationMaxDays = def.EscalationMaxDays
	}
	if cfg.EscalationMinUnread <= 0 {
		cfg.EscalationMinUnread = def.EscalationMinUnread
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = def.EscalationWindow
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	return cfg
}

// DaysRemaining rounds the time left up to whole days.
func DaysRemaining(expiresAt, now time.Time) int {
	left := expiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	days := int(left / day)
	if left%day != 0 {
		days++
	}
	return days
}

// tally accumulates one tick's counts.
type tally struct {
	seen          map[id.CertificationID]struct{}
	notifications int
	escalations   int
	failures      int
}

func (t *tally) check(certID id.CertificationID) {
	t.seen[certID] = struct{}{}
}

func (t *tally) result() ScanResult {
	return ScanResult{
		Checked:              len(t.seen),
		NotificationsCreated: t.notifications,
		EscalationsCreated:   t.escalations,
		Failures:             t.failures,
	}
}

// RunExpirationScan runs the Monitor then the Escalation pass against a single
// clock reading. Item failures are logged and counted; the returned error is
// non-nil only when ctx ends the scan early, in which case the partial counts
// are still returned.
func (s *Scanner) RunExpirationScan(ctx context.Context) (ScanResult, error) {
	now := s.clock()
	ctx = requestcontext.WithTime(ctx, now)
	ctx, span := s.tracer.Start(ctx, "expiry.RunExpirationScan", trace.WithAttributes(
		attribute.String("scan_time", now.Format(time.RFC3339)),
		attribute.IntSlice("thresholds", s.cfg.Thresholds),
	))
	defer span.End()

	t := &tally{seen: make(map[id.CertificationID]struct{})}
	err := s.monitor(ctx, now, t)
	if err == nil {
		err = s.escalate(ctx, now, t)
	}

	res := t.result()
	span.SetAttributes(
		attribute.Int("checked", res.Checked),
		attribute.Int("notifications_created", res.NotificationsCreated),
		attribute.Int("escalations_created", res.EscalationsCreated),
		attribute.Int("failures", res.Failures),
	)
	s.metrics.AddChecked(res.Checked)
	if err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "expiry scan interrupted",
			"checked", res.Checked,
			"notifications_created", res.NotificationsCreated,
			"escalations_created", res.EscalationsCreated,
			"error", err,
		)
		return res, err
	}
	s.logger.InfoContext(ctx, "expiry scan completed",
		"checked", res.Checked,
		"notifications_created", res.NotificationsCreated,
		"escalations_created", res.EscalationsCreated,
		"failures", res.Failures,
	)
	return res, nil
}

// item runs fn for one certification. The item gets its own deadline and is not
// cut short by cancellation of the tick, so shutdown finishes the current item.
func (s *Scanner) item(ctx context.Context, stage string, cert training.Certification, t *tally, fn func(context.Context) error) {
	itemCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ItemTimeout)
	defer cancel()
	if err := fn(itemCtx); err != nil {
		t.failures++
		s.metrics.IncItemFailure(stage)
		s.logger.WarnContext(ctx, "expiry scan item failed",
			"stage", stage,
			"certification_id", cert.ID,
			"tenant_id", cert.TenantID,
			"error", err,
		)
	}
}

func (s *Scanner) queryFailed(ctx context.Context, stage string, t *tally, err error) {
	t.failures++
	s.metrics.IncItemFailure(stage)
	s.logger.ErrorContext(ctx, "expiry scan query failed", "stage", stage, "error", err)
}
