// Package publisher records workflow audit events.
//
// Events go to a primary store. When the primary keeps failing the circuit
// breaker opens and events go to the fallback store until the primary recovers.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	audit "trainflow/pkg/platform/audit"
	"trainflow/pkg/platform/circuit"
	"trainflow/pkg/requestcontext"
)

var ErrNoStore = errors.New("audit publisher has no store")

// Metrics is the subset of audit metrics the publisher reports to.
type Metrics interface {
	IncAuditPublished(sink string)
	IncAuditFailed(sink string)
	IncAuditBreakerOpened()
}

type Publisher struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  Metrics
	now      func() time.Time
}

type Option func(*Publisher)

func WithFallback(store audit.Store) Option {
	return func(p *Publisher) {
		p.fallback = store
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

func New(primary audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		primary: primary,
		breaker: circuit.New("audit"),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Record enriches the event from the request context and appends it.
// The returned error is non-nil only when no store accepted the event.
func (p *Publisher) Record(ctx context.Context, event audit.Event) error {
	if p == nil || p.primary == nil {
		return ErrNoStore
	}
	event = p.enrich(ctx, event)

	if p.breaker.IsOpen() && p.fallback != nil {
		return p.appendFallback(ctx, event, p.probePrimary(ctx, event))
	}

	err := p.primary.Append(ctx, event)
	if err == nil {
		p.recordSuccess()
		p.incPublished("primary")
		return nil
	}

	p.incFailed("primary")
	_, change := p.breaker.RecordFailure()
	if change.Opened {
		p.logger.WarnContext(ctx, "audit primary store circuit opened",
			"breaker", p.breaker.Name(),
			"error", err,
		)
		if p.metrics != nil {
			p.metrics.IncAuditBreakerOpened()
		}
	}
	if p.fallback == nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return p.appendFallback(ctx, event, err)
}

// probePrimary retries the primary while the breaker is open so it can close
// again. A probe failure is not returned; the fallback already has the event.
func (p *Publisher) probePrimary(ctx context.Context, event audit.Event) error {
	err := p.primary.Append(ctx, event)
	if err != nil {
		p.breaker.RecordFailure()
		return err
	}
	p.recordSuccess()
	return nil
}

func (p *Publisher) appendFallback(ctx context.Context, event audit.Event, primaryErr error) error {
	if primaryErr == nil {
		p.incPublished("primary")
		return nil
	}
	if err := p.fallback.Append(ctx, event); err != nil {
		p.incFailed("fallback")
		return fmt.Errorf("append audit event to fallback: %w", errors.Join(primaryErr, err))
	}
	p.incPublished("fallback")
	return nil
}

func (p *Publisher) recordSuccess() {
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("audit primary store circuit closed", "breaker", p.breaker.Name())
	}
}

func (p *Publisher) enrich(ctx context.Context, event audit.Event) audit.Event {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.ClientIP == "" {
		event.ClientIP = requestcontext.ClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = requestcontext.UserAgent(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Device == "" {
		event.Device = DeviceSummary(event.UserAgent)
	}
	return event
}

// DeviceSummary condenses a User-Agent header to "Browser version / OS".
func DeviceSummary(ua string) string {
	if ua == "" {
		return ""
	}
	parsed := useragent.New(ua)
	if parsed.Bot() {
		name, _ := parsed.Browser()
		return "bot: " + name
	}
	name, version := parsed.Browser()
	summary := name
	if version != "" {
		summary += " " + version
	}
	if os := parsed.OS(); os != "" {
		summary += " / " + os
	}
	if parsed.Mobile() {
		summary += " (mobile)"
	}
	return summary
}

func (p *Publisher) incPublished(sink string) {
	if p.metrics != nil {
		p.metrics.IncAuditPublished(sink)
	}
}

func (p *Publisher) incFailed(sink string) {
	if p.metrics != nil {
		p.metrics.IncAuditFailed(sink)
	}
}
