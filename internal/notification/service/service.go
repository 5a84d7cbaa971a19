package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"trainflow/internal/notification/models"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	"trainflow/pkg/platform/sentinel"
	"trainflow/pkg/requestcontext"
)

// Store is the notification persistence the inbox needs.
type Store interface {
	ListForRecipient(ctx context.Context, recipient id.UserID, unreadOnly bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, recipient id.UserID, notificationID id.NotificationID, at time.Time) (*models.Notification, error)
}

// Service is the authenticated user's notification inbox.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Inbox lists the caller's notifications, newest first.
func (s *Service) Inbox(ctx context.Context, unreadOnly bool) ([]models.Notification, error) {
	recipient := requestcontext.UserID(ctx)
	if recipient.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	list, err := s.store.ListForRecipient(ctx, recipient, unreadOnly)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list notifications")
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

// MarkRead marks one of the caller's notifications read. Repeating it is a no-op.
func (s *Service) MarkRead(ctx context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	recipient := requestcontext.UserID(ctx)
	if recipient.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	n, err := s.store.MarkRead(ctx, recipient, notificationID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "notification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark notification read")
	}
	s.logger.DebugContext(ctx, "notification marked read",
		"notification_id", notificationID,
		"user_id", recipient,
	)
	return n, nil
}
