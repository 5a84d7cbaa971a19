package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"trainflow/internal/notification/models"
	"trainflow/internal/notification/store"
	id "trainflow/pkg/domain"
	dErrors "trainflow/pkg/domain-errors"
	"trainflow/pkg/requestcontext"
)

type InboxSuite struct {
	suite.Suite
	store   *store.InMemory
	service *Service
	me      id.UserID
	now     time.Time
}

func TestInboxSuite(t *testing.T) {
	suite.Run(t, new(InboxSuite))
}

func (s *InboxSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.service = New(s.store)
	s.me = id.UserID(uuid.New())
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *InboxSuite) ctxFor(user id.UserID) context.Context {
	ctx := requestcontext.WithUserID(context.Background(), user)
	return requestcontext.WithTime(ctx, s.now)
}

func (s *InboxSuite) deliver(recipient id.UserID, age time.Duration) *models.Notification {
	n := &models.Notification{
		ID:          id.NotificationID(uuid.New()),
		RecipientID: recipient,
		Type:        models.TypeExpiryWarning,
		Title:       "Forklift Safety expires in 7 days",
		CreatedAt:   s.now.Add(-age),
	}
	s.Require().NoError(s.store.Create(context.Background(), n))
	return n
}

func (s *InboxSuite) TestInboxListsOnlyOwnNotifications() {
	older := s.deliver(s.me, 2*time.Hour)
	newer := s.deliver(s.me, time.Hour)
	s.deliver(id.UserID(uuid.New()), time.Hour)

	list, err := s.service.Inbox(s.ctxFor(s.me), false)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(newer.ID, list[0].ID)
	s.Equal(older.ID, list[1].ID)
}

func (s *InboxSuite) TestInboxEmptyIsNotNil() {
	list, err := s.service.Inbox(s.ctxFor(s.me), true)
	s.Require().NoError(err)
	s.NotNil(list)
	s.Empty(list)
}

func (s *InboxSuite) TestMarkRead() {
	n := s.deliver(s.me, time.Hour)

	got, err := s.service.MarkRead(s.ctxFor(s.me), n.ID)
	s.Require().NoError(err)
	s.True(got.Read)
	s.Require().NotNil(got.ReadAt)
	s.Equal(s.now, *got.ReadAt)

	s.Run("repeat keeps first read time", func() {
		s.now = s.now.Add(time.Hour)
		again, err := s.service.MarkRead(s.ctxFor(s.me), n.ID)
		s.Require().NoError(err)
		s.Equal(*got.ReadAt, *again.ReadAt)
	})

	s.Run("unread filter drops it", func() {
		list, err := s.service.Inbox(s.ctxFor(s.me), true)
		s.Require().NoError(err)
		s.Empty(list)
	})
}

func (s *InboxSuite) TestMarkReadOfSomeoneElsesNotification() {
	n := s.deliver(id.UserID(uuid.New()), time.Hour)

	_, err := s.service.MarkRead(s.ctxFor(s.me), n.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *InboxSuite) TestRequiresAuthenticatedUser() {
	_, err := s.service.Inbox(context.Background(), false)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.MarkRead(context.Background(), id.NotificationID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

type failingStore struct{}

func (failingStore) ListForRecipient(context.Context, id.UserID, bool) ([]models.Notification, error) {
	return nil, errors.New("connection reset")
}

func (failingStore) MarkRead(context.Context, id.UserID, id.NotificationID, time.Time) (*models.Notification, error) {
	return nil, errors.New("connection reset")
}

func (s *InboxSuite) TestStoreFailuresAreInternal() {
	svc := New(failingStore{})

	_, err := svc.Inbox(s.ctxFor(s.me), false)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = svc.MarkRead(s.ctxFor(s.me), id.NotificationID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
