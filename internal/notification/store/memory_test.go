package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"trainflow/internal/notification/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
)

type NotificationStoreSuite struct {
	suite.Suite
	store     *InMemory
	ctx       context.Context
	now       time.Time
	recipient id.UserID
}

func TestNotificationStoreSuite(t *testing.T) {
	suite.Run(t, new(NotificationStoreSuite))
}

func (s *NotificationStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	s.recipient = id.UserID(uuid.New())
}

func (s *NotificationStoreSuite) newNotification(typ models.Type, entityID string, createdAt time.Time) *models.Notification {
	return &models.Notification{
		ID:          id.NotificationID(uuid.New()),
		RecipientID: s.recipient,
		Type:        typ,
		Title:       "title",
		Message:     "message",
		EntityType:  models.EntityCertification,
		EntityID:    entityID,
		CreatedAt:   createdAt,
	}
}

func (s *NotificationStoreSuite) TestCreateIfAbsent() {
	s.Run("second insert with the same key is skipped", func() {
		first := s.newNotification(models.TypeExpiryWarning, "c1", s.now)
		first.DedupeKey = "expiry_warning:c1:2026-06-01"
		second := s.newNotification(models.TypeExpiryWarning, "c1", s.now.Add(time.Hour))
		second.DedupeKey = first.DedupeKey

		created, err := s.store.CreateIfAbsent(s.ctx, first)
		s.Require().NoError(err)
		s.True(created)

		created, err = s.store.CreateIfAbsent(s.ctx, second)
		s.Require().NoError(err)
		s.False(created)
	})

	s.Run("same key for a different recipient is allowed", func() {
		n := s.newNotification(models.TypeExpiryWarning, "c2", s.now)
		n.DedupeKey = "expiry_warning:c2:2026-06-01"
		other := *n
		other.ID = id.NotificationID(uuid.New())
		other.RecipientID = id.UserID(uuid.New())

		created, err := s.store.CreateIfAbsent(s.ctx, n)
		s.Require().NoError(err)
		s.True(created)
		created, err = s.store.CreateIfAbsent(s.ctx, &other)
		s.Require().NoError(err)
		s.True(created)
	})

	s.Run("concurrent inserts create exactly one", func() {
		var wg sync.WaitGroup
		var createdCount atomic.Int32
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n := s.newNotification(models.TypeExpiryWarning, "c3", s.now)
				n.DedupeKey = "expiry_warning:c3:2026-06-01"
				if created, err := s.store.CreateIfAbsent(s.ctx, n); err == nil && created {
					createdCount.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), createdCount.Load())
	})
}

func (s *NotificationStoreSuite) TestCreateUnlessRecent() {
	since := s.now.Add(-7 * 24 * time.Hour)

	s.Run("creates when nothing recent exists", func() {
		old := s.newNotification(models.TypeEscalation, "c1", s.now.Add(-8*24*time.Hour))
		s.Require().NoError(s.store.Create(s.ctx, old))

		created, err := s.store.CreateUnlessRecent(s.ctx, s.newNotification(models.TypeEscalation, "c1", s.now), since)
		s.Require().NoError(err)
		s.True(created)
	})

	s.Run("skips when one exists inside the window, read or not", func() {
		recent := s.newNotification(models.TypeEscalation, "c2", s.now.Add(-6*24*time.Hour))
		s.Require().NoError(s.store.Create(s.ctx, recent))
		_, err := s.store.MarkRead(s.ctx, s.recipient, recent.ID, s.now)
		s.Require().NoError(err)

		created, err := s.store.CreateUnlessRecent(s.ctx, s.newNotification(models.TypeEscalation, "c2", s.now), since)
		s.Require().NoError(err)
		s.False(created)
	})

	s.Run("other types do not block", func() {
		warning := s.newNotification(models.TypeExpiryWarning, "c3", s.now)
		s.Require().NoError(s.store.Create(s.ctx, warning))

		created, err := s.store.CreateUnlessRecent(s.ctx, s.newNotification(models.TypeEscalation, "c3", s.now), since)
		s.Require().NoError(err)
		s.True(created)
	})

	s.Run("concurrent calls create exactly one", func() {
		var wg sync.WaitGroup
		var createdCount atomic.Int32
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				created, err := s.store.CreateUnlessRecent(s.ctx, s.newNotification(models.TypeEscalation, "c4", s.now), since)
				if err == nil && created {
					createdCount.Add(1)
				}
			}()
		}
		wg.Wait()
		s.Equal(int32(1), createdCount.Load())
	})
}

func (s *NotificationStoreSuite) TestInbox() {
	older := s.newNotification(models.TypeSystem, "r1", s.now.Add(-time.Hour))
	newer := s.newNotification(models.TypeSystem, "r2", s.now)
	foreign := s.newNotification(models.TypeSystem, "r3", s.now)
	foreign.RecipientID = id.UserID(uuid.New())
	for _, n := range []*models.Notification{older, newer, foreign} {
		s.Require().NoError(s.store.Create(s.ctx, n))
	}

	s.Run("lists newest first for the recipient only", func() {
		got, err := s.store.ListForRecipient(s.ctx, s.recipient, false)
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal(newer.ID, got[0].ID)
	})

	s.Run("mark read keeps the first read time", func() {
		first, err := s.store.MarkRead(s.ctx, s.recipient, older.ID, s.now)
		s.Require().NoError(err)
		s.True(first.Read)

		again, err := s.store.MarkRead(s.ctx, s.recipient, older.ID, s.now.Add(time.Hour))
		s.Require().NoError(err)
		s.Equal(s.now, *again.ReadAt)

		unread, err := s.store.ListForRecipient(s.ctx, s.recipient, true)
		s.Require().NoError(err)
		s.Require().Len(unread, 1)
		s.Equal(newer.ID, unread[0].ID)
	})

	s.Run("cannot mark another recipient's notification", func() {
		_, err := s.store.MarkRead(s.ctx, s.recipient, foreign.ID, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *NotificationStoreSuite) TestCountUnread() {
	for range 3 {
		s.Require().NoError(s.store.Create(s.ctx, s.newNotification(models.TypeExpiryWarning, "c1", s.now)))
	}
	read := s.newNotification(models.TypeExpiryWarning, "c1", s.now)
	s.Require().NoError(s.store.Create(s.ctx, read))
	_, err := s.store.MarkRead(s.ctx, s.recipient, read.ID, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, s.newNotification(models.TypeExpiryWarning, "c2", s.now)))

	count, err := s.store.CountUnread(s.ctx, s.recipient, models.TypeExpiryWarning, "c1")
	s.Require().NoError(err)
	s.Equal(3, count)
}
