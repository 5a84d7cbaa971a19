//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"trainflow/internal/notification/models"
	"trainflow/internal/notification/store"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
	"trainflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *store.Postgres
	recipient id.UserID
	now       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "notifications"))
	s.recipient = id.UserID(uuid.New())
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) newNotification(typ models.Type, entityID string) *models.Notification {
	days := 7
	return &models.Notification{
		ID:              id.NotificationID(uuid.New()),
		TenantID:        id.TenantID(uuid.New()),
		RecipientID:     s.recipient,
		Type:            typ,
		Title:           "Important: renewal due",
		Message:         "expires soon",
		EntityType:      models.EntityCertification,
		EntityID:        entityID,
		DaysUntilExpiry: &days,
		CreatedAt:       s.now,
	}
}

func (s *PostgresStoreSuite) TestConcurrentCreateIfAbsent() {
	ctx := context.Background()
	const goroutines = 25
	var wg sync.WaitGroup
	var createdCount atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := s.newNotification(models.TypeExpiryWarning, "cert-1")
			n.DedupeKey = "expiry_warning:cert-1:2026-06-01"
			created, err := s.store.CreateIfAbsent(ctx, n)
			s.NoError(err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), createdCount.Load())

	count, err := s.store.CountUnread(ctx, s.recipient, models.TypeExpiryWarning, "cert-1")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *PostgresStoreSuite) TestConcurrentCreateUnlessRecent() {
	ctx := context.Background()
	since := s.now.Add(-7 * 24 * time.Hour)
	const goroutines = 25
	var wg sync.WaitGroup
	var createdCount atomic.Int32

	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.store.CreateUnlessRecent(ctx, s.newNotification(models.TypeEscalation, "cert-2"), since)
			s.NoError(err)
			if created {
				createdCount.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), createdCount.Load())
}

func (s *PostgresStoreSuite) TestInboxRoundTrip() {
	ctx := context.Background()
	n := s.newNotification(models.TypeSystem, "req-1")
	s.Require().NoError(s.store.Create(ctx, n))

	list, err := s.store.ListForRecipient(ctx, s.recipient, true)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Require().NotNil(list[0].DaysUntilExpiry)
	s.Equal(7, *list[0].DaysUntilExpiry)

	read, err := s.store.MarkRead(ctx, s.recipient, n.ID, s.now)
	s.Require().NoError(err)
	s.True(read.Read)

	list, err = s.store.ListForRecipient(ctx, s.recipient, true)
	s.Require().NoError(err)
	s.Empty(list)

	_, err = s.store.MarkRead(ctx, id.UserID(uuid.New()), n.ID, s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)
}
