package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"trainflow/internal/notification/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
)

// InMemory is a notification store for tests and STORAGE=memory.
// A single mutex makes every check-then-insert atomic.
type InMemory struct {
	mu            sync.RWMutex
	notifications map[id.NotificationID]*models.Notification
	order         []id.NotificationID
	dedupe        map[string]id.NotificationID
}

// recentKey groups notifications for create-unless-recent checks.
type recentKey struct {
	recipient id.UserID
	typ       models.Type
	entityID  string
}

func keyOf(n *models.Notification) recentKey {
	return recentKey{recipient: n.RecipientID, typ: n.Type, entityID: n.EntityID}
}

func NewInMemory() *InMemory {
	return &InMemory{
		notifications: make(map[id.NotificationID]*models.Notification),
		dedupe:        make(map[string]id.NotificationID),
	}
}

func dedupeIndex(recipient id.UserID, key string) string {
	return recipient.String() + "|" + key
}

func (s *InMemory) insertLocked(n *models.Notification) {
	cp := *n
	s.notifications[n.ID] = &cp
	s.order = append(s.order, n.ID)
	if n.DedupeKey != "" {
		s.dedupe[dedupeIndex(n.RecipientID, n.DedupeKey)] = n.ID
	}
}

func (s *InMemory) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.notifications[n.ID]; exists {
		return sentinel.ErrConflict
	}
	if n.DedupeKey != "" {
		if _, taken := s.dedupe[dedupeIndex(n.RecipientID, n.DedupeKey)]; taken {
			return sentinel.ErrConflict
		}
	}
	s.insertLocked(n)
	return nil
}

// CreateIfAbsent inserts n unless the recipient already has a notification with
// the same dedupe key. A notification without a key is always inserted.
func (s *InMemory) CreateIfAbsent(_ context.Context, n *models.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.DedupeKey != "" {
		if _, taken := s.dedupe[dedupeIndex(n.RecipientID, n.DedupeKey)]; taken {
			return false, nil
		}
	}
	s.insertLocked(n)
	return true, nil
}

// CreateUnlessRecent inserts n unless a notification of the same type for the same
// recipient and entity was created at or after since. Read status is ignored.
func (s *InMemory) CreateUnlessRecent(_ context.Context, n *models.Notification, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := keyOf(n)
	for _, existing := range s.notifications {
		if keyOf(existing) == want && !existing.CreatedAt.Before(since) {
			return false, nil
		}
	}
	s.insertLocked(n)
	return true, nil
}

func (s *InMemory) FindByID(_ context.Context, notificationID id.NotificationID) (*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notifications[notificationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *n
	return &cp, nil
}

// ListForRecipient returns the recipient's notifications, newest first.
func (s *InMemory) ListForRecipient(_ context.Context, recipient id.UserID, unreadOnly bool) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Notification
	for _, nid := range s.order {
		n := s.notifications[nid]
		if n.RecipientID != recipient || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, *n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemory) CountUnread(_ context.Context, recipient id.UserID, typ models.Type, entityID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.RecipientID == recipient && n.Type == typ && n.EntityID == entityID && !n.Read {
			count++
		}
	}
	return count, nil
}

// MarkRead marks the recipient's notification read. Another recipient's
// notification is reported as not found.
func (s *InMemory) MarkRead(_ context.Context, recipient id.UserID, notificationID id.NotificationID, at time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok || n.RecipientID != recipient {
		return nil, sentinel.ErrNotFound
	}
	n.MarkRead(at)
	cp := *n
	return &cp, nil
}
