package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"trainflow/internal/training/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
)

// InMemory holds certifications, courses and users for tests and STORAGE=memory.
// Values are copied in and out so callers never share state with the store.
type InMemory struct {
	mu             sync.RWMutex
	certifications map[id.CertificationID]models.Certification
	courses        map[id.CourseID]models.Course
	users          map[id.UserID]models.User
}

func NewInMemory() *InMemory {
	return &InMemory{
		certifications: make(map[id.CertificationID]models.Certification),
		courses:        make(map[id.CourseID]models.Course),
		users:          make(map[id.UserID]models.User),
	}
}

func (s *InMemory) CreateCertification(_ context.Context, cert *models.Certification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.certifications[cert.ID]; exists {
		return fmt.Errorf("certification %s: %w", cert.ID, sentinel.ErrConflict)
	}
	s.certifications[cert.ID] = *cert
	return nil
}

func (s *InMemory) FindCertification(_ context.Context, certID id.CertificationID) (*models.Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.certifications[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &cert, nil
}

// FindActiveExpiringBetween returns active certifications with From <= expiry <= To,
// soonest first.
func (s *InMemory) FindActiveExpiringBetween(_ context.Context, q models.ExpiryQuery) ([]models.Certification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Certification
	for _, cert := range s.certifications {
		if cert.Status != models.CertificationActive {
			continue
		}
		if q.TenantID != nil && cert.TenantID != *q.TenantID {
			continue
		}
		if cert.ExpiresAt.Before(q.From) || cert.ExpiresAt.After(q.To) {
			continue
		}
		out = append(out, cert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out, nil
}

func (s *InMemory) UpdateCertification(_ context.Context, cert *models.Certification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certifications[cert.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.certifications[cert.ID] = *cert
	return nil
}

func (s *InMemory) CreateCourse(_ context.Context, course *models.Course) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.courses[course.ID]; exists {
		return fmt.Errorf("course %s: %w", course.ID, sentinel.ErrConflict)
	}
	s.courses[course.ID] = *course
	return nil
}

func (s *InMemory) FindCourse(_ context.Context, courseID id.CourseID) (*models.Course, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	course, ok := s.courses[courseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &course, nil
}

func (s *InMemory) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, sentinel.ErrConflict)
	}
	s.users[user.ID] = *user
	return nil
}

func (s *InMemory) FindUser(_ context.Context, userID id.UserID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &user, nil
}

// FindUsersByRole returns the active users holding role in the tenant, ordered by name.
func (s *InMemory) FindUsersByRole(_ context.Context, role models.Role, tenantID id.TenantID) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.User
	for _, u := range s.users {
		if u.Active && u.Role == role && u.TenantID == tenantID {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName == out[j].DisplayName {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].DisplayName < out[j].DisplayName
	})
	return out, nil
}
