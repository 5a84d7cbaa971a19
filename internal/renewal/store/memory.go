package store

import (
	"context"
	"fmt"
	"sync"

	"trainflow/internal/renewal/models"
	id "trainflow/pkg/domain"
	"trainflow/pkg/platform/sentinel"
)

// InMemory stores renewal requests for tests and STORAGE=memory. It enforces
// the same rules as the Postgres schema: one open request per certification
// and version-checked updates.
type InMemory struct {
	mu       sync.RWMutex
	requests map[id.RenewalID]*models.Request
	open     map[id.CertificationID]id.RenewalID
}

func NewInMemory() *InMemory {
	return &InMemory{
		requests: make(map[id.RenewalID]*models.Request),
		open:     make(map[id.CertificationID]id.RenewalID),
	}
}

// Create returns sentinel.ErrConflict when the certification already has an open request.
func (s *InMemory) Create(_ context.Context, req *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return fmt.Errorf("renewal %s exists: %w", req.ID, sentinel.ErrConflict)
	}
	if req.Status.IsOpen() {
		if _, taken := s.open[req.CertificationID]; taken {
			return fmt.Errorf("certification %s has an open renewal: %w", req.CertificationID, sentinel.ErrConflict)
		}
		s.open[req.CertificationID] = req.ID
	}
	s.requests[req.ID] = req.Clone()
	return nil
}

func (s *InMemory) FindByID(_ context.Context, requestID id.RenewalID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return req.Clone(), nil
}

func (s *InMemory) FindOpenByCertification(_ context.Context, certID id.CertificationID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	requestID, ok := s.open[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.requests[requestID].Clone(), nil
}

// UpdateIfVersion persists req only if the stored version still equals
// expectedVersion, then sets req.Version to expectedVersion+1.
func (s *InMemory) UpdateIfVersion(_ context.Context, req *models.Request, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[req.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("renewal %s version %d, expected %d: %w", req.ID, current.Version, expectedVersion, sentinel.ErrConflict)
	}
	req.Version = expectedVersion + 1
	if !req.Status.IsOpen() {
		delete(s.open, req.CertificationID)
	}
	s.requests[req.ID] = req.Clone()
	return nil
}
