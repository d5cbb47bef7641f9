package store

import (
	"context"
	"fmt"
	"sync"

	"optout/internal/verification/models"
	"optout/pkg/platform/sentinel"
)

// Error Contract:
// - FindByIdentifier returns sentinel.ErrNotFound for unknown identifiers
// - Create returns sentinel.ErrConflict when the identifier is already stored
// - Update returns sentinel.ErrNotFound for unknown rows and sentinel.ErrConflict on a stale version
// Stored and returned records are copies; the plaintext code is never kept.

// InMemoryStore keeps patients in memory for tests and local runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	patients map[string]*models.Patient
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{patients: make(map[string]*models.Patient)}
}

func (s *InMemoryStore) FindByIdentifier(_ context.Context, identifier string) (*models.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Patient) error {
	if p == nil {
		return fmt.Errorf("patient is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.patients[p.Identifier]; exists {
		return fmt.Errorf("create patient: %w", sentinel.ErrConflict)
	}
	p.Version = 1
	s.patients[p.Identifier] = persisted(p)
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Patient) error {
	if p == nil {
		return fmt.Errorf("patient is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.patients[p.Identifier]
	if !ok || current.ID != p.ID {
		return sentinel.ErrNotFound
	}
	if current.Version != p.Version {
		return fmt.Errorf("update patient: version %d is stale: %w", p.Version, sentinel.ErrConflict)
	}
	p.Version++
	s.patients[p.Identifier] = persisted(p)
	return nil
}

func persisted(p *models.Patient) *models.Patient {
	c := p.Clone()
	c.ValidationCode = ""
	return c
}
