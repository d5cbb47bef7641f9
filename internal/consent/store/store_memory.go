package store

import (
	"context"
	"fmt"
	"sync"

	"optout/internal/consent/models"
	"optout/pkg/platform/sentinel"
)

// InMemoryStore keeps decisions in memory for tests and local runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	decisions map[string]models.Decision
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{decisions: make(map[string]models.Decision)}
}

func (s *InMemoryStore) Upsert(_ context.Context, d *models.Decision) error {
	if d == nil {
		return fmt.Errorf("decision is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.decisions[d.PatientIdentifier]; ok {
		d.ID = existing.ID
	}
	s.decisions[d.PatientIdentifier] = *d
	return nil
}

func (s *InMemoryStore) FindByIdentifier(_ context.Context, identifier string) (*models.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[identifier]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}
