package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/badgeflow/internal/domain"
)

type MemoryLeadStore struct {
	mu    sync.RWMutex
	leads map[string]domain.Lead
	now   func() time.Time
}

func NewMemoryLeadStore() *MemoryLeadStore {
	return &MemoryLeadStore{
		leads: make(map[string]domain.Lead),
		now:   time.Now,
	}
}

func (s *MemoryLeadStore) Create(_ context.Context, lead domain.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[lead.ID]; ok {
		return nil
	}
	s.leads[lead.ID] = lead
	return nil
}

func (s *MemoryLeadStore) Get(_ context.Context, id string) (domain.Lead, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	return lead, ok, nil
}

func (s *MemoryLeadStore) RecordAttempt(_ context.Context, id, status string, attempts int, lastErr string) (domain.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, ok := s.leads[id]
	if !ok {
		return domain.Lead{}, ErrLeadNotFound
	}

	now := s.now().UTC()
	lead.Status = status
	lead.Attempts += attempts
	lead.LastError = lastErr
	lead.UpdatedAt = now
	if status == domain.LeadStatusDelivered {
		lead.DeliveredAt = &now
	}
	s.leads[id] = lead
	return lead, nil
}
