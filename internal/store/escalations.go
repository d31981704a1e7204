package store

import (
	"context"
	"sync"
	"time"

	"automation-engine/internal/escalation"
	"automation-engine/internal/rule"
)

// EscalationStore is the in-memory escalation.Store.
type EscalationStore struct {
	mu      sync.Mutex
	records map[string]*escalation.Escalation
}

// NewEscalationStore creates an empty escalation store.
func NewEscalationStore() *EscalationStore {
	return &EscalationStore{
		records: make(map[string]*escalation.Escalation),
	}
}

func (s *EscalationStore) Insert(ctx context.Context, e *escalation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[e.ID]; exists {
		return rule.ErrConflict
	}
	cp := *e
	s.records[e.ID] = &cp
	return nil
}

func (s *EscalationStore) Get(ctx context.Context, id string) (*escalation.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return nil, rule.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *EscalationStore) Due(ctx context.Context, now time.Time) ([]*escalation.Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*escalation.Escalation
	for _, e := range s.records {
		if e.Status.Terminal() || e.NextEscalationAt.IsZero() || e.NextEscalationAt.After(now) {
			continue
		}
		cp := *e
		due = append(due, &cp)
	}
	return due, nil
}

func (s *EscalationStore) Advance(ctx context.Context, id string, prevLevel int, prevNextAt time.Time, level int, nextAt time.Time, status escalation.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false, rule.ErrNotFound
	}
	if e.Status.Terminal() {
		return false, nil
	}
	if e.CurrentLevel != prevLevel || !e.NextEscalationAt.Equal(prevNextAt) {
		return false, nil
	}
	e.CurrentLevel = level
	e.NextEscalationAt = nextAt
	e.Status = status
	return true, nil
}

func (s *EscalationStore) Resolve(ctx context.Context, id, resolvedBy, notes string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false, rule.ErrNotFound
	}
	if e.Status.Terminal() {
		return false, nil
	}
	e.Status = escalation.StatusResolved
	e.ResolvedAt = at
	e.ResolvedBy = resolvedBy
	e.Notes = notes
	e.NextEscalationAt = time.Time{}
	return true, nil
}

func (s *EscalationStore) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.records[id]
	if !ok {
		return false, rule.ErrNotFound
	}
	if e.Status.Terminal() {
		return false, nil
	}
	e.Status = escalation.StatusCancelled
	e.ResolvedAt = at
	e.NextEscalationAt = time.Time{}
	return true, nil
}

func (s *EscalationStore) CountActive(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.records {
		if !e.Status.Terminal() {
			count++
		}
	}
	return count, nil
}
