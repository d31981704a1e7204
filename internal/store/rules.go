package store

import (
	"context"
	"sync"
	"time"

	"automation-engine/internal/rule"
	"automation-engine/internal/scheduler"
)

// RuleStore is the in-memory rule.RuleStore.
type RuleStore struct {
	mu    sync.RWMutex
	rules map[string]*rule.Rule
}

// NewRuleStore creates an empty rule store.
func NewRuleStore() *RuleStore {
	return &RuleStore{
		rules: make(map[string]*rule.Rule),
	}
}

func (s *RuleStore) Get(ctx context.Context, id string) (*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[id]
	if !ok || r.Deleted {
		return nil, rule.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *RuleStore) FindEnabled(ctx context.Context, orgID string, t rule.TriggerType) ([]*rule.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*rule.Rule
	for _, r := range s.rules {
		if r.Deleted || !r.Enabled || r.TriggerType != t {
			continue
		}
		if orgID != "" && r.OrgID != orgID {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *RuleStore) Save(ctx context.Context, r *rule.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	s.rules[r.ID] = &cp
	return nil
}

func (s *RuleStore) MarkExecuted(ctx context.Context, id string, prev, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return false, rule.ErrNotFound
	}
	if !r.LastExecutedAt.Equal(prev) {
		return false, nil
	}
	r.LastExecutedAt = now
	r.ExecutionCount++
	return true, nil
}

func (s *RuleStore) SetLastStatus(ctx context.Context, id string, status rule.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok {
		return rule.ErrNotFound
	}
	r.LastStatus = status
	if status == rule.StatusFailed {
		r.FailureCount++
	}
	return nil
}

// ExecutionStore is the in-memory rule.ExecutionStore.
type ExecutionStore struct {
	mu     sync.RWMutex
	execs  map[string]*rule.Execution
	byRule map[string][]string
}

// NewExecutionStore creates an empty execution store.
func NewExecutionStore() *ExecutionStore {
	return &ExecutionStore{
		execs:  make(map[string]*rule.Execution),
		byRule: make(map[string][]string),
	}
}

func (s *ExecutionStore) Insert(ctx context.Context, e *rule.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.execs[e.ID]; exists {
		return rule.ErrConflict
	}
	cp := *e
	s.execs[e.ID] = &cp
	s.byRule[e.RuleID] = append(s.byRule[e.RuleID], e.ID)
	return nil
}

func (s *ExecutionStore) ListByRule(ctx context.Context, ruleID string) ([]*rule.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byRule[ruleID]
	out := make([]*rule.Execution, 0, len(ids))
	for _, id := range ids {
		cp := *s.execs[id]
		out = append(out, &cp)
	}
	return out, nil
}

// DigestStore is the in-memory rule.DigestStore.
type DigestStore struct {
	mu      sync.Mutex
	buffers map[string]*rule.Digest
}

// NewDigestStore creates an empty digest store.
func NewDigestStore() *DigestStore {
	return &DigestStore{
		buffers: make(map[string]*rule.Digest),
	}
}

func digestKey(ruleID string, periodStart time.Time) string {
	return ruleID + "@" + periodStart.UTC().Format(time.RFC3339)
}

func (s *DigestStore) Append(ctx context.Context, ruleID string, periodStart, periodEnd time.Time, sample map[string]any, maxSamples int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := digestKey(ruleID, periodStart)
	d, ok := s.buffers[key]
	if !ok {
		d = &rule.Digest{
			RuleID:      ruleID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
		s.buffers[key] = d
	}
	d.Count++
	if sample != nil && len(d.Samples) < maxSamples {
		d.Samples = append(d.Samples, sample)
	}
	return nil
}

func (s *DigestStore) CollectDue(ctx context.Context, now time.Time) ([]*rule.Digest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*rule.Digest
	for key, d := range s.buffers {
		if d.PeriodEnd.After(now) {
			continue
		}
		due = append(due, d)
		delete(s.buffers, key)
	}
	return due, nil
}

// LeaseManager is the in-memory rule.LeaseManager. Leases expire by TTL so
// a crashed holder cannot block a key forever.
type LeaseManager struct {
	mu     sync.Mutex
	clock  scheduler.Clock
	leases map[string]*lease
	nextID uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLeaseManager creates an empty lease manager.
func NewLeaseManager(clock scheduler.Clock) *LeaseManager {
	return &LeaseManager{
		clock:  clock,
		leases: make(map[string]*lease),
	}
}

func (s *LeaseManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if held, ok := s.leases[key]; ok && held.expires.After(now) {
		return nil, false, nil
	}

	s.nextID++
	l := &lease{id: s.nextID, expires: now.Add(ttl)}
	s.leases[key] = l

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		// Only release our own lease; an expired-and-reacquired key
		// belongs to someone else.
		if cur, ok := s.leases[key]; ok && cur.id == l.id {
			delete(s.leases, key)
		}
	}
	return release, true, nil
}
