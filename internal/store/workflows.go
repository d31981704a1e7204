package store

import (
	"context"
	"sync"
	"time"

	"automation-engine/internal/rule"
	"automation-engine/internal/workflow"
)

// WorkflowStore is the in-memory workflow.Store.
type WorkflowStore struct {
	mu    sync.Mutex
	defs  map[string]*workflow.Definition
	execs map[string]*workflow.Execution
}

// NewWorkflowStore creates an empty workflow store.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{
		defs:  make(map[string]*workflow.Definition),
		execs: make(map[string]*workflow.Execution),
	}
}

func (s *WorkflowStore) SaveDefinition(ctx context.Context, d *workflow.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.defs[d.ID] = &cp
	return nil
}

func (s *WorkflowStore) GetDefinition(ctx context.Context, id string) (*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.defs[id]
	if !ok {
		return nil, rule.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *WorkflowStore) FindEnabledDefinitions(ctx context.Context, orgID string, t rule.TriggerType) ([]*workflow.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*workflow.Definition
	for _, d := range s.defs {
		if !d.Enabled || d.TriggerType != t {
			continue
		}
		if orgID != "" && d.OrgID != orgID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *WorkflowStore) InsertExecution(ctx context.Context, e *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.execs[e.ID]; exists {
		return rule.ErrConflict
	}
	cp := *e
	s.execs[e.ID] = &cp
	return nil
}

func (s *WorkflowStore) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[id]
	if !ok {
		return nil, rule.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *WorkflowStore) UpdateExecution(ctx context.Context, e *workflow.Execution) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.execs[e.ID]
	if !ok {
		return false, rule.ErrNotFound
	}
	if stored.Revision != e.Revision {
		return false, nil
	}

	// A cancel flag set while the worker held its copy must survive the
	// worker's write.
	e.CancelRequested = e.CancelRequested || stored.CancelRequested
	e.Revision++
	cp := *e
	s.execs[e.ID] = &cp
	return true, nil
}

func (s *WorkflowStore) RequestCancel(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.execs[id]
	if !ok {
		return false, rule.ErrNotFound
	}
	if e.Status.Terminal() {
		return false, nil
	}
	e.CancelRequested = true
	return true, nil
}

func (s *WorkflowStore) DueResumes(ctx context.Context, now time.Time) ([]*workflow.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*workflow.Execution
	for _, e := range s.execs {
		if e.Status != workflow.ExecPaused || e.ResumeAt.IsZero() || e.ResumeAt.After(now) {
			continue
		}
		cp := *e
		due = append(due, &cp)
	}
	return due, nil
}
