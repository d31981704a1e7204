package collab

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"automation-engine/internal/logger"
)

// LogNotifier is the default Notifier: it logs deliveries instead of
// sending them. Real channel adapters replace it at wiring time.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Send(ctx context.Context, notification Notification) error {
	n.logger.Info("notification sent",
		"type", notification.Type,
		"recipients", len(notification.Recipients),
		"subject", notification.Subject,
		"priority", notification.Priority)
	return nil
}

// MemoryRecordStore is an in-memory RecordStore keyed by table and id.
// Query is not supported; wire a real backend for query steps.
type MemoryRecordStore struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]any
}

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		tables: make(map[string]map[string]map[string]any),
	}
}

func (s *MemoryRecordStore) Create(ctx context.Context, table string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] == nil {
		s.tables[table] = make(map[string]map[string]any)
	}
	id := uuid.NewString()
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.tables[table][id] = cp
	return id, nil
}

func (s *MemoryRecordStore) Update(ctx context.Context, table, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return fmt.Errorf("record %s/%s not found", table, id)
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (s *MemoryRecordStore) Delete(ctx context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tables[table][id]; !ok {
		return fmt.Errorf("record %s/%s not found", table, id)
	}
	delete(s.tables[table], id)
	return nil
}

func (s *MemoryRecordStore) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return nil, fmt.Errorf("record queries are not supported by the in-memory store")
}

// Get returns a copy of a stored record, for tests and inspection.
func (s *MemoryRecordStore) Get(table, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return nil, false
	}
	cp := make(map[string]any, len(rec))
	for k, v := range rec {
		cp[k] = v
	}
	return cp, true
}

// Put inserts a record with a known id, for tests and seeding.
func (s *MemoryRecordStore) Put(table, id string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tables[table] == nil {
		s.tables[table] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s.tables[table][id] = cp
}

// NoScriptSandbox rejects every script run. Script actions require an
// explicitly wired sandbox.
type NoScriptSandbox struct{}

func (NoScriptSandbox) Run(ctx context.Context, scriptRef string, args map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("script execution is not configured")
}
