package conflict

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe conflict record Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Record
	order   []uuid.UUID
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ConflictID] = &cp
	s.order = append(s.order, rec.ConflictID)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, conflictID uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[conflictID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListPending implements Store.
func (s *MemoryStore) ListPending(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.State == StatePending {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListByEvent implements Store.
func (s *MemoryStore) ListByEvent(_ context.Context, eventUUID uuid.UUID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, id := range s.order {
		if rec := s.records[id]; rec.EventUUID == eventUUID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkResolved implements Store.
func (s *MemoryStore) MarkResolved(_ context.Context, conflictID uuid.UUID, state ResolutionState, resolvingAuditID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[conflictID]
	if !ok {
		return ErrNotFound
	}
	if rec.State != StatePending {
		return ErrAlreadyResolved
	}
	now := time.Now().UTC()
	rec.State = state
	rec.ResolvingAuditID = &resolvingAuditID
	rec.ResolvedAt = &now
	return nil
}
