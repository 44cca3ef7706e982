package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do not
// require durable persistence across restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]*Entry
	order   []int64
	heads   map[uuid.UUID]*Entry
	dedupe  map[string]int64
}

// NewMemoryStore creates an empty MemoryStore. The first committed entry
// receives audit_id 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		entries: make(map[int64]*Entry),
		heads:   make(map[uuid.UUID]*Entry),
		dedupe:  make(map[string]int64),
	}
}

// Append implements Store. The store mutex is the single serialized critical
// section; it covers head resolution, audit_id allocation, and insertion so
// that exactly one of two racing same-parent candidates commits.
func (s *MemoryStore) Append(_ context.Context, cand *Candidate) (*AppendResult, error) {
	if err := cand.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.dedupe[cand.DedupeKey()]; ok {
		return &AppendResult{Entry: s.entries[id], Duplicate: true}, nil
	}

	parentHash := GenesisHash
	var parentID *int64
	if head, ok := s.heads[cand.EventUUID]; ok {
		parentHash = head.SignatureHash
		id := head.AuditID
		parentID = &id
	}
	if cand.normalizedParentHash() != parentHash {
		conflict := &ConflictError{
			EventUUID:         cand.EventUUID,
			ClaimedParentHash: cand.normalizedParentHash(),
			HeadHash:          parentHash,
		}
		if parentID != nil {
			conflict.HeadAuditID = *parentID
		}
		return nil, conflict
	}

	entry := &Entry{
		AuditID:         s.nextID,
		EventUUID:       cand.EventUUID,
		PatientID:       cand.PatientID,
		SiteID:          cand.SiteID,
		Operation:       cand.Operation,
		Data:            cand.Data,
		CreatedBy:       cand.CreatedBy,
		Role:            cand.Role,
		ClientTimestamp: cand.ClientTimestamp.UTC(),
		ServerTimestamp: time.Now().UTC(),
		ChangeReason:    cand.ChangeReason,
		DeviceInfo:      cand.DeviceInfo,
		IPAddress:       cand.IPAddress,
		SessionID:       cand.SessionID,
		ParentAuditID:   parentID,
	}
	entry.SignatureHash = ComputeSignature(entry, parentHash)

	s.nextID++
	s.entries[entry.AuditID] = entry
	s.order = append(s.order, entry.AuditID)
	s.heads[entry.EventUUID] = entry
	s.dedupe[cand.DedupeKey()] = entry.AuditID

	return &AppendResult{Entry: entry}, nil
}

// GetEntry implements Store.
func (s *MemoryStore) GetEntry(_ context.Context, auditID int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[auditID]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// GetChain implements Store.
func (s *MemoryStore) GetChain(_ context.Context, eventUUID uuid.UUID) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []*Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.EventUUID == eventUUID {
			chain = append(chain, e)
		}
	}
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return chain, nil
}

// Head implements Store.
func (s *MemoryStore) Head(_ context.Context, eventUUID uuid.UUID) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	head, ok := s.heads[eventUUID]
	if !ok {
		return nil, ErrNotFound
	}
	return head, nil
}

// ScanRange implements Store. The entry slice is snapshotted under the read
// lock and released before fn runs, so a slow callback never blocks appends.
func (s *MemoryStore) ScanRange(ctx context.Context, from, to time.Time, fn func(*Entry) error) error {
	s.mu.RLock()
	snapshot := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, s.entries[id])
	}
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.ServerTimestamp.Before(from) || !e.ServerTimestamp.Before(to) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// SequenceGaps implements Store.
func (s *MemoryStore) SequenceGaps(_ context.Context) ([]GapRange, error) {
	s.mu.RLock()
	ids := make([]int64, len(s.order))
	copy(ids, s.order)
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	gaps := []GapRange{}
	prev := int64(0) // audit_ids start at 1
	for _, id := range ids {
		if id > prev+1 {
			gaps = append(gaps, GapRange{From: prev + 1, To: id - 1})
		}
		prev = id
	}
	return gaps, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}
