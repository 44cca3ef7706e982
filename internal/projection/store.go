package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryStateStore is an in-memory StateStore for tests and single-process
// deployments.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[uuid.UUID]*State
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[uuid.UUID]*State)}
}

// Get implements StateStore. A copy is returned so callers cannot reach the
// stored state behind the projector's back.
func (s *MemoryStateStore) Get(_ context.Context, eventUUID uuid.UUID) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[eventUUID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.clone(), nil
}

// Put implements StateStore.
func (s *MemoryStateStore) Put(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.EventUUID] = state.clone()
	return nil
}

// PostgresStateStore persists projections to PostgreSQL, one row per
// event_uuid, upserted on every append.
type PostgresStateStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStateStore creates a PostgresStateStore backed by the given pool.
func NewPostgresStateStore(pool *pgxpool.Pool) *PostgresStateStore {
	return &PostgresStateStore{pool: pool}
}

// Get implements StateStore.
func (s *PostgresStateStore) Get(ctx context.Context, eventUUID uuid.UUID) (*State, error) {
	state := &State{}
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT event_uuid, current_data, head_audit_id, archived, updated_at
		 FROM state_projections WHERE event_uuid = $1`, eventUUID,
	).Scan(&state.EventUUID, &data, &state.HeadAuditID, &state.Archived, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get projection: %w", err)
	}
	if err := json.Unmarshal(data, &state.CurrentData); err != nil {
		return nil, fmt.Errorf("decode projection data: %w", err)
	}
	return state, nil
}

// Put implements StateStore.
func (s *PostgresStateStore) Put(ctx context.Context, state *State) error {
	data, err := json.Marshal(state.CurrentData)
	if err != nil {
		return fmt.Errorf("encode projection data: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO state_projections (event_uuid, current_data, head_audit_id, archived, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_uuid) DO UPDATE SET
		   current_data = EXCLUDED.current_data,
		   head_audit_id = EXCLUDED.head_audit_id,
		   archived = EXCLUDED.archived,
		   updated_at = EXCLUDED.updated_at`,
		state.EventUUID, data, state.HeadAuditID, state.Archived, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert projection: %w", err)
	}
	return nil
}
