package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `conflict_id, event_uuid, committed_audit_id, rejected_candidate,
	detected_at, resolution_state, resolving_audit_id, resolved_at`

// PostgresStore persists conflict records to PostgreSQL. The rejected
// candidate is stored as JSONB so it remains fully inspectable.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, rec *Record) error {
	cand, err := json.Marshal(rec.RejectedCandidate)
	if err != nil {
		return fmt.Errorf("encode rejected candidate: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conflict_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ConflictID, rec.EventUUID, rec.CommittedAuditID, cand,
		rec.DetectedAt, rec.State, rec.ResolvingAuditID, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conflict record: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, conflictID uuid.UUID) (*Record, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM conflict_records WHERE conflict_id = $1`, conflictID))
}

// ListPending implements Store.
func (s *PostgresStore) ListPending(ctx context.Context) ([]*Record, error) {
	return s.list(ctx,
		`SELECT `+recordColumns+` FROM conflict_records
		 WHERE resolution_state = $1 ORDER BY detected_at ASC`, StatePending)
}

// ListByEvent implements Store.
func (s *PostgresStore) ListByEvent(ctx context.Context, eventUUID uuid.UUID) ([]*Record, error) {
	return s.list(ctx,
		`SELECT `+recordColumns+` FROM conflict_records
		 WHERE event_uuid = $1 ORDER BY detected_at ASC`, eventUUID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflict records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkResolved implements Store. The state predicate in the UPDATE makes the
// Pending check and the transition one atomic statement.
func (s *PostgresStore) MarkResolved(ctx context.Context, conflictID uuid.UUID, state ResolutionState, resolvingAuditID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conflict_records
		 SET resolution_state = $1, resolving_audit_id = $2, resolved_at = $3
		 WHERE conflict_id = $4 AND resolution_state = $5`,
		state, resolvingAuditID, time.Now().UTC(), conflictID, StatePending,
	)
	if err != nil {
		return fmt.Errorf("resolve conflict record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, conflictID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrAlreadyResolved
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	rec := &Record{}
	var cand []byte
	err := row.Scan(
		&rec.ConflictID, &rec.EventUUID, &rec.CommittedAuditID, &cand,
		&rec.DetectedAt, &rec.State, &rec.ResolvingAuditID, &rec.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict record: %w", err)
	}
	if len(cand) > 0 {
		rec.RejectedCandidate = &ledger.Candidate{}
		if err := json.Unmarshal(cand, rec.RejectedCandidate); err != nil {
			return nil, fmt.Errorf("decode rejected candidate: %w", err)
		}
	}
	return rec, nil
}
