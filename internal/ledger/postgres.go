package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const entryColumns = `audit_id, event_uuid, patient_id, site_id, operation, data,
	created_by, role, client_timestamp, server_timestamp, change_reason,
	device_info, ip_address, session_id, parent_audit_id, signature_hash`

// Names of the unique indexes the append path leans on. The parent-claim
// index is what turns two racing same-parent inserts into exactly one commit
// and one conflict: the check is a single atomic insert-or-fail, not a
// check-then-act.
const (
	parentClaimConstraint = "audit_entries_parent_claim_idx"
	dedupeConstraint      = "audit_entries_dedupe_key_idx"
)

// PostgresStore persists the audit ledger to PostgreSQL. It implements Store.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Append implements Store. Audit IDs come from a dedicated sequence (the only
// globally serialized allocation); per-chain ordering is enforced by the
// (event_uuid, parent_audit_id) unique index rather than any table lock.
func (s *PostgresStore) Append(ctx context.Context, cand *Candidate) (*AppendResult, error) {
	if err := cand.Validate(); err != nil {
		return nil, err
	}
	dedupeKey := cand.DedupeKey()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Retry path: an identical submission returns the original entry.
	if orig, err := s.byDedupeKey(ctx, tx, dedupeKey); err == nil {
		return &AppendResult{Entry: orig, Duplicate: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// Resolve the true chain head; absent means genesis.
	parentHash := GenesisHash
	var parentID *int64
	head := &Entry{}
	err = tx.QueryRow(ctx,
		`SELECT audit_id, signature_hash FROM audit_entries
		 WHERE event_uuid = $1 ORDER BY audit_id DESC LIMIT 1`,
		cand.EventUUID,
	).Scan(&head.AuditID, &head.SignatureHash)
	switch {
	case err == nil:
		parentHash = head.SignatureHash
		parentID = &head.AuditID
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return nil, fmt.Errorf("read chain head: %w", err)
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

	var auditID int64
	if err := tx.QueryRow(ctx, "SELECT nextval('audit_entries_audit_id_seq')").Scan(&auditID); err != nil {
		return nil, fmt.Errorf("allocate audit_id: %w", err)
	}

	entry := &Entry{
		AuditID:         auditID,
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

	_, err = tx.Exec(ctx,
		`INSERT INTO audit_entries (`+entryColumns+`, dedupe_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		entry.AuditID, entry.EventUUID, entry.PatientID, entry.SiteID,
		entry.Operation, entry.Data, entry.CreatedBy, entry.Role,
		entry.ClientTimestamp, entry.ServerTimestamp, entry.ChangeReason,
		entry.DeviceInfo, entry.IPAddress, entry.SessionID,
		entry.ParentAuditID, entry.SignatureHash, dedupeKey,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return s.appendCollision(ctx, pgErr.ConstraintName, cand, dedupeKey, parentID, parentHash)
		}
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit audit entry: %w", err)
	}

	s.logger.Debug("audit entry committed",
		zap.Int64("audit_id", entry.AuditID),
		zap.String("event_uuid", entry.EventUUID.String()),
		zap.String("operation", string(entry.Operation)),
	)
	return &AppendResult{Entry: entry}, nil
}

// appendCollision maps a unique-index violation to its domain outcome: a
// dedupe collision means a concurrent retry already committed the same
// candidate; a parent-claim collision means this candidate lost the race for
// the chain head.
func (s *PostgresStore) appendCollision(ctx context.Context, constraint string, cand *Candidate, dedupeKey string, parentID *int64, parentHash string) (*AppendResult, error) {
	switch constraint {
	case dedupeConstraint:
		orig, err := s.byDedupeKey(ctx, s.pool, dedupeKey)
		if err != nil {
			return nil, fmt.Errorf("load original after dedupe collision: %w", err)
		}
		return &AppendResult{Entry: orig, Duplicate: true}, nil
	case parentClaimConstraint:
		conflict := &ConflictError{
			EventUUID:         cand.EventUUID,
			ClaimedParentHash: cand.normalizedParentHash(),
			HeadHash:          parentHash,
		}
		if winner, err := s.Head(ctx, cand.EventUUID); err == nil {
			conflict.HeadAuditID = winner.AuditID
			conflict.HeadHash = winner.SignatureHash
		} else if parentID != nil {
			conflict.HeadAuditID = *parentID
		}
		return nil, conflict
	default:
		return nil, fmt.Errorf("unexpected unique violation on %s", constraint)
	}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) byDedupeKey(ctx context.Context, q querier, key string) (*Entry, error) {
	return scanEntry(q.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE dedupe_key = $1`, key))
}

// GetEntry implements Store.
func (s *PostgresStore) GetEntry(ctx context.Context, auditID int64) (*Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE audit_id = $1`, auditID))
}

// GetChain implements Store. Traversal uses the (event_uuid, audit_id) index.
func (s *PostgresStore) GetChain(ctx context.Context, eventUUID uuid.UUID) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE event_uuid = $1 ORDER BY audit_id ASC`, eventUUID)
	if err != nil {
		return nil, fmt.Errorf("query chain: %w", err)
	}
	defer rows.Close()

	var chain []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, ErrNotFound
	}
	return chain, nil
}

// Head implements Store.
func (s *PostgresStore) Head(ctx context.Context, eventUUID uuid.UUID) (*Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE event_uuid = $1 ORDER BY audit_id DESC LIMIT 1`, eventUUID))
}

// ScanRange implements Store. pgx streams rows and aborts the read when ctx
// is cancelled; no table locks are taken, so appends proceed concurrently.
func (s *PostgresStore) ScanRange(ctx context.Context, from, to time.Time, fn func(*Entry) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM audit_entries
		 WHERE server_timestamp >= $1 AND server_timestamp < $2
		 ORDER BY audit_id ASC`, from, to)
	if err != nil {
		return fmt.Errorf("query range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := scanEntry(rows)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SequenceGaps implements Store. Computed with a window function so the whole
// check is a single pass over the audit_id index.
func (s *PostgresStore) SequenceGaps(ctx context.Context) ([]GapRange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT prev + 1 AS gap_from, audit_id - 1 AS gap_to
		FROM (
			SELECT audit_id,
			       lag(audit_id, 1, 0) OVER (ORDER BY audit_id) AS prev
			FROM audit_entries
		) seq
		WHERE audit_id - prev > 1
		ORDER BY gap_from`)
	if err != nil {
		return nil, fmt.Errorf("query sequence gaps: %w", err)
	}
	defer rows.Close()

	gaps := []GapRange{}
	for rows.Next() {
		var g GapRange
		if err := rows.Scan(&g.From, &g.To); err != nil {
			return nil, fmt.Errorf("scan gap row: %w", err)
		}
		gaps = append(gaps, g)
	}
	return gaps, rows.Err()
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	err := row.Scan(
		&e.AuditID, &e.EventUUID, &e.PatientID, &e.SiteID,
		&e.Operation, &e.Data, &e.CreatedBy, &e.Role,
		&e.ClientTimestamp, &e.ServerTimestamp, &e.ChangeReason,
		&e.DeviceInfo, &e.IPAddress, &e.SessionID,
		&e.ParentAuditID, &e.SignatureHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}
	return e, nil
}
