package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an audit entry or chain does not exist.
var ErrNotFound = errors.New("audit entry not found")

// ValidationError reports mandatory candidate fields that are missing or
// malformed. Nothing is persisted when it is returned.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing mandatory fields: " + strings.Join(e.Missing, ", ")
}

// ConflictError is the expected outcome of a stale-parent submission: the
// candidate claimed a chain head that is no longer (or never was) current.
// No row is written; the candidate should be routed to the conflict resolver.
type ConflictError struct {
	EventUUID         uuid.UUID
	ClaimedParentHash string
	HeadAuditID       int64
	HeadHash          string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on event %s: claimed parent %.12s, current head is entry %d (%.12s)",
		e.EventUUID, e.ClaimedParentHash, e.HeadAuditID, e.HeadHash)
}

// AppendResult is returned by Store.Append. Duplicate is true when the
// candidate matched the dedupe key of an already-committed entry; Entry is
// then the original, not a new row.
type AppendResult struct {
	Entry     *Entry
	Duplicate bool
}

// GapRange is an inclusive range of audit IDs missing from the sequence.
type GapRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Store is the append-only audit ledger. There is deliberately no update or
// delete method: immutability is a structural property of the interface, not
// a policy toggle on the implementations.
//
// Two implementations exist: MemoryStore (tests, single-process deployments)
// and PostgresStore (production).
type Store interface {
	// Append validates the candidate, allocates the next monotonic audit_id,
	// checks the claimed parent hash against the true chain head, computes the
	// signature, and commits — all atomically. A stale parent yields a
	// *ConflictError with nothing written; a replayed dedupe key yields the
	// original entry with Duplicate set.
	Append(ctx context.Context, cand *Candidate) (*AppendResult, error)

	// GetEntry returns a single committed entry by audit_id.
	GetEntry(ctx context.Context, auditID int64) (*Entry, error)

	// GetChain returns all entries for an event from genesis to head,
	// ordered by audit_id.
	GetChain(ctx context.Context, eventUUID uuid.UUID) ([]*Entry, error)

	// Head returns the current chain head for an event, or ErrNotFound
	// when no chain exists yet.
	Head(ctx context.Context, eventUUID uuid.UUID) (*Entry, error)

	// ScanRange streams entries whose server_timestamp falls in [from, to),
	// ordered by audit_id, invoking fn for each. Scanning stops on the first
	// fn error or when ctx is cancelled; it holds no locks that would block
	// concurrent appends.
	ScanRange(ctx context.Context, from, to time.Time, fn func(*Entry) error) error

	// SequenceGaps returns the audit_id ranges missing from the global
	// sequence. A fresh ledger returns an empty list; any gap on an
	// established ledger indicates out-of-band row deletion.
	SequenceGaps(ctx context.Context) ([]GapRange, error)

	// Count returns the total number of committed entries.
	Count(ctx context.Context) (int64, error)
}
