// Package conflict tracks chain divergences produced by offline multi-device
// sync and drives their resolution. The ledger already rejects stale-parent
// submissions; this package keeps the rejected candidates inspectable, records
// the divergence, and produces the resolving audit entry.
package conflict

import (
	"context"
	"errors"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a conflict record does not exist.
	ErrNotFound = errors.New("conflict record not found")

	// ErrAlreadyResolved is returned on any attempt to transition a record
	// out of a terminal state. Resolved conflicts are never reopened; a new
	// divergence creates a new record.
	ErrAlreadyResolved = errors.New("conflict already resolved")
)

// ResolutionState is the conflict lifecycle state. The only transitions are
// Pending → AutoResolved and Pending → ManuallyResolved, both terminal.
type ResolutionState string

const (
	StatePending          ResolutionState = "pending"
	StateAutoResolved     ResolutionState = "auto_resolved"
	StateManuallyResolved ResolutionState = "manually_resolved"
)

// Record is one detected chain divergence. CommittedAuditID is the entry that
// won the head; RejectedCandidate is the losing submission, retained
// out-of-band so it stays inspectable and is never silently dropped. Records
// are kept permanently as history after resolution.
type Record struct {
	ConflictID        uuid.UUID         `json:"conflict_id"`
	EventUUID         uuid.UUID         `json:"event_uuid"`
	CommittedAuditID  int64             `json:"committed_audit_id"`
	RejectedCandidate *ledger.Candidate `json:"rejected_candidate"`
	DetectedAt        time.Time         `json:"detected_at"`
	State             ResolutionState   `json:"resolution_state"`
	ResolvingAuditID  *int64            `json:"resolving_audit_id,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
}

// Store persists conflict records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, conflictID uuid.UUID) (*Record, error)
	ListPending(ctx context.Context) ([]*Record, error)
	ListByEvent(ctx context.Context, eventUUID uuid.UUID) ([]*Record, error)

	// MarkResolved transitions a record from Pending to the given terminal
	// state as a single compare-and-set; it returns ErrAlreadyResolved when
	// the record has already left Pending.
	MarkResolved(ctx context.Context, conflictID uuid.UUID, state ResolutionState, resolvingAuditID int64) error
}
