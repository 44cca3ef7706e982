package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/clinchain/clinledger/internal/policy"
	"github.com/clinchain/clinledger/internal/projection"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// systemActor identifies auto-resolutions in the audit trail.
const systemActor = "clinledger-resolver"

// ErrManualRoleRequired is returned when a manual resolution is attempted by
// a role other than investigator or administrator.
var ErrManualRoleRequired = fmt.Errorf("manual resolution requires investigator or administrator role")

// ManualResolution carries the investigator-supplied payload and request
// metadata for a manual conflict resolution.
type ManualResolution struct {
	Data       json.RawMessage
	Reason     string
	DeviceInfo string
	IPAddress  string
	SessionID  string
}

// Resolver turns rejected stale-parent submissions into conflict records and
// drives them to a terminal state by appending resolve_conflict entries.
type Resolver struct {
	ledger    ledger.Store
	records   Store
	projector *projection.Projector
	logger    *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store ledger.Store, records Store, projector *projection.Projector, logger *zap.Logger) *Resolver {
	return &Resolver{ledger: store, records: records, projector: projector, logger: logger}
}

// ReportRejected records a divergence detected by the ledger: cand was
// refused because its claimed parent no longer matches the chain head. The
// candidate is retained in the record so nothing is silently dropped.
func (r *Resolver) ReportRejected(ctx context.Context, cand *ledger.Candidate, conflictErr *ledger.ConflictError) (*Record, error) {
	rec := &Record{
		ConflictID:        uuid.New(),
		EventUUID:         cand.EventUUID,
		CommittedAuditID:  conflictErr.HeadAuditID,
		RejectedCandidate: cand,
		DetectedAt:        time.Now().UTC(),
		State:             StatePending,
	}
	if err := r.records.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create conflict record: %w", err)
	}
	r.logger.Info("conflict recorded",
		zap.String("conflict_id", rec.ConflictID.String()),
		zap.String("event_uuid", rec.EventUUID.String()),
		zap.Int64("committed_audit_id", rec.CommittedAuditID),
	)
	return rec, nil
}

// AutoResolve applies the deterministic rule: the competitor with the later
// client_timestamp wins, and its payload becomes a new resolve_conflict
// entry. Both originals stay queryable; the loser is superseded, never
// deleted. The record moves Pending → AutoResolved.
func (r *Resolver) AutoResolve(ctx context.Context, conflictID uuid.UUID) (*Record, *ledger.Entry, error) {
	rec, err := r.records.Get(ctx, conflictID)
	if err != nil {
		return nil, nil, err
	}
	if rec.State != StatePending {
		return nil, nil, ErrAlreadyResolved
	}

	committed, err := r.ledger.GetEntry(ctx, rec.CommittedAuditID)
	if err != nil {
		return nil, nil, fmt.Errorf("load committed competitor: %w", err)
	}

	winner := committed.Data
	detail := "committed entry wins"
	if rec.RejectedCandidate.ClientTimestamp.After(committed.ClientTimestamp) {
		winner = rec.RejectedCandidate.Data
		detail = "rejected candidate wins"
	}

	entry, err := r.appendResolution(ctx, rec, &ledger.Candidate{
		EventUUID:       rec.EventUUID,
		PatientID:       rec.RejectedCandidate.PatientID,
		SiteID:          rec.RejectedCandidate.SiteID,
		Operation:       ledger.OpResolveConflict,
		Data:            winner,
		CreatedBy:       systemActor,
		Role:            string(policy.RoleAdministrator),
		ClientTimestamp: time.Now().UTC(),
		ChangeReason:    fmt.Sprintf("conflict %s: auto-resolved, later client timestamp wins (%s)", rec.ConflictID, detail),
		DeviceInfo:      systemActor,
		IPAddress:       "127.0.0.1",
		SessionID:       rec.ConflictID.String(),
	}, StateAutoResolved)
	if err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

// ResolveManual applies an explicit resolution payload chosen by an
// investigator or administrator. The record moves Pending → ManuallyResolved.
func (r *Resolver) ResolveManual(ctx context.Context, conflictID uuid.UUID, actor policy.Actor, res *ManualResolution) (*Record, *ledger.Entry, error) {
	if actor.Role != policy.RoleInvestigator && actor.Role != policy.RoleAdministrator {
		return nil, nil, ErrManualRoleRequired
	}

	rec, err := r.records.Get(ctx, conflictID)
	if err != nil {
		return nil, nil, err
	}
	if rec.State != StatePending {
		return nil, nil, ErrAlreadyResolved
	}

	entry, err := r.appendResolution(ctx, rec, &ledger.Candidate{
		EventUUID:       rec.EventUUID,
		PatientID:       rec.RejectedCandidate.PatientID,
		SiteID:          rec.RejectedCandidate.SiteID,
		Operation:       ledger.OpResolveConflict,
		Data:            res.Data,
		CreatedBy:       actor.ID,
		Role:            string(actor.Role),
		ClientTimestamp: time.Now().UTC(),
		ChangeReason:    fmt.Sprintf("conflict %s: %s", rec.ConflictID, res.Reason),
		DeviceInfo:      res.DeviceInfo,
		IPAddress:       res.IPAddress,
		SessionID:       res.SessionID,
	}, StateManuallyResolved)
	if err != nil {
		return nil, nil, err
	}
	return rec, entry, nil
}

// appendResolution chains the resolving entry onto the current head, marks
// the record terminal, and folds the entry into the projection.
func (r *Resolver) appendResolution(ctx context.Context, rec *Record, cand *ledger.Candidate, terminal ResolutionState) (*ledger.Entry, error) {
	head, err := r.ledger.Head(ctx, rec.EventUUID)
	if err != nil {
		return nil, fmt.Errorf("resolve chain head: %w", err)
	}
	cand.ClaimedParentHash = head.SignatureHash

	res, err := r.ledger.Append(ctx, cand)
	if err != nil {
		// A ConflictError here means the head moved mid-resolution; the
		// caller retries against the new head. The record stays Pending.
		return nil, err
	}

	if err := r.records.MarkResolved(ctx, rec.ConflictID, terminal, res.Entry.AuditID); err != nil {
		return nil, err
	}
	rec.State = terminal
	rec.ResolvingAuditID = &res.Entry.AuditID
	now := time.Now().UTC()
	rec.ResolvedAt = &now

	if _, err := r.projector.ApplyEntry(ctx, res.Entry); err != nil {
		return nil, fmt.Errorf("project resolution entry: %w", err)
	}

	r.logger.Info("conflict resolved",
		zap.String("conflict_id", rec.ConflictID.String()),
		zap.String("state", string(terminal)),
		zap.Int64("resolving_audit_id", res.Entry.AuditID),
	)
	return res.Entry, nil
}
