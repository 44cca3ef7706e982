// Package compliance implements regulatory verification over the audit
// ledger: per-entry ALCOA+ principle checks, chain completeness checks, and
// aggregate range reports for review. Checks are deliberately redundant with
// insert-time validation — the reporter re-derives everything from stored
// data so it also catches what reached storage out-of-band.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"go.uber.org/zap"
)

// clockSkewTolerance bounds how far a client clock may run ahead of the
// server clock before the Contemporaneous check fails. Client timestamps far
// in the past are normal for offline capture.
const clockSkewTolerance = 5 * time.Minute

// The nine ALCOA+ data-integrity principles.
const (
	PrincipleAttributable    = "attributable"
	PrincipleLegible         = "legible"
	PrincipleContemporaneous = "contemporaneous"
	PrincipleOriginal        = "original"
	PrincipleAccurate        = "accurate"
	PrincipleComplete        = "complete"
	PrincipleConsistent      = "consistent"
	PrincipleEnduring        = "enduring"
	PrincipleAvailable       = "available"
)

// PrincipleResult is one principle's outcome for one entry.
type PrincipleResult struct {
	Principle string `json:"principle"`
	Pass      bool   `json:"pass"`
	Detail    string `json:"detail"`
}

// ALCOAReport is the full per-entry principle breakdown.
type ALCOAReport struct {
	AuditID   int64             `json:"audit_id"`
	Compliant bool              `json:"compliant"`
	Results   []PrincipleResult `json:"results"`
	CheckedAt time.Time         `json:"checked_at"`
}

// Reporter runs compliance verification over a ledger store.
type Reporter struct {
	store  ledger.Store
	logger *zap.Logger
}

// NewReporter creates a Reporter.
func NewReporter(store ledger.Store, logger *zap.Logger) *Reporter {
	return &Reporter{store: store, logger: logger}
}

// ValidateALCOA evaluates all nine ALCOA+ principles for one entry, each
// mapped to a concrete field or structural check.
func (r *Reporter) ValidateALCOA(ctx context.Context, auditID int64) (*ALCOAReport, error) {
	e, err := r.store.GetEntry(ctx, auditID)
	if err != nil {
		return nil, err
	}

	report := &ALCOAReport{
		AuditID:   auditID,
		Compliant: true,
		CheckedAt: time.Now().UTC(),
	}
	add := func(principle string, pass bool, detail string) {
		report.Results = append(report.Results, PrincipleResult{Principle: principle, Pass: pass, Detail: detail})
		if !pass {
			report.Compliant = false
		}
	}

	// Attributable — the entry names who acted and in what role.
	if e.CreatedBy != "" && e.Role != "" {
		add(PrincipleAttributable, true, fmt.Sprintf("created by %q acting as %q", e.CreatedBy, e.Role))
	} else {
		add(PrincipleAttributable, false, "created_by or role missing")
	}

	// Legible — the payload is well-formed, machine-readable JSON.
	if len(e.Data) > 0 && json.Valid(e.Data) {
		add(PrincipleLegible, true, "payload is well-formed JSON")
	} else {
		add(PrincipleLegible, false, "payload missing or not valid JSON")
	}

	// Contemporaneous — capture and commit times are both recorded and the
	// client clock is not implausibly ahead of the server clock.
	switch {
	case e.ClientTimestamp.IsZero() || e.ServerTimestamp.IsZero():
		add(PrincipleContemporaneous, false, "client or server timestamp missing")
	case e.ClientTimestamp.After(e.ServerTimestamp.Add(clockSkewTolerance)):
		add(PrincipleContemporaneous, false,
			fmt.Sprintf("client timestamp %s ahead of server commit", e.ClientTimestamp.Sub(e.ServerTimestamp)))
	default:
		add(PrincipleContemporaneous, true, "capture and commit times recorded in order")
	}

	// Original — the sealed first-capture record exists: the signature was
	// fixed at commit and the store has no mutation path.
	if e.SignatureHash != "" {
		add(PrincipleOriginal, true, "entry sealed at commit; store is append-only")
	} else {
		add(PrincipleOriginal, false, "signature hash missing; entry was never sealed")
	}

	// Accurate — the signature recomputes from the stored fields.
	accurate, verr := ledger.VerifyEntry(ctx, r.store, auditID)
	switch {
	case verr != nil:
		add(PrincipleAccurate, false, fmt.Sprintf("verification failed: %v", verr))
	case accurate:
		add(PrincipleAccurate, true, "signature verifies against stored fields and parent")
	default:
		add(PrincipleAccurate, false, "signature mismatch: stored fields do not recompute")
	}

	// Complete — all mandatory metadata present, parent reference resolvable.
	if missing := missingMetadata(e); len(missing) > 0 {
		add(PrincipleComplete, false, fmt.Sprintf("missing metadata: %v", missing))
	} else if e.ParentAuditID != nil {
		if _, err := r.store.GetEntry(ctx, *e.ParentAuditID); err != nil {
			add(PrincipleComplete, false, fmt.Sprintf("orphaned parent reference %d", *e.ParentAuditID))
		} else {
			add(PrincipleComplete, true, "all metadata present, parent resolvable")
		}
	} else {
		add(PrincipleComplete, true, "all metadata present")
	}

	// Consistent — chain linkage is internally coherent.
	if detail, ok := r.checkConsistent(ctx, e); ok {
		add(PrincipleConsistent, true, detail)
	} else {
		add(PrincipleConsistent, false, detail)
	}

	// Enduring — the committed record is durably retrievable by its id.
	// Reaching this point proves retrieval; the id and signature pin identity.
	add(PrincipleEnduring, e.AuditID > 0 && e.SignatureHash != "", "entry retrievable by audit_id")

	// Available — the full chain for the event can be produced on demand.
	if _, err := r.store.GetChain(ctx, e.EventUUID); err != nil {
		add(PrincipleAvailable, false, fmt.Sprintf("chain retrieval failed: %v", err))
	} else {
		add(PrincipleAvailable, true, "chain retrievable for event")
	}

	if !report.Compliant {
		r.logger.Warn("ALCOA+ non-compliance",
			zap.Int64("audit_id", auditID),
		)
	}
	return report, nil
}

func (r *Reporter) checkConsistent(ctx context.Context, e *ledger.Entry) (string, bool) {
	if e.ParentAuditID == nil {
		return "chain root, no parent to reconcile", true
	}
	parent, err := r.store.GetEntry(ctx, *e.ParentAuditID)
	if err != nil {
		return fmt.Sprintf("parent %d not retrievable", *e.ParentAuditID), false
	}
	if parent.EventUUID != e.EventUUID {
		return "parent belongs to a different event", false
	}
	if parent.AuditID >= e.AuditID {
		return "parent audit_id not earlier than entry", false
	}
	if parent.ServerTimestamp.After(e.ServerTimestamp) {
		return "server timestamps out of order along chain", false
	}
	return "parent linkage and ordering coherent", true
}

func missingMetadata(e *ledger.Entry) []string {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"patient_id", e.PatientID},
		{"site_id", e.SiteID},
		{"created_by", e.CreatedBy},
		{"role", e.Role},
		{"change_reason", e.ChangeReason},
		{"device_info", e.DeviceInfo},
		{"ip_address", e.IPAddress},
		{"session_id", e.SessionID},
	} {
		if f.val == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}
