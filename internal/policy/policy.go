// Package policy implements the role and site scoped access gate. Every
// ledger read/write and every projection read passes through Engine.CanAccess;
// there is no alternate path. Denied attempts are recorded to a security-event
// stream that is deliberately separate from the clinical audit ledger.
package policy

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role is the closed set of actor roles.
type Role string

const (
	RoleUser          Role = "user"
	RoleInvestigator  Role = "investigator"
	RoleAnalyst       Role = "analyst"
	RoleAdministrator Role = "administrator"
	RoleAuditor       Role = "auditor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleInvestigator, RoleAnalyst, RoleAdministrator, RoleAuditor:
		return true
	}
	return false
}

// Action is the kind of access being requested.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	// ActionCompliance covers compliance-reporter outputs (ALCOA reports,
	// batch verification summaries). Granted to auditors and administrators.
	ActionCompliance Action = "compliance"
)

// Actor is an authenticated caller. SiteIDs is the actor's site scope; empty
// means global for roles that carry global rights. PatientID is set only for
// RoleUser and names the diary subject the actor is.
type Actor struct {
	ID        string   `json:"id"`
	Role      Role     `json:"role"`
	PatientID string   `json:"patient_id,omitempty"`
	SiteIDs   []string `json:"site_ids,omitempty"`
}

// Decision is the outcome of a policy check. Reason is set on denial.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates access rules and records denials.
type Engine struct {
	seclog SecurityLog
	logger *zap.Logger
}

// NewEngine creates an Engine. seclog receives every denied attempt.
func NewEngine(seclog SecurityLog, logger *zap.Logger) *Engine {
	return &Engine{seclog: seclog, logger: logger}
}

// CanAccess gates one operation against the target patient and site. The rule
// table:
//
//	User          — own patient_id only, read/write
//	Investigator  — patients at assigned sites, read/write
//	Analyst       — patients at assigned sites, read-only
//	Administrator — global, read/write
//	Auditor       — global read-only, plus compliance outputs
//
// A denial is recorded to the security-event stream before returning.
func (e *Engine) CanAccess(ctx context.Context, actor Actor, patientID, siteID string, action Action) Decision {
	d := e.evaluate(actor, patientID, siteID, action)
	if !d.Allowed {
		e.recordDenial(ctx, actor, patientID, siteID, action, d.Reason)
	}
	return d
}

// Allows evaluates the rule table without recording a denial. It exists for
// filtering collections, where exclusion is expected and not an access
// violation worth alerting on.
func (e *Engine) Allows(actor Actor, patientID, siteID string, action Action) bool {
	return e.evaluate(actor, patientID, siteID, action).Allowed
}

func (e *Engine) evaluate(actor Actor, patientID, siteID string, action Action) Decision {
	if !actor.Role.Valid() {
		return deny("unknown role %q", actor.Role)
	}

	switch actor.Role {
	case RoleUser:
		if action == ActionCompliance {
			return deny("role user has no access to compliance outputs")
		}
		if patientID == "" || actor.PatientID != patientID {
			return deny("role user may only access own records")
		}
		return allow()

	case RoleInvestigator:
		if action == ActionCompliance {
			return deny("role investigator has no access to compliance outputs")
		}
		if !slices.Contains(actor.SiteIDs, siteID) {
			return deny("site %q outside investigator scope", siteID)
		}
		return allow()

	case RoleAnalyst:
		if action != ActionRead {
			return deny("role analyst is read-only")
		}
		if !slices.Contains(actor.SiteIDs, siteID) {
			return deny("site %q outside analyst scope", siteID)
		}
		return allow()

	case RoleAdministrator:
		return allow()

	case RoleAuditor:
		if action == ActionWrite {
			return deny("role auditor is read-only")
		}
		return allow()
	}
	return deny("unhandled role %q", actor.Role)
}

func (e *Engine) recordDenial(ctx context.Context, actor Actor, patientID, siteID string, action Action, reason string) {
	ev := &SecurityEvent{
		ID:         uuid.New(),
		ActorID:    actor.ID,
		Role:       actor.Role,
		PatientID:  patientID,
		SiteID:     siteID,
		Action:     action,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if err := e.seclog.Record(ctx, ev); err != nil {
		// The denial itself still stands; losing the security event is a
		// monitoring gap, not an authorization failure.
		e.logger.Error("record security event", zap.Error(err))
	}
	e.logger.Warn("access denied",
		zap.String("actor_id", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("patient_id", patientID),
		zap.String("site_id", siteID),
		zap.String("action", string(action)),
		zap.String("reason", reason),
	)
}
