// Package projection maintains the derived current-state view of each
// logical record by replaying its audit chain. The view is never hand-edited:
// every row is the deterministic result of folding Apply over the chain, so
// it can be rebuilt from the ledger at any time.
package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no projection exists for an event.
var ErrNotFound = errors.New("state projection not found")

// annotationsKey is the reserved data key under which Annotate operations
// accumulate notes without altering primary fields.
const annotationsKey = "_annotations"

// State is the current materialised view of one logical record.
type State struct {
	EventUUID   uuid.UUID      `json:"event_uuid"`
	CurrentData map[string]any `json:"current_data"`
	HeadAuditID int64          `json:"head_audit_id"`
	Archived    bool           `json:"archived"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// clone deep-copies a state so Apply stays pure.
func (s *State) clone() *State {
	return &State{
		EventUUID:   s.EventUUID,
		CurrentData: cloneMap(s.CurrentData),
		HeadAuditID: s.HeadAuditID,
		Archived:    s.Archived,
		UpdatedAt:   s.UpdatedAt,
	}
}

// StateStore persists projections keyed by event_uuid. Only the Projector
// writes to it; readers go through Projector.Current.
type StateStore interface {
	Get(ctx context.Context, eventUUID uuid.UUID) (*State, error)
	Put(ctx context.Context, state *State) error
}

// Apply folds one audit entry into the current state. It is pure: current is
// never mutated and the same (current, entry) pair always yields the same
// result. The switch over Operation is exhaustive; an unknown variant is an
// error, not a silent no-op.
func Apply(current *State, e *ledger.Entry) (*State, error) {
	payload := map[string]any{}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			return nil, fmt.Errorf("decode entry %d payload: %w", e.AuditID, err)
		}
	}

	var next *State
	if current == nil {
		next = &State{EventUUID: e.EventUUID, CurrentData: map[string]any{}}
	} else {
		next = current.clone()
	}
	next.HeadAuditID = e.AuditID
	next.UpdatedAt = e.ServerTimestamp

	switch e.Operation {
	case ledger.OpCreate:
		next.CurrentData = payload

	case ledger.OpUpdate:
		next.CurrentData = deepMerge(next.CurrentData, payload)

	case ledger.OpAnnotate:
		// Notes accumulate under a reserved key; primary fields untouched.
		notes, _ := next.CurrentData[annotationsKey].([]any)
		notes = append(append([]any{}, notes...), map[string]any{
			"audit_id":   e.AuditID,
			"created_by": e.CreatedBy,
			"note":       payload,
		})
		next.CurrentData[annotationsKey] = notes

	case ledger.OpArchive:
		next.Archived = true

	case ledger.OpResolveConflict:
		// The resolution payload is authoritative; annotations survive.
		notes := next.CurrentData[annotationsKey]
		next.CurrentData = payload
		if notes != nil {
			next.CurrentData[annotationsKey] = notes
		}

	default:
		return nil, fmt.Errorf("unknown operation %q in entry %d", e.Operation, e.AuditID)
	}
	return next, nil
}

// Projector keeps the projection store in lockstep with the ledger.
type Projector struct {
	ledger ledger.Store
	states StateStore
	logger *zap.Logger
}

// New creates a Projector over the given ledger and projection store.
func New(store ledger.Store, states StateStore, logger *zap.Logger) *Projector {
	return &Projector{ledger: store, states: states, logger: logger}
}

// ApplyEntry incrementally folds a freshly committed entry into the
// projection. If the stored head does not match the entry's parent (a missed
// intermediate update, e.g. after a crash between commit and projection) the
// projector falls back to a full rebuild.
func (p *Projector) ApplyEntry(ctx context.Context, e *ledger.Entry) (*State, error) {
	current, err := p.states.Get(ctx, e.EventUUID)
	switch {
	case errors.Is(err, ErrNotFound):
		current = nil
	case err != nil:
		return nil, err
	}

	expectedHead := int64(0)
	if e.ParentAuditID != nil {
		expectedHead = *e.ParentAuditID
	}
	if current == nil && expectedHead != 0 || current != nil && current.HeadAuditID != expectedHead {
		p.logger.Warn("projection behind ledger, rebuilding",
			zap.String("event_uuid", e.EventUUID.String()),
			zap.Int64("audit_id", e.AuditID),
		)
		return p.Rebuild(ctx, e.EventUUID)
	}

	next, err := Apply(current, e)
	if err != nil {
		return nil, err
	}
	if err := p.states.Put(ctx, next); err != nil {
		return nil, fmt.Errorf("store projection: %w", err)
	}
	return next, nil
}

// Rebuild replays the full chain from genesis and overwrites the stored
// projection. The result is bit-identical to incremental maintenance; tests
// assert this by comparing canonical JSON.
func (p *Projector) Rebuild(ctx context.Context, eventUUID uuid.UUID) (*State, error) {
	chain, err := p.ledger.GetChain(ctx, eventUUID)
	if err != nil {
		return nil, err
	}

	var state *State
	for _, e := range chain {
		if state, err = Apply(state, e); err != nil {
			return nil, err
		}
	}
	if err := p.states.Put(ctx, state); err != nil {
		return nil, fmt.Errorf("store rebuilt projection: %w", err)
	}
	return state, nil
}

// Current returns the maintained projection for an event.
func (p *Projector) Current(ctx context.Context, eventUUID uuid.UUID) (*State, error) {
	return p.states.Get(ctx, eventUUID)
}

// deepMerge returns a new map with src folded into dst: nested maps merge
// recursively, everything else (including lists) is replaced wholesale.
func deepMerge(dst, src map[string]any) map[string]any {
	out := cloneMap(dst)
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				out[k] = deepMerge(existing, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = cloneMap(sub)
			continue
		}
		out[k] = v
	}
	return out
}
