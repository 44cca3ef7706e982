package policy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEvent is one denied access attempt. These live in their own stream,
// not in the clinical ledger: they are operational anomaly-monitoring data,
// not regulated trial data.
type SecurityEvent struct {
	ID         uuid.UUID `json:"id"`
	ActorID    string    `json:"actor_id"`
	Role       Role      `json:"role"`
	PatientID  string    `json:"patient_id,omitempty"`
	SiteID     string    `json:"site_id,omitempty"`
	Action     Action    `json:"action"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SecurityLog records denied access attempts for anomaly monitoring.
type SecurityLog interface {
	Record(ctx context.Context, ev *SecurityEvent) error
	Recent(ctx context.Context, limit int) ([]*SecurityEvent, error)
}

// MemorySecurityLog keeps security events in memory, capped at a fixed size.
type MemorySecurityLog struct {
	mu     sync.Mutex
	events []*SecurityEvent
	cap    int
}

// NewMemorySecurityLog creates a MemorySecurityLog retaining at most 10k events.
func NewMemorySecurityLog() *MemorySecurityLog {
	return &MemorySecurityLog{cap: 10_000}
}

// Record implements SecurityLog.
func (l *MemorySecurityLog) Record(_ context.Context, ev *SecurityEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	if len(l.events) > l.cap {
		l.events = l.events[len(l.events)-l.cap:]
	}
	return nil
}

// Recent implements SecurityLog, newest first.
func (l *MemorySecurityLog) Recent(_ context.Context, limit int) ([]*SecurityEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.events) {
		limit = len(l.events)
	}
	out := make([]*SecurityEvent, 0, limit)
	for i := len(l.events) - 1; i >= len(l.events)-limit; i-- {
		out = append(out, l.events[i])
	}
	return out, nil
}

// PostgresSecurityLog persists security events to the security_events table.
type PostgresSecurityLog struct {
	pool *pgxpool.Pool
}

// NewPostgresSecurityLog creates a PostgresSecurityLog backed by the given pool.
func NewPostgresSecurityLog(pool *pgxpool.Pool) *PostgresSecurityLog {
	return &PostgresSecurityLog{pool: pool}
}

// Record implements SecurityLog.
func (l *PostgresSecurityLog) Record(ctx context.Context, ev *SecurityEvent) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO security_events (id, actor_id, role, patient_id, site_id, action, reason, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.ActorID, ev.Role, ev.PatientID, ev.SiteID, ev.Action, ev.Reason, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// Recent implements SecurityLog, newest first.
func (l *PostgresSecurityLog) Recent(ctx context.Context, limit int) ([]*SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.pool.Query(ctx,
		`SELECT id, actor_id, role, patient_id, site_id, action, reason, occurred_at
		 FROM security_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []*SecurityEvent
	for rows.Next() {
		ev := &SecurityEvent{}
		if err := rows.Scan(&ev.ID, &ev.ActorID, &ev.Role, &ev.PatientID,
			&ev.SiteID, &ev.Action, &ev.Reason, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
