package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenesisHash is the canonical parent hash of the first entry in every chain.
// Chains have no shared genesis row; a nil parent_audit_id simply anchors the
// entry's signature to this well-known constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Operation is the closed set of actions an audit entry can record.
type Operation string

const (
	OpCreate          Operation = "create"
	OpUpdate          Operation = "update"
	OpAnnotate        Operation = "annotate"
	OpArchive         Operation = "archive"
	OpResolveConflict Operation = "resolve_conflict"
)

// Valid reports whether op is one of the known operation variants.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpAnnotate, OpArchive, OpResolveConflict:
		return true
	}
	return false
}

// Entry is one immutable record in the audit ledger. Once committed it is
// never updated or deleted; the Store interface deliberately has no methods
// for either.
type Entry struct {
	AuditID         int64           `json:"audit_id"`
	EventUUID       uuid.UUID       `json:"event_uuid"`
	PatientID       string          `json:"patient_id"`
	SiteID          string          `json:"site_id"`
	Operation       Operation       `json:"operation"`
	Data            json.RawMessage `json:"data"`
	CreatedBy       string          `json:"created_by"`
	Role            string          `json:"role"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	ChangeReason    string          `json:"change_reason"`
	DeviceInfo      string          `json:"device_info"`
	IPAddress       string          `json:"ip_address"`
	SessionID       string          `json:"session_id"`
	ParentAuditID   *int64          `json:"parent_audit_id,omitempty"`
	SignatureHash   string          `json:"signature_hash"`
}

// Candidate is a client-submitted entry that has not yet been committed.
// Offline clients build candidates against the last chain head they observed
// and report that head in ClaimedParentHash (empty or GenesisHash for a new
// chain).
type Candidate struct {
	EventUUID         uuid.UUID       `json:"event_uuid"`
	PatientID         string          `json:"patient_id"`
	SiteID            string          `json:"site_id"`
	Operation         Operation       `json:"operation"`
	Data              json.RawMessage `json:"data"`
	CreatedBy         string          `json:"created_by"`
	Role              string          `json:"role"`
	ClientTimestamp   time.Time       `json:"client_timestamp"`
	ChangeReason      string          `json:"change_reason"`
	DeviceInfo        string          `json:"device_info"`
	IPAddress         string          `json:"ip_address"`
	SessionID         string          `json:"session_id"`
	ClaimedParentHash string          `json:"claimed_parent_hash"`
}

// Validate checks that every mandatory field is present. It returns a
// *ValidationError naming all missing fields, or nil.
func (c *Candidate) Validate() error {
	var missing []string
	if c.EventUUID == uuid.Nil {
		missing = append(missing, "event_uuid")
	}
	if c.PatientID == "" {
		missing = append(missing, "patient_id")
	}
	if c.SiteID == "" {
		missing = append(missing, "site_id")
	}
	if !c.Operation.Valid() {
		missing = append(missing, "operation")
	}
	if len(c.Data) == 0 || !json.Valid(c.Data) {
		missing = append(missing, "data")
	}
	if c.CreatedBy == "" {
		missing = append(missing, "created_by")
	}
	if c.Role == "" {
		missing = append(missing, "role")
	}
	if c.ClientTimestamp.IsZero() {
		missing = append(missing, "client_timestamp")
	}
	if c.ChangeReason == "" {
		missing = append(missing, "change_reason")
	}
	if c.DeviceInfo == "" {
		missing = append(missing, "device_info")
	}
	if c.IPAddress == "" {
		missing = append(missing, "ip_address")
	}
	if c.SessionID == "" {
		missing = append(missing, "session_id")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// DedupeKey returns a stable identity for retry detection: the same device
// resubmitting the same payload at the same client timestamp maps to the same
// key, so sync retries are idempotent.
func (c *Candidate) DedupeKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s",
		c.DeviceInfo,
		c.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		c.EventUUID,
		sha256Sum(c.Data),
	)
	return hex.EncodeToString(h.Sum(nil))
}

// normalizedParentHash maps an empty claimed parent to the genesis constant.
func (c *Candidate) normalizedParentHash() string {
	if c.ClaimedParentHash == "" {
		return GenesisHash
	}
	return c.ClaimedParentHash
}

// ComputeSignature derives the tamper-evident signature of an entry from its
// identifying fields and the signature of its predecessor (or GenesisHash for
// the first entry of a chain). Pure; no I/O.
func ComputeSignature(e *Entry, parentHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.AuditID,
		e.EventUUID,
		e.Operation,
		sha256Sum(e.Data),
		e.CreatedBy,
		e.ClientTimestamp.UTC().Format(time.RFC3339Nano),
		parentHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature recomputes an entry's signature against parentHash and
// compares it with the stored value.
func VerifySignature(e *Entry, parentHash string) bool {
	return e.SignatureHash == ComputeSignature(e, parentHash)
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
