// Package client provides a typed Go client for the clinledger HTTP API.
// Offline sync integrators use it to flush queued candidates on reconnect;
// the clinctl CLI uses it for verification and reporting.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConflictDetectedError is returned by Submit when the server rejected the
// candidate because its claimed parent is stale. The candidate is retained
// server-side under ConflictID and awaits resolution.
type ConflictDetectedError struct {
	ConflictID      uuid.UUID `json:"conflict_id"`
	CommittedHead   int64     `json:"committed_head"`
	CurrentHeadHash string    `json:"current_head_hash"`
}

func (e *ConflictDetectedError) Error() string {
	return fmt.Sprintf("conflict detected (record %s, head entry %d)", e.ConflictID, e.CommittedHead)
}

// ValidationError is returned by Submit when mandatory fields were missing.
type ValidationError struct {
	Missing []string `json:"missing"`
}

func (e *ValidationError) Error() string {
	return "validation failed: missing " + strings.Join(e.Missing, ", ")
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// SubmitRequest is the payload for Submit.
type SubmitRequest struct {
	EventUUID         uuid.UUID       `json:"event_uuid"`
	PatientID         string          `json:"patient_id"`
	SiteID            string          `json:"site_id"`
	Operation         string          `json:"operation"`
	Data              json.RawMessage `json:"data"`
	ClientTimestamp   time.Time       `json:"client_timestamp"`
	ChangeReason      string          `json:"change_reason"`
	DeviceInfo        string          `json:"device_info"`
	SessionID         string          `json:"session_id"`
	ClaimedParentHash string          `json:"claimed_parent_hash,omitempty"`
}

// SubmitResult is the successful outcome of Submit.
type SubmitResult struct {
	AuditID       int64  `json:"audit_id"`
	SignatureHash string `json:"signature_hash"`
	Duplicate     bool   `json:"duplicate,omitempty"`
}

// State is the current projection of one record.
type State struct {
	EventUUID   uuid.UUID      `json:"event_uuid"`
	CurrentData map[string]any `json:"current_data"`
	HeadAuditID int64          `json:"head_audit_id"`
	Archived    bool           `json:"archived"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ChainVerification is the result of VerifyChain.
type ChainVerification struct {
	EventUUID uuid.UUID `json:"event_uuid"`
	Valid     bool      `json:"valid"`
	Entries   []struct {
		AuditID int64  `json:"audit_id"`
		Valid   bool   `json:"valid"`
		Detail  string `json:"detail,omitempty"`
	} `json:"entries"`
}

// GapReport is the result of Gaps.
type GapReport struct {
	Intact bool `json:"intact"`
	Gaps   []struct {
		From int64 `json:"from"`
		To   int64 `json:"to"`
	} `json:"gaps"`
}

// Client talks to a clinledger server. Use New to construct one.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a Client for the given base URL (e.g. "https://ledger.example.org")
// and bearer token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit appends one candidate entry. A stale parent returns a
// *ConflictDetectedError; a retry of a committed candidate succeeds with
// Duplicate set.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/events", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentState returns the projected current state of a record.
func (c *Client) CurrentState(ctx context.Context, eventUUID uuid.UUID) (*State, error) {
	var out State
	if err := c.do(ctx, http.MethodGet, "/api/v1/events/"+eventUUID.String()+"/state", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chain returns the full entry chain of a record as raw JSON.
func (c *Client) Chain(ctx context.Context, eventUUID uuid.UUID) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/events/"+eventUUID.String()+"/chain", nil, &out)
	return out, err
}

// VerifyChain validates every link of a record's chain.
func (c *Client) VerifyChain(ctx context.Context, eventUUID uuid.UUID) (*ChainVerification, error) {
	var out ChainVerification
	if err := c.do(ctx, http.MethodGet, "/api/v1/events/"+eventUUID.String()+"/verify", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyBatch verifies all entries committed in [from, to).
func (c *Client) VerifyBatch(ctx context.Context, from, to time.Time) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/ledger/verify?"+rangeQuery(from, to), nil, &out)
	return out, err
}

// ValidateALCOA fetches the per-principle ALCOA+ report for one entry.
func (c *Client) ValidateALCOA(ctx context.Context, auditID int64) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/entries/%d/alcoa", auditID), nil, &out)
	return out, err
}

// ComplianceReport fetches the aggregate compliance report for a time range.
func (c *Client) ComplianceReport(ctx context.Context, from, to time.Time) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/reports/compliance?"+rangeQuery(from, to), nil, &out)
	return out, err
}

// Gaps runs the audit_id sequence gap check.
func (c *Client) Gaps(ctx context.Context) (*GapReport, error) {
	var out GapReport
	if err := c.do(ctx, http.MethodGet, "/api/v1/ledger/gaps", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PendingConflicts lists unresolved conflicts visible to the caller.
func (c *Client) PendingConflicts(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.do(ctx, http.MethodGet, "/api/v1/conflicts", nil, &out)
	return out, err
}

func rangeQuery(from, to time.Time) string {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	return q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil

	case resp.StatusCode == http.StatusConflict:
		conflict := &ConflictDetectedError{}
		if err := json.Unmarshal(raw, conflict); err == nil && conflict.ConflictID != uuid.Nil {
			return conflict
		}
		return &APIError{Status: resp.StatusCode, Message: string(raw)}

	case resp.StatusCode == http.StatusUnprocessableEntity:
		verr := &ValidationError{}
		if err := json.Unmarshal(raw, verr); err == nil && len(verr.Missing) > 0 {
			return verr
		}
		return &APIError{Status: resp.StatusCode, Message: string(raw)}

	default:
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
}
