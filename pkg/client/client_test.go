package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clinchain/clinledger/pkg/client"
	"github.com/google/uuid"
)

var (
	testEventUUID  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	testConflictID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
)

// ── Stub server ─────────────────────────────────────────────────────────

func stubLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			http.Error(w, `{"error":"no actor"}`, http.StatusUnauthorized)
			return
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"bad json"}`, http.StatusBadRequest)
			return
		}
		switch {
		case req["change_reason"] == "":
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{
				"error":   "validation failed",
				"missing": []string{"change_reason"},
			})
		case req["claimed_parent_hash"] == "stale-hash":
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]any{
				"error":             "conflict detected",
				"conflict_id":       testConflictID,
				"committed_head":    int64(7),
				"current_head_hash": "aa11",
			})
		default:
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"audit_id":       int64(1),
				"signature_hash": "deadbeef",
			})
		}
	})

	mux.HandleFunc("/api/v1/events/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if strings.HasSuffix(path, "/state") {
			json.NewEncoder(w).Encode(map[string]any{
				"event_uuid":    testEventUUID,
				"current_data":  map[string]any{"severity": "mild"},
				"head_audit_id": int64(3),
				"archived":      false,
				"updated_at":    time.Now().UTC(),
			})
			return
		}

		if strings.HasSuffix(path, "/verify") {
			json.NewEncoder(w).Encode(map[string]any{
				"event_uuid": testEventUUID,
				"valid":      true,
				"entries": []map[string]any{
					{"audit_id": int64(1), "valid": true},
					{"audit_id": int64(3), "valid": true},
				},
			})
			return
		}

		http.Error(w, `{"error":"event not found"}`, http.StatusNotFound)
	})

	mux.HandleFunc("/api/v1/ledger/gaps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"intact": false,
			"gaps":   []map[string]int64{{"from": 4, "to": 6}},
		})
	})

	return httptest.NewServer(mux)
}

func submitReq(parentHash string) *client.SubmitRequest {
	return &client.SubmitRequest{
		EventUUID:         testEventUUID,
		PatientID:         "PT-001",
		SiteID:            "SITE-A",
		Operation:         "create",
		Data:              json.RawMessage(`{"severity":"mild"}`),
		ClientTimestamp:   time.Now().UTC(),
		ChangeReason:      "initial capture",
		DeviceInfo:        "tablet-14",
		SessionID:         "sess-1",
		ClaimedParentHash: parentHash,
	}
}

// ── Tests ───────────────────────────────────────────────────────────────

func TestSubmit_committed(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "test-token")
	res, err := c.Submit(context.Background(), submitReq(""))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.AuditID != 1 || res.SignatureHash != "deadbeef" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Duplicate {
		t.Error("fresh submit should not be flagged duplicate")
	}
}

func TestSubmit_staleParentReturnsConflict(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "test-token")
	_, err := c.Submit(context.Background(), submitReq("stale-hash"))

	var conflict *client.ConflictDetectedError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictDetectedError, got %v", err)
	}
	if conflict.ConflictID != testConflictID {
		t.Errorf("conflict_id = %s, want %s", conflict.ConflictID, testConflictID)
	}
	if conflict.CommittedHead != 7 {
		t.Errorf("committed_head = %d, want 7", conflict.CommittedHead)
	}
}

func TestSubmit_validationError(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	req := submitReq("")
	req.ChangeReason = ""

	c := client.New(srv.URL, "test-token")
	_, err := c.Submit(context.Background(), req)

	var verr *client.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "change_reason" {
		t.Errorf("missing = %v, want [change_reason]", verr.Missing)
	}
}

func TestSubmit_unauthorized(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "wrong-token")
	_, err := c.Submit(context.Background(), submitReq(""))

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("want APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
}

func TestCurrentState(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "test-token")
	state, err := c.CurrentState(context.Background(), testEventUUID)
	if err != nil {
		t.Fatalf("CurrentState: %v", err)
	}
	if state.HeadAuditID != 3 {
		t.Errorf("head_audit_id = %d, want 3", state.HeadAuditID)
	}
	if state.CurrentData["severity"] != "mild" {
		t.Errorf("severity = %v, want mild", state.CurrentData["severity"])
	}
}

func TestVerifyChain(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "test-token")
	res, err := c.VerifyChain(context.Background(), testEventUUID)
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !res.Valid || len(res.Entries) != 2 {
		t.Errorf("unexpected verification: %+v", res)
	}
}

func TestGaps(t *testing.T) {
	srv := stubLedgerServer(t)
	defer srv.Close()

	c := client.New(srv.URL, "test-token")
	res, err := c.Gaps(context.Background())
	if err != nil {
		t.Fatalf("Gaps: %v", err)
	}
	if res.Intact {
		t.Error("stub reports a gap; Intact should be false")
	}
	if len(res.Gaps) != 1 || res.Gaps[0].From != 4 || res.Gaps[0].To != 6 {
		t.Errorf("gaps = %+v, want [{4 6}]", res.Gaps)
	}
}
