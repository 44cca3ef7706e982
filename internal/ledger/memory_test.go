package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/google/uuid"
)

var ctx = context.Background()

func mustAppend(t *testing.T, s ledger.Store, c *ledger.Candidate) *ledger.Entry {
	t.Helper()
	res, err := s.Append(ctx, c)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return res.Entry
}

func TestAppend_chainsFromGenesis(t *testing.T) {
	s := ledger.NewMemoryStore()
	c := validCandidate()

	e1 := mustAppend(t, s, c)
	if e1.AuditID != 1 {
		t.Errorf("first audit_id: got %d, want 1", e1.AuditID)
	}
	if e1.ParentAuditID != nil {
		t.Errorf("chain root should have nil parent, got %d", *e1.ParentAuditID)
	}
	if !ledger.VerifySignature(e1, ledger.GenesisHash) {
		t.Error("root signature does not verify against GenesisHash")
	}

	upd := validCandidate()
	upd.EventUUID = c.EventUUID
	upd.Operation = ledger.OpUpdate
	upd.Data = json.RawMessage(`{"severity":"moderate"}`)
	upd.ClientTimestamp = c.ClientTimestamp.Add(time.Hour)
	upd.ClaimedParentHash = e1.SignatureHash

	e2 := mustAppend(t, s, upd)
	if e2.ParentAuditID == nil || *e2.ParentAuditID != e1.AuditID {
		t.Errorf("e2 parent: got %v, want %d", e2.ParentAuditID, e1.AuditID)
	}
	if !ledger.VerifySignature(e2, e1.SignatureHash) {
		t.Error("e2 signature does not verify against e1's signature")
	}
}

func TestAppend_staleParentConflict(t *testing.T) {
	s := ledger.NewMemoryStore()
	c := validCandidate()
	e1 := mustAppend(t, s, c)

	upd := validCandidate()
	upd.EventUUID = c.EventUUID
	upd.Operation = ledger.OpUpdate
	upd.ClientTimestamp = c.ClientTimestamp.Add(time.Hour)
	upd.ClaimedParentHash = e1.SignatureHash
	e2 := mustAppend(t, s, upd)

	// A second device also built against e1's hash; the head has moved on.
	stale := validCandidate()
	stale.EventUUID = c.EventUUID
	stale.Operation = ledger.OpUpdate
	stale.Data = json.RawMessage(`{"severity":"severe"}`)
	stale.DeviceInfo = "android/14 device-xyz"
	stale.ClientTimestamp = c.ClientTimestamp.Add(30 * time.Minute)
	stale.ClaimedParentHash = e1.SignatureHash

	_, err := s.Append(ctx, stale)
	var conflict *ledger.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.HeadAuditID != e2.AuditID {
		t.Errorf("conflict head: got %d, want %d", conflict.HeadAuditID, e2.AuditID)
	}

	// Nothing written: the chain still has two entries.
	chain, err := s.GetChain(ctx, c.EventUUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chain) != 2 {
		t.Errorf("chain length after rejected append: got %d, want 2", len(chain))
	}
}

func TestAppend_newChainWithBogusParentConflicts(t *testing.T) {
	s := ledger.NewMemoryStore()
	c := validCandidate()
	c.ClaimedParentHash = "deadbeef"

	_, err := s.Append(ctx, c)
	var conflict *ledger.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
}

func TestAppend_idempotentRetry(t *testing.T) {
	s := ledger.NewMemoryStore()
	c := validCandidate()

	first, err := s.Append(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	retry, err := s.Append(ctx, c)
	if err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if !retry.Duplicate {
		t.Error("retry not flagged as duplicate")
	}
	if retry.Entry.AuditID != first.Entry.AuditID {
		t.Errorf("retry returned audit_id %d, want original %d", retry.Entry.AuditID, first.Entry.AuditID)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("retry created a new row: count=%d", n)
	}
}

func TestAppend_concurrentSameParent_exactlyOneWins(t *testing.T) {
	s := ledger.NewMemoryStore()
	base := validCandidate()
	e1 := mustAppend(t, s, base)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		cand := validCandidate()
		cand.EventUUID = base.EventUUID
		cand.Operation = ledger.OpUpdate
		cand.DeviceInfo = string(rune('a'+i)) + "-device"
		cand.ClientTimestamp = base.ClientTimestamp.Add(time.Duration(i+1) * time.Minute)
		cand.ClaimedParentHash = e1.SignatureHash

		wg.Add(1)
		go func(i int, cand *ledger.Candidate) {
			defer wg.Done()
			_, results[i] = s.Append(ctx, cand)
		}(i, cand)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.As(err, new(*ledger.ConflictError)):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winning appends: got %d, want exactly 1", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts: got %d, want %d", conflicts, racers-1)
	}
}

func TestVerifyEntry_trueAfterCommit(t *testing.T) {
	s := ledger.NewMemoryStore()
	e := mustAppend(t, s, validCandidate())

	ok, err := ledger.VerifyEntry(ctx, s, e.AuditID)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("freshly committed entry failed verification")
	}
}

func TestVerifyChain_detectsBrokenLink(t *testing.T) {
	s := ledger.NewMemoryStore()
	c := validCandidate()
	e1 := mustAppend(t, s, c)

	upd := validCandidate()
	upd.EventUUID = c.EventUUID
	upd.Operation = ledger.OpUpdate
	upd.ClientTimestamp = c.ClientTimestamp.Add(time.Hour)
	upd.ClaimedParentHash = e1.SignatureHash
	e2 := mustAppend(t, s, upd)

	results, err := ledger.VerifyChain(ctx, s, c.EventUUID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if !r.Valid {
			t.Errorf("entry %d invalid on untampered chain: %s", r.AuditID, r.Detail)
		}
	}

	// Simulate out-of-band tampering: mutate stored payload in place.
	e2.Data = json.RawMessage(`{"severity":"tampered"}`)
	results, err = ledger.VerifyChain(ctx, s, c.EventUUID)
	if err != nil {
		t.Fatal(err)
	}
	if results[1].Valid {
		t.Error("tampered entry passed chain verification")
	}
}

func TestVerifyBatch_summary(t *testing.T) {
	s := ledger.NewMemoryStore()
	for i := 0; i < 3; i++ {
		mustAppend(t, s, validCandidate())
	}

	sum, err := ledger.VerifyBatch(ctx, s, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Checked != 3 || sum.Valid != 3 || sum.Invalid != 0 {
		t.Errorf("summary: checked=%d valid=%d invalid=%d", sum.Checked, sum.Valid, sum.Invalid)
	}
}

func TestVerifyBatch_cancellation(t *testing.T) {
	s := ledger.NewMemoryStore()
	mustAppend(t, s, validCandidate())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.VerifyBatch(cancelled, s, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSequenceGaps_emptyOnFreshLedger(t *testing.T) {
	s := ledger.NewMemoryStore()
	gaps, err := s.SequenceGaps(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(gaps) != 0 {
		t.Errorf("fresh ledger reported gaps: %v", gaps)
	}

	mustAppend(t, s, validCandidate())
	mustAppend(t, s, validCandidate())
	gaps, _ = s.SequenceGaps(ctx)
	if len(gaps) != 0 {
		t.Errorf("contiguous ledger reported gaps: %v", gaps)
	}
}

func TestGetChain_unknownEvent(t *testing.T) {
	s := ledger.NewMemoryStore()
	if _, err := s.GetChain(ctx, uuid.New()); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
