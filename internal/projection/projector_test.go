package projection_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/clinchain/clinledger/internal/projection"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ctx = context.Background()

func entry(id int64, event uuid.UUID, op ledger.Operation, data string, parent *int64) *ledger.Entry {
	return &ledger.Entry{
		AuditID:         id,
		EventUUID:       event,
		Operation:       op,
		Data:            json.RawMessage(data),
		CreatedBy:       "inv-1",
		ServerTimestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute),
		ParentAuditID:   parent,
	}
}

func ref(v int64) *int64 { return &v }

func TestApply_create(t *testing.T) {
	ev := uuid.New()
	s, err := projection.Apply(nil, entry(1, ev, ledger.OpCreate, `{"severity":"mild","site":"A"}`, nil))
	if err != nil {
		t.Fatal(err)
	}
	if s.CurrentData["severity"] != "mild" {
		t.Errorf("severity: got %v", s.CurrentData["severity"])
	}
	if s.HeadAuditID != 1 {
		t.Errorf("head: got %d", s.HeadAuditID)
	}
}

func TestApply_updateDeepMerges(t *testing.T) {
	ev := uuid.New()
	s, _ := projection.Apply(nil, entry(1, ev, ledger.OpCreate,
		`{"severity":"mild","vitals":{"pulse":70,"bp":"120/80"}}`, nil))

	s2, err := projection.Apply(s, entry(2, ev, ledger.OpUpdate,
		`{"vitals":{"pulse":82}}`, ref(1)))
	if err != nil {
		t.Fatal(err)
	}

	vitals := s2.CurrentData["vitals"].(map[string]any)
	if vitals["pulse"] != float64(82) {
		t.Errorf("pulse not updated: %v", vitals["pulse"])
	}
	if vitals["bp"] != "120/80" {
		t.Errorf("unchanged sibling field lost: %v", vitals["bp"])
	}
	if s2.CurrentData["severity"] != "mild" {
		t.Error("top-level field lost in merge")
	}

	// Purity: the input state is untouched.
	if s.CurrentData["vitals"].(map[string]any)["pulse"] != float64(70) {
		t.Error("Apply mutated its input")
	}
}

func TestApply_annotatePreservesPrimaryFields(t *testing.T) {
	ev := uuid.New()
	s, _ := projection.Apply(nil, entry(1, ev, ledger.OpCreate, `{"severity":"mild"}`, nil))
	s2, err := projection.Apply(s, entry(2, ev, ledger.OpAnnotate,
		`{"text":"patient reported at visit"}`, ref(1)))
	if err != nil {
		t.Fatal(err)
	}
	if s2.CurrentData["severity"] != "mild" {
		t.Error("annotate altered a primary field")
	}
	notes := s2.CurrentData["_annotations"].([]any)
	if len(notes) != 1 {
		t.Fatalf("annotations: got %d, want 1", len(notes))
	}
}

func TestApply_archiveSetsTombstone(t *testing.T) {
	ev := uuid.New()
	s, _ := projection.Apply(nil, entry(1, ev, ledger.OpCreate, `{"severity":"mild"}`, nil))
	s2, err := projection.Apply(s, entry(2, ev, ledger.OpArchive, `{}`, ref(1)))
	if err != nil {
		t.Fatal(err)
	}
	if !s2.Archived {
		t.Error("archive did not set tombstone")
	}
	if s2.CurrentData["severity"] != "mild" {
		t.Error("archive altered data")
	}
}

func TestApply_resolveConflictReplacesData(t *testing.T) {
	ev := uuid.New()
	s, _ := projection.Apply(nil, entry(1, ev, ledger.OpCreate, `{"severity":"mild"}`, nil))
	s2, err := projection.Apply(s, entry(2, ev, ledger.OpResolveConflict,
		`{"severity":"severe"}`, ref(1)))
	if err != nil {
		t.Fatal(err)
	}
	if s2.CurrentData["severity"] != "severe" {
		t.Errorf("resolution payload not applied: %v", s2.CurrentData["severity"])
	}
}

func TestApply_unknownOperation(t *testing.T) {
	ev := uuid.New()
	if _, err := projection.Apply(nil, entry(1, ev, ledger.Operation("mutate"), `{}`, nil)); err == nil {
		t.Error("unknown operation accepted")
	}
}

// TestRebuild_matchesIncremental submits a realistic chain through the store
// and checks that a full replay is bit-identical to the incrementally
// maintained projection.
func TestRebuild_matchesIncremental(t *testing.T) {
	store := ledger.NewMemoryStore()
	proj := projection.New(store, projection.NewMemoryStateStore(), zap.NewNop())

	ev := uuid.New()
	var parentHash string
	steps := []struct {
		op   ledger.Operation
		data string
	}{
		{ledger.OpCreate, `{"severity":"mild","vitals":{"pulse":70}}`},
		{ledger.OpUpdate, `{"severity":"moderate"}`},
		{ledger.OpAnnotate, `{"text":"confirmed by phone"}`},
		{ledger.OpUpdate, `{"vitals":{"pulse":90}}`},
	}

	var incremental *projection.State
	for i, step := range steps {
		cand := &ledger.Candidate{
			EventUUID:         ev,
			PatientID:         "PT-001",
			SiteID:            "SITE-A",
			Operation:         step.op,
			Data:              json.RawMessage(step.data),
			CreatedBy:         "user-1",
			Role:              "user",
			ClientTimestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Hour),
			ChangeReason:      "diary progression",
			DeviceInfo:        "ios/17.4 device-abc",
			IPAddress:         "203.0.113.9",
			SessionID:         "sess-1",
			ClaimedParentHash: parentHash,
		}
		res, err := store.Append(ctx, cand)
		if err != nil {
			t.Fatalf("step %d append: %v", i, err)
		}
		parentHash = res.Entry.SignatureHash

		if incremental, err = proj.ApplyEntry(ctx, res.Entry); err != nil {
			t.Fatalf("step %d project: %v", i, err)
		}
	}

	rebuilt, err := proj.Rebuild(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}

	got, _ := json.Marshal(rebuilt)
	want, _ := json.Marshal(incremental)
	if string(got) != string(want) {
		t.Errorf("rebuild diverged from incremental projection:\n got: %s\nwant: %s", got, want)
	}
}

func TestCurrent_scenario(t *testing.T) {
	store := ledger.NewMemoryStore()
	proj := projection.New(store, projection.NewMemoryStateStore(), zap.NewNop())

	ev := uuid.New()
	create := &ledger.Candidate{
		EventUUID:       ev,
		PatientID:       "PT-001",
		SiteID:          "SITE-A",
		Operation:       ledger.OpCreate,
		Data:            json.RawMessage(`{"severity":"mild"}`),
		CreatedBy:       "user-1",
		Role:            "user",
		ClientTimestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ChangeReason:    "initial diary entry",
		DeviceInfo:      "ios/17.4 device-abc",
		IPAddress:       "203.0.113.9",
		SessionID:       "sess-1",
	}
	res1, err := store.Append(ctx, create)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := proj.ApplyEntry(ctx, res1.Entry); err != nil {
		t.Fatal(err)
	}

	update := *create
	update.Operation = ledger.OpUpdate
	update.Data = json.RawMessage(`{"severity":"moderate"}`)
	update.ClientTimestamp = create.ClientTimestamp.Add(time.Hour)
	update.ClaimedParentHash = res1.Entry.SignatureHash
	res2, err := store.Append(ctx, &update)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := proj.ApplyEntry(ctx, res2.Entry); err != nil {
		t.Fatal(err)
	}

	state, err := proj.Current(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if state.CurrentData["severity"] != "moderate" {
		t.Errorf("current severity: got %v, want moderate", state.CurrentData["severity"])
	}
	if state.HeadAuditID != res2.Entry.AuditID {
		t.Errorf("head: got %d, want %d", state.HeadAuditID, res2.Entry.AuditID)
	}
}
