package policy_test

import (
	"context"
	"testing"
	"time"

	"github.com/clinchain/clinledger/internal/policy"
	"go.uber.org/zap"
)

var ctx = context.Background()

func newEngine() (*policy.Engine, *policy.MemorySecurityLog) {
	seclog := policy.NewMemorySecurityLog()
	return policy.NewEngine(seclog, zap.NewNop()), seclog
}

func TestCanAccess_ruleMatrix(t *testing.T) {
	e, _ := newEngine()

	patient := policy.Actor{ID: "u1", Role: policy.RoleUser, PatientID: "PT-001"}
	investigator := policy.Actor{ID: "i1", Role: policy.RoleInvestigator, SiteIDs: []string{"SITE-A", "SITE-B"}}
	analyst := policy.Actor{ID: "an1", Role: policy.RoleAnalyst, SiteIDs: []string{"SITE-A"}}
	admin := policy.Actor{ID: "ad1", Role: policy.RoleAdministrator}
	auditor := policy.Actor{ID: "au1", Role: policy.RoleAuditor}

	tests := []struct {
		name    string
		actor   policy.Actor
		patient string
		site    string
		action  policy.Action
		want    bool
	}{
		{"user reads own record", patient, "PT-001", "SITE-A", policy.ActionRead, true},
		{"user writes own record", patient, "PT-001", "SITE-A", policy.ActionWrite, true},
		{"user denied other patient", patient, "PT-002", "SITE-A", policy.ActionRead, false},
		{"user denied compliance", patient, "PT-001", "SITE-A", policy.ActionCompliance, false},

		{"investigator writes in scope", investigator, "PT-002", "SITE-B", policy.ActionWrite, true},
		{"investigator reads in scope", investigator, "PT-009", "SITE-A", policy.ActionRead, true},
		{"investigator denied out of scope", investigator, "PT-002", "SITE-C", policy.ActionRead, false},

		{"analyst reads in scope", analyst, "PT-002", "SITE-A", policy.ActionRead, true},
		{"analyst denied write", analyst, "PT-002", "SITE-A", policy.ActionWrite, false},
		{"analyst denied out of scope", analyst, "PT-002", "SITE-B", policy.ActionRead, false},

		{"admin writes anywhere", admin, "PT-002", "SITE-C", policy.ActionWrite, true},
		{"admin reads compliance", admin, "", "", policy.ActionCompliance, true},

		{"auditor reads anywhere", auditor, "PT-002", "SITE-C", policy.ActionRead, true},
		{"auditor reads compliance", auditor, "", "", policy.ActionCompliance, true},
		{"auditor denied write", auditor, "PT-002", "SITE-C", policy.ActionWrite, false},

		{"unknown role denied", policy.Actor{ID: "x", Role: "superuser"}, "PT-001", "SITE-A", policy.ActionRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.CanAccess(ctx, tt.actor, tt.patient, tt.site, tt.action)
			if d.Allowed != tt.want {
				t.Errorf("allowed=%v want %v (reason %q)", d.Allowed, tt.want, d.Reason)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("denial without reason")
			}
		})
	}
}

func TestCanAccess_denialRecordedToSecurityStream(t *testing.T) {
	e, seclog := newEngine()

	actor := policy.Actor{ID: "u1", Role: policy.RoleUser, PatientID: "PT-001"}
	e.CanAccess(ctx, actor, "PT-999", "SITE-A", policy.ActionRead)
	e.CanAccess(ctx, actor, "PT-001", "SITE-A", policy.ActionRead) // allowed, not recorded

	events, err := seclog.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("security events: got %d, want 1", len(events))
	}
	if events[0].ActorID != "u1" || events[0].PatientID != "PT-999" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestTokenIssuer_roundTrip(t *testing.T) {
	issuer := policy.NewTokenIssuer([]byte("test-secret"), "https://ledger.example.org", time.Minute)

	actor := policy.Actor{
		ID:      "i1",
		Role:    policy.RoleInvestigator,
		SiteIDs: []string{"SITE-A"},
	}
	tok, err := issuer.Issue(actor)
	if err != nil {
		t.Fatal(err)
	}

	got, err := issuer.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != actor.ID || got.Role != actor.Role {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.SiteIDs) != 1 || got.SiteIDs[0] != "SITE-A" {
		t.Errorf("site scope lost: %v", got.SiteIDs)
	}
}

func TestTokenIssuer_rejectsForgedToken(t *testing.T) {
	issuer := policy.NewTokenIssuer([]byte("real-secret"), "https://ledger.example.org", time.Minute)
	forger := policy.NewTokenIssuer([]byte("wrong-secret"), "https://ledger.example.org", time.Minute)

	tok, err := forger.Issue(policy.Actor{ID: "x", Role: policy.RoleAdministrator})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := issuer.Verify(tok); err == nil {
		t.Error("token signed with wrong secret accepted")
	}
}
