package timeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/KafClaw/NetClaw/internal/approval"
	"github.com/KafClaw/NetClaw/internal/policy"
)

func newTestTimeline(t *testing.T) *TimelineService {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	svc, err := NewTimelineService(dbPath)
	if err != nil {
		t.Fatalf("failed to create timeline service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func newRecordingStore(t *testing.T, svc *TimelineService) *approval.Store {
	t.Helper()
	store := approval.NewStore(approval.Options{TTL: time.Minute, Recorder: svc})
	t.Cleanup(store.Close)
	return store
}

func TestActionLifecycleIsRecorded(t *testing.T) {
	svc := newTestTimeline(t)
	store := newRecordingStore(t, svc)

	action, err := store.Create(approval.Request{
		ToolName:    "set_wlan_enabled",
		Arguments:   map[string]any{"wlan_id": "w1", "enabled": false},
		Tier:        policy.Dangerous,
		Description: "Disable WLAN w1",
		RequestedBy: "U1",
		Origin:      approval.Origin{Channel: "slack", ChatID: "C1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Approve(action.Token, "U1"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := store.Consume(action.Token); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := store.Complete(action.Token, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	tokenID := approval.Fingerprint(action.Token)
	rec, err := svc.GetAction(tokenID)
	if err != nil || rec == nil {
		t.Fatalf("get action: %v %v", rec, err)
	}
	if rec.Status != string(approval.StatusExecuted) {
		t.Errorf("status = %s, want executed", rec.Status)
	}
	if rec.Tier != "dangerous" || rec.ToolName != "set_wlan_enabled" || rec.Channel != "slack" || rec.ChatID != "C1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.ResolvedBy != "U1" {
		t.Errorf("resolved_by = %q", rec.ResolvedBy)
	}
	if rec.Arguments != `{"enabled":false,"wlan_id":"w1"}` {
		t.Errorf("arguments = %s", rec.Arguments)
	}

	transitions, err := svc.ListTransitions(tokenID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	var got []string
	for _, tr := range transitions {
		got = append(got, tr.FromStatus+">"+tr.ToStatus)
	}
	if len(got) < 3 || got[0] != ">pending" || got[len(got)-1] != "approved>executed" {
		t.Errorf("transitions = %v", got)
	}
}

func TestRawTokenIsNeverStored(t *testing.T) {
	svc := newTestTimeline(t)
	store := newRecordingStore(t, svc)

	action, err := store.Create(approval.Request{ToolName: "client_command", Tier: policy.Moderate})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var n int
	if err := svc.DB().QueryRow(`SELECT COUNT(*) FROM actions WHERE token_id = ?`, action.Token).Scan(&n); err != nil {
		t.Fatalf("query: %v", err)
	}
	if n != 0 {
		t.Fatalf("raw token found in actions table")
	}
}

func TestExpireStalePending(t *testing.T) {
	svc := newTestTimeline(t)
	store := newRecordingStore(t, svc)

	waiting, _ := store.Create(approval.Request{ToolName: "device_command", Tier: policy.Dangerous})
	critical, _ := store.Create(approval.Request{ToolName: "device_command", Tier: policy.Critical})
	approved, _ := store.Create(approval.Request{ToolName: "client_command", Tier: policy.Moderate})
	if _, err := store.Approve(approved.Token, ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	denied, _ := store.Create(approval.Request{ToolName: "client_command", Tier: policy.Moderate})
	if _, err := store.Deny(denied.Token, "U2"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	n, err := svc.ExpireStalePending(time.Now())
	if err != nil {
		t.Fatalf("expire stale: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 stale actions, got %d", n)
	}

	want := map[string]string{
		waiting.Token:  "expired",
		critical.Token: "expired",
		approved.Token: "expired",
		denied.Token:   "denied",
	}
	for token, status := range want {
		rec, err := svc.GetAction(approval.Fingerprint(token))
		if err != nil || rec == nil {
			t.Fatalf("get action: %v", err)
		}
		if rec.Status != status {
			t.Errorf("%s: status = %s, want %s", rec.TokenID, rec.Status, status)
		}
		if status != "denied" && rec.Reason != approval.ReasonRestart {
			t.Errorf("%s: reason = %q", rec.TokenID, rec.Reason)
		}
	}

	again, err := svc.ExpireStalePending(time.Now())
	if err != nil || again != 0 {
		t.Fatalf("second pass: n=%d err=%v", again, err)
	}
}

func TestListActionsFilter(t *testing.T) {
	svc := newTestTimeline(t)
	store := newRecordingStore(t, svc)

	for i := 0; i < 3; i++ {
		if _, err := store.Create(approval.Request{ToolName: "set_wlan_enabled", Tier: policy.Dangerous}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	a, _ := store.Create(approval.Request{ToolName: "client_command", Tier: policy.Moderate})
	if _, err := store.Deny(a.Token, "U1"); err != nil {
		t.Fatalf("deny: %v", err)
	}

	all, err := svc.ListActions(FilterArgs{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 actions, got %d", len(all))
	}

	denied, err := svc.ListActions(FilterArgs{Status: "denied"})
	if err != nil {
		t.Fatalf("list denied: %v", err)
	}
	if len(denied) != 1 || denied[0].ToolName != "client_command" {
		t.Fatalf("unexpected denied list: %+v", denied)
	}

	page, err := svc.ListActions(FilterArgs{Tool: "set_wlan_enabled", Limit: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}

	counts, err := svc.CountByStatus()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["pending"] != 3 || counts["denied"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGetActionMissing(t *testing.T) {
	svc := newTestTimeline(t)
	rec, err := svc.GetAction("nope")
	if err != nil || rec != nil {
		t.Fatalf("expected nil, nil; got %v, %v", rec, err)
	}
}
