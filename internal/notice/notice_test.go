package notice

import (
	"encoding/json"
	"testing"

	"herald/internal/identity"
	"herald/internal/store"
)

func delegationNote(id int64, target int64) store.Notification {
	payload, _ := json.Marshal(map[string]any{
		"request_kind":   "delegation",
		"target_user_id": target,
	})
	return store.Notification{
		ID:        id,
		EventType: store.EventRequestCreated,
		Payload:   payload,
		CreatedAt: "T1",
	}
}

func TestClassifyApprovalForBlanketAuthority(t *testing.T) {
	viewer := identity.NewViewer(7, []string{identity.PermApprove})
	n := store.Notification{ID: 42, EventType: store.EventRequestCreated, CreatedAt: "T1"}

	kind, ok := classify(viewer, n)
	if !ok || kind != KindApprovalNeeded {
		t.Fatalf("classify = %q,%v want approval", kind, ok)
	}
	if got := token(kind, n); got != "approval_request_created:42:T1" {
		t.Fatalf("token = %q", got)
	}
}

func TestClassifyApprovalForDelegationTarget(t *testing.T) {
	n := delegationNote(42, 7)

	if kind, ok := classify(identity.NewViewer(7, nil), n); !ok || kind != KindApprovalNeeded {
		t.Fatalf("delegation target: classify = %q,%v", kind, ok)
	}
	if _, ok := classify(identity.NewViewer(9, nil), n); ok {
		t.Fatal("delegation for user 7 classified for viewer 9")
	}
}

func TestClassifyDecisionEvents(t *testing.T) {
	viewer := identity.NewViewer(7, nil)
	for _, typ := range []string{store.EventRequestApproved, store.EventRequestRejected} {
		n := store.Notification{ID: 1, EventType: typ, CreatedAt: "T1"}
		kind, ok := classify(viewer, n)
		if !ok || kind != KindResultAvailable {
			t.Fatalf("%s: classify = %q,%v", typ, kind, ok)
		}
	}
}

func TestClassifySkipsReadAndForeign(t *testing.T) {
	viewer := identity.NewViewer(7, []string{identity.PermApprove})

	read := store.Notification{ID: 1, EventType: store.EventRequestCreated, IsRead: true}
	if _, ok := classify(viewer, read); ok {
		t.Fatal("read notification produced a notice")
	}

	alarm := store.Notification{ID: 2, EventType: store.EventAlarmFired}
	if _, ok := classify(viewer, alarm); ok {
		t.Fatal("alarm classified as queue notice (alarms bypass the queue)")
	}

	unknown := store.Notification{ID: 3, EventType: "billing.invoice"}
	if _, ok := classify(viewer, unknown); ok {
		t.Fatal("unknown event type produced a notice")
	}
}

func TestDedupKeyIsStablePerNotification(t *testing.T) {
	n := store.Notification{ID: 42, EventType: store.EventRequestCreated, CreatedAt: "T1"}
	if got := dedupKey(n); got != "permission.request.created:42:T1" {
		t.Fatalf("dedupKey = %q", got)
	}
	// Read-flag changes must not alter the identity.
	n.IsRead = true
	if got := dedupKey(n); got != "permission.request.created:42:T1" {
		t.Fatalf("dedupKey after read = %q", got)
	}
}
