// Package notice turns unread notifications into at-most-once side effects.
//
// A notice is a queued intent: "exactly one effect should fire for this
// notification". Derivation is idempotent and may run any number of times;
// the dedup key, a deterministic function of (event_type, id, created_at),
// guarantees a notification never produces two notices. Dispatch is strictly
// serialized and gated on the shared busy flag so effects never interrupt
// the user mid-interaction.
package notice

import (
	"context"
	"strconv"

	"herald/internal/identity"
	"herald/internal/store"
)

// Kind classifies a notice. Kinds have independent idempotency domains.
type Kind string

const (
	// KindApprovalNeeded routes the viewer to the approvals conversation for
	// a request they have authority to decide.
	KindApprovalNeeded Kind = "approval_request_created"

	// KindResultAvailable surfaces the outcome of a request the viewer was
	// involved in (as requester or decider).
	KindResultAvailable Kind = "permission_request_decided"
)

// Notice is a derived, ephemeral intent. It is never persisted; only its
// dedup key is.
type Notice struct {
	Kind           Kind
	DedupKey       string
	Value          string
	NotificationID int64
}

// Handler performs the side effect for one notice. Implementations must be
// idempotent per notice value: the queue guarantees at most one dispatch
// attempt per dedup key, but a handler may be re-driven after a failure.
type Handler func(ctx context.Context, n Notice) error

// dedupKey is the idempotency identity of a notification:
// "<event_type>:<id>:<created_at>".
func dedupKey(n store.Notification) string {
	return n.EventType + ":" + strconv.FormatInt(n.ID, 10) + ":" + n.CreatedAt
}

// token is the opaque correlation value handed to effect handlers, e.g.
// appended to a navigation target: "<kind>:<id>:<created_at>".
func token(kind Kind, n store.Notification) string {
	return string(kind) + ":" + strconv.FormatInt(n.ID, 10) + ":" + n.CreatedAt
}

// classify maps a notification to its notice kind for the given viewer, or
// ("", false) when it qualifies for none.
func classify(viewer identity.Viewer, n store.Notification) (Kind, bool) {
	if n.IsRead {
		return "", false
	}
	switch n.EventType {
	case store.EventRequestCreated:
		if viewerCanDecide(viewer, n) {
			return KindApprovalNeeded, true
		}
	case store.EventRequestApproved, store.EventRequestRejected:
		return KindResultAvailable, true
	}
	return "", false
}

// viewerCanDecide reports whether the viewer has authority over the request:
// blanket approval authority, or a delegation addressed to them personally.
func viewerCanDecide(viewer identity.Viewer, n store.Notification) bool {
	if viewer.CanApprove() {
		return true
	}
	kind, _ := n.PayloadString("request_kind")
	if kind != "delegation" {
		return false
	}
	target, ok := n.PayloadInt64("target_user_id")
	return ok && viewer.UserID != 0 && target == viewer.UserID
}
