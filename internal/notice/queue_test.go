package notice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"herald/internal/busy"
	"herald/internal/identity"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// recorder counts dispatches and lets tests block or fail the handler.
type recorder struct {
	mu     sync.Mutex
	calls  []Notice
	err    error
	gate   chan struct{} // when non-nil, handler blocks until closed
	fired  chan Notice
	failed int
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan Notice, 16)}
}

func (r *recorder) handler(ctx context.Context, n Notice) error {
	r.mu.Lock()
	gate := r.gate
	err := r.err
	r.calls = append(r.calls, n)
	if err != nil {
		r.failed++
		r.err = nil // fail once
	}
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	r.fired <- n
	return err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func waitPending(t *testing.T, q *Queue, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for q.Pending() != want {
		if time.Now().After(deadline) {
			t.Fatalf("pending = %d, want %d", q.Pending(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitFired(t *testing.T, r *recorder) Notice {
	t.Helper()
	select {
	case n := <-r.fired:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return Notice{}
	}
}

func approvalItems() []store.Notification {
	return []store.Notification{{
		ID:        42,
		EventType: store.EventRequestCreated,
		CreatedAt: "T1",
	}}
}

func approver() identity.Viewer {
	return identity.NewViewer(7, []string{identity.PermApprove})
}

func TestSyncDispatchesOncePerDedupKey(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	q := NewQueue(nil, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, rec.handler)

	q.Sync(ctx, approver(), approvalItems())
	got := waitFired(t, rec)
	if got.Value != "approval_request_created:42:T1" || got.NotificationID != 42 {
		t.Fatalf("dispatched %+v", got)
	}

	// Re-deriving from the same snapshot (reconcile, unrelated change) must
	// not fire again: the key was consumed.
	q.Sync(ctx, approver(), approvalItems())
	q.Sync(ctx, approver(), approvalItems())

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("dispatch count = %d, want 1", rec.count())
	}
}

func TestBusyFlagGatesDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag := busy.NewFlag()
	flag.Set(true)

	rec := newRecorder()
	q := NewQueue(flag, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, rec.handler)
	go q.Start(ctx)

	q.Sync(ctx, approver(), approvalItems())

	time.Sleep(50 * time.Millisecond)
	if rec.count() != 0 {
		t.Fatal("dispatched while busy flag was raised")
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", q.Pending())
	}

	// Dropping the flag drains the queue.
	flag.Set(false)
	waitFired(t, rec)
	if q.Pending() != 0 {
		t.Fatalf("pending = %d after drain, want 0", q.Pending())
	}
}

func TestSingleFlightWhileHandlerRuns(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	rec.gate = make(chan struct{})

	q := NewQueue(nil, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, rec.handler)
	q.SetHandler(KindResultAvailable, rec.handler)

	items := append(approvalItems(), store.Notification{
		ID:        43,
		EventType: store.EventRequestApproved,
		CreatedAt: "T2",
	})
	q.Sync(ctx, approver(), items)

	// First dispatch is in flight (blocked on the gate); the second notice
	// must wait even though the busy flag is down.
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Fatalf("in-flight dispatches = %d, want 1", rec.count())
	}

	close(rec.gate)
	rec.mu.Lock()
	rec.gate = nil
	rec.mu.Unlock()

	waitFired(t, rec)
	waitFired(t, rec)
	if rec.count() != 2 {
		t.Fatalf("total dispatches = %d, want 2", rec.count())
	}
}

func TestFailedDispatchRequeuesWithConsumedKey(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	rec.err = errors.New("navigation failed")

	q := NewQueue(nil, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, rec.handler)

	q.Sync(ctx, approver(), approvalItems())
	waitFired(t, rec) // failed attempt

	// The notice goes back to the head (the requeue races the handler's
	// return, so poll), but derivation must never duplicate it.
	waitPending(t, q, 1)
	q.Sync(ctx, approver(), approvalItems())
	if p := q.Pending(); p > 1 {
		t.Fatalf("pending = %d after re-sync, want no duplicate", p)
	}

	waitFired(t, rec) // the re-sync drained it; this time it succeeds
	if rec.count() != 2 {
		t.Fatalf("attempts = %d, want 2", rec.count())
	}
	waitPending(t, q, 0)
}

func TestHandlerPanicIsContained(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, func(ctx context.Context, n Notice) error {
		panic("boom")
	})

	q.Sync(ctx, approver(), approvalItems())

	// Panic is converted to a failure: the notice stays queued for a later
	// drain cycle and nothing crashes.
	waitPending(t, q, 1)
}

func TestMissingHandlerKeepsNoticeQueued(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(nil, nil, nil, logx.Nop())

	q.Sync(ctx, approver(), approvalItems())

	// No handler bound: the dispatch fails and the notice waits for a later
	// drain (after a handler is registered).
	waitPending(t, q, 1)
}

func TestResetDropsPendingAndMemory(t *testing.T) {
	ctx := context.Background()
	flag := busy.NewFlag()
	flag.Set(true) // hold dispatches

	rec := newRecorder()
	q := NewQueue(flag, nil, nil, logx.Nop())
	q.SetHandler(KindApprovalNeeded, rec.handler)

	q.Sync(ctx, approver(), approvalItems())
	if q.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", q.Pending())
	}

	q.Reset()
	if q.Pending() != 0 {
		t.Fatalf("pending = %d after reset, want 0", q.Pending())
	}

	// After a session reset the same notification may be derived again.
	flag.Set(false)
	q.Sync(ctx, approver(), approvalItems())
	waitFired(t, rec)
}
