package notice

import (
	"context"
	"sync"

	"herald/internal/storage"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// RingFunc surfaces one alarm to the user (audible alert). Latency-sensitive
// and fire-and-forget: errors are logged, never retried.
type RingFunc func(ctx context.Context, n store.Notification) error

// Alarms handles alarm.fired notifications outside the queue: an alarm must
// ring immediately, not wait behind navigation effects or the busy gate.
//
// Only one alarm is ever active at a time in this design, so idempotency is
// a single last-handled id rather than a key set.
type Alarms struct {
	mu     sync.Mutex
	lastID int64
	loaded bool

	ring    RingFunc
	persist storage.Store // optional
	log     logx.Logger
}

func NewAlarms(ring RingFunc, persist storage.Store, log logx.Logger) *Alarms {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Alarms{ring: ring, persist: persist, log: log}
}

// Sync rings for the most recent unread alarm notification, once per id.
// Content no-op upserts never reach here (the store suppresses them), and
// the id check covers redeliveries that do.
func (a *Alarms) Sync(ctx context.Context, items []store.Notification) {
	var hit *store.Notification
	for i := range items {
		n := items[i]
		if n.EventType == store.EventAlarmFired && !n.IsRead {
			hit = &n
			break // items are most-recent-first
		}
	}
	if hit == nil {
		return
	}

	a.mu.Lock()
	a.loadLocked(ctx)
	if hit.ID == a.lastID {
		a.mu.Unlock()
		return
	}
	a.lastID = hit.ID
	a.mu.Unlock()

	if a.persist != nil {
		if err := a.persist.SetLastAlarm(ctx, hit.ID); err != nil {
			a.log.Debug("last alarm persist failed", logx.Err(err))
		}
	}

	if a.ring == nil {
		return
	}
	if err := a.ring(ctx, *hit); err != nil {
		a.log.Warn("alarm alert failed",
			logx.Int64("notification_id", hit.ID), logx.Err(err))
	} else {
		a.log.Info("alarm alert fired", logx.Int64("notification_id", hit.ID))
	}
}

func (a *Alarms) loadLocked(ctx context.Context) {
	if a.loaded {
		return
	}
	a.loaded = true
	if a.persist == nil {
		return
	}
	if id, ok, err := a.persist.LastAlarm(ctx); err == nil && ok {
		a.lastID = id
	}
}
