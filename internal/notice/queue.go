package notice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"herald/internal/busy"
	"herald/internal/eventbus"
	"herald/internal/identity"
	"herald/internal/storage"
	"herald/internal/store"
	logx "herald/pkg/logx"
)

// DefaultDedupTTL bounds how long consumed dedup keys stay persisted.
// Notifications older than this fall out of the 100-entry window long before
// the key expires.
const DefaultDedupTTL = 30 * 24 * time.Hour

// Queue serializes notice processing.
//
// Invariants:
//   - at most one handler invocation in flight, ever;
//   - a dedup key is recorded as handled the instant its dispatch begins,
//     not when it completes, so a re-derivation racing a slow handler can
//     never produce a second dispatch;
//   - a failed dispatch re-inserts the same notice object at the head, but
//     the key stays consumed (a failed attempt is still an attempt).
type Queue struct {
	mu       sync.Mutex
	pending  []Notice
	handled  map[Kind]map[string]struct{}
	inFlight bool

	handlers map[Kind]Handler

	busy    *busy.Flag
	persist storage.Store // optional
	bus     eventbus.Bus  // optional
	ttl     time.Duration
	log     logx.Logger
}

func NewQueue(flag *busy.Flag, persist storage.Store, bus eventbus.Bus, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		handled:  map[Kind]map[string]struct{}{},
		handlers: map[Kind]Handler{},
		busy:     flag,
		persist:  persist,
		bus:      bus,
		ttl:      DefaultDedupTTL,
		log:      log,
	}
}

// SetDedupTTL overrides the persisted-key lifetime. Call before Start.
func (q *Queue) SetDedupTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	q.mu.Lock()
	q.ttl = ttl
	q.mu.Unlock()
}

// SetHandler binds the effect handler for a kind. Call before Start.
func (q *Queue) SetHandler(kind Kind, h Handler) {
	q.mu.Lock()
	q.handlers[kind] = h
	q.mu.Unlock()
}

// Start watches the busy flag so draining resumes the moment the user goes
// idle. Returns when ctx is done.
func (q *Queue) Start(ctx context.Context) {
	if q.busy == nil {
		return
	}
	ch, unsub := q.busy.Subscribe(4)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			if !v {
				q.drain(ctx)
			}
		}
	}
}

// Sync re-derives notices from the current store snapshot.
// It is idempotent: already-queued and already-handled keys are skipped.
// Call it whenever the store or the viewer identity changes.
func (q *Queue) Sync(ctx context.Context, viewer identity.Viewer, items []store.Notification) {
	q.mu.Lock()
	for _, n := range items {
		kind, ok := classify(viewer, n)
		if !ok {
			continue
		}
		key := dedupKey(n)
		if q.handledLocked(ctx, kind, key) || q.queuedLocked(kind, key) {
			continue
		}
		q.pending = append(q.pending, Notice{
			Kind:           kind,
			DedupKey:       key,
			Value:          token(kind, n),
			NotificationID: n.ID,
		})
		q.log.Debug("notice queued",
			logx.String("kind", string(kind)),
			logx.Int64("notification_id", n.ID))
	}
	q.mu.Unlock()

	q.drain(ctx)
}

// Reset drops all pending notices and in-memory handled keys (session reset,
// e.g. logout). Persisted keys are left alone; they belong to the previous
// session's notifications, which will not be re-derived for a new viewer.
func (q *Queue) Reset() {
	q.mu.Lock()
	q.pending = nil
	q.handled = map[Kind]map[string]struct{}{}
	q.mu.Unlock()
}

// Pending returns the number of queued notices (observability only).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain dispatches the head notice when the queue is non-empty, nothing is
// in flight, and the busy flag is down. Completion re-evaluates, so one call
// drains the whole queue once the conditions hold.
func (q *Queue) drain(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	if q.inFlight || len(q.pending) == 0 || (q.busy != nil && q.busy.Get()) {
		q.mu.Unlock()
		return
	}
	n := q.pending[0]
	q.pending = q.pending[1:]

	// Record-before-process: the key is consumed the instant dispatch
	// begins, even if the handler fails or panics.
	q.markHandledLocked(n.Kind, n.DedupKey)
	h := q.handlers[n.Kind]
	q.inFlight = true
	q.mu.Unlock()

	if q.persist != nil {
		if err := q.persist.PutDedup(ctx, persistKey(n.Kind, n.DedupKey), time.Now().Add(q.ttl)); err != nil {
			q.log.Debug("dedup persist failed", logx.Err(err))
		}
	}

	go q.dispatch(ctx, h, n)
}

func (q *Queue) dispatch(ctx context.Context, h Handler, n Notice) {
	start := time.Now()
	err := runHandler(ctx, h, n)

	q.mu.Lock()
	q.inFlight = false
	if err != nil {
		// Re-drive the same notice object on the next drain cycle. The key
		// stays consumed, so derivation will never recreate it.
		q.pending = append([]Notice{n}, q.pending...)
	}
	more := err == nil && len(q.pending) > 0
	q.mu.Unlock()

	took := time.Since(start)
	if err != nil {
		q.log.Warn("notice dispatch failed; requeued",
			logx.String("kind", string(n.Kind)),
			logx.Int64("notification_id", n.NotificationID),
			logx.Duration("took", took),
			logx.Err(err))
	} else {
		q.log.Info("notice dispatched",
			logx.String("kind", string(n.Kind)),
			logx.Int64("notification_id", n.NotificationID),
			logx.Duration("took", took))
		if q.bus != nil {
			q.bus.Publish(eventbus.Event{Type: eventbus.TypeNoticeDispatched, Data: n})
		}
	}

	if q.persist != nil {
		e := storage.DispatchEntry{
			At:             start,
			Kind:           string(n.Kind),
			DedupKey:       n.DedupKey,
			NotificationID: n.NotificationID,
			Value:          n.Value,
			OK:             err == nil,
			TookMS:         took.Milliseconds(),
		}
		if err != nil {
			e.Error = err.Error()
		}
		if perr := q.persist.AppendDispatch(ctx, e); perr != nil {
			q.log.Debug("dispatch log append failed", logx.Err(perr))
		}
	}

	if more {
		q.drain(ctx)
	}
}

func runHandler(ctx context.Context, h Handler, n Notice) (err error) {
	if h == nil {
		return fmt.Errorf("no handler for kind %q", n.Kind)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, n)
}

func (q *Queue) markHandledLocked(kind Kind, key string) {
	set := q.handled[kind]
	if set == nil {
		set = map[string]struct{}{}
		q.handled[kind] = set
	}
	set[key] = struct{}{}
}

// handledLocked consults the in-memory set first, then the optional durable
// store; a durable hit is cached back into memory.
func (q *Queue) handledLocked(ctx context.Context, kind Kind, key string) bool {
	if _, ok := q.handled[kind][key]; ok {
		return true
	}
	if q.persist == nil {
		return false
	}
	until, ok, err := q.persist.GetDedup(ctx, persistKey(kind, key))
	if err != nil || !ok || until.Before(time.Now()) {
		return false
	}
	q.markHandledLocked(kind, key)
	return true
}

func (q *Queue) queuedLocked(kind Kind, key string) bool {
	for _, p := range q.pending {
		if p.Kind == kind && p.DedupKey == key {
			return true
		}
	}
	return false
}

func persistKey(kind Kind, key string) string {
	return string(kind) + "|" + key
}
