// Package store keeps the client-side mirror of server notifications.
//
// The collection is ordered most-recent-first by arrival, capped, and mutated
// through exactly two operations: Replace (after a reconciliation fetch) and
// Upsert (per push message). Both are content-aware no-ops so downstream
// derivation never re-runs for redundant deliveries.
package store

import (
	"sync"

	"herald/internal/eventbus"
)

// DefaultCapacity matches the reconciliation fetch bound.
const DefaultCapacity = 100

type Store struct {
	mu    sync.Mutex
	items []Notification
	cap   int

	bus eventbus.Bus
}

// New creates an empty store. A nil bus disables change broadcasts.
func New(capacity int, bus eventbus.Bus) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{cap: capacity, bus: bus}
}

// Replace substitutes the whole collection.
// Replacing with identical content publishes nothing.
func (s *Store) Replace(items []Notification) {
	if len(items) > s.cap {
		items = items[:s.cap]
	}

	s.mu.Lock()
	if equalLists(s.items, items) {
		s.mu.Unlock()
		return
	}
	s.items = append(s.items[:0:0], items...)
	s.mu.Unlock()

	s.changed()
}

// Upsert inserts n at the front, or moves an existing id to the front when
// its content changed. A content-identical upsert is a no-op.
func (s *Store) Upsert(n Notification) {
	s.mu.Lock()
	for i, cur := range s.items {
		if cur.ID != n.ID {
			continue
		}
		if cur.ContentEqual(n) {
			s.mu.Unlock()
			return
		}
		// Remove the stale entry; the fresh one goes to the front below.
		s.items = append(s.items[:i], s.items[i+1:]...)
		break
	}

	s.items = append([]Notification{n}, s.items...)
	if len(s.items) > s.cap {
		s.items = s.items[:s.cap]
	}
	s.mu.Unlock()

	s.changed()
}

// Snapshot returns a copy of the current contents, front first.
func (s *Store) Snapshot() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(s.items[:0:0], s.items...)
}

// Len returns the current entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Clear drops all entries (session reset). Publishes a change if non-empty.
func (s *Store) Clear() {
	s.mu.Lock()
	if len(s.items) == 0 {
		s.mu.Unlock()
		return
	}
	s.items = nil
	s.mu.Unlock()

	s.changed()
}

func (s *Store) changed() {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationsChanged})
}

func equalLists(a, b []Notification) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].ContentEqual(b[i]) {
			return false
		}
	}
	return true
}
