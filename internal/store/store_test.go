package store

import (
	"encoding/json"
	"fmt"
	"testing"

	"herald/internal/eventbus"
)

func note(id int64, typ string, read bool) Notification {
	return Notification{
		ID:        id,
		EventType: typ,
		IsRead:    read,
		CreatedAt: fmt.Sprintf("2026-01-0%dT00:00:00Z", id%9+1),
	}
}

func changeCount(bus eventbus.Bus) (*int, func()) {
	n := new(int)
	ch, unsub := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type == eventbus.TypeNotificationsChanged {
				*n++
			}
		}
	}()
	return n, func() {
		unsub()
		<-done
	}
}

func TestReplaceIdenticalContentPublishesNothing(t *testing.T) {
	bus := eventbus.New()
	count, stop := changeCount(bus)

	s := New(10, bus)
	items := []Notification{note(2, EventAlarmFired, false), note(1, EventRequestCreated, false)}
	s.Replace(items)
	s.Replace(items)
	s.Replace(append([]Notification(nil), items...)) // equal content, distinct backing array

	stop()
	if *count != 1 {
		t.Fatalf("change events = %d, want 1", *count)
	}
	if s.Len() != 2 {
		t.Fatalf("len = %d, want 2", s.Len())
	}
}

func TestReplaceTruncatesToCapacity(t *testing.T) {
	s := New(3, nil)
	var items []Notification
	for i := int64(1); i <= 5; i++ {
		items = append(items, note(i, EventRequestCreated, false))
	}
	s.Replace(items)
	snap := s.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len = %d, want 3", len(snap))
	}
	if snap[0].ID != 1 || snap[2].ID != 3 {
		t.Fatalf("kept wrong prefix: %v..%v", snap[0].ID, snap[2].ID)
	}
}

func TestUpsertInsertsAtFront(t *testing.T) {
	s := New(10, nil)
	s.Upsert(note(1, EventRequestCreated, false))
	s.Upsert(note(2, EventRequestApproved, false))

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != 2 || snap[1].ID != 1 {
		t.Fatalf("order = %v, want [2 1]", ids(snap))
	}
}

func TestUpsertContentIdenticalIsNoOp(t *testing.T) {
	bus := eventbus.New()
	count, stop := changeCount(bus)

	s := New(10, bus)
	n := note(1, EventRequestCreated, false)
	s.Upsert(n)
	s.Upsert(n) // redelivery

	stop()
	if *count != 1 {
		t.Fatalf("change events = %d, want 1", *count)
	}
}

func TestUpsertChangedContentMovesToFront(t *testing.T) {
	s := New(10, nil)
	s.Upsert(note(1, EventRequestCreated, false))
	s.Upsert(note(2, EventRequestCreated, false))

	read := note(1, EventRequestCreated, true)
	s.Upsert(read)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("len = %d, want 2", len(snap))
	}
	if snap[0].ID != 1 || !snap[0].IsRead {
		t.Fatalf("front = %+v, want id 1 read", snap[0])
	}
}

func TestUpsertEvictsOldestAtCapacity(t *testing.T) {
	s := New(2, nil)
	s.Upsert(note(1, EventRequestCreated, false))
	s.Upsert(note(2, EventRequestCreated, false))
	s.Upsert(note(3, EventRequestCreated, false))

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].ID != 3 || snap[1].ID != 2 {
		t.Fatalf("order = %v, want [3 2]", ids(snap))
	}
}

func TestClear(t *testing.T) {
	bus := eventbus.New()
	count, stop := changeCount(bus)

	s := New(10, bus)
	s.Clear() // empty clear publishes nothing
	s.Upsert(note(1, EventAlarmFired, false))
	s.Clear()

	stop()
	if s.Len() != 0 {
		t.Fatalf("len = %d, want 0", s.Len())
	}
	if *count != 2 {
		t.Fatalf("change events = %d, want 2", *count)
	}
}

func TestContentEqualComparesPayloadBytes(t *testing.T) {
	a := note(1, EventRequestCreated, false)
	b := a
	a.Payload = json.RawMessage(`{"k":1}`)
	b.Payload = json.RawMessage(`{"k":2}`)
	if a.ContentEqual(b) {
		t.Fatal("differing payloads reported equal")
	}
	b.Payload = json.RawMessage(`{"k":1}`)
	if !a.ContentEqual(b) {
		t.Fatal("identical payloads reported unequal")
	}
}

func TestPayloadAccessors(t *testing.T) {
	n := Notification{Payload: json.RawMessage(`{"target_user_id": 7, "request_kind": "delegation"}`)}
	if id, ok := n.PayloadInt64("target_user_id"); !ok || id != 7 {
		t.Fatalf("PayloadInt64 = %d,%v want 7,true", id, ok)
	}
	if kind, ok := n.PayloadString("request_kind"); !ok || kind != "delegation" {
		t.Fatalf("PayloadString = %q,%v", kind, ok)
	}
	if _, ok := n.PayloadInt64("missing"); ok {
		t.Fatal("missing key reported present")
	}
}

func ids(items []Notification) []int64 {
	out := make([]int64, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}
