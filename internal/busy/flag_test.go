package busy

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for flag transition")
		return false
	}
}

func TestSetNotifiesOnTransitionOnly(t *testing.T) {
	f := NewFlag()
	ch, unsub := f.Subscribe(4)
	defer unsub()

	f.Set(true)
	f.Set(true) // no transition
	f.Set(false)

	if v := recv(t, ch); v != true {
		t.Fatalf("first transition = %v, want true", v)
	}
	if v := recv(t, ch); v != false {
		t.Fatalf("second transition = %v, want false", v)
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra notification %v", v)
	default:
	}
}

func TestGetReflectsLatestValue(t *testing.T) {
	f := NewFlag()
	if f.Get() {
		t.Fatal("zero flag should be false")
	}
	f.Set(true)
	if !f.Get() {
		t.Fatal("Get() = false after Set(true)")
	}
}

func TestSlowSubscriberSeesNewestValue(t *testing.T) {
	f := NewFlag()
	ch, unsub := f.Subscribe(1)
	defer unsub()

	// Fill the buffer, then keep flipping. The stale edge is dropped in
	// favor of the newest value.
	f.Set(true)
	f.Set(false)
	f.Set(true)

	var last bool
	for {
		select {
		case v := <-ch:
			last = v
			continue
		default:
		}
		break
	}
	if last != true {
		t.Fatalf("last observed = %v, want newest value true", last)
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	f := NewFlag()
	ch, unsub := f.Subscribe(1)
	unsub()
	unsub()

	// Channel is closed after unsubscribe.
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}

	// Set must not panic with a closed-but-racing subscriber gone.
	f.Set(true)
}
