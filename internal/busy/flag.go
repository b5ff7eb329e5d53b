// Package busy holds the shared interaction-state flag.
//
// The interaction surface (conversation loading, an agent run in progress,
// speech capture, unsent draft text) is the only writer. The notice queue is
// a reader: it must never dispatch an effect while the flag is raised.
//
// The flag is an explicit shared object passed by reference into both sides,
// not ambient global state. Subscribers observe transitions only.
package busy

import (
	"sync"
	"sync/atomic"
)

// Flag is a process-wide observable boolean.
//
// Set is non-blocking; slow subscribers may miss intermediate flips but
// always observe the latest value via Get.
type Flag struct {
	mu   sync.RWMutex
	val  bool
	subs map[uint64]chan bool
	seq  atomic.Uint64
}

func NewFlag() *Flag {
	return &Flag{subs: map[uint64]chan bool{}}
}

// Get returns the current value.
func (f *Flag) Get() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.val
}

// Set stores v and, on a transition, notifies subscribers without blocking.
func (f *Flag) Set(v bool) {
	f.mu.Lock()
	if f.val == v {
		f.mu.Unlock()
		return
	}
	f.val = v
	chs := make([]chan bool, 0, len(f.subs))
	for _, ch := range f.subs {
		chs = append(chs, ch)
	}
	f.mu.Unlock()

	for _, ch := range chs {
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- v:
			default:
				// Drop the stale edge and push the newest value instead.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- v:
				default:
				}
			}
		}()
	}
}

// Subscribe registers a buffered transition channel.
// The returned func unsubscribes and closes the channel; it is idempotent.
func (f *Flag) Subscribe(buffer int) (<-chan bool, func()) {
	if buffer <= 0 {
		buffer = 4
	}
	ch := make(chan bool, buffer)
	id := f.seq.Add(1)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
