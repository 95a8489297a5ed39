package bridge

import (
	"sort"
	"sync"

	"github.com/danmuck/peerlink/internal/observability"
)

type slotKey struct {
	tag string
	key string
}

type slot struct {
	waiter *Waiter
	event  string
}

// Outcome is the registry's answer to TryGetOrAdd. Exactly one of Waiter,
// Existing and WaitFirst is set.
type Outcome struct {
	// Added is false only when joining an identical pending call.
	Added bool
	// Waiter is a fresh waiter owned by the caller, who must arm the
	// listener and emit the trigger. The owner is already attached.
	Waiter *Waiter
	// Existing is the identical pending call to await. The caller is
	// already attached to it.
	Existing *Waiter
	// WaitFirst must settle before the caller retries.
	WaitFirst *Waiter
}

// PendingCall describes one registered waiter.
type PendingCall struct {
	Tag      string
	Key      string
	Event    string
	Attached int
}

// Registry maps (result type, call key) to the in-flight waiter and keeps
// at most one owner per completion event name.
type Registry struct {
	mu     sync.Mutex
	slots  map[slotKey]slot
	owners map[string]slotKey
}

func NewRegistry() *Registry {
	return &Registry{
		slots:  make(map[slotKey]slot),
		owners: make(map[string]slotKey),
	}
}

// TryGetOrAdd registers a waiter for (tag, key) listening on event, or
// reports what the caller must wait for instead.
func (r *Registry) TryGetOrAdd(tag, key, event string) Outcome {
	k := slotKey{tag: tag, key: key}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[k]; ok {
		switch {
		case s.event == event && s.waiter.attach():
			return Outcome{Added: false, Existing: s.waiter}
		case s.waiter.settled():
			// abandoned or answered, its DoneWith has not run yet
			r.dropLocked(k, s.event)
		default:
			return Outcome{Added: true, WaitFirst: s.waiter}
		}
	}
	if owner, ok := r.owners[event]; ok {
		s := r.slots[owner]
		if !s.waiter.settled() {
			// same completion event, different arguments or result type
			return Outcome{Added: true, WaitFirst: s.waiter}
		}
		r.dropLocked(owner, event)
	}

	w := newWaiter()
	r.slots[k] = slot{waiter: w, event: event}
	r.owners[event] = k
	observability.SetWaitersInFlight(len(r.slots))
	return Outcome{Added: true, Waiter: w}
}

// DoneWith removes (tag, key) only while it still maps to w under event.
// A stale completion therefore never evicts a newer waiter.
func (r *Registry) DoneWith(tag, key, event string, w *Waiter) bool {
	k := slotKey{tag: tag, key: key}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[k]
	if !ok || s.waiter != w || s.event != event {
		return false
	}
	r.dropLocked(k, event)
	return true
}

func (r *Registry) dropLocked(k slotKey, event string) {
	delete(r.slots, k)
	if r.owners[event] == k {
		delete(r.owners, event)
	}
	observability.SetWaitersInFlight(len(r.slots))
}

// FailAll faults and removes every waiter.
func (r *Registry) FailAll(err error) int {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[slotKey]slot)
	r.owners = make(map[string]slotKey)
	observability.SetWaitersInFlight(0)
	r.mu.Unlock()
	for _, s := range slots {
		s.waiter.Fail(err)
	}
	return len(slots)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func (r *Registry) Pending() []PendingCall {
	r.mu.Lock()
	out := make([]PendingCall, 0, len(r.slots))
	waiters := make([]*Waiter, 0, len(r.slots))
	for k, s := range r.slots {
		out = append(out, PendingCall{Tag: k.tag, Key: k.key, Event: s.event})
		waiters = append(waiters, s.waiter)
	}
	r.mu.Unlock()
	for i, w := range waiters {
		out[i].Attached = w.Attached()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key == out[j].Key {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Key < out[j].Key
	})
	return out
}
