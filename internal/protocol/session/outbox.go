package session

import (
	"sort"
	"sync"
	"time"
)

// PendingEmit tracks one event frame awaiting emit.ack.
type PendingEmit struct {
	MessageID uint64
	Name      string
	QueuedAt  time.Time
}

type pendingSlot struct {
	meta PendingEmit
	ch   chan AckResult
}

// AckResult is what a tracked emit resolves to.
type AckResult struct {
	Ack EmitAck
	Err error
}

// AckOutbox correlates emitted frames with their emit.ack by message id.
type AckOutbox struct {
	mu    sync.Mutex
	items map[uint64]pendingSlot
}

func NewAckOutbox() *AckOutbox {
	return &AckOutbox{
		items: make(map[uint64]pendingSlot),
	}
}

// Track registers messageID and returns a wait function for its ack.
func (o *AckOutbox) Track(item PendingEmit) <-chan AckResult {
	ch := make(chan AckResult, 1)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.MessageID] = pendingSlot{meta: item, ch: ch}
	return ch
}

// Resolve delivers ack for messageID. It reports false for unknown ids.
func (o *AckOutbox) Resolve(messageID uint64, ack EmitAck) bool {
	o.mu.Lock()
	slot, ok := o.items[messageID]
	delete(o.items, messageID)
	o.mu.Unlock()
	if !ok {
		return false
	}
	slot.ch <- AckResult{Ack: ack}
	return true
}

// Remove drops messageID without delivering anything.
func (o *AckOutbox) Remove(messageID uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.items, messageID)
}

// FailAll fails every pending emit with err, e.g. when the connection drops.
func (o *AckOutbox) FailAll(err error) int {
	o.mu.Lock()
	items := o.items
	o.items = make(map[uint64]pendingSlot)
	o.mu.Unlock()
	for _, slot := range items {
		slot.ch <- AckResult{Err: err}
	}
	return len(items)
}

func (o *AckOutbox) List() []PendingEmit {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PendingEmit, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item.meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MessageID < out[j].MessageID
	})
	return out
}
