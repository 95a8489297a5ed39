package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAbandoned settles a waiter whose every caller stopped waiting.
var ErrAbandoned = errors.New("bridge: waiter abandoned by all callers")

// Waiter is a single-assignment future for one in-flight correlated call.
type Waiter struct {
	done chan struct{}
	once sync.Once

	value any
	err   error

	mu       sync.Mutex
	attached int
}

// newWaiter returns a pending waiter with its creator already attached.
func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{}), attached: 1}
}

func (w *Waiter) settle(v any, err error) bool {
	settled := false
	w.once.Do(func() {
		w.value = v
		w.err = err
		settled = true
		close(w.done)
	})
	return settled
}

// Resolve fulfils w with v. Only the first settle wins.
func (w *Waiter) Resolve(v any) bool {
	return w.settle(v, nil)
}

// Fail faults w with err. Only the first settle wins.
func (w *Waiter) Fail(err error) bool {
	return w.settle(nil, err)
}

func (w *Waiter) Done() <-chan struct{} {
	return w.done
}

// Result returns the settled outcome; callers must wait on Done first.
func (w *Waiter) Result() (any, error) {
	<-w.done
	return w.value, w.err
}

// Wait blocks until w settles or ctx ends. It never changes w.
func (w *Waiter) Wait(ctx context.Context) (any, error) {
	select {
	case <-w.done:
		return w.value, w.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *Waiter) settled() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// attach adds a caller. It refuses once w has settled, so nobody joins a
// waiter that its last caller already abandoned.
func (w *Waiter) attach() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settled() {
		return false
	}
	w.attached++
	return true
}

// detach drops one caller. With a non-nil cause, when it was the last one
// and w is still pending, w is failed with ErrAbandoned and detach reports true.
func (w *Waiter) detach(cause error) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attached--
	if w.attached > 0 || cause == nil {
		return false
	}
	return w.Fail(fmt.Errorf("%w: %w", ErrAbandoned, cause))
}

// Attached reports how many callers are currently awaiting w.
func (w *Waiter) Attached() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attached
}
