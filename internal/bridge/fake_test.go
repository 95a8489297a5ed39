package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/danmuck/peerlink/internal/testutil/peertest"
	"github.com/danmuck/peerlink/internal/transport"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	name string
	args []any
}

// fakeSocket records every call the bridge makes and lets tests deliver
// inbound events by hand.
type fakeSocket struct {
	mu         sync.Mutex
	handlers   map[string]transport.Handler
	ons        map[string]int
	offs       map[string]int
	emits      []emitted
	lifecycle  transport.Lifecycle
	connectErr error
	connects   int
	reconnects int
	state      transport.State

	// gate, when set, runs inside Emit before the send is recorded.
	gate func(ctx context.Context, name string) error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		handlers: make(map[string]transport.Handler),
		ons:      make(map[string]int),
		offs:     make(map[string]int),
		state:    transport.StateUninitialized,
	}
}

func (f *fakeSocket) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		f.state = transport.StateDisconnected
		return f.connectErr
	}
	f.state = transport.StateConnected
	return nil
}

func (f *fakeSocket) Emit(ctx context.Context, name string, args ...any) error {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		if err := gate(ctx, name); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.emits = append(f.emits, emitted{name: name, args: args})
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) On(name string, h transport.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[name] = h
	f.ons[name]++
}

func (f *fakeSocket) Off(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, name)
	f.offs[name]++
}

func (f *fakeSocket) SetLifecycle(l transport.Lifecycle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle = l
}

func (f *fakeSocket) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeSocket) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.StateClosed
	return nil
}

func (f *fakeSocket) handler(name string) transport.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[name]
}

// fire delivers an inbound event to the registered handler, if any.
func (f *fakeSocket) fire(t *testing.T, name string, args ...any) bool {
	t.Helper()
	h := f.handler(name)
	if h == nil {
		return false
	}
	ev, err := session.NewEvent(name, args...)
	require.NoError(t, err)
	h(ev)
	return true
}

func (f *fakeSocket) emitCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emits {
		if e.name == name {
			n++
		}
	}
	return n
}

func (f *fakeSocket) sent() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeSocket) onCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ons[name]
}

func (f *fakeSocket) offCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offs[name]
}

func (f *fakeSocket) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

func (f *fakeSocket) hooks() transport.Lifecycle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lifecycle
}

func fakeFactory(sock *fakeSocket) SocketFactory {
	return func(string) (transport.Socket, error) { return sock, nil }
}

func newTestBridge(t *testing.T, sock *fakeSocket, mutate ...func(*Config)) *Bridge {
	t.Helper()
	cfg := Config{
		HostID:  "host.test",
		Debug:   true,
		Session: peertest.FastSession(),
		Resolve: StaticAddress("fake:1"),
		Factory: fakeFactory(sock),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	b := New(cfg)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

type callResult[T any] struct {
	value T
	err   error
}

func goCall[T any](ctx context.Context, b *Bridge, trigger, completion string, args ...any) <-chan callResult[T] {
	out := make(chan callResult[T], 1)
	go func() {
		v, err := CallContext[T](ctx, b, trigger, completion, args...)
		out <- callResult[T]{value: v, err: err}
	}()
	return out
}

func recv[T any](t *testing.T, ch <-chan callResult[T]) callResult[T] {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("call did not return")
		return callResult[T]{}
	}
}

func pendingAttached(b *Bridge, key string) int {
	for _, p := range b.Pending() {
		if p.Key == key {
			return p.Attached
		}
	}
	return -1
}

// blockPump parks the emit pump inside a send of "slow", so it holds the
// send lock until the returned release runs.
func blockPump(t *testing.T, b *Bridge, sock *fakeSocket) func() {
	t.Helper()
	entered := make(chan struct{})
	release := make(chan struct{})
	sock.mu.Lock()
	sock.gate = func(ctx context.Context, name string) error {
		if name != "slow" {
			return nil
		}
		close(entered)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	sock.mu.Unlock()

	b.Emit("slow")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pump never reached the slow send")
	}
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	return unblock
}
