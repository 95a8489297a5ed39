package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/danmuck/peerlink/internal/transport"
	"github.com/eapache/queue"
	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("bridge: closed")

// Lifecycle events understood by peers.
const (
	EventQuit    = "quit"
	EventRestart = "restart"
)

const defaultEmitTimeout = 30 * time.Second

type Config struct {
	HostID string
	// Token is presented to peers that require host admission.
	Token string
	Debug bool
	// CallTimeout bounds Call; zero waits until the completion arrives.
	CallTimeout time.Duration
	// MaxCallRetries bounds wait-then-retry rounds in a call; zero is unbounded.
	MaxCallRetries int
	// EmitTimeout bounds each queued Emit send, including its ack.
	EmitTimeout time.Duration
	Session     session.Config
	Resolve     AddressResolver
	Factory     SocketFactory
	Logger      logging.Sink
}

type pendingEmit struct {
	name string
	args []any
}

// Bridge serializes all socket sends and listener changes behind one send
// lock and correlates trigger/completion calls.
type Bridge struct {
	cfg      Config
	log      logging.Sink
	conn     *Connection
	registry *Registry

	// sendLock is a one-slot semaphore so waiting for it honors ctx.
	sendLock  *semaphore.Weighted
	listeners map[string]uint64
	nextToken uint64

	pumpMu   sync.Mutex
	pumpQ    *queue.Queue
	pumpWake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

func New(cfg Config) *Bridge {
	cfg.Session = cfg.Session.WithDefaults()
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = defaultEmitTimeout
	}
	if cfg.Factory == nil {
		cfg.Factory = WebsocketFactory(transport.Options{
			HostID:  cfg.HostID,
			Token:   cfg.Token,
			Session: cfg.Session,
			Logger:  cfg.Logger,
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg: cfg,
		log: logging.OrConsole(cfg.Logger),
		conn: NewConnection(ConnectionConfig{
			Resolve: cfg.Resolve,
			Factory: cfg.Factory,
			Session: cfg.Session,
			Debug:   cfg.Debug,
			Logger:  cfg.Logger,
		}),
		registry:  NewRegistry(),
		sendLock:  semaphore.NewWeighted(1),
		listeners: make(map[string]uint64),
		pumpQ:     queue.New(),
		pumpWake:  make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
	b.wg.Add(1)
	go b.pump()
	return b
}

// Connection exposes the lazily constructed socket handle.
func (b *Bridge) Connection() *Connection { return b.conn }

func (b *Bridge) Registry() *Registry { return b.registry }

// Emit queues a fire-and-forget send. Send failures are logged only.
func (b *Bridge) Emit(name string, args ...any) {
	if b.closed.Load() {
		b.log.Warnf("bridge.Emit dropped event=%s: %v", name, ErrClosed)
		return
	}
	b.pumpMu.Lock()
	b.pumpQ.Add(pendingEmit{name: name, args: args})
	b.pumpMu.Unlock()
	select {
	case b.pumpWake <- struct{}{}:
	default:
	}
}

// QueuedEmits reports emits not yet picked up by the pump.
func (b *Bridge) QueuedEmits() int {
	b.pumpMu.Lock()
	defer b.pumpMu.Unlock()
	return b.pumpQ.Length()
}

// EmitSync sends name and blocks until the peer acknowledged it.
func (b *Bridge) EmitSync(ctx context.Context, name string, args ...any) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.send(ctx, "sync", name, args)
}

// Quit asks the peer to shut down.
func (b *Bridge) Quit(ctx context.Context) error {
	return b.EmitSync(ctx, EventQuit)
}

// Restart asks the peer to restart.
func (b *Bridge) Restart(ctx context.Context) error {
	return b.EmitSync(ctx, EventRestart)
}

func (b *Bridge) send(ctx context.Context, mode, name string, args []any) error {
	sock, err := b.conn.Get(ctx)
	if err != nil {
		observability.RecordEmit(mode, false)
		return err
	}
	if err := b.lockSend(ctx); err != nil {
		observability.RecordEmit(mode, false)
		return err
	}
	defer b.unlockSend()
	err = sock.Emit(ctx, name, args...)
	observability.RecordEmit(mode, err == nil)
	return err
}

// lockSend acquires the send lock unless ctx ends first. A ctx that ended
// while the lock was being granted still fails.
func (b *Bridge) lockSend(ctx context.Context) error {
	if err := b.sendLock.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		b.sendLock.Release(1)
		return err
	}
	return nil
}

func (b *Bridge) unlockSend() { b.sendLock.Release(1) }

// lockListeners takes the send lock for listener changes, which only give
// up when the bridge closes.
func (b *Bridge) lockListeners() error {
	if err := b.lockSend(b.ctx); err != nil {
		return ErrClosed
	}
	return nil
}

func (b *Bridge) nextEmit() (pendingEmit, bool) {
	b.pumpMu.Lock()
	defer b.pumpMu.Unlock()
	if b.pumpQ.Length() == 0 {
		return pendingEmit{}, false
	}
	return b.pumpQ.Remove().(pendingEmit), true
}

func (b *Bridge) pump() {
	defer b.wg.Done()
	for {
		item, ok := b.nextEmit()
		if !ok {
			select {
			case <-b.pumpWake:
				continue
			case <-b.ctx.Done():
				return
			}
		}
		ctx, cancel := context.WithTimeout(b.ctx, b.cfg.EmitTimeout)
		err := b.send(ctx, "async", item.name, item.args)
		cancel()
		if err != nil {
			b.log.Errf("bridge.Emit event=%s failed: %v", item.name, err)
		} else if b.cfg.Debug {
			b.log.Debugf("bridge.Emit event=%s sent", item.name)
		}
	}
}

// On registers h for name, replacing any previous handler.
func (b *Bridge) On(name string, h transport.Handler) error {
	sock, err := b.conn.Get(b.ctx)
	if err != nil {
		return err
	}
	if err := b.lockListeners(); err != nil {
		return err
	}
	defer b.unlockSend()
	b.onLocked(sock, name, h)
	return nil
}

// OnTyped registers a handler receiving the first argument decoded as T.
func OnTyped[T any](b *Bridge, name string, h func(T)) error {
	return b.On(name, func(ev session.Event) {
		var v T
		if len(ev.Args) > 0 {
			if err := ev.Decode(0, &v); err != nil {
				b.log.Errf("bridge.On event=%s decode: %v", name, err)
				return
			}
		}
		h(v)
	})
}

// Off removes the handler for name.
func (b *Bridge) Off(name string) error {
	sock, err := b.conn.Get(b.ctx)
	if err != nil {
		return err
	}
	if err := b.lockListeners(); err != nil {
		return err
	}
	defer b.unlockSend()
	delete(b.listeners, name)
	sock.Off(name)
	return nil
}

// Once registers h for a single delivery of name. The listener removes
// itself before h runs, unless a newer registration already replaced it.
func (b *Bridge) Once(name string, h transport.Handler) error {
	sock, err := b.conn.Get(b.ctx)
	if err != nil {
		return err
	}
	if err := b.lockListeners(); err != nil {
		return err
	}
	defer b.unlockSend()
	b.onceLocked(sock, name, h)
	return nil
}

func (b *Bridge) onLocked(sock transport.Socket, name string, h transport.Handler) uint64 {
	b.nextToken++
	token := b.nextToken
	b.listeners[name] = token
	sock.On(name, h)
	return token
}

func (b *Bridge) onceLocked(sock transport.Socket, name string, h transport.Handler) {
	var fired atomic.Bool
	var token uint64
	token = b.onLocked(sock, name, func(ev session.Event) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		if b.lockListeners() == nil {
			if b.listeners[name] == token {
				delete(b.listeners, name)
				sock.Off(name)
			}
			b.unlockSend()
		}
		h(ev)
	})
}

// armAndEmit installs a once-listener for completion and queues trigger
// while holding the send lock, so the listener is in place before the send.
// Nothing is armed or queued once ctx has ended.
func (b *Bridge) armAndEmit(ctx context.Context, completion string, h transport.Handler, trigger string, args []any) error {
	sock, err := b.conn.Get(ctx)
	if err != nil {
		return err
	}
	if err := b.lockSend(ctx); err != nil {
		return err
	}
	defer b.unlockSend()
	if b.closed.Load() {
		return ErrClosed
	}
	b.onceLocked(sock, completion, h)
	b.pumpMu.Lock()
	b.pumpQ.Add(pendingEmit{name: trigger, args: args})
	b.pumpMu.Unlock()
	select {
	case b.pumpWake <- struct{}{}:
	default:
	}
	return nil
}

// Pending lists in-flight correlated calls.
func (b *Bridge) Pending() []PendingCall {
	return b.registry.Pending()
}

// Close stops the pump, fails pending calls and closes the socket.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	b.wg.Wait()
	if n := b.registry.FailAll(ErrClosed); n > 0 {
		b.log.Infof("bridge.Close failed pending_calls=%d", n)
	}
	return b.conn.Close()
}
