package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/danmuck/peerlink/internal/transport"
)

// ErrTargetUnknown reports that no peer address could be resolved.
var ErrTargetUnknown = errors.New("bridge: peer address unknown")

// PeerAddrEnv overrides the configured peer address.
const PeerAddrEnv = "PEERLINK_PEER_ADDR"

// AddressResolver yields the peer address at first connection access.
type AddressResolver func() (string, error)

// SocketFactory builds an unconnected socket for address.
type SocketFactory func(address string) (transport.Socket, error)

// StaticAddress always resolves to addr.
func StaticAddress(addr string) AddressResolver {
	return func() (string, error) { return addr, nil }
}

// EnvAddress resolves from PEERLINK_PEER_ADDR, then configured.
func EnvAddress(configured string) AddressResolver {
	return func() (string, error) {
		if v := strings.TrimSpace(os.Getenv(PeerAddrEnv)); v != "" {
			return v, nil
		}
		return configured, nil
	}
}

// WebsocketFactory dials transport clients with opts.
func WebsocketFactory(opts transport.Options) SocketFactory {
	return func(address string) (transport.Socket, error) {
		c, err := transport.Dial(address, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

type handle struct {
	sock transport.Socket
}

// Connection lazily constructs the single process-wide socket.
type Connection struct {
	resolve AddressResolver
	factory SocketFactory
	session session.Config
	debug   bool
	log     logging.Sink

	mu            sync.Mutex
	current       atomic.Pointer[handle]
	constructions atomic.Int64
}

type ConnectionConfig struct {
	Resolve AddressResolver
	Factory SocketFactory
	Session session.Config
	Debug   bool
	Logger  logging.Sink
}

func NewConnection(cfg ConnectionConfig) *Connection {
	return &Connection{
		resolve: cfg.Resolve,
		factory: cfg.Factory,
		session: cfg.Session.WithDefaults(),
		debug:   cfg.Debug,
		log:     logging.OrConsole(cfg.Logger),
	}
}

// Get returns the socket, constructing and connecting it on first use.
// A failed initial connect still returns the socket; it keeps reconnecting
// in the background and emits wait for it.
func (c *Connection) Get(ctx context.Context) (transport.Socket, error) {
	if h := c.current.Load(); h != nil {
		return h.sock, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if h := c.current.Load(); h != nil {
		return h.sock, nil
	}

	if c.resolve == nil {
		return nil, fmt.Errorf("%w: no resolver", ErrTargetUnknown)
	}
	addr, err := c.resolve()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTargetUnknown, err)
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("%w: empty address (set %s or peer_address)", ErrTargetUnknown, PeerAddrEnv)
	}
	if c.factory == nil {
		return nil, errors.New("bridge: socket factory required")
	}

	sock, err := c.factory(addr)
	if err != nil {
		return nil, fmt.Errorf("bridge: build socket for %s: %w", addr, err)
	}
	c.constructions.Add(1)
	sock.SetLifecycle(c.lifecycle(sock))

	connectCtx, cancel := context.WithTimeout(ctx, c.session.ConnectTimeout)
	err = sock.Connect(connectCtx)
	cancel()
	if err != nil {
		c.log.Warnf("bridge.Connection initial connect to %s failed: %v (retrying in background)", addr, err)
		sock.Reconnect()
	}

	c.current.Store(&handle{sock: sock})
	return sock, nil
}

// Constructions reports how many sockets were built.
func (c *Connection) Constructions() int64 {
	return c.constructions.Load()
}

// Close closes the socket if one was constructed.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.current.Load()
	if h == nil {
		return nil
	}
	return h.sock.Close()
}

func (c *Connection) debugf(format string, args ...any) {
	if c.debug {
		c.log.Debugf(format, args...)
	}
}

func (c *Connection) lifecycle(sock transport.Socket) transport.Lifecycle {
	return transport.Lifecycle{
		OnConnected: func() {
			observability.RecordConnectionEvent("connected")
			c.debugf("bridge.Connection connected")
		},
		OnReconnectAttempt: func(attempt int) {
			observability.RecordConnectionEvent("reconnect_attempt")
			c.debugf("bridge.Connection reconnect attempt=%d", attempt)
		},
		OnReconnectError: func(attempt int, err error) {
			observability.RecordConnectionEvent("reconnect_error")
			c.debugf("bridge.Connection reconnect error attempt=%d err=%v", attempt, err)
		},
		OnReconnected: func(attempt int) {
			observability.RecordConnectionEvent("reconnected")
			c.debugf("bridge.Connection reconnected attempt=%d", attempt)
		},
		OnDisconnected: func(reason error) {
			observability.RecordConnectionEvent("disconnected")
			c.debugf("bridge.Connection disconnected reason=%v", reason)
			sock.Reconnect()
		},
	}
}
