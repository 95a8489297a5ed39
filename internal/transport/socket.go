package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected      = errors.New("transport: not connected")
	ErrClosed            = errors.New("transport: socket closed")
	ErrConnectionLost    = errors.New("transport: connection lost")
	ErrHelloRejected     = errors.New("transport: hello rejected")
	ErrEmitRejected      = errors.New("transport: emit rejected")
	ErrAckTimeout        = errors.New("transport: emit.ack timeout")
	ErrReconnectGaveUp   = errors.New("transport: reconnect attempts exhausted")
	ErrAddressRequired   = errors.New("transport: address required")
	ErrHostIDRequired    = errors.New("transport: host id required")
	ErrUnexpectedMessage = errors.New("transport: unexpected message")
)

// State is the connection state of a Socket.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateReconnecting  State = "reconnecting"
	StateDisconnected  State = "disconnected"
	StateClosed        State = "closed"
)

// Handler receives one inbound event. Handlers run on their own goroutine.
type Handler func(session.Event)

// Lifecycle holds optional connection transition callbacks.
type Lifecycle struct {
	OnConnected        func()
	OnReconnectAttempt func(attempt int)
	OnReconnectError   func(attempt int, err error)
	OnReconnected      func(attempt int)
	OnDisconnected     func(reason error)
}

// Socket is the event transport consumed by the bridge.
type Socket interface {
	Connect(ctx context.Context) error
	// Emit sends one event and waits for the peer's emit.ack.
	Emit(ctx context.Context, name string, args ...any) error
	// On registers h for name, replacing any previous handler.
	On(name string, h Handler)
	Off(name string)
	SetLifecycle(l Lifecycle)
	// Reconnect starts the reconnect loop unless connected, closed or already reconnecting.
	Reconnect()
	State() State
	Close() error
}

// Options configures a Client.
type Options struct {
	HostID string
	// Token is presented in the hello for peer admission.
	Token   string
	Path    string
	Header  http.Header
	Session session.Config
	Logger  logging.Sink
	Dialer  *websocket.Dialer
}

const DefaultPath = "/socket"

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultPath
	}
	o.Session = o.Session.WithDefaults()
	o.Logger = logging.OrConsole(o.Logger)
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: o.Session.ConnectTimeout,
		}
	}
	return o
}

func deadlineFrom(ctx context.Context, d time.Duration) time.Time {
	deadline := time.Now().Add(d)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}
