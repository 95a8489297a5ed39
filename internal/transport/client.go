package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/protocol/frame"
	"github.com/danmuck/peerlink/internal/protocol/schema"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is a websocket Socket with handshake, acknowledged emits and
// automatic reconnection.
type Client struct {
	address   string
	opts      Options
	log       logging.Sink
	sessionID string
	rng       *rand.Rand
	rngMu     sync.Mutex

	connMu sync.Mutex
	conn   *websocket.Conn
	ready  chan struct{}
	state  State

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	lifeMu    sync.RWMutex
	lifecycle Lifecycle

	outbox       *session.AckOutbox
	nextID       atomic.Uint64
	reconnecting atomic.Bool
	everUp       atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial prepares a Client for address. No network activity happens until Connect.
func Dial(address string, opts Options) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(opts.HostID) == "" {
		return nil, ErrHostIDRequired
	}
	opts = opts.withDefaults()
	c := &Client{
		address:   address,
		opts:      opts,
		log:       opts.Logger,
		sessionID: uuid.NewString(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		ready:     make(chan struct{}),
		state:     StateUninitialized,
		handlers:  make(map[string]Handler),
		outbox:    session.NewAckOutbox(),
		closed:    make(chan struct{}),
	}
	c.nextID.Store(uint64(time.Now().UnixNano()))
	return c, nil
}

// URL returns the websocket endpoint derived from the configured address.
func (c *Client) URL() (string, error) {
	raw := c.address
	if !strings.Contains(raw, "://") {
		raw = "ws://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("transport: missing host in %q", c.address)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = c.opts.Path
	}
	return u.String(), nil
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) State() State {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.connMu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.connMu.Unlock()
}

func (c *Client) SetLifecycle(l Lifecycle) {
	c.lifeMu.Lock()
	c.lifecycle = l
	c.lifeMu.Unlock()
}

func (c *Client) hooks() Lifecycle {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()
	return c.lifecycle
}

func (c *Client) On(name string, h Handler) {
	if h == nil {
		c.Off(name)
		return
	}
	c.handlersMu.Lock()
	c.handlers[name] = h
	c.handlersMu.Unlock()
}

func (c *Client) Off(name string) {
	c.handlersMu.Lock()
	delete(c.handlers, name)
	c.handlersMu.Unlock()
}

func (c *Client) handler(name string) (Handler, bool) {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	h, ok := c.handlers[name]
	return h, ok
}

// Connect dials and performs the hello handshake. It is a no-op when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	switch c.state {
	case StateClosed:
		c.connMu.Unlock()
		return ErrClosed
	case StateConnected:
		c.connMu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		ready := c.ready
		c.connMu.Unlock()
		select {
		case <-ready:
			return nil
		case <-c.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.state = StateConnecting
	c.connMu.Unlock()

	if err := c.dialOnce(ctx, false); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	if h := c.hooks().OnConnected; h != nil {
		h()
	}
	return nil
}

func (c *Client) dialOnce(ctx context.Context, reconnect bool) error {
	endpoint, err := c.URL()
	if err != nil {
		return err
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Session.ConnectTimeout)
	defer cancel()

	conn, resp, err := c.opts.Dialer.DialContext(dialCtx, endpoint, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	ack, err := c.handshake(ctx, conn, reconnect)
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.log.Debugf("transport.Client handshake ok peer=%q session=%s", ack.PeerID, c.sessionID)

	c.connMu.Lock()
	if c.state == StateClosed {
		c.connMu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	if c.conn != nil {
		// lost a race with a concurrent dial; keep the live connection
		c.connMu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.state = StateConnected
	close(c.ready)
	c.connMu.Unlock()
	c.everUp.Store(true)

	go c.readLoop(conn)
	go c.keepalive(conn)
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn, reconnect bool) (session.HelloAck, error) {
	deadline := deadlineFrom(ctx, c.opts.Session.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)
	defer func() {
		_ = conn.SetWriteDeadline(time.Time{})
		_ = conn.SetReadDeadline(time.Time{})
	}()

	w, err := conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return session.HelloAck{}, err
	}
	hello := session.Hello{HostID: c.opts.HostID, SessionID: c.sessionID, Reconnect: reconnect, Token: c.opts.Token}
	if err := session.WriteHello(w, hello); err != nil {
		_ = w.Close()
		return session.HelloAck{}, err
	}
	if err := w.Close(); err != nil {
		return session.HelloAck{}, err
	}

	mt, r, err := conn.NextReader()
	if err != nil {
		return session.HelloAck{}, err
	}
	if mt != websocket.TextMessage {
		return session.HelloAck{}, fmt.Errorf("%w: handshake message type %d", ErrUnexpectedMessage, mt)
	}
	ack, err := session.ReadHelloAck(r)
	if err != nil {
		return session.HelloAck{}, err
	}
	if ack.Status != session.AckStatusAccepted {
		return session.HelloAck{}, fmt.Errorf("%w: code=%d message=%q", ErrHelloRejected, ack.Code, ack.Message)
	}
	return ack, nil
}

// awaitConn returns the live connection, waiting for (re)connection when needed.
func (c *Client) awaitConn(ctx context.Context) (*websocket.Conn, error) {
	for {
		c.connMu.Lock()
		state, conn, ready := c.state, c.conn, c.ready
		c.connMu.Unlock()
		switch state {
		case StateClosed:
			return nil, ErrClosed
		case StateConnected:
			if conn != nil {
				return conn, nil
			}
		case StateUninitialized:
			return nil, ErrNotConnected
		}
		select {
		case <-ready:
		case <-c.closed:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *Client) Emit(ctx context.Context, name string, args ...any) error {
	ev, err := session.NewEvent(name, args...)
	if err != nil {
		return err
	}
	ev.TimestampMS = uint64(time.Now().UnixMilli())

	conn, err := c.awaitConn(ctx)
	if err != nil {
		return err
	}

	id := c.nextID.Add(1)
	payload, err := session.EncodeEventFrame(id, ev)
	if err != nil {
		return err
	}
	wait := c.outbox.Track(session.PendingEmit{MessageID: id, Name: ev.Name, QueuedAt: time.Now()})

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(deadlineFrom(ctx, c.opts.Session.WriteTimeout))
	err = conn.WriteMessage(websocket.BinaryMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		c.outbox.Remove(id)
		return fmt.Errorf("transport: write %q: %w", ev.Name, err)
	}

	timer := time.NewTimer(c.opts.Session.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-wait:
		if res.Err != nil {
			return res.Err
		}
		if res.Ack.AckStatus != session.AckStatusAccepted {
			return fmt.Errorf("%w: event=%q code=%d reason=%q", ErrEmitRejected, ev.Name, res.Ack.AckCode, res.Ack.Reason)
		}
		return nil
	case <-timer.C:
		c.outbox.Remove(id)
		return fmt.Errorf("%w: event=%q", ErrAckTimeout, ev.Name)
	case <-ctx.Done():
		c.outbox.Remove(id)
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(int64(frame.DefaultLimits().MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	pongWait := c.opts.Session.PongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.BinaryMessage {
			c.log.Warnf("transport.Client ignoring message type=%d", mt)
			continue
		}
		fr, err := frame.Unmarshal(data, frame.DefaultLimits())
		if err != nil {
			c.log.Warnf("transport.Client bad frame err=%v", err)
			continue
		}
		switch fr.Header.MessageType {
		case schema.MsgEvent:
			ev, err := session.DecodeEventFrame(fr)
			if err != nil {
				c.log.Warnf("transport.Client bad event frame id=%d err=%v", fr.Header.MessageID, err)
				continue
			}
			h, ok := c.handler(ev.Name)
			if !ok {
				c.log.Debugf("transport.Client no handler event=%q", ev.Name)
				continue
			}
			go h(ev)
		case schema.MsgEmitAck:
			ack, err := session.DecodeEmitAckFrame(fr)
			if err != nil {
				c.log.Warnf("transport.Client bad ack frame id=%d err=%v", fr.Header.MessageID, err)
				continue
			}
			if !c.outbox.Resolve(fr.Header.MessageID, ack) {
				c.log.Debugf("transport.Client late ack id=%d", fr.Header.MessageID)
			}
		default:
			c.log.Warnf("transport.Client unknown message_type=%d", fr.Header.MessageType)
		}
	}
}

func (c *Client) keepalive(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.Session.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.connMu.Lock()
			current := c.conn == conn
			c.connMu.Unlock()
			if !current {
				return
			}
			deadline := time.Now().Add(c.opts.Session.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debugf("transport.Client ping failed err=%v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.connMu.Lock()
	if c.conn != conn {
		c.connMu.Unlock()
		return
	}
	c.conn = nil
	c.ready = make(chan struct{})
	closing := c.state == StateClosed
	if !closing {
		c.state = StateDisconnected
	}
	c.connMu.Unlock()
	_ = conn.Close()

	failed := c.outbox.FailAll(ErrConnectionLost)
	if closing {
		return
	}
	c.log.Debugf("transport.Client disconnected pending_emits=%d err=%v", failed, cause)
	if h := c.hooks().OnDisconnected; h != nil {
		h(cause)
	}
	c.Reconnect()
}

func (c *Client) Reconnect() {
	switch c.State() {
	case StateClosed, StateConnected, StateConnecting:
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go c.reconnectLoop()
}

func (c *Client) reconnectLoop() {
	defer c.reconnecting.Store(false)
	maxAttempts := c.opts.Session.MaxReconnectAttempts
	for attempt := 1; ; attempt++ {
		if c.State() == StateClosed {
			return
		}
		c.setState(StateReconnecting)
		if err := c.sleepBackoff(attempt); err != nil {
			return
		}
		if h := c.hooks().OnReconnectAttempt; h != nil {
			h(attempt)
		}
		err := c.dialOnce(context.Background(), c.everUp.Load())
		if err == nil {
			if h := c.hooks().OnReconnected; h != nil {
				h(attempt)
			}
			return
		}
		if errors.Is(err, ErrClosed) {
			return
		}
		c.log.Debugf("transport.Client reconnect attempt=%d err=%v", attempt, err)
		if h := c.hooks().OnReconnectError; h != nil {
			h(attempt, err)
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			c.setState(StateDisconnected)
			if h := c.hooks().OnReconnectError; h != nil {
				h(attempt, ErrReconnectGaveUp)
			}
			return
		}
	}
}

func (c *Client) sleepBackoff(attempt int) error {
	c.rngMu.Lock()
	delay := session.NextBackoffDelay(c.opts.Session.Backoff, attempt, c.rng)
	c.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-c.closed:
		return ErrClosed
	case <-timer.C:
		return nil
	}
}

// PendingEmits lists emits still awaiting emit.ack.
func (c *Client) PendingEmits() []session.PendingEmit {
	return c.outbox.List()
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		c.state = StateClosed
		conn := c.conn
		c.conn = nil
		c.connMu.Unlock()
		close(c.closed)
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "host closing"),
				time.Now().Add(time.Second),
			)
			c.writeMu.Unlock()
			err = conn.Close()
		}
		c.outbox.FailAll(ErrClosed)
	})
	return err
}
