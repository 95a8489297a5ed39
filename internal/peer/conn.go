package peer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/protocol/frame"
	"github.com/danmuck/peerlink/internal/protocol/schema"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/gorilla/websocket"
)

// Conn is one accepted host connection.
type Conn struct {
	srv       *Server
	ws        *websocket.Conn
	hostID    string
	sessionID string
	reconnect bool

	writeMu   sync.Mutex
	nextID    atomic.Uint64
	closeOnce sync.Once
	handlers  sync.WaitGroup
}

func newConn(s *Server, ws *websocket.Conn, hello session.Hello) *Conn {
	c := &Conn{
		srv:       s,
		ws:        ws,
		hostID:    hello.HostID,
		sessionID: hello.SessionID,
		reconnect: hello.Reconnect,
	}
	c.nextID.Store(uint64(time.Now().UnixNano()))
	return c
}

func (c *Conn) HostID() string    { return c.hostID }
func (c *Conn) SessionID() string { return c.sessionID }

// Emit sends one event to the host. Hosts do not acknowledge peer events.
func (c *Conn) Emit(name string, args ...any) error {
	ev, err := session.NewEvent(name, args...)
	if err != nil {
		return err
	}
	ev.TimestampMS = uint64(time.Now().UnixMilli())
	payload, err := session.EncodeEventFrame(c.nextID.Add(1), ev)
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *Conn) write(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.srv.cfg.Session.WriteTimeout))
	return c.ws.WriteMessage(websocket.BinaryMessage, payload)
}

func (c *Conn) ack(messageID uint64, ack session.EmitAck) {
	ack.TimestampMS = uint64(time.Now().UnixMilli())
	payload, err := session.EncodeEmitAckFrame(messageID, ack)
	if err != nil {
		c.srv.log.Errf("peer.Conn encode ack id=%d err=%v", messageID, err)
		return
	}
	if err := c.write(payload); err != nil {
		c.srv.log.Warnf("peer.Conn write ack id=%d err=%v", messageID, err)
	}
}

func (c *Conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.handlers.Wait()
		c.close()
	}()
	go func() {
		<-ctx.Done()
		c.close()
	}()

	c.ws.SetReadLimit(int64(frame.DefaultLimits().MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		fr, err := frame.Unmarshal(data, frame.DefaultLimits())
		if err != nil {
			c.srv.log.Warnf("peer.Conn bad frame host=%q err=%v", c.hostID, err)
			continue
		}
		if fr.Header.MessageType != schema.MsgEvent {
			continue
		}
		ev, err := session.DecodeEventFrame(fr)
		if err != nil {
			c.ack(fr.Header.MessageID, session.EmitAck{AckStatus: session.AckStatusRejected, AckCode: 400, Reason: err.Error()})
			continue
		}
		c.srv.countTrigger(ev.Name)
		h, ok := c.srv.lookup(ev.Name)
		if !ok {
			c.ack(fr.Header.MessageID, session.EmitAck{
				AckStatus: session.AckStatusRejected,
				AckCode:   AckCodeNoHandler,
				Reason:    ErrNoHandler.Error(),
			})
			continue
		}
		c.ack(fr.Header.MessageID, session.EmitAck{AckStatus: session.AckStatusAccepted, AckCode: AckCodeOK})
		c.handlers.Add(1)
		go c.dispatch(ctx, h, ev)
	}
}

func (c *Conn) dispatch(ctx context.Context, h HandlerFunc, ev session.Event) {
	defer c.handlers.Done()
	start := time.Now()
	reply, err := h(ctx, Request{
		Trigger:   ev.Name,
		Event:     ev,
		HostID:    c.hostID,
		SessionID: c.sessionID,
		Conn:      c,
	})
	if err != nil {
		observability.RecordPeerTrigger(c.srv.cfg.PeerID, ev.Name, "error", time.Since(start))
		c.srv.log.Warnf("peer.Conn handler trigger=%q err=%v", ev.Name, err)
		return
	}
	observability.RecordPeerTrigger(c.srv.cfg.PeerID, ev.Name, "ok", time.Since(start))
	if reply.Completion == "" {
		return
	}
	if err := c.Emit(reply.Completion, reply.Value); err != nil {
		c.srv.log.Warnf("peer.Conn emit completion=%q err=%v", reply.Completion, err)
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "peer closing"),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
