package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/peerlink/internal/logging"
	"github.com/danmuck/peerlink/internal/observability"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerIDRequired = errors.New("peer: peer id required")
	ErrNoHandler      = errors.New("peer: no handler for trigger")
)

const (
	AckCodeOK        uint32 = 0
	AckCodeNoHandler uint32 = 404
)

// Request is one trigger event delivered to a handler.
type Request struct {
	Trigger   string
	Event     session.Event
	HostID    string
	SessionID string
	Conn      *Conn
}

// Reply names the completion event and its single positional value.
// An empty Completion sends nothing back.
type Reply struct {
	Completion string
	Value      any
}

// HandlerFunc serves one trigger. A returned error is logged and no
// completion is emitted.
type HandlerFunc func(ctx context.Context, req Request) (Reply, error)

// Config configures a Server.
type Config struct {
	PeerID     string
	ListenAddr string
	Path       string
	Session    session.Config
	Logger     logging.Sink
	// AcceptHost, when set, may reject a host at handshake time.
	AcceptHost func(session.Hello) error
}

// Server accepts host connections and dispatches their triggers.
type Server struct {
	cfg      Config
	log      logging.Sink
	upgrader websocket.Upgrader
	router   *gin.Engine

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[string]*Conn
	counts   map[string]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.PeerID) == "" {
		return nil, ErrPeerIDRequired
	}
	if cfg.Path == "" {
		cfg.Path = "/socket"
	}
	cfg.Session = cfg.Session.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		log:      logging.OrConsole(cfg.Logger),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[string]*Conn),
		counts:   make(map[string]int),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.Session.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger, s.cfg.PeerID))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.PeerID))
	r.GET(s.cfg.Path, s.serveSocket)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"peer_id": s.cfg.PeerID,
			"hosts":   len(s.Hosts()),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Handler exposes the peer router for embedding or httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Handle registers h for trigger, replacing any previous handler.
func (s *Server) Handle(trigger string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[trigger] = h
}

func (s *Server) lookup(trigger string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[trigger]
	return h, ok
}

// TriggerCount reports how many times trigger has been received.
func (s *Server) TriggerCount(trigger string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[trigger]
}

func (s *Server) countTrigger(trigger string) {
	s.mu.Lock()
	s.counts[trigger]++
	s.mu.Unlock()
}

// Hosts lists the session ids of connected hosts.
func (s *Server) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Broadcast emits one event to every connected host.
func (s *Server) Broadcast(name string, args ...any) error {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	var errs []error
	for _, c := range conns {
		if err := c.Emit(name, args...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropConnections closes every host connection without stopping the server.
func (s *Server) DropConnections() int {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string]*Conn)
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return len(conns)
}

func (s *Server) serveSocket(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnf("peer.Server upgrade failed remote=%s err=%v", c.Request.RemoteAddr, err)
		return
	}
	conn, err := s.accept(ws)
	if err != nil {
		s.log.Warnf("peer.Server handshake failed remote=%s err=%v", c.Request.RemoteAddr, err)
		_ = c.Error(err)
		_ = ws.Close()
		return
	}
	c.Set(observability.HostIDKey, conn.hostID)
	c.Set(observability.SessionIDKey, conn.sessionID)
	s.mu.Lock()
	if prev, ok := s.conns[conn.sessionID]; ok {
		prev.close()
	}
	s.conns[conn.sessionID] = conn
	s.mu.Unlock()
	s.log.Infof("peer.Server host connected host=%q session=%s reconnect=%t", conn.hostID, conn.sessionID, conn.reconnect)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn.serve(s.ctx)
		s.mu.Lock()
		if s.conns[conn.sessionID] == conn {
			delete(s.conns, conn.sessionID)
		}
		s.mu.Unlock()
		s.log.Infof("peer.Server host disconnected host=%q session=%s", conn.hostID, conn.sessionID)
	}()
}

func (s *Server) accept(ws *websocket.Conn) (*Conn, error) {
	deadline := time.Now().Add(s.cfg.Session.HandshakeTimeout)
	_ = ws.SetReadDeadline(deadline)
	_ = ws.SetWriteDeadline(deadline)
	defer func() {
		_ = ws.SetReadDeadline(time.Time{})
		_ = ws.SetWriteDeadline(time.Time{})
	}()

	mt, r, err := ws.NextReader()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, fmt.Errorf("peer: handshake message type %d", mt)
	}
	hello, err := session.ReadHello(r)
	if err != nil {
		return nil, err
	}

	ack := session.HelloAck{
		Status:      session.AckStatusAccepted,
		Message:     "ok",
		PeerID:      s.cfg.PeerID,
		TimestampMS: uint64(time.Now().UnixMilli()),
	}
	var rejectErr error
	if s.cfg.AcceptHost != nil {
		if rejectErr = s.cfg.AcceptHost(hello); rejectErr != nil {
			ack.Status = session.AckStatusRejected
			ack.Code = 403
			ack.Message = rejectErr.Error()
		}
	}
	w, err := ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return nil, err
	}
	if err := session.WriteHelloAck(w, ack); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if rejectErr != nil {
		return nil, rejectErr
	}
	return newConn(s, ws, hello), nil
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("peer.Server listening addr=%s path=%s peer=%q", s.cfg.ListenAddr, s.cfg.Path, s.cfg.PeerID)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		s.Close()
		return err
	}
}

// Close drops every host and waits for connection goroutines.
func (s *Server) Close() {
	s.cancel()
	s.DropConnections()
	s.wg.Wait()
}
