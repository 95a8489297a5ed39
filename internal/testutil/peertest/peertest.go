package peertest

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/peerlink/internal/peer"
	"github.com/danmuck/peerlink/internal/protocol/session"
)

// Peer is an in-process peer server bound to a loopback port.
type Peer struct {
	*peer.Server
	HTTP *httptest.Server
}

// Start serves a peer named peerID for the lifetime of t.
func Start(t testing.TB, peerID string) *Peer {
	t.Helper()
	srv, err := peer.NewServer(peer.Config{
		PeerID:  peerID,
		Session: FastSession(),
	})
	if err != nil {
		t.Fatalf("new peer server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return &Peer{Server: srv, HTTP: ts}
}

// Address is the ws:// endpoint hosts should dial.
func (p *Peer) Address() string {
	return "ws://" + strings.TrimPrefix(p.HTTP.URL, "http://") + "/socket"
}

// FastSession shortens every timeout and backoff so reconnect tests run quickly.
func FastSession() session.Config {
	return session.Config{
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
		AckTimeout:       2 * time.Second,
		PingInterval:     time.Second,
		Backoff: session.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   2,
			MaxDelay:     50 * time.Millisecond,
			JitterFactor: 0.5,
		},
	}
}

// Eventually polls cond until it holds or the timeout elapses.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}
