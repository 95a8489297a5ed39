package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/peerlink/internal/bridge"
	"github.com/danmuck/peerlink/internal/config"
	"github.com/danmuck/peerlink/internal/testutil/peertest"
	"github.com/danmuck/peerlink/internal/testutil/testlog"
	"github.com/danmuck/peerlink/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestExamplePeerConfigLoads(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadPeerConfig("ex.config.toml")
	require.NoError(t, err)
	require.Equal(t, "peer.local", cfg.PeerID)
	require.Equal(t, "127.0.0.1:8000", cfg.ListenAddr)

	def, err := loadPeerConfig("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultPeerConfig(), def)
}

func TestFileStoreIsStable(t *testing.T) {
	testlog.Start(t)
	s := newFileStore()
	require.Equal(t, "/p/1", s.save(1))
	require.Equal(t, "/p/1", s.save(1))
	require.Equal(t, "/p/2", s.save(2))
}

func TestDemoHandlersServeBridgeCalls(t *testing.T) {
	testlog.Start(t)
	quitCtx, quit := context.WithCancel(context.Background())
	defer quit()
	srv, err := newServer(config.DefaultPeerConfig(), quit)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})

	b := bridge.New(bridge.Config{
		HostID:      "host.test",
		Session:     peertest.FastSession(),
		Resolve:     bridge.StaticAddress("ws://" + strings.TrimPrefix(ts.URL, "http://") + "/socket"),
		CallTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { _ = b.Close() })

	path, err := bridge.Call[string](b, "save", "saved", 42)
	require.NoError(t, err)
	require.Equal(t, "/p/42", path)

	echoed, err := bridge.Call[map[string]int](b, "echo", "echoed", map[string]int{"n": 7})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"n": 7}, echoed)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Quit(ctx))
	select {
	case <-quitCtx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("quit handler did not cancel the peer")
	}
}

func TestPeerRejectsHostWithWrongToken(t *testing.T) {
	testlog.Start(t)
	cfg := config.DefaultPeerConfig()
	cfg.AuthToken = "s3cret"
	srv, err := newServer(cfg, func() {})
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	addr := "ws://" + strings.TrimPrefix(ts.URL, "http://") + "/socket"

	bad, err := transport.Dial(addr, transport.Options{HostID: "host.test", Token: "nope", Session: peertest.FastSession()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = bad.Close() })
	require.ErrorIs(t, bad.Connect(context.Background()), transport.ErrHelloRejected)

	good, err := transport.Dial(addr, transport.Options{HostID: "host.test", Token: "s3cret", Session: peertest.FastSession()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = good.Close() })
	require.NoError(t, good.Connect(context.Background()))
}
