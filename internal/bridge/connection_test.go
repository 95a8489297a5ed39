package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/danmuck/peerlink/internal/testutil/peertest"
	"github.com/danmuck/peerlink/internal/testutil/testlog"
	"github.com/danmuck/peerlink/internal/transport"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConnectionRacingFirstAccessConstructsOnce(t *testing.T) {
	testlog.Start(t)
	var built atomic.Int64
	sock := newFakeSocket()
	conn := NewConnection(ConnectionConfig{
		Resolve: StaticAddress("fake:1"),
		Factory: func(string) (transport.Socket, error) {
			built.Add(1)
			return sock, nil
		},
		Session: peertest.FastSession(),
	})

	const callers = 64
	got := make([]transport.Socket, callers)
	start := make(chan struct{})
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			<-start
			s, err := conn.Get(context.Background())
			got[i] = s
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	require.EqualValues(t, 1, built.Load())
	require.EqualValues(t, 1, conn.Constructions())
	for _, s := range got {
		require.Same(t, sock, s.(*fakeSocket))
	}
	require.Equal(t, transport.StateConnected, sock.State())
}

func TestConnectionUnknownTargetIsNotCached(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int64
	sock := newFakeSocket()
	conn := NewConnection(ConnectionConfig{
		Resolve: func() (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("no peer configured")
			}
			return "fake:1", nil
		},
		Factory: fakeFactory(sock),
		Session: peertest.FastSession(),
	})

	_, err := conn.Get(context.Background())
	require.ErrorIs(t, err, ErrTargetUnknown)
	require.EqualValues(t, 0, conn.Constructions())

	s, err := conn.Get(context.Background())
	require.NoError(t, err)
	require.Same(t, sock, s.(*fakeSocket))
	require.EqualValues(t, 1, conn.Constructions())
}

func TestConnectionEmptyAddressIsUnknown(t *testing.T) {
	testlog.Start(t)
	conn := NewConnection(ConnectionConfig{
		Resolve: StaticAddress("   "),
		Factory: fakeFactory(newFakeSocket()),
	})
	_, err := conn.Get(context.Background())
	require.ErrorIs(t, err, ErrTargetUnknown)

	_, err = NewConnection(ConnectionConfig{}).Get(context.Background())
	require.ErrorIs(t, err, ErrTargetUnknown)
}

func TestEnvAddressPrefersEnvironment(t *testing.T) {
	testlog.Start(t)
	t.Setenv(PeerAddrEnv, "ws://env-peer:9/socket")
	addr, err := EnvAddress("ws://configured:1/socket")()
	require.NoError(t, err)
	require.Equal(t, "ws://env-peer:9/socket", addr)

	t.Setenv(PeerAddrEnv, "")
	addr, err = EnvAddress("ws://configured:1/socket")()
	require.NoError(t, err)
	require.Equal(t, "ws://configured:1/socket", addr)
}

func TestConnectionInitialConnectFailureStartsReconnect(t *testing.T) {
	testlog.Start(t)
	sock := newFakeSocket()
	sock.connectErr = errors.New("connection refused")
	conn := NewConnection(ConnectionConfig{
		Resolve: StaticAddress("fake:1"),
		Factory: fakeFactory(sock),
		Session: peertest.FastSession(),
	})

	s, err := conn.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, 1, sock.reconnectCount())

	// cached even though the first connect failed
	_, err = conn.Get(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, conn.Constructions())
}

func TestConnectionDisconnectTriggersReconnect(t *testing.T) {
	testlog.Start(t)
	sock := newFakeSocket()
	conn := NewConnection(ConnectionConfig{
		Resolve: StaticAddress("fake:1"),
		Factory: fakeFactory(sock),
		Session: peertest.FastSession(),
		Debug:   true,
	})
	_, err := conn.Get(context.Background())
	require.NoError(t, err)

	hooks := sock.hooks()
	require.NotNil(t, hooks.OnDisconnected)
	hooks.OnReconnectAttempt(1)
	hooks.OnReconnectError(1, errors.New("refused"))
	hooks.OnDisconnected(transport.ErrConnectionLost)
	require.Equal(t, 1, sock.reconnectCount())

	require.NoError(t, conn.Close())
	require.Equal(t, transport.StateClosed, sock.State())
}
