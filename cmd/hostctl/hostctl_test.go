package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/peerlink/internal/config"
	"github.com/danmuck/peerlink/internal/peer"
	"github.com/danmuck/peerlink/internal/protocol/session"
	"github.com/danmuck/peerlink/internal/testutil/peertest"
	"github.com/danmuck/peerlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func runHostctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseArgsFallsBackToStrings(t *testing.T) {
	testlog.Start(t)
	got := parseArgs([]string{"1", `{"a":2}`, "plain words", `"quoted"`})
	require.Len(t, got, 4)
	require.Equal(t, json.RawMessage("1"), got[0])
	require.Equal(t, json.RawMessage(`{"a":2}`), got[1])
	require.Equal(t, "plain words", got[2])
	require.Equal(t, json.RawMessage(`"quoted"`), got[3])
}

func TestLoadEnvMissingDefaultIsIgnored(t *testing.T) {
	testlog.Start(t)
	missing := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, loadEnv(missing, false))
	require.Error(t, loadEnv(missing, true))
}

func TestLoadEnvSetsPeerAddress(t *testing.T) {
	testlog.Start(t)
	t.Setenv("PEERLINK_PEER_ADDR", "")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PEERLINK_PEER_ADDR=ws://from-env:1/socket\n"), 0o600))
	require.NoError(t, os.Unsetenv("PEERLINK_PEER_ADDR"))
	require.NoError(t, loadEnv(path, true))
	require.Equal(t, "ws://from-env:1/socket", os.Getenv("PEERLINK_PEER_ADDR"))
}

func TestCallCommandPrintsCompletion(t *testing.T) {
	testlog.Start(t)
	p := peertest.Start(t, "peer.test")
	p.Handle("save", peer.Respond("saved", func(_ context.Context, ev session.Event) (any, error) {
		var id int
		if err := ev.Decode(0, &id); err != nil {
			return nil, err
		}
		return map[string]any{"path": "/files/" + strings.Repeat("x", id)}, nil
	}))

	out, err := runHostctl(t, "--peer", p.Address(), "--timeout", "5s", "call", "save", "saved", "3")
	require.NoError(t, err)
	require.JSONEq(t, `{"path":"/files/xxx"}`, strings.TrimSpace(out))
	require.Equal(t, 1, p.TriggerCount("save"))
}

func TestCallCommandHonorsConfiguredCallTimeout(t *testing.T) {
	testlog.Start(t)
	t.Setenv("PEERLINK_PEER_ADDR", "")
	p := peertest.Start(t, "peer.test")
	p.Handle("save", peer.Notify(func(context.Context, session.Event) {}))

	path := filepath.Join(t.TempDir(), "host.toml")
	body := fmt.Sprintf("peer_address = %q\nhost_id = \"host.test\"\ncall_timeout = \"200ms\"\n", p.Address())
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	start := time.Now()
	_, err := runHostctl(t, "--env-file", "", "--config", path, "call", "save", "saved", "1")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), 5*time.Second)
	peertest.Eventually(t, 2*time.Second, func() bool { return p.TriggerCount("save") == 1 }, "trigger reached the peer")
}

func TestEmitAndQuitCommands(t *testing.T) {
	testlog.Start(t)
	p := peertest.Start(t, "peer.test")
	p.Handle("note", peer.Notify(func(context.Context, session.Event) {}))
	p.Handle("quit", peer.Notify(func(context.Context, session.Event) {}))

	out, err := runHostctl(t, "--peer", p.Address(), "--timeout", "5s", "emit", "note", `"hello"`)
	require.NoError(t, err)
	require.Contains(t, out, "sent note")

	out, err = runHostctl(t, "--peer", p.Address(), "--timeout", "5s", "quit")
	require.NoError(t, err)
	require.Contains(t, out, "sent quit")

	_, err = runHostctl(t, "--peer", p.Address(), "--timeout", "5s", "emit", "missing")
	require.Error(t, err)
}

func TestCallWithoutPeerAddressFails(t *testing.T) {
	testlog.Start(t)
	t.Setenv("PEERLINK_PEER_ADDR", "")
	_, err := runHostctl(t, "--env-file", "", "call", "save", "saved")
	require.Error(t, err)
	require.Contains(t, err.Error(), "peer address unknown")
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	hostPath := filepath.Join(dir, "host.toml")
	peerPath := filepath.Join(dir, "peer.toml")

	_, err := runHostctl(t, "config", "init", "--kind", config.KindHost, "--output", hostPath)
	require.NoError(t, err)
	_, err = runHostctl(t, "config", "init", "--kind", config.KindPeer, "--output", peerPath)
	require.NoError(t, err)

	out, err := runHostctl(t, "config", "validate", hostPath)
	require.NoError(t, err)
	require.Contains(t, out, "validated host")
	_, err = runHostctl(t, "config", "validate", "--kind", config.KindPeer, peerPath)
	require.NoError(t, err)

	_, err = runHostctl(t, "config", "init", "--kind", config.KindHost, "--output", hostPath)
	require.Error(t, err)
}

func TestExampleHostConfigLoads(t *testing.T) {
	testlog.Start(t)
	cfg, err := loadHostConfig(&options{configPath: "ex.config.toml"})
	require.NoError(t, err)
	require.Equal(t, "host.local", cfg.HostID)
	require.Equal(t, "ws://127.0.0.1:8000/socket", cfg.PeerAddress)
}
