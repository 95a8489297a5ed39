package bridge

import (
	"strings"
	"testing"

	"github.com/danmuck/peerlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestCallKeyWithoutArgsIsCompletion(t *testing.T) {
	testlog.Start(t)
	key, err := CallKey("saved")
	require.NoError(t, err)
	require.Equal(t, "saved", key)
}

func TestCallKeyDeterministicAndOrderSensitive(t *testing.T) {
	testlog.Start(t)
	a, err := CallKey("saved", 1, "x")
	require.NoError(t, err)
	b, err := CallKey("saved", 1, "x")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "saved-"))

	swapped, err := CallKey("saved", "x", 1)
	require.NoError(t, err)
	require.NotEqual(t, a, swapped)

	other, err := CallKey("saved", 2, "x")
	require.NoError(t, err)
	require.NotEqual(t, a, other)

	split, err := CallKey("saved", "a", "b")
	require.NoError(t, err)
	joined, err := CallKey("saved", "ab")
	require.NoError(t, err)
	require.NotEqual(t, split, joined)
}

func TestCallKeyStableForMaps(t *testing.T) {
	testlog.Start(t)
	m1 := map[string]int{"a": 1, "b": 2, "c": 3}
	m2 := map[string]int{"c": 3, "b": 2, "a": 1}
	k1, err := CallKey("saved", m1)
	require.NoError(t, err)
	k2, err := CallKey("saved", m2)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
}

func TestCallKeyRejectsUnencodableArgs(t *testing.T) {
	testlog.Start(t)
	_, err := CallKey("saved", make(chan int))
	require.Error(t, err)
}
