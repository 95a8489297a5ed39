package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/peerlink/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestRegistryJoinsIdenticalKey(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	first := r.TryGetOrAdd("string", "saved-1", "saved")
	require.True(t, first.Added)
	require.NotNil(t, first.Waiter)

	second := r.TryGetOrAdd("string", "saved-1", "saved")
	require.False(t, second.Added)
	require.Nil(t, second.Waiter)
	require.Nil(t, second.WaitFirst)
	require.Same(t, first.Waiter, second.Existing)
	require.Equal(t, 2, first.Waiter.Attached(), "owner and joiner attached")
	require.Equal(t, 1, r.Len())
}

func TestRegistrySettledWaiterIsNotJoined(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	old := r.TryGetOrAdd("string", "saved-1", "saved").Waiter
	require.True(t, old.detach(context.Canceled))

	// DoneWith for old has not run yet
	next := r.TryGetOrAdd("string", "saved-1", "saved")
	require.True(t, next.Added)
	require.NotNil(t, next.Waiter)
	require.NotSame(t, old, next.Waiter)
	require.Nil(t, next.Existing)
	require.False(t, r.DoneWith("string", "saved-1", "saved", old))
	require.Equal(t, 1, r.Len())
}

func TestRegistrySettledOwnerDoesNotQueueOtherKeys(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	owner := r.TryGetOrAdd("string", "saved-1", "saved").Waiter
	require.True(t, owner.Resolve("/p/1"))

	next := r.TryGetOrAdd("string", "saved-2", "saved")
	require.NotNil(t, next.Waiter)
	require.Nil(t, next.WaitFirst)
	require.Equal(t, 1, r.Len())
}

func TestRegistryQueuesSameCompletionWithDifferentKey(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := r.TryGetOrAdd("string", "saved-1", "saved")
	b := r.TryGetOrAdd("string", "saved-2", "saved")
	require.True(t, b.Added)
	require.Nil(t, b.Waiter)
	require.Same(t, a.Waiter, b.WaitFirst)

	// a different result type on the same completion also waits
	c := r.TryGetOrAdd("int", "saved-1", "saved")
	require.Same(t, a.Waiter, c.WaitFirst)

	// a different completion is independent
	d := r.TryGetOrAdd("string", "loaded-1", "loaded")
	require.NotNil(t, d.Waiter)
	require.Equal(t, 2, r.Len())
}

func TestRegistryWaitsOnKeyHeldUnderOtherEvent(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := r.TryGetOrAdd("string", "k", "saved")
	b := r.TryGetOrAdd("string", "k", "other")
	require.True(t, b.Added)
	require.Same(t, a.Waiter, b.WaitFirst)
}

func TestRegistryDoneWithIgnoresStaleWaiter(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	old := r.TryGetOrAdd("string", "saved-1", "saved").Waiter
	require.True(t, r.DoneWith("string", "saved-1", "saved", old))
	require.Equal(t, 0, r.Len())

	fresh := r.TryGetOrAdd("string", "saved-1", "saved").Waiter
	require.NotSame(t, old, fresh)

	require.False(t, r.DoneWith("string", "saved-1", "saved", old))
	require.False(t, r.DoneWith("string", "saved-1", "other", fresh))
	require.False(t, r.DoneWith("int", "saved-1", "saved", fresh))
	require.Equal(t, 1, r.Len())

	require.True(t, r.DoneWith("string", "saved-1", "saved", fresh))
	require.Equal(t, 0, r.Len())
}

func TestRegistryDoneWithReleasesCompletionOwnership(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := r.TryGetOrAdd("string", "saved-1", "saved").Waiter
	require.NotNil(t, r.TryGetOrAdd("string", "saved-2", "saved").WaitFirst)

	require.True(t, r.DoneWith("string", "saved-1", "saved", a))
	b := r.TryGetOrAdd("string", "saved-2", "saved")
	require.NotNil(t, b.Waiter)
}

func TestRegistryFailAllAndPending(t *testing.T) {
	testlog.Start(t)
	r := NewRegistry()
	a := r.TryGetOrAdd("string", "b-key", "b").Waiter
	c := r.TryGetOrAdd("string", "a-key", "a").Waiter
	require.True(t, a.attach())

	pending := r.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, "a-key", pending[0].Key)
	require.Equal(t, "b-key", pending[1].Key)
	require.Equal(t, 2, pending[1].Attached)
	require.Equal(t, 1, pending[0].Attached)

	boom := errors.New("boom")
	require.Equal(t, 2, r.FailAll(boom))
	require.Equal(t, 0, r.Len())
	for _, w := range []*Waiter{a, c} {
		_, err := w.Result()
		require.ErrorIs(t, err, boom)
	}
}
