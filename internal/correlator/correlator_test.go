package correlator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorrelatorMonotonicIDs(t *testing.T) {
	c := New()
	seen := map[uint64]struct{}{}
	var prev uint64
	for i := 0; i < 100; i++ {
		id := c.Next(Handler{})
		require.Greater(t, id, prev)
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
		prev = id
	}
	require.Equal(t, 100, c.Len())
	require.Equal(t, uint64(100), c.LastID())
}

func TestCorrelatorTakeOnce(t *testing.T) {
	c := New()
	var got []byte
	id := c.Next(Handler{OnSuccess: func(data []byte) { got = data }})

	h, ok := c.Take(id)
	require.True(t, ok)
	h.OnSuccess([]byte("reply"))
	require.Equal(t, "reply", string(got))

	_, ok = c.Take(id)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestCorrelatorTakeUnknown(t *testing.T) {
	c := New()
	_, ok := c.Take(0)
	require.False(t, ok)
	_, ok = c.Take(42)
	require.False(t, ok)
}

func TestCorrelatorNextIDNotRecorded(t *testing.T) {
	c := New()
	require.Equal(t, uint64(1), c.NextID())
	require.Equal(t, uint64(2), c.Next(Handler{}))
	require.Equal(t, 1, c.Len())
	_, ok := c.Take(1)
	require.False(t, ok)
}

func TestCorrelatorResetDiscards(t *testing.T) {
	c := New()
	called := false
	h := Handler{
		OnSuccess: func([]byte) { called = true },
		OnFailure: func(error) { called = true },
	}
	first := c.Next(h)
	c.Next(h)
	c.Next(h)

	require.Equal(t, 3, c.Reset())
	require.False(t, called)
	require.Equal(t, 0, c.Len())

	// Handlers of the previous generation never resolve.
	_, ok := c.Take(first)
	require.False(t, ok)

	// Counter starts over.
	require.Equal(t, uint64(1), c.Next(Handler{}))
}
