package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/Anilsharma012/ekschin/notifyd/registry"
	"github.com/Anilsharma012/ekschin/testutil"
)

// fakeConn records sends and lets tests flip writability.
type fakeConn struct {
	mu      sync.Mutex
	open    bool
	sendErr error
	sent    []any
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{open: true}
}

func (c *fakeConn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, v)
	return nil
}

func (c *fakeConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Close(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.closed = true
	return nil
}

func (c *fakeConn) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *fakeConn) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	reg := registry.New()
	first := newFakeConn()
	second := newFakeConn()

	reg.Register("u1", "user", first)
	reg.Register("u1", "seller", second)

	require.Equal(t, 1, reg.Len())
	require.Equal(t, []string{"u1"}, reg.ConnectedUserIDs())
	require.True(t, reg.IsConnected("u1"))

	// The frame must land on the newest handle only.
	require.True(t, reg.Send(ctx, "u1", "hello"))
	require.Equal(t, 0, first.sentCount())
	require.Equal(t, 1, second.sentCount())

	// The superseded handle's serve loop eventually unregisters it; that
	// must not disturb the newer entry.
	reg.Unregister(first)
	require.True(t, reg.IsConnected("u1"))

	reg.Unregister(second)
	require.False(t, reg.IsConnected("u1"))
	require.Equal(t, 0, reg.Len())
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	conn := newFakeConn()
	reg.Register("u1", "user", conn)

	reg.Unregister(conn)
	require.False(t, reg.IsConnected("u1"))

	// Second unregister and a never-registered handle are both no-ops.
	reg.Unregister(conn)
	reg.Unregister(newFakeConn())
	require.Equal(t, 0, reg.Len())
}

func TestRegistry_Send(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	t.Run("Offline", func(t *testing.T) {
		t.Parallel()
		reg := registry.New()
		require.False(t, reg.Send(ctx, "nobody", "hi"))
	})

	t.Run("NotOpen", func(t *testing.T) {
		t.Parallel()
		reg := registry.New()
		conn := newFakeConn()
		reg.Register("u1", "user", conn)
		conn.setOpen(false)
		require.False(t, reg.Send(ctx, "u1", "hi"))
		require.Equal(t, 0, conn.sentCount())
	})

	t.Run("WriteFails", func(t *testing.T) {
		t.Parallel()
		reg := registry.New()
		conn := newFakeConn()
		conn.sendErr = xerrors.New("broken pipe")
		reg.Register("u1", "user", conn)
		require.False(t, reg.Send(ctx, "u1", "hi"))
	})

	t.Run("OK", func(t *testing.T) {
		t.Parallel()
		reg := registry.New()
		conn := newFakeConn()
		reg.Register("u1", "user", conn)
		require.True(t, reg.Send(ctx, "u1", "hi"))
		require.Equal(t, 1, conn.sentCount())
	})
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	t.Parallel()
	ctx := testutil.Context(t, testutil.WaitShort)

	reg := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				conn := newFakeConn()
				reg.Register("u1", "user", conn)
				reg.Send(ctx, "u1", j)
				reg.Unregister(conn)
			}
		}()
	}
	wg.Wait()

	// Every goroutine unregistered its own handle; whichever interleaving
	// happened, at most the final replacement survives.
	require.LessOrEqual(t, reg.Len(), 1)
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for i, conn := range conns {
		reg.Register(string(rune('a'+i)), "user", conn)
	}

	reg.Close()
	require.Equal(t, 0, reg.Len())
	for _, conn := range conns {
		require.True(t, conn.closed)
	}
}
