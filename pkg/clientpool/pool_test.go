package clientpool

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type mockClient struct {
	addr   string
	closed *atomic.Bool
}

func (c *mockClient) Close() error {
	c.closed.Store(true)
	return nil
}

func TestPoolCreatesClientAtMostOnce(t *testing.T) {
	created := atomic.NewInt64(0)
	pool := NewPool("test", func(addr string) (PoolClient, error) {
		created.Inc()
		return &mockClient{addr: addr, closed: atomic.NewBool(false)}, nil
	}, nil, log.NewNopLogger())

	first, err := pool.GetClientFor("host-1:8090")
	require.NoError(t, err)
	second, err := pool.GetClientFor("host-1:8090")
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, int64(1), created.Load())

	_, err = pool.GetClientFor("host-2:8090")
	require.NoError(t, err)
	require.Equal(t, int64(2), created.Load())
	require.Equal(t, 2, pool.Count())
	require.ElementsMatch(t, []string{"host-1:8090", "host-2:8090"}, pool.RegisteredAddresses())
}

func TestPoolRemoveClientFor(t *testing.T) {
	pool := NewPool("test", func(addr string) (PoolClient, error) {
		return &mockClient{addr: addr, closed: atomic.NewBool(false)}, nil
	}, nil, log.NewNopLogger())

	client, err := pool.GetClientFor("host-1:8090")
	require.NoError(t, err)

	pool.RemoveClientFor("host-1:8090")
	require.True(t, client.(*mockClient).closed.Load())
	require.Equal(t, 0, pool.Count())

	// Removing an unknown address is a no-op.
	pool.RemoveClientFor("host-1:8090")
}

func TestPoolShutdownClosesAllClients(t *testing.T) {
	pool := NewPool("test", func(addr string) (PoolClient, error) {
		return &mockClient{addr: addr, closed: atomic.NewBool(false)}, nil
	}, nil, log.NewNopLogger())

	first, err := pool.GetClientFor("host-1:8090")
	require.NoError(t, err)
	second, err := pool.GetClientFor("host-2:8090")
	require.NoError(t, err)

	pool.Shutdown()
	require.True(t, first.(*mockClient).closed.Load())
	require.True(t, second.(*mockClient).closed.Load())
	require.Equal(t, 0, pool.Count())

	// The pool stays usable after a shutdown.
	third, err := pool.GetClientFor("host-1:8090")
	require.NoError(t, err)
	require.NotSame(t, first, third)
}
