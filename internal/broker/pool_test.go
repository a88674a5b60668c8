package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/broker/brokertest"
)

func newTestPool(t *testing.T, cfg broker.Config) (*broker.Pool, *brokertest.Broker) {
	t.Helper()
	b := brokertest.New()
	pool, err := broker.NewPool(cfg, b.Dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, b
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, broker.Config{MaxConnections: 1, MaxChannels: 2})

	ch, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, ch)
	assert.False(t, ch.IsClosed())

	pool.Release(ch)

	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, ch, again)
	pool.Release(again)
}

func TestPoolAcquireBlocksAtMaxChannels(t *testing.T) {
	pool, _ := newTestPool(t, broker.Config{MaxConnections: 1, MaxChannels: 2})

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)

	// Releasing frees a slot for the next caller.
	pool.Release(first)
	third, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Release(second)
	pool.Release(third)
}

func TestPoolRedialsDroppedConnection(t *testing.T) {
	pool, b := newTestPool(t, broker.Config{MaxConnections: 2, MaxChannels: 4})

	// Simulate the broker dropping every established connection.
	for _, conn := range b.Conns() {
		require.NoError(t, conn.Close())
	}
	dialed := len(b.Conns())

	ch, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ch.IsClosed())
	assert.Greater(t, len(b.Conns()), dialed, "expected a fresh connection to be dialed")
	pool.Release(ch)
}

func TestPoolDiscardsBrokenChannelOnRelease(t *testing.T) {
	pool, _ := newTestPool(t, broker.Config{MaxConnections: 1, MaxChannels: 2})

	ch, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	pool.Release(ch)

	fresh, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, ch, fresh)
	assert.False(t, fresh.IsClosed())
	pool.Release(fresh)
}

func TestPoolAcquireAfterClose(t *testing.T) {
	pool, _ := newTestPool(t, broker.Config{MaxConnections: 1, MaxChannels: 1})
	require.NoError(t, pool.Close())

	_, err := pool.Acquire(context.Background())
	require.Error(t, err)
}
