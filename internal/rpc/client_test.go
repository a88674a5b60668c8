package rpc_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/broker/brokertest"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/rpc"
)

type handlerFunc func(ctx context.Context, body []byte) ([]byte, error)

func (f handlerFunc) Handle(ctx context.Context, body []byte) ([]byte, error) {
	return f(ctx, body)
}

func newTransport(t *testing.T) (*broker.Pool, *brokertest.Broker) {
	t.Helper()
	b := brokertest.New()
	pool, err := broker.NewPool(broker.Config{MaxConnections: 2, MaxChannels: 10}, b.Dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return pool, b
}

func startWorker(t *testing.T, pool *broker.Pool, queue string, handler rpc.MessageHandler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rpc.NewWorker(pool, queue, handler).Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Let the worker declare its queue and register its consumer.
	time.Sleep(10 * time.Millisecond)
}

func TestCallRoundTrip(t *testing.T) {
	pool, _ := newTransport(t)
	startWorker(t, pool, "echo", handlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		return append([]byte("reply:"), body...), nil
	}))

	client := rpc.NewClient(pool, rpc.WithTimeout(2*time.Second))
	body, err := client.Call(context.Background(), "echo", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "reply:ping", string(body))
}

func TestCallCorrelationIsolation(t *testing.T) {
	pool, _ := newTransport(t)
	startWorker(t, pool, "echo", handlerFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		// Vary processing time so replies arrive out of request order.
		if len(body)%2 == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		return body, nil
	}))

	client := rpc.NewClient(pool, rpc.WithTimeout(5*time.Second))

	const calls = 8
	var wg sync.WaitGroup
	errs := make([]error, calls)
	bodies := make([]string, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("call-%d", i)
			body, err := client.Call(context.Background(), "echo", []byte(payload))
			errs[i] = err
			bodies[i] = string(body)
		}(i)
	}
	wg.Wait()

	for i := 0; i < calls; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, fmt.Sprintf("call-%d", i), bodies[i])
	}
}

func TestCallTimeoutCleansUpReplyQueue(t *testing.T) {
	pool, b := newTransport(t)

	client := rpc.NewClient(pool, rpc.WithTimeout(30*time.Millisecond))
	_, err := client.Call(context.Background(), "nobody-listens", []byte("ping"))
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err), "expected a timeout-category error, got %v", err)

	// The ephemeral reply queue must not survive the call.
	assert.False(t, b.HasQueue("amq.gen-1"))
}

func TestCallContextCancellation(t *testing.T) {
	pool, _ := newTransport(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := rpc.NewClient(pool, rpc.WithTimeout(time.Second))
	_, err := client.Call(ctx, "nobody-listens", []byte("ping"))
	require.Error(t, err)
}

func TestCallDropsMismatchedCorrelationID(t *testing.T) {
	pool, _ := newTransport(t)

	// A misbehaving responder that replies twice: first with a bogus
	// correlation id, then with the right one.
	ch, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	_, err = ch.QueueDeclare("flaky", true, false, false, false, nil)
	require.NoError(t, err)
	deliveries, err := ch.Consume("flaky", "", false, false, false, false, nil)
	require.NoError(t, err)
	go func() {
		defer pool.Release(ch)
		d := <-deliveries
		for _, corrID := range []string{"bogus-correlation-id", d.CorrelationId} {
			_ = ch.PublishWithContext(context.Background(), "", d.ReplyTo, false, false, amqp.Publishing{
				CorrelationId: corrID,
				Body:          []byte("reply for " + corrID),
			})
		}
		_ = d.Ack(false)
	}()

	client := rpc.NewClient(pool, rpc.WithTimeout(2*time.Second))
	body, err := client.Call(context.Background(), "flaky", []byte("ping"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "reply for")
	assert.NotContains(t, string(body), "bogus")
}
