package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/telemetry"
)

// Client issues a request to a named queue and awaits exactly one correlated
// reply or a timeout.
//
// Each call declares its own exclusive, auto-deleting reply queue, so
// cross-call correlation leakage is structurally impossible and no shared
// pending-futures state is needed: the consumer delivery channel is the
// per-call future.
type Client struct {
	pool    *broker.Pool
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.RPCMetrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout overrides the default reply timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientMetrics records call outcomes and durations.
func WithClientMetrics(m *telemetry.RPCMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates an RPC client on top of the channel pool.
func NewClient(pool *broker.Pool, opts ...ClientOption) *Client {
	c := &Client{
		pool:    pool,
		timeout: 30 * time.Second,
		logger:  logging.ForService("rpc-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call publishes payload to queueName and returns the correlated reply body.
// It fails with a timeout-category error when no reply arrives within the
// configured duration, or a transport-category error on publish/connect
// failure. ctx cancellation is honored at every suspension point.
func (c *Client) Call(ctx context.Context, queueName string, payload []byte) ([]byte, error) {
	start := time.Now()
	body, err := c.call(ctx, queueName, payload)
	if c.metrics != nil {
		status := "ok"
		switch {
		case errors.IsTimeout(err):
			status = "timeout"
		case err != nil:
			status = "error"
		}
		c.metrics.ObserveCall(queueName, status, time.Since(start).Seconds())
	}
	return body, err
}

func (c *Client) call(ctx context.Context, queueName string, payload []byte) ([]byte, error) {
	correlationID := uuid.NewString()

	ch, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(ch)

	// Fresh exclusive reply queue scoped to this single call.
	replyQueue, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, errors.New(fmt.Errorf("declaring reply queue: %w", err)).
			Component("rpc-client").
			Category(errors.CategoryTransport).
			Context("queue", queueName).
			Build()
	}

	consumerTag := "rpc-" + correlationID
	deliveries, err := ch.Consume(
		replyQueue.Name,
		consumerTag,
		true,  // auto-ack, replies are not worth redelivering
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		_, _ = ch.QueueDelete(replyQueue.Name, false, false, false)
		return nil, errors.New(fmt.Errorf("consuming reply queue: %w", err)).
			Component("rpc-client").
			Category(errors.CategoryTransport).
			Context("queue", queueName).
			Build()
	}

	// Cleanup runs on every exit path: cancel the consumer, delete the
	// ephemeral queue. The channel release is deferred above.
	defer func() {
		if err := ch.Cancel(consumerTag, false); err != nil {
			c.logger.Debug("cancelling reply consumer failed", "error", err)
		}
		if _, err := ch.QueueDelete(replyQueue.Name, false, false, false); err != nil {
			c.logger.Debug("deleting reply queue failed", "queue", replyQueue.Name, "error", err)
		}
	}()

	err = ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: correlationID,
			ReplyTo:       replyQueue.Name,
			Body:          payload,
		},
	)
	if err != nil {
		return nil, errors.New(fmt.Errorf("publishing request: %w", err)).
			Component("rpc-client").
			Category(errors.CategoryTransport).
			Context("queue", queueName).
			Build()
	}

	c.logger.Debug("published request",
		"queue", queueName,
		"correlation_id", correlationID,
	)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.New(fmt.Errorf("awaiting reply: %w", ctx.Err())).
				Component("rpc-client").
				Category(errors.CategoryTimeout).
				Context("queue", queueName).
				Build()

		case <-timer.C:
			return nil, errors.Newf("no reply within %s for queue %s", c.timeout, queueName).
				Component("rpc-client").
				Category(errors.CategoryTimeout).
				Context("correlation_id", correlationID).
				Build()

		case delivery, ok := <-deliveries:
			if !ok {
				return nil, errors.Newf("reply channel closed for queue %s", queueName).
					Component("rpc-client").
					Category(errors.CategoryTransport).
					Build()
			}
			// Messages with no or unknown correlation id are logged and
			// dropped, not an error and not retried.
			if delivery.CorrelationId != correlationID {
				c.logger.Warn("dropping reply with unknown correlation id",
					"got", delivery.CorrelationId,
					"want", correlationID,
				)
				continue
			}
			return delivery.Body, nil
		}
	}
}
