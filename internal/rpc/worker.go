package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
)

// MessageHandler turns one request body into one reply body. The Dispatcher
// implements it for the claim pipeline envelope; the prediction service
// implements it directly for its bare payload.
type MessageHandler interface {
	Handle(ctx context.Context, body []byte) ([]byte, error)
}

// Worker consumes a durable, named request queue and replies to each
// caller's reply queue.
//
// Per message: RECEIVED -> DISPATCHED -> (REPLIED_OK | REPLIED_ERROR) ->
// ACKNOWLEDGED. Messages are always acknowledged without requeueing; a
// handler failure becomes an explicit error reply so the caller owns retry
// decisions.
type Worker struct {
	pool     *broker.Pool
	queue    string
	prefetch int
	handler  MessageHandler
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithPrefetch bounds how many unacknowledged messages the worker holds
// concurrently. This is the backpressure mechanism between producer rate
// and worker capacity.
func WithPrefetch(n int) WorkerOption {
	return func(w *Worker) { w.prefetch = n }
}

// NewWorker creates a worker serving queueName with the given handler.
func NewWorker(pool *broker.Pool, queueName string, handler MessageHandler, opts ...WorkerOption) *Worker {
	w := &Worker{
		pool:     pool,
		queue:    queueName,
		prefetch: 10,
		handler:  handler,
		logger:   logging.ForService("rpc-worker").With("queue", queueName),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes the request queue until ctx is cancelled or the delivery
// stream ends.
func (w *Worker) Run(ctx context.Context) error {
	ch, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer w.pool.Release(ch)

	if err := w.setup(ch); err != nil {
		return err
	}

	consumerTag := "worker-" + uuid.NewString()
	deliveries, err := ch.Consume(
		w.queue,
		consumerTag,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.New(fmt.Errorf("consuming request queue: %w", err)).
			Component("rpc-worker").
			Category(errors.CategoryTransport).
			Context("queue", w.queue).
			Build()
	}

	// The channel goes back to the pool on return; cancel the consumer
	// first so the next holder does not inherit a delivery stream.
	defer func() {
		if err := ch.Cancel(consumerTag, false); err != nil {
			w.logger.Debug("cancelling consumer failed", "error", err)
		}
	}()

	w.logger.Info("awaiting rpc requests")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.Newf("delivery stream closed for queue %s", w.queue).
					Component("rpc-worker").
					Category(errors.CategoryTransport).
					Build()
			}
			w.handleDelivery(ctx, ch, &delivery)
		}
	}
}

func (w *Worker) setup(ch broker.Channel) error {
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		return errors.New(fmt.Errorf("setting qos: %w", err)).
			Component("rpc-worker").
			Category(errors.CategoryTransport).
			Build()
	}

	// Durable, non-auto-deleted request queue with a known name; must match
	// the routing key used by clients.
	_, err := ch.QueueDeclare(
		w.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.New(fmt.Errorf("declaring request queue: %w", err)).
			Component("rpc-worker").
			Category(errors.CategoryTransport).
			Context("queue", w.queue).
			Build()
	}
	return nil
}

// handleDelivery services one message end to end. The message is always
// acknowledged with requeue disabled once processing finishes.
func (w *Worker) handleDelivery(ctx context.Context, ch broker.Channel, delivery *amqp.Delivery) {
	defer func() {
		if err := delivery.Ack(false); err != nil {
			w.logger.Error("acknowledging message failed", "error", err)
		}
	}()

	// A message without a reply address cannot be serviced.
	if delivery.ReplyTo == "" {
		w.logger.Error("dropping request without reply_to",
			"correlation_id", delivery.CorrelationId,
		)
		return
	}

	body, err := w.handler.Handle(ctx, delivery.Body)
	if err != nil {
		w.logger.Error("handler failed",
			"correlation_id", delivery.CorrelationId,
			"error", err,
		)
		errBody, marshalErr := json.Marshal(ErrorReply{
			Status:  StatusError,
			Message: err.Error(),
		})
		if marshalErr != nil {
			w.logger.Error("encoding error reply failed", "error", marshalErr)
			return
		}
		w.reply(ctx, ch, delivery, errBody)
		return
	}

	w.reply(ctx, ch, delivery, body)
}

// reply publishes a response to the caller's reply queue. A failure here is
// swallowed after logging: if the caller timed out, its ephemeral queue is
// already gone and it has given up.
func (w *Worker) reply(ctx context.Context, ch broker.Channel, delivery *amqp.Delivery, body []byte) {
	err := ch.PublishWithContext(ctx,
		"",               // default exchange
		delivery.ReplyTo, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: delivery.CorrelationId,
			Body:          body,
		},
	)
	if err != nil {
		w.logger.Warn("publishing reply failed",
			"reply_to", delivery.ReplyTo,
			"correlation_id", delivery.CorrelationId,
			"error", err,
		)
		return
	}

	w.logger.Debug("request complete", "correlation_id", delivery.CorrelationId)
}
