package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/datastore"
	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/telemetry"
)

// MetricsStore is the slice of the datastore the aggregator needs.
type MetricsStore interface {
	InsertClaimMetrics(rows []*datastore.ClaimMetric) error
	InsertEvidenceMetric(row *datastore.EvidenceMetric) error
}

// Consumer binds one durable queue to the monitoring exchange and persists
// per-module metric records. Malformed or unroutable messages are dropped
// with a log line; there is no retry queue.
type Consumer struct {
	pool        *broker.Pool
	exchange    string
	queue       string
	bindingKeys []string
	prefetch    int
	store       MetricsStore
	logger      *slog.Logger
	metrics     *telemetry.MonitoringMetrics
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerBindings overrides the binding key patterns.
func WithConsumerBindings(exchange, queue string, bindingKeys []string) ConsumerOption {
	return func(c *Consumer) {
		c.exchange = exchange
		c.queue = queue
		c.bindingKeys = bindingKeys
	}
}

// WithConsumerPrefetch bounds unacknowledged messages held at once.
func WithConsumerPrefetch(n int) ConsumerOption {
	return func(c *Consumer) { c.prefetch = n }
}

// WithConsumerMetrics counts consumed events by outcome.
func WithConsumerMetrics(m *telemetry.MonitoringMetrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// NewConsumer creates the monitoring aggregator consumer.
func NewConsumer(pool *broker.Pool, store MetricsStore, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		pool:        pool,
		exchange:    DefaultExchange,
		queue:       DefaultQueue,
		bindingKeys: DefaultBindingKeys(),
		prefetch:    10,
		store:       store,
		logger:      logging.ForService("monitoring-consumer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes monitoring events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(ch)

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return transportErr("setting qos", err)
	}
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		return transportErr("declaring exchange", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return transportErr("declaring queue", err)
	}
	for _, key := range c.bindingKeys {
		if err := ch.QueueBind(c.queue, key, c.exchange, false, nil); err != nil {
			return transportErr("binding queue", err)
		}
	}

	consumerTag := "monitoring-" + uuid.NewString()
	deliveries, err := ch.Consume(c.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return transportErr("consuming queue", err)
	}

	// The channel goes back to the pool on return; cancel the consumer
	// first so the next holder does not inherit a delivery stream.
	defer func() {
		if err := ch.Cancel(consumerTag, false); err != nil {
			c.logger.Debug("cancelling consumer failed", "error", err)
		}
	}()

	c.logger.Info("waiting for monitoring events",
		"queue", c.queue,
		"binding_keys", c.bindingKeys,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return transportErr("delivery stream closed", fmt.Errorf("queue %s", c.queue))
			}
			c.processDelivery(&delivery)
		}
	}
}

// processDelivery validates, routes and persists one event. Only a
// successful persistence acknowledges the message normally; everything else
// removes it from the queue without redelivery.
func (c *Consumer) processDelivery(delivery *amqp.Delivery) {
	event, err := c.parseAndValidate(delivery.Body)
	if err != nil {
		c.logger.Warn("dropping invalid monitoring event", "error", err)
		c.metrics.IncConsumed("dropped")
		c.ack(delivery)
		return
	}

	handler := c.route(event.EventType, event.ModuleName)
	if handler == nil {
		c.logger.Warn("dropping unroutable monitoring event",
			"event_type", event.EventType,
			"module_name", event.ModuleName,
		)
		c.metrics.IncConsumed("dropped")
		c.ack(delivery)
		return
	}

	if err := handler(event); err != nil {
		// Missing or malformed payload keys are part of validation: the
		// event is dropped like any other invalid one. Only a persistence
		// failure rejects.
		if errors.HasCategory(err, errors.CategoryValidation) {
			c.logger.Warn("dropping invalid monitoring event",
				"event_type", event.EventType,
				"module_name", event.ModuleName,
				"error", err,
			)
			c.metrics.IncConsumed("dropped")
			c.ack(delivery)
			return
		}
		c.logger.Error("monitoring event processing failed",
			"event_type", event.EventType,
			"module_name", event.ModuleName,
			"error", err,
		)
		c.metrics.IncConsumed("failed")
		// Reject without requeue: the message is not retried.
		if err := delivery.Nack(false, false); err != nil {
			c.logger.Error("rejecting message failed", "error", err)
		}
		return
	}

	c.metrics.IncConsumed("stored")
	c.ack(delivery)
}

func (c *Consumer) ack(delivery *amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("acknowledging message failed", "error", err)
	}
}

// parseAndValidate decodes the envelope and checks required fields.
func (c *Consumer) parseAndValidate(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.New(fmt.Errorf("parsing monitoring event: %w", err)).
			Component("monitoring-consumer").
			Category(errors.CategoryValidation).
			Build()
	}
	if event.EventType == "" || event.ModuleName == "" {
		return nil, errors.Newf("monitoring event missing required field event_type or module_name").
			Component("monitoring-consumer").
			Category(errors.CategoryValidation).
			Build()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return &event, nil
}

type eventHandler func(event *Event) error

// route selects the handler for the (event_type, module_name) pair.
func (c *Consumer) route(eventType, moduleName string) eventHandler {
	switch {
	case eventType == EventComplete && moduleName == ModuleEvidenceRetrieval:
		return c.handleEvidenceRetrievalMetrics
	case eventType == EventCreated && moduleName == ModuleClaimAnnotation:
		return c.handleClaimAnnotationMetrics
	default:
		return nil
	}
}

// handleEvidenceRetrievalMetrics stores one evidence event verbatim.
func (c *Consumer) handleEvidenceRetrievalMetrics(event *Event) error {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	return c.store.InsertEvidenceMetric(&datastore.EvidenceMetric{
		CreatedAt:  event.Timestamp,
		EventType:  event.EventType,
		ModuleName: event.ModuleName,
		Payload:    string(payload),
	})
}

// handleClaimAnnotationMetrics fans the event's parallel arrays out into
// one metric row per claim.
func (c *Consumer) handleClaimAnnotationMetrics(event *Event) error {
	claimIDs, err := stringSlice(event.Data, "claim_ids")
	if err != nil {
		return err
	}
	annotations, err := boolSlice(event.Data, "claim_annotations")
	if err != nil {
		return err
	}
	predictions, err := boolSlice(event.Data, "claim_model_inferences")
	if err != nil {
		return err
	}
	modelIDs, err := stringSlice(event.Data, "claim_model_ids")
	if err != nil {
		return err
	}

	if len(claimIDs) == 0 ||
		len(claimIDs) != len(annotations) ||
		len(claimIDs) != len(predictions) ||
		len(claimIDs) != len(modelIDs) {
		return errors.Newf("claim metric arrays empty or of different lengths").
			Component("monitoring-consumer").
			Category(errors.CategoryValidation).
			Build()
	}

	rows := make([]*datastore.ClaimMetric, 0, len(claimIDs))
	for i := range claimIDs {
		rows = append(rows, &datastore.ClaimMetric{
			CreatedAt:    event.Timestamp,
			ClaimID:      claimIDs[i],
			ClaimModelID: modelIDs[i],
			Annotation:   annotations[i],
			Prediction:   predictions[i],
		})
	}
	return c.store.InsertClaimMetrics(rows)
}

func stringSlice(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key].([]any)
	if !ok {
		return nil, validationErr(key)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, validationErr(key)
		}
		out = append(out, s)
	}
	return out, nil
}

func boolSlice(data map[string]any, key string) ([]bool, error) {
	raw, ok := data[key].([]any)
	if !ok {
		return nil, validationErr(key)
	}
	out := make([]bool, 0, len(raw))
	for _, v := range raw {
		b, ok := v.(bool)
		if !ok {
			return nil, validationErr(key)
		}
		out = append(out, b)
	}
	return out, nil
}

func validationErr(key string) error {
	return errors.Newf("monitoring event missing or malformed field: %s", key).
		Component("monitoring-consumer").
		Category(errors.CategoryValidation).
		Build()
}

func transportErr(op string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Component("monitoring-consumer").
		Category(errors.CategoryTransport).
		Build()
}
