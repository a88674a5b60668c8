package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/claimflow/claimflow/internal/broker"
	"github.com/claimflow/claimflow/internal/logging"
	"github.com/claimflow/claimflow/internal/telemetry"
)

// EventPublisher is what the pipeline services see. Publishing is
// best-effort: implementations log failures and never propagate them into
// the caller's business outcome.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, moduleName string, data map[string]any)
}

// Publisher emits monitoring events to the topic exchange with persisted
// delivery mode. No reply is expected or awaited.
type Publisher struct {
	pool     *broker.Pool
	exchange string
	logger   *slog.Logger
	metrics  *telemetry.MonitoringMetrics

	mu       sync.Mutex
	declared bool
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithExchange overrides the exchange name.
func WithExchange(name string) PublisherOption {
	return func(p *Publisher) { p.exchange = name }
}

// WithPublisherMetrics counts published events.
func WithPublisherMetrics(m *telemetry.MonitoringMetrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// NewPublisher creates a monitoring event publisher on top of the pool.
func NewPublisher(pool *broker.Pool, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		pool:     pool,
		exchange: DefaultExchange,
		logger:   logging.ForService("monitoring-publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends one event, fire and forget. Monitoring must never abort a
// user-facing operation, so every failure path ends in a log line.
func (p *Publisher) Publish(ctx context.Context, eventType, moduleName string, data map[string]any) {
	routingKey := RoutingKey(eventType, moduleName)

	body, err := json.Marshal(Event{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		ModuleName: moduleName,
		Data:       data,
	})
	if err != nil {
		p.logger.Error("encoding monitoring event failed", "routing_key", routingKey, "error", err)
		return
	}

	ch, err := p.pool.Acquire(ctx)
	if err != nil {
		p.logger.Error("acquiring channel for monitoring event failed", "routing_key", routingKey, "error", err)
		return
	}
	defer p.pool.Release(ch)

	if err := p.ensureExchange(ch); err != nil {
		p.logger.Error("declaring monitoring exchange failed", "exchange", p.exchange, "error", err)
		return
	}

	err = ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		p.logger.Error("publishing monitoring event failed", "routing_key", routingKey, "error", err)
		return
	}

	p.metrics.IncPublished(eventType, moduleName)
	p.logger.Debug("sent monitoring event", "routing_key", routingKey)
}

// ensureExchange declares the topic exchange on the first publish only;
// declaring is idempotent on the broker but costs a round trip per call.
func (p *Publisher) ensureExchange(ch broker.Channel) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared {
		return nil
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	p.declared = true
	return nil
}
