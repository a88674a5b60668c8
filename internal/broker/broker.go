// Package broker provides a pooled AMQP connection and channel layer.
//
// All higher components acquire a channel from the pool, use it for one
// round trip, and return it. The pool caps total concurrent broker resource
// usage per process and transparently redials dropped connections.
package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of amqp091.Channel operations the pipeline uses.
// *amqp091.Channel satisfies it directly; tests substitute fakes.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	IsClosed() bool
	Close() error
}

// Connection abstracts a live broker connection able to open channels.
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// DialFunc opens a new broker connection. Injected so tests run without a
// broker.
type DialFunc func() (Connection, error)

// amqpConnection adapts *amqp091.Connection to the Connection interface.
type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (c *amqpConnection) IsClosed() bool { return c.conn.IsClosed() }

func (c *amqpConnection) Close() error { return c.conn.Close() }

// Dial returns a DialFunc connecting to the given AMQP URL.
func Dial(url string) DialFunc {
	return func() (Connection, error) {
		conn, err := amqp.Dial(url)
		if err != nil {
			return nil, err
		}
		return &amqpConnection{conn: conn}, nil
	}
}
