// Package brokertest provides an in-process broker for tests: queues,
// topic bindings and deliveries backed by Go channels, behind the same
// Connection and Channel interfaces the pool hands out.
package brokertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/claimflow/claimflow/internal/broker"
)

const queueCapacity = 64

type binding struct {
	exchange string
	key      string
	queue    string
}

// Broker is an in-memory stand-in for an AMQP broker. Dial it from a pool
// under test; every channel the pool opens shares this broker's state.
type Broker struct {
	mu        sync.Mutex
	queues    map[string]chan amqp.Delivery
	bindings  []binding
	exchanges map[string]string
	consumers map[string]string
	conns     []*Conn
	tagSeq    uint64
	queueSeq  uint64

	dropped  int
	acks     int
	nacks    int
	declares int
}

// New creates an empty in-memory broker.
func New() *Broker {
	return &Broker{
		queues:    make(map[string]chan amqp.Delivery),
		exchanges: make(map[string]string),
		consumers: make(map[string]string),
	}
}

// Dial is a broker.DialFunc producing connections to this broker.
func (b *Broker) Dial() (broker.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn := &Conn{broker: b}
	b.conns = append(b.conns, conn)
	return conn, nil
}

// Conns returns every connection dialed so far.
func (b *Broker) Conns() []*Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Conn(nil), b.conns...)
}

// Acks returns how many deliveries have been acknowledged.
func (b *Broker) Acks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acks
}

// Nacks returns how many deliveries have been rejected.
func (b *Broker) Nacks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nacks
}

// Dropped returns how many publishes matched no queue or overflowed one.
func (b *Broker) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Consumers returns how many consumers are currently registered.
func (b *Broker) Consumers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.consumers)
}

// ExchangeDeclares returns how many exchange declarations have been made.
func (b *Broker) ExchangeDeclares() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.declares
}

// HasQueue reports whether the named queue currently exists.
func (b *Broker) HasQueue(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[name]
	return ok
}

// Deliver injects a message directly into a queue, as an external producer
// would.
func (b *Broker) Deliver(queue string, d amqp.Delivery) error {
	b.mu.Lock()
	ch, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such queue: %s", queue)
	}
	d.Acknowledger = (*acknowledger)(b)
	ch <- d
	return nil
}

func (b *Broker) publish(exchange, key string, msg amqp.Publishing) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []chan amqp.Delivery
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			targets = append(targets, q)
		}
	} else {
		for _, bind := range b.bindings {
			if bind.exchange == exchange && topicMatch(bind.key, key) {
				if q, ok := b.queues[bind.queue]; ok {
					targets = append(targets, q)
				}
			}
		}
	}
	if len(targets) == 0 {
		b.dropped++
		return
	}

	for _, q := range targets {
		select {
		case q <- amqp.Delivery{
			Acknowledger:  (*acknowledger)(b),
			ContentType:   msg.ContentType,
			CorrelationId: msg.CorrelationId,
			ReplyTo:       msg.ReplyTo,
			RoutingKey:    key,
			Exchange:      exchange,
			Body:          msg.Body,
		}:
		default:
			b.dropped++
		}
	}
}

// topicMatch implements AMQP topic matching with * (one word) and # (zero or
// more words).
func topicMatch(pattern, key string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchSegments(pattern, key []string) bool {
	switch {
	case len(pattern) == 0:
		return len(key) == 0
	case pattern[0] == "#":
		for i := 0; i <= len(key); i++ {
			if matchSegments(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case len(key) == 0:
		return false
	case pattern[0] == "*" || pattern[0] == key[0]:
		return matchSegments(pattern[1:], key[1:])
	default:
		return false
	}
}

// acknowledger counts acks and rejects on the parent broker.
type acknowledger Broker

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	b := (*Broker)(a)
	b.mu.Lock()
	b.acks++
	b.mu.Unlock()
	return nil
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	b := (*Broker)(a)
	b.mu.Lock()
	b.nacks++
	b.mu.Unlock()
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, true)
}

// Conn is one dialed connection.
type Conn struct {
	broker *Broker
	mu     sync.Mutex
	closed bool
}

func (c *Conn) Channel() (broker.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("connection is closed")
	}
	return &Channel{conn: c}, nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Channel implements broker.Channel against the in-memory broker.
type Channel struct {
	conn   *Conn
	mu     sync.Mutex
	closed bool
}

func (ch *Channel) broken() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed || ch.conn.IsClosed()
}

func (ch *Channel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if ch.broken() {
		return amqp.Queue{}, fmt.Errorf("channel is closed")
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if name == "" {
		b.queueSeq++
		name = fmt.Sprintf("amq.gen-%d", b.queueSeq)
	}
	if _, ok := b.queues[name]; !ok {
		b.queues[name] = make(chan amqp.Delivery, queueCapacity)
	}
	return amqp.Queue{Name: name}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	if ch.broken() {
		return fmt.Errorf("channel is closed")
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = append(b.bindings, binding{exchange: exchange, key: key, queue: name})
	return nil
}

func (ch *Channel) QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error) {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return 0, nil
	}
	delete(b.queues, name)
	return len(q), nil
}

func (ch *Channel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	if ch.broken() {
		return fmt.Errorf("channel is closed")
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exchanges[name] = kind
	b.declares++
	return nil
}

func (ch *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if ch.broken() {
		return nil, fmt.Errorf("channel is closed")
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queue]
	if !ok {
		return nil, fmt.Errorf("no such queue: %s", queue)
	}
	if consumer == "" {
		b.tagSeq++
		consumer = fmt.Sprintf("ctag-%d", b.tagSeq)
	}
	b.consumers[consumer] = queue
	return q, nil
}

func (ch *Channel) Cancel(consumer string, noWait bool) error {
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.consumers, consumer)
	return nil
}

func (ch *Channel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if ch.broken() {
		return fmt.Errorf("channel is closed")
	}
	ch.conn.broker.publish(exchange, key, msg)
	return nil
}

func (ch *Channel) Qos(prefetchCount, prefetchSize int, global bool) error {
	if ch.broken() {
		return fmt.Errorf("channel is closed")
	}
	return nil
}

func (ch *Channel) IsClosed() bool { return ch.broken() }

func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closed = true
	return nil
}
