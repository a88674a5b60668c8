package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/claimflow/claimflow/internal/errors"
	"github.com/claimflow/claimflow/internal/logging"
)

// Config holds the pool limits. MaxConnections is kept small; channels are
// multiplexed over the connections up to MaxChannels.
type Config struct {
	MaxConnections int
	MaxChannels    int
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		MaxConnections: 2,
		MaxChannels:    10,
	}
}

// Pool owns a small set of long-lived broker connections and hands out
// channels multiplexed over them. Acquire blocks while MaxChannels are in
// flight; Release must be called on every acquired channel.
type Pool struct {
	cfg  Config
	dial DialFunc

	mu    sync.Mutex
	conns []Connection
	next  int
	idle  []Channel

	// slots bounds channels handed out; one token per in-flight channel.
	slots chan struct{}

	closed bool
	logger *slog.Logger
}

// NewPool creates a pool and establishes the first connection eagerly, so a
// misconfigured broker URL fails at startup rather than on first use.
func NewPool(cfg Config, dial DialFunc) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultConfig().MaxConnections
	}
	if cfg.MaxChannels <= 0 {
		cfg.MaxChannels = DefaultConfig().MaxChannels
	}

	p := &Pool{
		cfg:    cfg,
		dial:   dial,
		conns:  make([]Connection, cfg.MaxConnections),
		slots:  make(chan struct{}, cfg.MaxChannels),
		logger: logging.ForService("broker"),
	}

	conn, err := dial()
	if err != nil {
		return nil, errors.New(fmt.Errorf("connecting to broker: %w", err)).
			Component("broker").
			Category(errors.CategoryTransport).
			Build()
	}
	p.conns[0] = conn

	p.logger.Info("broker pool established",
		"max_connections", cfg.MaxConnections,
		"max_channels", cfg.MaxChannels,
	)

	return p, nil
}

// Acquire returns a channel from the pool, blocking until one is free or a
// new one can be opened, or until ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Channel, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.New(fmt.Errorf("acquiring broker channel: %w", ctx.Err())).
			Component("broker").
			Category(errors.CategoryTransport).
			Build()
	}

	ch, err := p.takeChannel()
	if err != nil {
		<-p.slots
		return nil, errors.New(fmt.Errorf("opening broker channel: %w", err)).
			Component("broker").
			Category(errors.CategoryTransport).
			Build()
	}
	return ch, nil
}

// Release returns a channel to the pool. Broken channels are discarded; the
// backing connection is redialed lazily on the next Acquire.
func (p *Pool) Release(ch Channel) {
	if ch == nil {
		return
	}

	p.mu.Lock()
	if !p.closed && !ch.IsClosed() {
		p.idle = append(p.idle, ch)
	} else if !ch.IsClosed() {
		_ = ch.Close()
	}
	p.mu.Unlock()

	<-p.slots
}

// takeChannel pops an idle healthy channel or opens a new one on a healthy
// connection, redialing as needed.
func (p *Pool) takeChannel() (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("pool is closed")
	}

	// Drain broken idle channels while looking for a healthy one.
	for len(p.idle) > 0 {
		ch := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if !ch.IsClosed() {
			return ch, nil
		}
		p.logger.Debug("discarding broken idle channel")
	}

	conn, err := p.healthyConnLocked()
	if err != nil {
		return nil, err
	}
	return conn.Channel()
}

// healthyConnLocked returns the next connection in round-robin order,
// redialing any connection the broker has dropped. A connection loss must
// never crash callers.
func (p *Pool) healthyConnLocked() (Connection, error) {
	var lastErr error
	for i := 0; i < len(p.conns); i++ {
		idx := p.next % len(p.conns)
		p.next++

		conn := p.conns[idx]
		if conn != nil && !conn.IsClosed() {
			return conn, nil
		}

		p.logger.Info("redialing broker connection", "slot", idx)
		fresh, err := p.dial()
		if err != nil {
			lastErr = err
			continue
		}
		p.conns[idx] = fresh
		return fresh, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no broker connection available")
	}
	return nil, lastErr
}

// Close shuts the pool down and closes all connections. Outstanding
// channels are closed on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for _, ch := range p.idle {
		if ch != nil && !ch.IsClosed() {
			_ = ch.Close()
		}
	}
	p.idle = nil

	var firstErr error
	for i, conn := range p.conns {
		if conn == nil || conn.IsClosed() {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conns[i] = nil
	}

	p.logger.Info("broker pool closed")
	return firstErr
}
