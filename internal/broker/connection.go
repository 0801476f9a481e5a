package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/timmy/docpipe/internal/logger"
)

var errNotConnected = errors.New("broker: not connected")

// Connection owns the process's single RabbitMQ connection. It is created by
// main, handed to the transport, and re-dials with exponential backoff
// whenever the server closes it, until Close is called.
type Connection struct {
	url        string
	newBackoff backoffFactory
	log        *logger.Logger
	dial       func(url string) (*amqp.Connection, error)

	lifetime context.Context
	stop     context.CancelFunc

	mu     sync.RWMutex
	conn   *amqp.Connection
	closed bool
}

// NewConnection prepares a connection; call Connect to dial.
func NewConnection(url string, newBackoff backoffFactory, log *logger.Logger) *Connection {
	lifetime, stop := context.WithCancel(context.Background())
	return &Connection{
		url:        url,
		newBackoff: newBackoff,
		log:        log.WithComponent("amqp"),
		dial:       amqp.Dial,
		lifetime:   lifetime,
		stop:       stop,
	}
}

// Connect dials until it succeeds or ctx is done.
func (c *Connection) Connect(ctx context.Context) error {
	b := c.newBackoff()
	for attempt := 1; ; attempt++ {
		conn, err := c.dial(c.url)
		if err == nil {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				conn.Close()
				return ErrClosed
			}
			c.conn = conn
			c.mu.Unlock()

			closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
			go c.watch(conn, closeCh)

			c.log.WithField("attempt", attempt).Info("Connected to RabbitMQ")
			return nil
		}

		wait := b.NextBackOff()
		c.log.WithError(err).WithFields(logger.Fields{
			"attempt":  attempt,
			"retry_in": wait.String(),
		}).Warn("Failed to connect to RabbitMQ")

		if !sleep(ctx, wait) {
			return fmt.Errorf("broker: connect: %w", ctx.Err())
		}
	}
}

// watch re-dials after the server or network drops conn.
func (c *Connection) watch(conn *amqp.Connection, closeCh <-chan *amqp.Error) {
	amqpErr, ok := <-closeCh

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if closed || (!ok && amqpErr == nil && c.lifetime.Err() != nil) {
		return
	}

	c.log.WithField("reason", fmt.Sprint(amqpErr)).Warn("RabbitMQ connection lost, reconnecting")
	if err := c.Connect(c.lifetime); err != nil && !errors.Is(err, ErrClosed) {
		c.log.WithError(err).Debug("Reconnect loop stopped")
	}
}

// Channel opens a new channel on the current connection.
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, errNotConnected
	}
	return conn.Channel()
}

// Healthy reports whether a live connection is held.
func (c *Connection) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close stops reconnecting and closes the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.stop()
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}
