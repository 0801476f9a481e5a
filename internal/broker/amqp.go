package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/timmy/docpipe/internal/logger"
)

// AMQPTransport publishes to and consumes from durable RabbitMQ queues over a
// shared Connection.
type AMQPTransport struct {
	conn           *Connection
	publishTimeout time.Duration
	log            *logger.Logger

	mu       sync.Mutex
	pubCh    *amqp.Channel
	declared map[string]bool
}

// NewAMQPTransport wraps an already connected Connection.
// Parameters:
//   - conn: shared AMQP connection.
//   - publishTimeout: deadline per publish; zero uses 5s.
//   - log: base logger.
// Returns:
//   - *AMQPTransport: transport over conn.
func NewAMQPTransport(conn *Connection, publishTimeout time.Duration, log *logger.Logger) *AMQPTransport {
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	return &AMQPTransport{
		conn:           conn,
		publishTimeout: publishTimeout,
		log:            log.WithComponent("amqp"),
		declared:       make(map[string]bool),
	}
}

// Publish sends a persistent JSON message to queue via the default exchange.
func (t *AMQPTransport) Publish(ctx context.Context, queue string, payload any) error {
	body, err := encode(payload)
	if err != nil {
		return fmt.Errorf("broker: encode payload for %s: %w", queue, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ch, err := t.publishChannel()
	if err != nil {
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	if !t.declared[queue] {
		if _, err := declareQueue(ch, queue); err != nil {
			t.resetPublishChannel()
			return fmt.Errorf("broker: declare %s: %w", queue, err)
		}
		t.declared[queue] = true
	}

	pctx, cancel := context.WithTimeout(ctx, t.publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(pctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		t.resetPublishChannel()
		return fmt.Errorf("broker: publish to %s: %w", queue, err)
	}
	return nil
}

func (t *AMQPTransport) publishChannel() (*amqp.Channel, error) {
	if t.pubCh != nil && !t.pubCh.IsClosed() {
		return t.pubCh, nil
	}
	ch, err := t.conn.Channel()
	if err != nil {
		return nil, err
	}
	t.pubCh = ch
	t.declared = make(map[string]bool)
	return ch, nil
}

func (t *AMQPTransport) resetPublishChannel() {
	if t.pubCh != nil {
		_ = t.pubCh.Close()
	}
	t.pubCh = nil
}

// Consume reads queue with prefetch 1 and manual acks. It returns nil once
// ctx is cancelled.
func (t *AMQPTransport) Consume(ctx context.Context, queue string, handler Handler) error {
	b := t.conn.newBackoff()
	log := t.log.WithField(logger.FieldQueue, queue)

	for {
		err := t.consumeOnce(ctx, queue, handler, b.Reset)
		if ctx.Err() != nil {
			log.Info("Consumer stopped")
			return nil
		}

		wait := b.NextBackOff()
		log.WithError(err).WithField("retry_in", wait.String()).Warn("Consumer interrupted")
		if !sleep(ctx, wait) {
			log.Info("Consumer stopped")
			return nil
		}
	}
}

func (t *AMQPTransport) consumeOnce(ctx context.Context, queue string, handler Handler, connected func()) error {
	ch, err := t.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	if _, err := declareQueue(ch, queue); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	connected()
	t.log.WithField(logger.FieldQueue, queue).Info("Consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			deliver(ctx, t.log, queue, d.Body, handler, func() error { return d.Ack(false) })
		}
	}
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(name, true, false, false, false, nil)
}

// Healthy reports whether the underlying connection is up.
func (t *AMQPTransport) Healthy() bool {
	return t.conn.Healthy()
}

// Close closes the publish channel and the connection.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	t.resetPublishChannel()
	t.mu.Unlock()
	return t.conn.Close()
}
