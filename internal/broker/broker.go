// Package broker moves JSON messages between this service and the external
// ingestion worker. Every transport publishes fire-and-forget and consumes one
// message at a time, acknowledging each delivery exactly once after handling.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/logger"
)

// Publisher sends payload to queue without waiting for it to be consumed.
type Publisher interface {
	Publish(ctx context.Context, queue string, payload any) error
}

// Handler processes one message body. Its error is logged by the transport;
// the delivery is acknowledged either way.
type Handler func(ctx context.Context, body []byte) error

// Transport is a broker connection that can both publish and consume.
type Transport interface {
	Publisher
	// Consume blocks, delivering messages from queue to handler one at a
	// time, until ctx is cancelled. Lost connections are re-established.
	Consume(ctx context.Context, queue string, handler Handler) error
	Healthy() bool
	Close() error
}

// ErrClosed is returned when using a transport after Close.
var ErrClosed = errors.New("broker: transport closed")

// Open creates the transport selected by cfg.Driver and waits for its first connection.
// Parameters:
//   - ctx: bounds the wait for the first connection.
//   - cfg: broker settings.
//   - log: base logger.
// Returns:
//   - Transport: connected transport.
//   - error: non-nil for an unknown driver or a failed connection.
func Open(ctx context.Context, cfg *config.BrokerConfig, log *logger.Logger) (Transport, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisTransport(ctx, cfg, log)
	case "rabbitmq", "":
		conn := NewConnection(cfg.URL, newBackoff(cfg), log)
		if err := conn.Connect(ctx); err != nil {
			return nil, err
		}
		return NewAMQPTransport(conn, cfg.PublishTimeout, log), nil
	default:
		return nil, fmt.Errorf("unsupported broker driver %q", cfg.Driver)
	}
}

// encode marshals payload unless it already is raw JSON.
func encode(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// deliver runs handler on body and then acks, whatever the handler returned.
// Failed messages are routed to the DLQ by the handler itself.
func deliver(ctx context.Context, log *logger.Logger, queue string, body []byte, handler Handler, ack func() error) {
	start := time.Now()
	err := handler(ctx, body)

	entry := log.WithFields(logger.Fields{
		logger.FieldQueue:      queue,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldSize:       len(body),
	})
	if err != nil {
		entry.WithError(err).Warn("Message handler failed")
	} else {
		entry.Debug("Message handled")
	}

	if ackErr := ack(); ackErr != nil {
		entry.WithError(ackErr).Error("Failed to acknowledge message")
	}
}

// backoffFactory yields a fresh exponential backoff for each reconnect sequence.
type backoffFactory func() *backoff.ExponentialBackOff

func newBackoff(cfg *config.BrokerConfig) backoffFactory {
	initial, maxInterval := cfg.ReconnectInitial, cfg.ReconnectMax
	if initial <= 0 {
		initial = time.Second
	}
	if maxInterval <= 0 {
		maxInterval = 30 * time.Second
	}
	return func() *backoff.ExponentialBackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		b.Reset()
		return b
	}
}

// sleep waits d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
