package broker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/logger"
)

const (
	payloadField = "payload"
	readBlock    = 5 * time.Second
	claimBatch   = 10
)

// RedisTransport carries messages over Redis streams, one stream per queue,
// consumed through a consumer group. Entries another consumer read but never
// acknowledged are claimed once they have idled for claimMinIdle.
type RedisTransport struct {
	client       *redis.Client
	group        string
	consumer     string
	claimMinIdle time.Duration
	block        time.Duration
	newBackoff   backoffFactory
	log          *logger.Logger
	closed       atomic.Bool
}

// NewRedisTransport connects to cfg.RedisAddr and verifies it with PING.
// Parameters:
//   - ctx: context bounding the initial PING.
//   - cfg: broker settings (address, credentials, consumer group and name, claim idle time).
//   - log: base logger.
// Returns:
//   - *RedisTransport: connected transport.
//   - error: non-nil if Redis does not answer.
func NewRedisTransport(ctx context.Context, cfg *config.BrokerConfig, log *logger.Logger) (*RedisTransport, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: redis ping %s: %w", cfg.RedisAddr, err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "docpipe"
	}
	consumer := cfg.ConsumerName
	if consumer == "" {
		consumer = consumerName()
	}
	return &RedisTransport{
		client:       client,
		group:        group,
		consumer:     consumer,
		claimMinIdle: cfg.ClaimMinIdle,
		block:        readBlock,
		newBackoff:   newBackoff(cfg),
		log:          log.WithComponent("redis-broker"),
	}, nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "docpipe"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Publish appends payload to the queue's stream.
func (t *RedisTransport) Publish(ctx context.Context, queue string, payload any) error {
	if t.closed.Load() {
		return ErrClosed
	}
	body, err := encode(payload)
	if err != nil {
		return fmt.Errorf("broker: encode payload for %s: %w", queue, err)
	}
	err = t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queue,
		Values: map[string]interface{}{payloadField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("broker: xadd %s: %w", queue, err)
	}
	return nil
}

// Consume reads the queue's stream as a member of the consumer group until
// ctx is cancelled. Stale pending entries are claimed on start and whenever
// the stream is idle, so a consumer that died before acknowledging loses nothing.
// Parameters:
//   - ctx: cancelling it stops the loop.
//   - queue: stream name.
//   - handler: called once per entry; the entry is acknowledged afterwards.
// Returns:
//   - error: non-nil only if the consumer group cannot be created.
func (t *RedisTransport) Consume(ctx context.Context, queue string, handler Handler) error {
	log := t.log.WithField(logger.FieldQueue, queue)
	b := t.newBackoff()

	if err := t.ensureGroup(ctx, queue); err != nil {
		return err
	}
	log.WithField("consumer", t.consumer).Info("Consuming")

	claim := true
	for {
		if ctx.Err() != nil || t.closed.Load() {
			log.Info("Consumer stopped")
			return nil
		}

		if claim {
			if err := t.claimPending(ctx, queue, handler); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("Claiming pending entries failed")
			}
			claim = false
		}

		streams, err := t.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    t.group,
			Consumer: t.consumer,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    t.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				claim = true
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			if isNoGroup(err) {
				if gerr := t.ensureGroup(ctx, queue); gerr != nil {
					err = gerr
				}
			}
			wait := b.NextBackOff()
			log.WithError(err).WithField("retry_in", wait.String()).Warn("Stream read failed")
			sleep(ctx, wait)
			continue
		}
		b.Reset()

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				t.handle(ctx, queue, msg, handler)
			}
		}
	}
}

// claimPending takes over every entry of the group that has been pending for
// at least claimMinIdle, including this consumer's own from a previous run,
// and handles it like a new delivery.
func (t *RedisTransport) claimPending(ctx context.Context, queue string, handler Handler) error {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := t.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   queue,
			Group:    t.group,
			Consumer: t.consumer,
			MinIdle:  t.claimMinIdle,
			Start:    start,
			Count:    claimBatch,
		}).Result()
		if err != nil {
			return fmt.Errorf("broker: xautoclaim %s: %w", queue, err)
		}
		if len(msgs) > 0 {
			t.log.WithFields(logger.Fields{
				logger.FieldQueue: queue,
				logger.FieldCount: len(msgs),
			}).Warn("Claimed unacknowledged entries")
		}
		for _, msg := range msgs {
			t.handle(ctx, queue, msg, handler)
		}
		if next == "" || next == "0-0" {
			return nil
		}
		start = next
	}
	return nil
}

func (t *RedisTransport) handle(ctx context.Context, queue string, msg redis.XMessage, handler Handler) {
	id := msg.ID
	deliver(ctx, t.log, queue, messageBody(msg), handler, func() error {
		return t.client.XAck(context.WithoutCancel(ctx), queue, t.group, id).Err()
	})
}

func (t *RedisTransport) ensureGroup(ctx context.Context, queue string) error {
	err := t.client.XGroupCreateMkStream(ctx, queue, t.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("broker: create group %s on %s: %w", t.group, queue, err)
	}
	return nil
}

func isNoGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "NOGROUP")
}

func messageBody(msg redis.XMessage) []byte {
	switch v := msg.Values[payloadField].(type) {
	case string:
		return []byte(v)
	case []byte:
		return v
	default:
		return nil
	}
}

// Healthy pings Redis.
func (t *RedisTransport) Healthy() bool {
	if t.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return t.client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (t *RedisTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.client.Close()
}
