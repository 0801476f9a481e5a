package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/docpipe/internal/config"
)

func newRedisTransport(t *testing.T, mr *miniredis.Miniredis, minIdle time.Duration) *RedisTransport {
	t.Helper()
	tr, err := NewRedisTransport(context.Background(), &config.BrokerConfig{
		RedisAddr:        mr.Addr(),
		ConsumerGroup:    "docpipe",
		ConsumerName:     "api-1",
		ClaimMinIdle:     minIdle,
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	tr.block = 20 * time.Millisecond
	t.Cleanup(func() { tr.Close() })
	return tr
}

// consumeUntil runs Consume until want bodies were handled, then stops it.
func consumeUntil(t *testing.T, tr *RedisTransport, queue string, want int) []string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, want+4)
	done := make(chan error, 1)
	go func() {
		done <- tr.Consume(ctx, queue, func(_ context.Context, body []byte) error {
			got <- string(body)
			return nil
		})
	}()

	var bodies []string
	timeout := time.After(5 * time.Second)
	for len(bodies) < want {
		select {
		case b := <-got:
			bodies = append(bodies, b)
		case <-timeout:
			t.Fatalf("handled %d of %d entries", len(bodies), want)
		}
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Consume did not stop")
	}
	return bodies
}

func assertNothingPending(t *testing.T, tr *RedisTransport, queue string) {
	t.Helper()
	pending, err := tr.client.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: queue,
		Group:  tr.group,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRedisTransport_PublishConsumeAck(t *testing.T) {
	mr := miniredis.RunT(t)
	tr := newRedisTransport(t, mr, time.Minute)
	ctx := context.Background()

	require.NoError(t, tr.Publish(ctx, "status", map[string]string{"documentId": "d1"}))

	bodies := consumeUntil(t, tr, "status", 1)
	assert.JSONEq(t, `{"documentId":"d1"}`, bodies[0])

	assertNothingPending(t, tr, "status")
}

func TestRedisTransport_ClaimsEntriesLeftByDeadConsumer(t *testing.T) {
	mr := miniredis.RunT(t)
	tr := newRedisTransport(t, mr, 0)
	ctx := context.Background()

	require.NoError(t, tr.ensureGroup(ctx, "status"))
	require.NoError(t, tr.Publish(ctx, "status", map[string]string{"documentId": "lost"}))

	// Another process reads the entry and exits before acknowledging it.
	other := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer other.Close()
	streams, err := other.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "docpipe",
		Consumer: "api-crashed",
		Streams:  []string{"status", ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams[0].Messages, 1)

	require.NoError(t, tr.Publish(ctx, "status", map[string]string{"documentId": "fresh"}))

	bodies := consumeUntil(t, tr, "status", 2)
	assert.JSONEq(t, `{"documentId":"lost"}`, bodies[0])
	assert.JSONEq(t, `{"documentId":"fresh"}`, bodies[1])

	assertNothingPending(t, tr, "status")
}

func TestMessageBody(t *testing.T) {
	tests := []struct {
		name string
		msg  redis.XMessage
		want []byte
	}{
		{"string", redis.XMessage{Values: map[string]interface{}{payloadField: `{"a":1}`}}, []byte(`{"a":1}`)},
		{"bytes", redis.XMessage{Values: map[string]interface{}{payloadField: []byte("x")}}, []byte("x")},
		{"missing", redis.XMessage{Values: map[string]interface{}{}}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, messageBody(tc.msg))
		})
	}
}
