package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerConfig_ApplyDefaults(t *testing.T) {
	cfg := ConsumerConfig{URL: "nats://localhost:4222", Stream: "events", Durable: "sub_1"}
	cfg.applyDefaults()

	assert.Equal(t, 30*time.Second, cfg.AckWait)
	assert.Equal(t, 3, cfg.MaxDeliver)
	assert.Equal(t, 10, cfg.FetchBatch)
	assert.Equal(t, 2*time.Second, cfg.FetchMaxWait)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
	assert.Equal(t, time.Minute, cfg.StreamWait)
}

func TestConsumer_StartValidation(t *testing.T) {
	handler := func(ctx context.Context, msg Msg) error { return nil }

	t.Run("missing handler", func(t *testing.T) {
		c := NewConsumer(ConsumerConfig{Stream: "events", Durable: "sub_1"}, nil)
		err := c.Start(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler")
	})

	t.Run("missing stream", func(t *testing.T) {
		c := NewConsumer(ConsumerConfig{Durable: "sub_1"}, handler)
		require.Error(t, c.Start(t.Context()))
	})

	t.Run("missing durable name", func(t *testing.T) {
		c := NewConsumer(ConsumerConfig{Stream: "events"}, handler)
		require.Error(t, c.Start(t.Context()))
	})

	t.Run("double start", func(t *testing.T) {
		// Port 1 refuses immediately, so the consumer sits in reconnect
		// backoff until stopped.
		c := NewConsumer(ConsumerConfig{URL: "nats://127.0.0.1:1", Stream: "events", Durable: "sub_1"}, handler)
		require.NoError(t, c.Start(t.Context()))
		defer c.Stop()

		err := c.Start(t.Context())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already started")
	})
}

func TestConsumer_StopWithoutStart(t *testing.T) {
	c := NewConsumer(ConsumerConfig{Stream: "events", Durable: "sub_1"}, nil)
	c.Stop()
}

func TestConsumer_StopInterruptsReconnect(t *testing.T) {
	handler := func(ctx context.Context, msg Msg) error { return nil }
	c := NewConsumer(ConsumerConfig{URL: "nats://127.0.0.1:1", Stream: "events", Durable: "sub_reconnect"}, handler)
	require.NoError(t, c.Start(t.Context()))

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while consumer was reconnecting")
	}
}

type fakeMsg struct {
	subject string
	data    []byte
	acked   bool
	nakked  bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.nakked = true; return nil }

func TestConsumer_Handle(t *testing.T) {
	t.Run("successful handler acks", func(t *testing.T) {
		var got Msg
		c := NewConsumer(ConsumerConfig{Stream: "events", Durable: "sub_1"}, func(ctx context.Context, msg Msg) error {
			got = msg
			return nil
		})

		msg := &fakeMsg{subject: "langhook.events.github.pull_request.1374.created", data: []byte(`{"id":"e1"}`)}
		c.handle(t.Context(), msg)

		assert.True(t, msg.acked)
		assert.False(t, msg.nakked)
		assert.Equal(t, "langhook.events.github.pull_request.1374.created", got.Subject)
		assert.JSONEq(t, `{"id":"e1"}`, string(got.Data))
	})

	t.Run("failing handler naks for redelivery", func(t *testing.T) {
		c := NewConsumer(ConsumerConfig{Stream: "events", Durable: "sub_1"}, func(ctx context.Context, msg Msg) error {
			return errors.New("downstream unavailable")
		})

		msg := &fakeMsg{subject: "raw.ingest.github"}
		c.handle(t.Context(), msg)

		assert.False(t, msg.acked)
		assert.True(t, msg.nakked)
	})
}

func TestReconnectBackoff(t *testing.T) {
	t.Run("escalates while fetches keep failing", func(t *testing.T) {
		var b reconnectBackoff

		// Attach succeeding changes nothing; only a successful fetch does.
		assert.Equal(t, 2*time.Second, b.next(false))
		assert.Equal(t, 4*time.Second, b.next(false))
		assert.Equal(t, 8*time.Second, b.next(false))
		assert.Equal(t, 16*time.Second, b.next(false))
	})

	t.Run("caps at the maximum", func(t *testing.T) {
		var b reconnectBackoff
		var d time.Duration
		for i := 0; i < 10; i++ {
			d = b.next(false)
		}
		assert.Equal(t, maxBackoff, d)
	})

	t.Run("resets after a round that fetched", func(t *testing.T) {
		var b reconnectBackoff
		b.next(false)
		b.next(false)
		assert.Equal(t, 8*time.Second, b.next(false))

		assert.Equal(t, initialBackoff, b.next(true))
		assert.Equal(t, 4*time.Second, b.next(false))
	})
}

func TestIsServiceUnavailable(t *testing.T) {
	apiErr := &jetstream.APIError{Code: 503, Description: "JetStream system temporarily unavailable"}

	assert.True(t, isServiceUnavailable(apiErr))
	assert.True(t, isServiceUnavailable(fmt.Errorf("fetch: %w", apiErr)))
	assert.False(t, isServiceUnavailable(errors.New("connection refused")))
	assert.False(t, isServiceUnavailable(&jetstream.APIError{Code: 404}))
}
