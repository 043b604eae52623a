package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Msg is one message delivered to a Handler.
type Msg struct {
	Subject string
	Data    []byte
}

// Handler processes one delivered message. A nil return acknowledges the
// message; an error negatively acknowledges it so the server redelivers.
type Handler func(ctx context.Context, msg Msg) error

// ConsumerConfig describes one durable pull consumer.
type ConsumerConfig struct {
	URL           string
	Stream        string
	Durable       string
	FilterSubject string

	AckWait    time.Duration
	MaxDeliver int

	FetchBatch   int
	FetchMaxWait time.Duration

	// MaxConsecutiveErrors bounds back-to-back fetch failures before the
	// connection is torn down and rebuilt from scratch.
	MaxConsecutiveErrors int

	// StreamWait bounds how long the consumer keeps retrying before its
	// stream first becomes available. Reconnects after a successful attach
	// are unbounded.
	StreamWait time.Duration
}

func (cfg *ConsumerConfig) applyDefaults() {
	if cfg.AckWait <= 0 {
		cfg.AckWait = 30 * time.Second
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 3
	}
	if cfg.FetchBatch <= 0 {
		cfg.FetchBatch = 10
	}
	if cfg.FetchMaxWait <= 0 {
		cfg.FetchMaxWait = 2 * time.Second
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 3
	}
	if cfg.StreamWait <= 0 {
		cfg.StreamWait = time.Minute
	}
}

// Consumer runs a durable pull consumer on its own NATS connection so that
// resetting it never disturbs other consumers or the publish path.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewConsumer builds a consumer; Start establishes the connection.
func NewConsumer(cfg ConsumerConfig, handler Handler) *Consumer {
	cfg.applyDefaults()
	return &Consumer{cfg: cfg, handler: handler}
}

// Start launches the consume loop in the background.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handler == nil {
		return errors.New("consumer requires a message handler")
	}
	if c.cfg.Stream == "" || c.cfg.Durable == "" {
		return errors.New("consumer requires a stream and durable name")
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("consumer %s already started", c.cfg.Durable)
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop terminates the consume loop and waits for it to exit. Stopping a
// consumer that never started is a no-op.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	done := c.done
	c.mu.Unlock()

	<-done
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	var delay reconnectBackoff
	attached := false
	began := time.Now()

	for {
		var round roundResult
		err := c.consume(ctx, &round)
		if err == nil {
			return
		}
		if round.attached {
			attached = true
		}
		backoff := delay.next(round.fetched)

		if !attached && time.Since(began) > c.cfg.StreamWait {
			slog.Error("Giving up waiting for stream",
				"consumer", c.cfg.Durable,
				"stream", c.cfg.Stream,
				"waited", time.Since(began).Round(time.Second),
				"error", err)
			return
		}

		slog.Warn("Consumer connection lost, reconnecting",
			"consumer", c.cfg.Durable,
			"stream", c.cfg.Stream,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}
	}
}

// roundResult reports how far one connection lifetime got.
type roundResult struct {
	attached bool
	fetched  bool
}

// reconnectBackoff doubles the delay between connection attempts up to
// maxBackoff. Only a round that fetched successfully resets the ladder:
// attaching alone does not prove the stream is serving, and an
// attach-ok/fetch-fail cycle must still escalate.
type reconnectBackoff struct {
	current time.Duration
}

func (b *reconnectBackoff) next(fetched bool) time.Duration {
	if fetched || b.current <= 0 {
		b.current = initialBackoff
	} else {
		b.current *= 2
		if b.current > maxBackoff {
			b.current = maxBackoff
		}
	}
	return b.current
}

// consume owns one connection lifetime: dial, attach the durable consumer,
// then fetch until stopped or until errors force a reset. A nil return
// means a clean stop; any error sends the caller through reconnect backoff.
func (c *Consumer) consume(ctx context.Context, round *roundResult) error {
	nc, err := nats.Connect(c.cfg.URL, nats.Name("langhook-"+c.cfg.Durable))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Name:          c.cfg.Durable,
		Durable:       c.cfg.Durable,
		FilterSubject: c.cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to attach consumer %s to stream %s: %w", c.cfg.Durable, c.cfg.Stream, err)
	}
	round.attached = true

	slog.Info("Consumer attached",
		"consumer", c.cfg.Durable,
		"stream", c.cfg.Stream,
		"filter", c.cfg.FilterSubject)

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}

		batch, err := cons.Fetch(c.cfg.FetchBatch, jetstream.FetchMaxWait(c.cfg.FetchMaxWait))
		if err == nil {
			for msg := range batch.Messages() {
				c.handle(ctx, msg)
			}
			err = batch.Error()
		}
		if err != nil {
			consecutive++
			slog.Warn("Fetch failed",
				"consumer", c.cfg.Durable,
				"consecutive", consecutive,
				"service_unavailable", isServiceUnavailable(err),
				"error", err)
			if consecutive >= c.cfg.MaxConsecutiveErrors {
				return fmt.Errorf("%d consecutive fetch failures: %w", consecutive, err)
			}
			continue
		}
		round.fetched = true
		consecutive = 0
	}
}

// ackable is the slice of jetstream.Msg the handler path needs.
type ackable interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
}

func (c *Consumer) handle(ctx context.Context, msg ackable) {
	if err := c.handler(ctx, Msg{Subject: msg.Subject(), Data: msg.Data()}); err != nil {
		slog.Warn("Message handler failed, message will be redelivered",
			"consumer", c.cfg.Durable,
			"subject", msg.Subject(),
			"error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.Warn("Failed to nak message",
				"consumer", c.cfg.Durable,
				"subject", msg.Subject(),
				"error", nakErr)
		}
		return
	}

	if ackErr := msg.Ack(); ackErr != nil {
		slog.Warn("Failed to ack message",
			"consumer", c.cfg.Durable,
			"subject", msg.Subject(),
			"error", ackErr)
	}
}

// isServiceUnavailable reports whether err is a JetStream 503, the
// signature of a server that is reachable but whose JetStream subsystem
// is not answering.
func isServiceUnavailable(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.Code == 503
}
