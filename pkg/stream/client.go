// Package stream adapts NATS JetStream for the event pipeline: stream
// provisioning, JSON publishing, and durable pull consumers with
// reconnect and reset handling.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subject namespaces are fixed protocol surface; stream names are
// deployment detail and come from Config.
const (
	// RawSubjectRoot scopes every subject carried by the raw stream.
	RawSubjectRoot = "raw.>"
	// RawIngestPrefix prefixes per-source raw subjects.
	RawIngestPrefix = "raw.ingest."
	// RawConsumerFilter matches every ingested raw event regardless of source.
	RawConsumerFilter = "raw.ingest.>"
	// EventsSubjectRoot scopes every subject carried by the events stream.
	EventsSubjectRoot = "langhook.>"
)

const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 30 * time.Second
)

// RawSubject returns the raw-stream subject for one ingest source.
func RawSubject(source string) string {
	return RawIngestPrefix + source
}

// Publisher publishes a JSON-encoded record on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// Client owns the shared NATS connection used for stream administration
// and publishing. Consumers hold their own connections so that a consumer
// reset never disturbs the publish path.
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  jetstream.JetStream
}

// Connect establishes the shared NATS connection.
func Connect(cfg Config) (*Client, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("langhook"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("Connected to NATS", "url", cfg.URL)
	return &Client{cfg: cfg, nc: nc, js: js}, nil
}

// EnsureStreams provisions the raw and events streams. JetStream may still
// be electing a leader when the process starts, so setup errors are retried
// with exponential backoff until Config.SetupTimeout has passed.
func (c *Client) EnsureStreams(ctx context.Context) error {
	if err := c.ensureStream(ctx, c.cfg.RawStream, []string{RawSubjectRoot}); err != nil {
		return err
	}
	return c.ensureStream(ctx, c.cfg.EventsStream, []string{EventsSubjectRoot})
}

func (c *Client) ensureStream(ctx context.Context, name string, subjects []string) error {
	timeout := c.cfg.SetupTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      name,
			Subjects:  subjects,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    c.cfg.MaxAge,
			Storage:   jetstream.FileStorage,
			Replicas:  c.cfg.Replicas,
		})
		if err == nil {
			slog.Info("Stream ready", "stream", name, "subjects", subjects)
			return nil
		}

		if time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("stream %s not available after %s: %w", name, timeout, err)
		}

		slog.Warn("Stream setup failed, retrying",
			"stream", name,
			"backoff", backoff,
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Publish JSON-encodes v and publishes it on subject, waiting for the
// stream acknowledgement so callers know the message is persisted.
func (c *Client) Publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", subject, err)
	}

	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// URL returns the server URL consumers should dial.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Close closes the shared connection.
func (c *Client) Close() {
	if c.nc != nil {
		c.nc.Close()
	}
}
