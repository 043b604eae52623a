// Package router fans canonical events out to subscriptions: one
// durable consumer per routable subscription, filtered by its compiled
// pattern, gated when configured, delivered to its webhook exactly
// once. A supervisor keeps the running consumer set in step with the
// subscription store.
package router

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/models"
)

const defaultDeliveryTimeout = 10 * time.Second

// Deliverer posts delivery envelopes to subscription webhooks. One
// attempt per event; the outcome is recorded, never retried.
type Deliverer struct {
	client  *http.Client
	metrics *metrics.Metrics
}

// NewDeliverer creates a webhook deliverer with the given per-request
// timeout.
func NewDeliverer(timeout time.Duration, m *metrics.Metrics) *Deliverer {
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}
	return &Deliverer{client: &http.Client{Timeout: timeout}, metrics: m}
}

// Deliver posts body to the channel target. The returned status is nil
// when the request never produced an HTTP response.
func (d *Deliverer) Deliver(ctx context.Context, cfg *models.ChannelConfig, body []byte) (*int, error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		d.metrics.RecordWebhookDelivery("error")
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.RecordWebhookDelivery("error")
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	status := resp.StatusCode
	d.metrics.RecordWebhookDelivery(statusClass(status))
	return &status, nil
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
