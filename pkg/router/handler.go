package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/langhook/langhook/pkg/canonical"
	"github.com/langhook/langhook/pkg/models"
	"github.com/langhook/langhook/pkg/stream"
)

// handleEvent processes one canonical event for one subscription: gate,
// deliver, log, then retire one-shot subscriptions. Returning nil acks
// the message; the single webhook attempt is never retried through the
// stream.
func (s *Supervisor) handleEvent(ctx context.Context, sub *models.Subscription, msg stream.Msg) error {
	var envelope models.Envelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		// Undeliverable as published; redelivery would not help.
		slog.Error("Failed to decode delivery envelope",
			"subscription_id", sub.ID, "subject", msg.Subject, "error", err)
		return nil
	}

	var gatePassed *bool
	var gateReason *string
	if sub.GateEnabled() {
		verdict := s.gate.Evaluate(ctx, eventView(msg.Data), sub.Gate, sub.ID, sub.Description)
		gatePassed = &verdict.Passed
		gateReason = &verdict.Reason
		if !verdict.Passed {
			slog.Info("Gate blocked event",
				"subscription_id", sub.ID, "event_id", envelope.ID, "reason", verdict.Reason)
			s.recordOutcome(ctx, sub, &envelope, msg.Subject, false, nil, gatePassed, gateReason)
			return nil
		}
	}

	attempted := false
	var status *int
	if cfg := sub.ChannelConfig; cfg != nil && cfg.URL != "" {
		attempted = true
		var err error
		status, err = s.deliverer.Deliver(ctx, cfg, msg.Data)
		if err != nil {
			slog.Warn("Webhook delivery failed",
				"subscription_id", sub.ID, "event_id", envelope.ID, "error", err)
		} else {
			slog.Info("Webhook delivered",
				"subscription_id", sub.ID, "event_id", envelope.ID, "status", *status)
		}
	}

	s.recordOutcome(ctx, sub, &envelope, msg.Subject, attempted, status, gatePassed, gateReason)

	if sub.Disposable && fired(attempted, status) {
		s.retire(ctx, sub.ID)
	}
	return nil
}

// fired reports whether the subscription's one shot is spent: a 2xx
// webhook response, or a gate-passed event on a channel-less
// subscription where the log row is the whole delivery.
func fired(attempted bool, status *int) bool {
	if !attempted {
		return true
	}
	return status != nil && *status >= 200 && *status < 300
}

// retire marks a disposable subscription used and stops its consumer.
// The stop runs on its own goroutine: Stop waits for the consume loop,
// which is the goroutine running this handler.
func (s *Supervisor) retire(ctx context.Context, id int64) {
	retired, err := s.subs.MarkUsed(ctx, id)
	if err != nil {
		slog.Error("Failed to retire disposable subscription", "subscription_id", id, "error", err)
		return
	}
	if !retired {
		return
	}
	slog.Info("Disposable subscription retired", "subscription_id", id)
	go s.Remove(id)
}

// recordOutcome appends the per-subscription delivery record. Log
// failures never fail the event.
func (s *Supervisor) recordOutcome(ctx context.Context, sub *models.Subscription, envelope *models.Envelope, subject string, attempted bool, status *int, gatePassed *bool, gateReason *string) {
	event := &envelope.Data
	resolved := models.Resource{
		Type: event.Resource.Type,
		ID:   canonical.ResolveResourceID(event.Resource.ID, event.Payload),
	}

	row := &models.SubscriptionEventLog{
		SubscriptionID:        sub.ID,
		EventID:               envelope.ID,
		Source:                strings.TrimPrefix(envelope.Source, "/"),
		Subject:               subject,
		Publisher:             event.Publisher,
		ResourceType:          event.Resource.Type,
		ResourceID:            resolved.IDString(),
		Action:                string(event.Action),
		CanonicalData:         eventData(event),
		Timestamp:             eventTime(event.Timestamp, time.Now().UTC()),
		WebhookSent:           attempted,
		WebhookResponseStatus: status,
		GatePassed:            gatePassed,
		GateReason:            gateReason,
	}
	if err := s.eventLogs.RecordSubscriptionEvent(ctx, row); err != nil {
		slog.Warn("Failed to record subscription delivery",
			"subscription_id", sub.ID, "event_id", envelope.ID, "error", err)
	}
}

// eventView extracts the canonical event as a generic map for the gate
// prompt, payload included.
func eventView(envelopeJSON []byte) map[string]any {
	var view struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(envelopeJSON, &view); err != nil {
		return nil
	}
	return view.Data
}

// eventData renders the canonical event for the log row.
func eventData(event *models.CanonicalEvent) map[string]any {
	data := map[string]any{
		"publisher": event.Publisher,
		"resource":  map[string]any{"type": event.Resource.Type, "id": event.Resource.ID},
		"action":    string(event.Action),
		"timestamp": event.Timestamp,
	}
	if event.Payload != nil {
		data["payload"] = event.Payload
	}
	return data
}

// eventTime parses the canonical timestamp for the log row, falling
// back to the routing time when the format is not one the log holds.
func eventTime(value string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return fallback
}
