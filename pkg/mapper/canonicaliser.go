// Package mapper turns raw webhook events into canonical events. Each
// payload shape is fingerprinted; the first sighting synthesises a
// transform expression via the LLM and caches it, every later sighting
// replays the cached transform. Events that cannot be canonicalised are
// dead-lettered, never dropped silently.
package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/langhook/langhook/pkg/canonical"
	"github.com/langhook/langhook/pkg/fingerprint"
	"github.com/langhook/langhook/pkg/llm"
	"github.com/langhook/langhook/pkg/metrics"
	"github.com/langhook/langhook/pkg/models"
	"github.com/langhook/langhook/pkg/services"
	"github.com/langhook/langhook/pkg/stream"
	"github.com/langhook/langhook/pkg/transform"
)

// Canonicaliser consumes the raw stream and publishes canonical
// delivery envelopes on the events stream.
type Canonicaliser struct {
	mappings  *services.IngestMappingService
	registry  *services.SchemaRegistryService
	eventLogs *services.EventLogService
	model     llm.ChatModel
	publisher stream.Publisher
	metrics   *metrics.Metrics
}

// NewCanonicaliser wires the canonicaliser's collaborators. A nil model
// disables synthesis: unknown payload shapes dead-letter immediately.
func NewCanonicaliser(
	mappings *services.IngestMappingService,
	registry *services.SchemaRegistryService,
	eventLogs *services.EventLogService,
	model llm.ChatModel,
	publisher stream.Publisher,
	m *metrics.Metrics,
) *Canonicaliser {
	return &Canonicaliser{
		mappings:  mappings,
		registry:  registry,
		eventLogs: eventLogs,
		model:     model,
		publisher: publisher,
		metrics:   m,
	}
}

// mapFailure is a terminal canonicalisation failure: the event goes to
// the dead-letter subject and is acked. Errors that are not mapFailures
// are transient and leave the message for redelivery.
type mapFailure struct {
	reason  string
	message string
}

func (f *mapFailure) Error() string { return f.message }

// HandleRawEvent processes one raw stream message end to end. A nil
// return acks the message; terminal failures are dead-lettered first.
func (c *Canonicaliser) HandleRawEvent(ctx context.Context, msg stream.Msg) error {
	start := time.Now()

	var raw models.RawEvent
	if err := json.Unmarshal(msg.Data, &raw); err != nil {
		slog.Error("Failed to decode raw event", "subject", msg.Subject, "error", err)
		c.metrics.RecordEventProcessed("unknown")
		c.metrics.RecordEventFailed("unknown", "decode_error")
		return c.deadLetter(ctx, models.MappingFailure{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Error:     fmt.Sprintf("failed to decode raw event: %s", err),
			Payload:   string(msg.Data),
		})
	}

	c.metrics.RecordEventProcessed(raw.Source)

	event, err := c.canonicalise(ctx, &raw)
	if err != nil {
		var failure *mapFailure
		if !errors.As(err, &failure) {
			return err
		}
		c.metrics.RecordEventFailed(raw.Source, failure.reason)
		slog.Warn("Raw event could not be canonicalised",
			"event_id", raw.ID,
			"source", raw.Source,
			"reason", failure.reason,
			"error", failure.message)
		return c.deadLetter(ctx, models.MappingFailure{
			ID:        raw.ID,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Source:    raw.Source,
			Error:     failure.message,
			Payload:   raw.Payload,
		})
	}

	event.Payload = raw.Payload
	subject := canonical.RoutingSubject(event)
	envelope := canonical.Envelope(raw.ID, event, time.Now())
	if err := c.publisher.Publish(ctx, subject, envelope); err != nil {
		return fmt.Errorf("failed to publish canonical event %s: %w", raw.ID, err)
	}

	// Registry and log failures never fail the event.
	if err := c.registry.Register(ctx, event.Publisher, event.Resource.Type, string(event.Action)); err != nil {
		slog.Warn("Failed to register event schema",
			"event_id", raw.ID,
			"publisher", event.Publisher,
			"resource_type", event.Resource.Type,
			"action", event.Action,
			"error", err)
	}
	c.appendEventLog(ctx, &raw, event, subject)

	duration := time.Since(start)
	c.metrics.RecordEventMapped(raw.Source)
	c.metrics.RecordMappingDuration(raw.Source, duration)

	slog.Info("Event mapped",
		"event_id", raw.ID,
		"source", raw.Source,
		"publisher", event.Publisher,
		"resource_type", event.Resource.Type,
		"resource_id", event.Resource.IDString(),
		"action", event.Action,
		"duration", duration)
	return nil
}

// canonicalise resolves the payload to a canonical event: cached
// mapping when one fits, otherwise LLM synthesis.
func (c *Canonicaliser) canonicalise(ctx context.Context, raw *models.RawEvent) (*models.CanonicalEvent, error) {
	fp, err := fingerprint.Hash(raw.Payload)
	if err != nil {
		return nil, &mapFailure{reason: "processing_error", message: fmt.Sprintf("failed to fingerprint payload: %s", err)}
	}

	mapping, err := c.mappings.GetByFingerprint(ctx, fp)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return nil, fmt.Errorf("mapping lookup failed for %s: %w", fp, err)
	}
	if err == nil {
		event, evalErr := applyMapping(mapping.MappingExpr, raw.Payload)
		if evalErr == nil {
			return event, nil
		}
		slog.Warn("Cached mapping no longer yields a valid event, resynthesising",
			"event_id", raw.ID,
			"source", raw.Source,
			"fingerprint", fp,
			"error", evalErr)
	}

	if c.model == nil || !c.model.Available() {
		return nil, &mapFailure{reason: "no_mapping", message: "no mapping available and LLM unavailable"}
	}

	c.metrics.RecordLLMInvocation(raw.Source)
	exprSrc, err := c.synthesise(ctx, raw.Source, raw.Payload)
	if err != nil {
		return nil, &mapFailure{reason: "llm_invalid", message: fmt.Sprintf("LLM transform invalid: %s", err)}
	}

	event, err := applyMapping(exprSrc, raw.Payload)
	if err != nil {
		return nil, &mapFailure{reason: "llm_invalid", message: fmt.Sprintf("LLM transform invalid: %s", err)}
	}

	synthesised := &models.IngestMapping{
		Fingerprint: fp,
		Publisher:   raw.Source,
		EventName:   canonical.EventName(event),
		MappingExpr: exprSrc,
		Structure:   fingerprint.TypeSkeleton(raw.Payload),
	}
	if err := c.mappings.Save(ctx, synthesised); err != nil {
		slog.Warn("Failed to persist synthesised mapping",
			"event_id", raw.ID,
			"source", raw.Source,
			"fingerprint", fp,
			"error", err)
	} else if count, countErr := c.mappings.Count(ctx); countErr == nil {
		c.metrics.SetActiveMappings(count)
	}

	slog.Info("Synthesised ingest mapping",
		"event_id", raw.ID,
		"source", raw.Source,
		"fingerprint", fp,
		"event_name", synthesised.EventName)
	return event, nil
}

// applyMapping evaluates a transform expression and validates the
// result against the canonical contract.
func applyMapping(exprSrc string, payload map[string]any) (*models.CanonicalEvent, error) {
	output, err := transform.Apply(exprSrc, payload)
	if err != nil {
		return nil, err
	}
	return canonical.Validate(output)
}

func (c *Canonicaliser) deadLetter(ctx context.Context, failure models.MappingFailure) error {
	if err := c.publisher.Publish(ctx, canonical.MapFailSubject, failure); err != nil {
		return fmt.Errorf("failed to publish mapping failure: %w", err)
	}
	return nil
}

func (c *Canonicaliser) appendEventLog(ctx context.Context, raw *models.RawEvent, event *models.CanonicalEvent, subject string) {
	resolved := models.Resource{
		Type: event.Resource.Type,
		ID:   canonical.ResolveResourceID(event.Resource.ID, raw.Payload),
	}
	row := &models.EventLog{
		EventID:      raw.ID,
		Source:       raw.Source,
		Subject:      subject,
		Publisher:    event.Publisher,
		ResourceType: event.Resource.Type,
		ResourceID:   resolved.IDString(),
		Action:       string(event.Action),
		CanonicalData: map[string]any{
			"publisher": event.Publisher,
			"resource":  map[string]any{"type": event.Resource.Type, "id": event.Resource.ID},
			"action":    string(event.Action),
			"timestamp": event.Timestamp,
		},
		RawPayload: raw.Payload,
		Timestamp:  eventTime(event.Timestamp, raw.Timestamp),
	}
	if err := c.eventLogs.RecordEvent(ctx, row); err != nil {
		slog.Warn("Failed to append event log", "event_id", raw.ID, "error", err)
	}
}

// eventTime parses the canonical timestamp for the log row, falling
// back to the ingest time when the transform emitted a format the log
// cannot hold.
func eventTime(value string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return fallback
}
