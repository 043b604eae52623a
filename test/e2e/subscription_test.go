package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langhook/langhook/pkg/canonical"
	"github.com/langhook/langhook/pkg/llm/llmtest"
	"github.com/langhook/langhook/pkg/models"
)

// paymentEnvelope builds a canonical envelope for one Stripe payment
// event the way the canonicaliser publishes them.
func paymentEnvelope(id string, amount int) (*models.Envelope, string) {
	event := &models.CanonicalEvent{
		Publisher: "stripe",
		Resource:  models.Resource{Type: "payment_intent", ID: id},
		Action:    models.ActionUpdated,
		Timestamp: "2025-06-03T15:45:02Z",
		Payload: map[string]any{
			"data": map[string]any{"object": map[string]any{"id": id, "amount": amount}},
		},
	}
	return canonical.Envelope("evt_"+id, event, time.Now()), canonical.RoutingSubject(event)
}

// A gated subscription delivers only events its gate passes; blocked
// events still leave a log row.
func TestSubscription_GateBlocksAndPasses(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Reply{Content: `{"pattern": "langhook.events.stripe.payment_intent.*.updated", "gate_prompt": "Does this payment exceed $1000?"}`},
		llmtest.Reply{Content: `{"decision": false, "confidence": 0.95, "reasoning": "amount is below the threshold"}`},
		llmtest.Reply{Content: `{"decision": true, "confidence": 0.95, "reasoning": "amount exceeds the threshold"}`},
	)
	h := newHarness(t, model)
	capture, webhookURL := newWebhookCapture(t, http.StatusOK)

	rec, sub := h.CreateSubscription(fmt.Sprintf(`{
		"description": "Notify me when a Stripe payment over $1000 succeeds",
		"channel_type": "webhook",
		"channel_config": {"url": %q},
		"gate": {"enabled": true}
	}`, webhookURL))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "langhook.events.stripe.payment_intent.*.updated", sub.Pattern)
	require.NotNil(t, sub.Gate)
	assert.Equal(t, "Does this payment exceed $1000?", sub.Gate.Prompt)
	assert.Equal(t, []int64{sub.ID}, h.Supervisor.Running())

	// Below the threshold: the gate blocks, no webhook goes out.
	envelope, subject := paymentEnvelope("pi_small", 500)
	h.PublishEnvelope(subject, envelope)
	assert.Zero(t, capture.Count())

	// Above the threshold: the gate passes, one webhook attempt.
	envelope, subject = paymentEnvelope("pi_large", 1500)
	h.PublishEnvelope(subject, envelope)
	require.Equal(t, 1, capture.Count())

	delivered := capture.Deliveries()[0]
	assert.Equal(t, http.MethodPost, delivered.Method)
	var deliveredEnvelope models.Envelope
	require.NoError(t, json.Unmarshal(delivered.Body, &deliveredEnvelope))
	assert.Equal(t, "evt_pi_large", deliveredEnvelope.ID)
	assert.Equal(t, "pi_large", deliveredEnvelope.Data.Resource.ID)

	// Both outcomes are in the subscription event log.
	rec = h.Do(http.MethodGet, fmt.Sprintf("/subscriptions/%d/events", sub.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var logs models.SubscriptionEventListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Equal(t, 2, logs.Total)

	byEvent := map[string]*models.SubscriptionEventLog{}
	for _, row := range logs.Events {
		byEvent[row.EventID] = row
	}
	blocked := byEvent["evt_pi_small"]
	require.NotNil(t, blocked)
	assert.False(t, blocked.WebhookSent)
	require.NotNil(t, blocked.GatePassed)
	assert.False(t, *blocked.GatePassed)
	require.NotNil(t, blocked.GateReason)
	assert.Equal(t, "amount is below the threshold", *blocked.GateReason)

	passed := byEvent["evt_pi_large"]
	require.NotNil(t, passed)
	assert.True(t, passed.WebhookSent)
	require.NotNil(t, passed.WebhookResponseStatus)
	assert.Equal(t, http.StatusOK, *passed.WebhookResponseStatus)
	require.NotNil(t, passed.GatePassed)
	assert.True(t, *passed.GatePassed)
}

// A disposable subscription fires once, is marked used, and never
// receives a second delivery, including after a supervisor reload.
func TestSubscription_DisposableRetires(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Reply{Content: "langhook.events.github.issue.*.created"},
	)
	h := newHarness(t, model)
	capture, webhookURL := newWebhookCapture(t, http.StatusOK)
	ctx := context.Background()

	rec, sub := h.CreateSubscription(fmt.Sprintf(`{
		"description": "Tell me once when a GitHub issue is opened",
		"channel_type": "webhook",
		"channel_config": {"url": %q},
		"disposable": true
	}`, webhookURL))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, []int64{sub.ID}, h.Supervisor.Running())

	issue := &models.CanonicalEvent{
		Publisher: "github",
		Resource:  models.Resource{Type: "issue", ID: float64(41)},
		Action:    models.ActionCreated,
		Timestamp: "2025-06-03T15:45:02Z",
	}
	h.PublishEnvelope(canonical.RoutingSubject(issue), canonical.Envelope("evt_issue_41", issue, time.Now()))
	require.Equal(t, 1, capture.Count())

	stored, err := h.Subscriptions.Get(ctx, models.DefaultSubscriberID, sub.ID)
	require.NoError(t, err)
	assert.True(t, stored.Used)

	// The consumer stop runs off the handler goroutine.
	require.Eventually(t, func() bool {
		return h.Supervisor.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)

	// A reload — the crash-recovery path — must not resurrect it.
	require.NoError(t, h.Supervisor.Reload(ctx))
	assert.Empty(t, h.Supervisor.Running())

	issue.Resource.ID = float64(42)
	h.PublishEnvelope(canonical.RoutingSubject(issue), canonical.Envelope("evt_issue_42", issue, time.Now()))
	assert.Equal(t, 1, capture.Count(), "retired subscription must not receive deliveries")
}

// A description the registry vocabulary cannot express fails with 422
// and creates nothing.
func TestSubscription_NoSuitableSchema(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Reply{Content: "ERROR: No suitable schema found"},
	)
	h := newHarness(t, model)

	rec, _ := h.CreateSubscription(`{"description": "Tell me about weather"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	list := h.Do(http.MethodGet, "/subscriptions/", "")
	require.Equal(t, http.StatusOK, list.Code)
	var page models.SubscriptionListResponse
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &page))
	assert.Zero(t, page.Total)
	assert.Empty(t, h.Supervisor.Running())
}

// Updating the description recompiles the pattern and restarts the
// consumer with the new filter before the API call returns.
func TestSubscription_UpdateRecompilesPattern(t *testing.T) {
	model := llmtest.NewModel(
		llmtest.Reply{Content: "langhook.events.github.issue.*.created"},
		llmtest.Reply{Content: "langhook.events.github.pull_request.*.created"},
	)
	h := newHarness(t, model)
	capture, webhookURL := newWebhookCapture(t, http.StatusOK)

	rec, sub := h.CreateSubscription(fmt.Sprintf(`{
		"description": "New GitHub issues",
		"channel_type": "webhook",
		"channel_config": {"url": %q}
	}`, webhookURL))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.Do(http.MethodPut, fmt.Sprintf("/subscriptions/%d", sub.ID),
		`{"description": "New GitHub pull requests"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated models.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "langhook.events.github.pull_request.*.created", updated.Pattern)

	// An event matching the old pattern no longer routes here.
	issue := &models.CanonicalEvent{
		Publisher: "github",
		Resource:  models.Resource{Type: "issue", ID: float64(7)},
		Action:    models.ActionCreated,
		Timestamp: "2025-06-03T15:45:02Z",
	}
	h.PublishEnvelope(canonical.RoutingSubject(issue), canonical.Envelope("evt_old", issue, time.Now()))
	assert.Zero(t, capture.Count())

	pr := &models.CanonicalEvent{
		Publisher: "github",
		Resource:  models.Resource{Type: "pull_request", ID: float64(8)},
		Action:    models.ActionCreated,
		Timestamp: "2025-06-03T15:45:02Z",
	}
	h.PublishEnvelope(canonical.RoutingSubject(pr), canonical.Envelope("evt_new", pr, time.Now()))
	assert.Equal(t, 1, capture.Count())

	// Delete stops the consumer before returning.
	rec = h.Do(http.MethodDelete, fmt.Sprintf("/subscriptions/%d", sub.ID), "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.Supervisor.Running())
}
